package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/metrics"
	"github.com/cloo-solutions/kbchat/internal/telemetry"
	"github.com/cloo-solutions/kbchat/internal/vectorstore"
	"go.uber.org/zap"
)

// Retrieval defaults.
const (
	DefaultTopK               = 10
	DefaultRelevanceThreshold = 0.7
	DefaultMaxContextChunks   = 5
)

// NoRelevantContextMarker is the context handed to the model when the store
// returned nothing.
const NoRelevantContextMarker = "No relevant context was found in the knowledge base."

// RetrievalOptions tunes a single retrieval. Zero values take the defaults.
type RetrievalOptions struct {
	TopK               int
	RelevanceThreshold float32
	MaxContextChunks   int
	Filter             vectorstore.Filter
}

func (o RetrievalOptions) withDefaults() RetrievalOptions {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.RelevanceThreshold <= 0 {
		o.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if o.MaxContextChunks <= 0 {
		o.MaxContextChunks = DefaultMaxContextChunks
	}
	return o
}

// RetrievalResult is the context assembled for a question.
type RetrievalResult struct {
	Fragments []string
	Matches   []domain.RelevanceMatch
	Fallback  bool
	NoMatches bool
}

// ContextString renders the selected fragments for the system prompt.
func (r *RetrievalResult) ContextString() string {
	if r == nil || len(r.Matches) == 0 {
		return NoRelevantContextMarker
	}
	var b strings.Builder
	for i, m := range r.Matches {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		fmt.Fprintf(&b, "[Source: %s (%s)]\n%s", m.Title, m.SourceKey, m.Content)
	}
	return b.String()
}

// RetrievalService turns a question into a ranked, size-bounded context.
type RetrievalService struct {
	embedder    Embedder
	index       VectorIndex
	defaults    RetrievalOptions
	callTimeout time.Duration
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewRetrievalService creates a new RetrievalService instance
func NewRetrievalService(embedder Embedder, index VectorIndex, defaults RetrievalOptions, callTimeout time.Duration, logger *zap.Logger) *RetrievalService {
	if callTimeout <= 0 {
		callTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetrievalService{
		embedder:    embedder,
		index:       index,
		defaults:    defaults.withDefaults(),
		callTimeout: callTimeout,
		logger:      logger,
		metrics:     metrics.Default(),
	}
}

// Retrieve embeds question, queries the store and keeps the matches scoring
// strictly above the threshold, best first. When none qualifies the single
// best match is kept instead.
func (s *RetrievalService) Retrieve(ctx context.Context, question string, opts RetrievalOptions) (*RetrievalResult, error) {
	opts = s.merge(opts)

	ctx, span := telemetry.StartSpan(ctx, "RetrievalService.Retrieve", telemetry.SpanAttributes{
		SourceKey:    opts.Filter.SourceKey,
		DocumentType: string(opts.Filter.DocumentType),
		Operation:    "retrieve",
	})
	defer span.End()

	if strings.TrimSpace(question) == "" {
		return nil, domain.ErrMissingUserMessage
	}

	span.SetStage(StageEmbed)
	vector, err := s.embed(ctx, question)
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	span.SetStage("query")
	queryCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	matches, err := s.index.Query(queryCtx, vector, opts.TopK, opts.Filter)
	cancel()
	if err != nil {
		span.SetError(err)
		return nil, err
	}

	result := selectMatches(matches, opts.RelevanceThreshold, opts.MaxContextChunks)
	switch {
	case result.NoMatches:
		s.metrics.RetrievalNoMatches.Inc()
	case result.Fallback:
		s.metrics.RetrievalFallbacks.Inc()
	}

	span.SetData("matches", len(matches))
	span.SetData("selected", len(result.Matches))
	logging.For(ctx, s.logger).Debug("context retrieved",
		zap.Int("matches", len(matches)),
		zap.Int("selected", len(result.Matches)),
		zap.Bool("fallback", result.Fallback),
	)
	return result, nil
}

func (s *RetrievalService) merge(opts RetrievalOptions) RetrievalOptions {
	if opts.TopK <= 0 {
		opts.TopK = s.defaults.TopK
	}
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = s.defaults.RelevanceThreshold
	}
	if opts.MaxContextChunks <= 0 {
		opts.MaxContextChunks = s.defaults.MaxContextChunks
	}
	if opts.Filter.IsEmpty() {
		opts.Filter = s.defaults.Filter
	}
	return opts
}

func (s *RetrievalService) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	vec, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, domain.EmbeddingFailure(err)
	}
	return vec, nil
}

// selectMatches partitions matches by threshold and bounds the result.
func selectMatches(matches []domain.RelevanceMatch, threshold float32, maxChunks int) *RetrievalResult {
	if len(matches) == 0 {
		return &RetrievalResult{NoMatches: true}
	}

	relevant := make([]domain.RelevanceMatch, 0, len(matches))
	for _, m := range matches {
		if m.Score > threshold {
			relevant = append(relevant, m)
		}
	}

	result := &RetrievalResult{}
	if len(relevant) == 0 {
		best := matches[0]
		for _, m := range matches[1:] {
			if m.Score > best.Score {
				best = m
			}
		}
		result.Matches = []domain.RelevanceMatch{best}
		result.Fallback = true
	} else {
		sort.SliceStable(relevant, func(i, j int) bool {
			return relevant[i].Score > relevant[j].Score
		})
		if len(relevant) > maxChunks {
			relevant = relevant[:maxChunks]
		}
		result.Matches = relevant
	}

	result.Fragments = make([]string, len(result.Matches))
	for i, m := range result.Matches {
		result.Fragments[i] = m.Content
	}
	return result
}
