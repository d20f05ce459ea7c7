// Package vectorstore persists chunk embeddings and answers nearest-neighbour
// queries. Backends speak the wire protocol of a concrete store; the Adapter
// adds index provisioning, metadata narrowing and batching on top.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"go.uber.org/zap"
)

// Metric is the similarity function of an index.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricDotProduct Metric = "dotproduct"
	MetricEuclidean  Metric = "euclidean"
)

// IsValid checks if the metric is supported.
func (m Metric) IsValid() bool {
	switch m {
	case MetricCosine, MetricDotProduct, MetricEuclidean:
		return true
	default:
		return false
	}
}

// Filter restricts queries and deletes to a source or document type.
type Filter struct {
	SourceKey    string
	DocumentType domain.DocumentType
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool {
	return f.SourceKey == "" && f.DocumentType == ""
}

// Match is a raw query hit returned by a backend.
type Match struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// ErrEmptyFilter is returned when a delete would match the whole index.
var ErrEmptyFilter = errors.New("vectorstore: refusing to delete with an empty filter")

// Backend is the contract every vector store implementation satisfies.
type Backend interface {
	EnsureIndex(ctx context.Context, dimension int, metric Metric) error
	Upsert(ctx context.Context, records []domain.VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)
	DeleteMany(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter Filter) (int, error)
	Fetch(ctx context.Context, ids []string) ([]domain.VectorRecord, error)
	Close() error
}

// AdapterConfig configures an Adapter.
type AdapterConfig struct {
	Dimension int
	Metric    Metric
	BatchSize int
}

// Adapter wraps a Backend with idempotent index provisioning, dimension
// checks and metadata narrowing.
type Adapter struct {
	backend Backend
	cfg     AdapterConfig
	logger  *zap.Logger

	mu    sync.Mutex
	ready bool
}

// NewAdapter creates an Adapter over backend.
func NewAdapter(backend Backend, cfg AdapterConfig, logger *zap.Logger) *Adapter {
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{backend: backend, cfg: cfg, logger: logger}
}

// EnsureIndex provisions the index once. Concurrent callers wait for the
// first attempt; a failed attempt is retried by the next caller.
func (a *Adapter) EnsureIndex(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ready {
		return nil
	}
	if a.cfg.Dimension <= 0 {
		return domain.ConfigurationError("vector index dimension must be positive")
	}
	if !a.cfg.Metric.IsValid() {
		return domain.ConfigurationError(fmt.Sprintf("unsupported similarity metric %q", a.cfg.Metric))
	}

	if err := a.backend.EnsureIndex(ctx, a.cfg.Dimension, a.cfg.Metric); err != nil {
		return domain.VectorStoreFailure("ensure index", err)
	}
	a.ready = true
	a.logger.Info("vector index ready", zap.Int("dimension", a.cfg.Dimension), zap.String("metric", string(a.cfg.Metric)))
	return nil
}

// Upsert writes records in batches. Records with the wrong dimension are
// rejected before anything is written.
func (a *Adapter) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := a.EnsureIndex(ctx); err != nil {
		return err
	}
	for _, r := range records {
		if r.ID == "" {
			return domain.InvalidInput("vector record id is required")
		}
		if len(r.Embedding) != a.cfg.Dimension {
			return domain.InvalidInput(fmt.Sprintf("embedding for %s has %d dimensions, expected %d", r.ID, len(r.Embedding), a.cfg.Dimension))
		}
	}

	for start := 0; start < len(records); start += a.cfg.BatchSize {
		end := start + a.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := a.backend.Upsert(ctx, records[start:end]); err != nil {
			return domain.VectorStoreFailure("upsert", err)
		}
	}
	return nil
}

// Query returns up to topK matches in descending score order. Hits whose
// metadata cannot be narrowed are dropped.
func (a *Adapter) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]domain.RelevanceMatch, error) {
	if topK <= 0 {
		return nil, domain.InvalidInput("topK must be positive")
	}
	if len(vector) != a.cfg.Dimension {
		return nil, domain.InvalidInput(fmt.Sprintf("query vector has %d dimensions, expected %d", len(vector), a.cfg.Dimension))
	}
	if err := a.EnsureIndex(ctx); err != nil {
		return nil, err
	}

	raw, err := a.backend.Query(ctx, vector, topK, filter)
	if err != nil {
		return nil, domain.VectorStoreFailure("query", err)
	}

	matches := make([]domain.RelevanceMatch, 0, len(raw))
	for _, m := range raw {
		meta, err := domain.MetadataFromPayload(m.Payload)
		if err != nil {
			a.logger.Warn("dropping match with invalid metadata", zap.String("record_id", m.ID), zap.Error(err))
			continue
		}
		matches = append(matches, domain.RelevanceMatch{
			RecordID:  m.ID,
			SourceKey: meta.SourceKey,
			Title:     meta.Title,
			Content:   meta.Content,
			Score:     clampScore(m.Score),
			Metadata:  meta,
		})
	}
	return matches, nil
}

// DeleteBySource removes every record of sourceKey and returns how many were
// deleted.
func (a *Adapter) DeleteBySource(ctx context.Context, sourceKey string) (int, error) {
	if sourceKey == "" {
		return 0, domain.ErrMissingSourceKey
	}
	if err := a.EnsureIndex(ctx); err != nil {
		return 0, err
	}
	n, err := a.backend.DeleteByFilter(ctx, Filter{SourceKey: sourceKey})
	if err != nil {
		return 0, domain.VectorStoreFailure("delete", err)
	}
	return n, nil
}

// DeleteMany removes records by id.
func (a *Adapter) DeleteMany(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := a.EnsureIndex(ctx); err != nil {
		return err
	}
	if err := a.backend.DeleteMany(ctx, ids); err != nil {
		return domain.VectorStoreFailure("delete", err)
	}
	return nil
}

// Fetch returns the stored records for ids. Missing ids are skipped.
func (a *Adapter) Fetch(ctx context.Context, ids []string) ([]domain.VectorRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := a.EnsureIndex(ctx); err != nil {
		return nil, err
	}
	records, err := a.backend.Fetch(ctx, ids)
	if err != nil {
		return nil, domain.VectorStoreFailure("fetch", err)
	}
	return records, nil
}

// Close releases the backend.
func (a *Adapter) Close() error {
	return a.backend.Close()
}

func clampScore(s float32) float32 {
	switch {
	case s != s: // NaN
		return 0
	case s < 0:
		return 0
	case s > 1:
		return 1
	default:
		return s
	}
}

// recordFromPayload rebuilds a VectorRecord from a backend payload.
func recordFromPayload(id string, embedding []float32, payload map[string]any) (domain.VectorRecord, error) {
	meta, err := domain.MetadataFromPayload(payload)
	if err != nil {
		return domain.VectorRecord{}, fmt.Errorf("record %s: %w", id, err)
	}
	return domain.VectorRecord{ID: id, Embedding: embedding, Metadata: meta}, nil
}
