package service

import (
	"context"
	"sync"
	"time"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/metrics"
	"github.com/cloo-solutions/kbchat/internal/telemetry"
	"github.com/cloo-solutions/kbchat/internal/vectorstore"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ingestion stages, used for span tags, log fields and failure metrics.
const (
	StageChunk  = "chunk"
	StageEmbed  = "embed"
	StageDelete = "delete"
	StageUpsert = "upsert"
	StageRecord = "record"
)

// Embedder produces a vector for a text.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the part of the vector store adapter the services use.
type VectorIndex interface {
	Upsert(ctx context.Context, records []domain.VectorRecord) error
	Query(ctx context.Context, vector []float32, topK int, filter vectorstore.Filter) ([]domain.RelevanceMatch, error)
	DeleteBySource(ctx context.Context, sourceKey string) (int, error)
}

// SourceRecorder stores the registry entry of an ingested source.
type SourceRecorder interface {
	Upsert(ctx context.Context, src *domain.IngestedSource) error
}

// NoOpSourceRecorder is used when no database is configured.
type NoOpSourceRecorder struct{}

func (NoOpSourceRecorder) Upsert(ctx context.Context, src *domain.IngestedSource) error {
	return nil
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	Chunk                ChunkConfig
	EmbeddingConcurrency int
	CallTimeout          time.Duration
}

// IngestInput is a source text to (re)ingest.
type IngestInput struct {
	SourceKey        string
	Title            string
	Text             string
	DocumentType     domain.DocumentType
	Location         string
	ArchiveKey       string
	OriginalFileName string
	FileSize         int64
}

// IngestResult summarizes a completed ingestion.
type IngestResult struct {
	SourceKey       string
	ChunksProcessed int
	DeletedVectors  int
	Chunks          []domain.Chunk
}

// IngestionService turns source text into vector records, replacing whatever
// was stored for the same source key.
type IngestionService struct {
	embedder Embedder
	index    VectorIndex
	recorder SourceRecorder
	cfg      IngestionConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	locks    *keyedMutex
}

// NewIngestionService creates a new IngestionService instance
func NewIngestionService(embedder Embedder, index VectorIndex, recorder SourceRecorder, cfg IngestionConfig, logger *zap.Logger) *IngestionService {
	if cfg.Chunk.MaxChars <= 0 {
		cfg.Chunk = DefaultChunkConfig()
	}
	if cfg.EmbeddingConcurrency <= 0 {
		cfg.EmbeddingConcurrency = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if recorder == nil {
		recorder = NoOpSourceRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionService{
		embedder: embedder,
		index:    index,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.Default(),
		now:      time.Now,
		locks:    newKeyedMutex(),
	}
}

// Ingest chunks, embeds and stores input. Every chunk is embedded before the
// store is touched, so a failed ingestion leaves the previous records of the
// source in place. Ingestions of the same source key are serialized.
func (s *IngestionService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	if input.DocumentType == "" {
		input.DocumentType = domain.DocumentTypeText
	}
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Ingest", telemetry.SpanAttributes{
		SourceKey:    input.SourceKey,
		DocumentType: string(input.DocumentType),
		Operation:    "ingest",
	})
	defer span.End()

	if input.SourceKey == "" {
		return nil, domain.ErrMissingSourceKey
	}
	if input.Text == "" {
		return nil, domain.ErrEmptyText
	}
	if !input.DocumentType.IsValid() {
		return nil, domain.InvalidInput("invalid document type")
	}
	if input.Title == "" {
		input.Title = domain.DefaultTitle
	}

	logger := logging.For(ctx, s.logger).With(
		zap.String("source_key", input.SourceKey),
		zap.String("document_type", string(input.DocumentType)),
	)
	started := s.now()

	unlock, err := s.locks.Lock(ctx, input.SourceKey)
	if err != nil {
		return nil, &domain.DomainError{
			Code:      domain.ErrCodeTimeout,
			Message:   "another ingestion of this source is still running",
			Err:       err,
			Retryable: true,
		}
	}
	defer unlock()

	fail := func(stage string, err error) (*IngestResult, error) {
		span.SetStage(stage)
		span.SetError(err)
		s.metrics.IngestionFailures.WithLabelValues(stage).Inc()
		logger.Error("ingestion failed", zap.String("stage", stage), zap.Error(err))
		s.recordFailure(ctx, input, logger)
		return nil, err
	}

	span.SetStage(StageChunk)
	chunks, err := ChunkText(input.Text, s.cfg.Chunk.MaxChars, s.cfg.Chunk.Overlap)
	if err != nil {
		return fail(StageChunk, err)
	}
	if len(chunks) == 0 {
		return fail(StageChunk, domain.ErrNoChunks)
	}

	span.SetStage(StageEmbed)
	embeddings, err := s.embedAll(ctx, chunks)
	if err != nil {
		return fail(StageEmbed, err)
	}

	span.SetStage(StageDelete)
	deleted, err := s.deleteSource(ctx, input.SourceKey)
	if err != nil {
		return fail(StageDelete, err)
	}

	span.SetStage(StageUpsert)
	records := s.buildRecords(input, chunks, embeddings)
	if err := s.upsert(ctx, records); err != nil {
		return fail(StageUpsert, err)
	}

	span.SetStage(StageRecord)
	recordCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()
	if err := s.recorder.Upsert(recordCtx, &domain.IngestedSource{
		SourceKey:      input.SourceKey,
		Title:          input.Title,
		DocumentType:   input.DocumentType,
		Location:       input.Location,
		ArchiveKey:     input.ArchiveKey,
		ChunkCount:     len(chunks),
		DeletedVectors: deleted,
		Status:         domain.IngestionStatusCompleted,
		IngestedAt:     s.now().UTC(),
	}); err != nil {
		logger.Warn("failed to record ingested source", zap.String("stage", StageRecord), zap.Error(err))
	}

	s.metrics.IngestedChunks.WithLabelValues(string(input.DocumentType)).Add(float64(len(chunks)))
	s.metrics.IngestionDuration.WithLabelValues(string(input.DocumentType)).Observe(s.now().Sub(started).Seconds())
	span.SetData("chunks", len(chunks))
	span.SetData("deleted_vectors", deleted)

	logger.Info("source ingested",
		zap.Int("chunks", len(chunks)),
		zap.Int("deleted_vectors", deleted),
	)

	return &IngestResult{
		SourceKey:       input.SourceKey,
		ChunksProcessed: len(chunks),
		DeletedVectors:  deleted,
		Chunks:          chunks,
	}, nil
}

func (s *IngestionService) deleteSource(ctx context.Context, sourceKey string) (int, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	deleted, err := s.index.DeleteBySource(callCtx, sourceKey)
	if err != nil {
		return 0, domain.VectorStoreFailure("delete", err)
	}
	return deleted, nil
}

func (s *IngestionService) upsert(ctx context.Context, records []domain.VectorRecord) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	if err := s.index.Upsert(callCtx, records); err != nil {
		return domain.VectorStoreFailure("upsert", err)
	}
	return nil
}

// recordFailure marks the source failed in the registry. The previous vectors
// of the source are still in the store, so the row only reflects the last attempt.
func (s *IngestionService) recordFailure(ctx context.Context, input IngestInput, logger *zap.Logger) {
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
	defer cancel()

	err := s.recorder.Upsert(recordCtx, &domain.IngestedSource{
		SourceKey:    input.SourceKey,
		Title:        input.Title,
		DocumentType: input.DocumentType,
		Location:     input.Location,
		ArchiveKey:   input.ArchiveKey,
		Status:       domain.IngestionStatusFailed,
		IngestedAt:   s.now().UTC(),
	})
	if err != nil {
		logger.Warn("failed to record ingested source", zap.String("stage", StageRecord), zap.Error(err))
	}
}

// embedAll embeds every chunk with bounded parallelism. The first failure
// cancels the calls still in flight.
func (s *IngestionService) embedAll(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	embeddings := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.EmbeddingConcurrency)
	for i := range chunks {
		i := i
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, s.cfg.CallTimeout)
			defer cancel()

			vec, err := s.embedder.GenerateEmbedding(callCtx, chunks[i].Text)
			if err != nil {
				return domain.EmbeddingFailure(err)
			}
			embeddings[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return embeddings, nil
}

func (s *IngestionService) buildRecords(input IngestInput, chunks []domain.Chunk, embeddings [][]float32) []domain.VectorRecord {
	ts := s.now().UTC().Truncate(time.Second)
	records := make([]domain.VectorRecord, len(chunks))
	for i, c := range chunks {
		records[i] = domain.VectorRecord{
			ID:        domain.RecordID(input.SourceKey, c.Index),
			Embedding: embeddings[i],
			Metadata: domain.RecordMetadata{
				SourceKey:        input.SourceKey,
				Title:            input.Title,
				Content:          c.Text,
				ChunkIndex:       c.Index,
				TotalChunks:      c.TotalChunks,
				HasNext:          c.HasNext,
				HasPrevious:      c.HasPrevious,
				DocumentType:     input.DocumentType,
				Timestamp:        ts,
				OriginalFileName: input.OriginalFileName,
				FileSize:         input.FileSize,
			},
		}
	}
	return records
}

// keyedMutex hands out one lock per key and forgets keys nobody holds or
// waits for.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	held chan struct{}
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock waits until key is free or ctx is done. On success it returns the
// matching unlock func.
func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{held: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.held <- struct{}{}:
	case <-ctx.Done():
		k.release(key, l)
		return nil, ctx.Err()
	}

	return func() {
		<-l.held
		k.release(key, l)
	}, nil
}

func (k *keyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
