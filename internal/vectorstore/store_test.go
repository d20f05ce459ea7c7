package vectorstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) EnsureIndex(ctx context.Context, dimension int, metric Metric) error {
	args := m.Called(ctx, dimension, metric)
	return args.Error(0)
}

func (m *MockBackend) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockBackend) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	args := m.Called(ctx, vector, topK, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Match), args.Error(1)
}

func (m *MockBackend) DeleteMany(ctx context.Context, ids []string) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockBackend) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	args := m.Called(ctx, filter)
	return args.Int(0), args.Error(1)
}

func (m *MockBackend) Fetch(ctx context.Context, ids []string) ([]domain.VectorRecord, error) {
	args := m.Called(ctx, ids)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.VectorRecord), args.Error(1)
}

func (m *MockBackend) Close() error {
	return m.Called().Error(0)
}

func testRecord(sourceKey string, idx int, embedding []float32) domain.VectorRecord {
	return domain.VectorRecord{
		ID:        domain.RecordID(sourceKey, idx),
		Embedding: embedding,
		Metadata: domain.RecordMetadata{
			SourceKey:    sourceKey,
			Title:        "Doc",
			Content:      "content",
			ChunkIndex:   idx,
			TotalChunks:  1,
			DocumentType: domain.DocumentTypeText,
			Timestamp:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestAdapter_EnsureIndexIsCached(t *testing.T) {
	backend := new(MockBackend)
	backend.On("EnsureIndex", mock.Anything, 3, MetricCosine).Return(nil).Once()

	a := NewAdapter(backend, AdapterConfig{Dimension: 3}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.EnsureIndex(context.Background()))
		}()
	}
	wg.Wait()

	backend.AssertNumberOfCalls(t, "EnsureIndex", 1)
}

func TestAdapter_EnsureIndexFailureIsRetried(t *testing.T) {
	backend := new(MockBackend)
	backend.On("EnsureIndex", mock.Anything, 3, MetricCosine).Return(errors.New("unavailable")).Once()
	backend.On("EnsureIndex", mock.Anything, 3, MetricCosine).Return(nil).Once()

	a := NewAdapter(backend, AdapterConfig{Dimension: 3}, nil)

	err := a.EnsureIndex(context.Background())
	assert.True(t, domain.HasCode(err, domain.ErrCodeVectorStore))

	require.NoError(t, a.EnsureIndex(context.Background()))
	require.NoError(t, a.EnsureIndex(context.Background()))
	backend.AssertNumberOfCalls(t, "EnsureIndex", 2)
}

func TestAdapter_EnsureIndexRejectsBadConfig(t *testing.T) {
	backend := new(MockBackend)

	err := NewAdapter(backend, AdapterConfig{Dimension: 0}, nil).EnsureIndex(context.Background())
	assert.True(t, domain.HasCode(err, domain.ErrCodeConfiguration))

	err = NewAdapter(backend, AdapterConfig{Dimension: 3, Metric: "manhattan"}, nil).EnsureIndex(context.Background())
	assert.True(t, domain.HasCode(err, domain.ErrCodeConfiguration))

	backend.AssertNotCalled(t, "EnsureIndex", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdapter_UpsertBatches(t *testing.T) {
	backend := new(MockBackend)
	backend.On("EnsureIndex", mock.Anything, 2, MetricCosine).Return(nil)
	backend.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	a := NewAdapter(backend, AdapterConfig{Dimension: 2, BatchSize: 2}, nil)

	records := make([]domain.VectorRecord, 5)
	for i := range records {
		records[i] = testRecord("doc", i, []float32{1, 0})
	}
	require.NoError(t, a.Upsert(context.Background(), records))

	backend.AssertNumberOfCalls(t, "Upsert", 3)
	calls := backend.Calls[1:]
	assert.Len(t, calls[0].Arguments.Get(1), 2)
	assert.Len(t, calls[1].Arguments.Get(1), 2)
	assert.Len(t, calls[2].Arguments.Get(1), 1)
}

func TestAdapter_UpsertRejectsDimensionMismatch(t *testing.T) {
	backend := new(MockBackend)
	backend.On("EnsureIndex", mock.Anything, 3, MetricCosine).Return(nil)

	a := NewAdapter(backend, AdapterConfig{Dimension: 3}, nil)

	err := a.Upsert(context.Background(), []domain.VectorRecord{
		testRecord("doc", 0, []float32{1, 0, 0}),
		testRecord("doc", 1, []float32{1, 0}),
	})
	assert.True(t, domain.HasCode(err, domain.ErrCodeValidation))
	backend.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestAdapter_QueryNarrowsAndClamps(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	backend := new(MockBackend)
	backend.On("EnsureIndex", mock.Anything, 2, MetricCosine).Return(nil)
	backend.On("Query", mock.Anything, []float32{1, 0}, 3, Filter{}).Return([]Match{
		{ID: "a", Score: 1.2, Payload: map[string]any{"source_key": "doc", "content": "alpha", "title": "A"}},
		{ID: "b", Score: 0.5, Payload: map[string]any{"content": "no source"}},
		{ID: "c", Score: -0.1, Payload: map[string]any{"source_key": "doc", "content": "gamma", "chunk_index": float64(2)}},
	}, nil)

	a := NewAdapter(backend, AdapterConfig{Dimension: 2}, zap.New(core))

	matches, err := a.Query(context.Background(), []float32{1, 0}, 3, Filter{})
	require.NoError(t, err)
	require.Len(t, matches, 2)

	assert.Equal(t, "a", matches[0].RecordID)
	assert.Equal(t, float32(1), matches[0].Score)
	assert.Equal(t, "A", matches[0].Title)

	assert.Equal(t, "c", matches[1].RecordID)
	assert.Equal(t, float32(0), matches[1].Score)
	assert.Equal(t, domain.DefaultTitle, matches[1].Title)
	assert.Equal(t, 2, matches[1].Metadata.ChunkIndex)

	require.Equal(t, 1, logs.FilterMessage("dropping match with invalid metadata").Len())
}

func TestAdapter_QueryValidation(t *testing.T) {
	backend := new(MockBackend)
	a := NewAdapter(backend, AdapterConfig{Dimension: 2}, nil)

	_, err := a.Query(context.Background(), []float32{1, 0}, 0, Filter{})
	assert.True(t, domain.HasCode(err, domain.ErrCodeValidation))

	_, err = a.Query(context.Background(), []float32{1}, 5, Filter{})
	assert.True(t, domain.HasCode(err, domain.ErrCodeValidation))
}

func TestAdapter_QueryBackendError(t *testing.T) {
	backend := new(MockBackend)
	backend.On("EnsureIndex", mock.Anything, 2, MetricCosine).Return(nil)
	backend.On("Query", mock.Anything, mock.Anything, 5, Filter{}).Return(nil, errors.New("connection reset"))

	a := NewAdapter(backend, AdapterConfig{Dimension: 2}, nil)

	_, err := a.Query(context.Background(), []float32{1, 0}, 5, Filter{})
	assert.True(t, domain.HasCode(err, domain.ErrCodeVectorStore))
}

func TestAdapter_DeleteBySource(t *testing.T) {
	backend := new(MockBackend)
	backend.On("EnsureIndex", mock.Anything, 2, MetricCosine).Return(nil)
	backend.On("DeleteByFilter", mock.Anything, Filter{SourceKey: "doc"}).Return(4, nil)

	a := NewAdapter(backend, AdapterConfig{Dimension: 2}, nil)

	n, err := a.DeleteBySource(context.Background(), "doc")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	_, err = a.DeleteBySource(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrMissingSourceKey)
}

func TestClampScore(t *testing.T) {
	nan := float32(0)
	nan = nan / nan

	assert.Equal(t, float32(0), clampScore(nan))
	assert.Equal(t, float32(0), clampScore(-3))
	assert.Equal(t, float32(1), clampScore(1.0001))
	assert.Equal(t, float32(0.42), clampScore(0.42))
}

func TestValidateIndexName(t *testing.T) {
	assert.NoError(t, ValidateIndexName("kbchat_chunks"))
	assert.Error(t, ValidateIndexName(""))
	assert.Error(t, ValidateIndexName("Chunks"))
	assert.Error(t, ValidateIndexName("1chunks"))
	assert.Error(t, ValidateIndexName("chunks; DROP TABLE x"))
}
