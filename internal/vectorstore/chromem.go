package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/philippgille/chromem-go"
)

// errEmbeddingNotProvided is returned if chromem ever tries to embed text
// itself. Records always arrive with their embeddings.
var errEmbeddingNotProvided = errors.New("vectorstore: embeddings must be computed before upsert")

// ChromemStore is an in-process store backed by chromem-go. With a persist
// path the collection survives restarts.
type ChromemStore struct {
	db   *chromem.DB
	name string

	mu         sync.Mutex
	collection *chromem.Collection
}

// NewChromemStore opens an in-memory store, or a persistent one when
// persistPath is set.
func NewChromemStore(persistPath, name string) (*ChromemStore, error) {
	if err := ValidateIndexName(name); err != nil {
		return nil, err
	}

	db := chromem.NewDB()
	if persistPath != "" {
		var err error
		db, err = chromem.NewPersistentDB(persistPath, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db at %s: %w", persistPath, err)
		}
	}
	return &ChromemStore{db: db, name: name}, nil
}

func refuseEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errEmbeddingNotProvided
}

// EnsureIndex creates the collection. chromem only supports cosine
// similarity.
func (s *ChromemStore) EnsureIndex(ctx context.Context, dimension int, metric Metric) error {
	if metric != MetricCosine {
		return domain.ConfigurationError(fmt.Sprintf("memory backend only supports cosine similarity, got %q", metric))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	collection, err := s.db.GetOrCreateCollection(s.name, nil, refuseEmbedding)
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", s.name, err)
	}
	s.collection = collection
	return nil
}

func (s *ChromemStore) coll() (*chromem.Collection, error) {
	if s.collection == nil {
		return nil, fmt.Errorf("collection %s is not provisioned", s.name)
	}
	return s.collection, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.coll()
	if err != nil {
		return err
	}

	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		embedding := make([]float32, len(r.Embedding))
		copy(embedding, r.Embedding)
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.Metadata.Content,
			Metadata:  r.Metadata.StringPayload(),
			Embedding: embedding,
		}
	}

	// AddDocuments overwrites documents with the same id.
	if err := c.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.coll()
	if err != nil {
		return nil, err
	}

	// chromem rejects a result count above the collection size.
	n := topK
	if count := c.Count(); n > count {
		n = count
	}
	if n == 0 {
		return []Match{}, nil
	}

	results, err := c.QueryEmbedding(ctx, vector, n, chromemWhere(filter), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %s: %w", s.name, err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			ID:      r.ID,
			Score:   r.Similarity,
			Payload: chromemPayload(r.Metadata),
		})
	}
	return matches, nil
}

func (s *ChromemStore) DeleteMany(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.coll()
	if err != nil {
		return err
	}
	if err := c.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("failed to delete documents: %w", err)
	}
	return nil
}

// DeleteByFilter reports the number of removed documents as the change in
// collection size, which is exact because the store lock is held throughout.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.coll()
	if err != nil {
		return 0, err
	}

	before := c.Count()
	if err := c.Delete(ctx, chromemWhere(filter), nil); err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}
	return before - c.Count(), nil
}

func (s *ChromemStore) Fetch(ctx context.Context, ids []string) ([]domain.VectorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.coll()
	if err != nil {
		return nil, err
	}

	records := make([]domain.VectorRecord, 0, len(ids))
	for _, id := range ids {
		doc, err := c.GetByID(ctx, id)
		if err != nil {
			continue
		}
		rec, err := recordFromPayload(doc.ID, doc.Embedding, chromemPayload(doc.Metadata))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *ChromemStore) Close() error {
	return nil
}

func chromemWhere(f Filter) map[string]string {
	if f.IsEmpty() {
		return nil
	}
	where := make(map[string]string)
	if f.SourceKey != "" {
		where[domain.PayloadSourceKey] = f.SourceKey
	}
	if f.DocumentType != "" {
		where[domain.PayloadDocumentType] = string(f.DocumentType)
	}
	return where
}

// chromemPayload restores typed values from chromem's string-only metadata.
func chromemPayload(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		switch k {
		case domain.PayloadChunkIndex, domain.PayloadTotalChunks, domain.PayloadFileSize:
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				out[k] = n
				continue
			}
		case domain.PayloadHasNext, domain.PayloadHasPrevious:
			if b, err := strconv.ParseBool(v); err == nil {
				out[k] = b
				continue
			}
		}
		out[k] = v
	}
	return out
}

var _ Backend = (*ChromemStore)(nil)
