package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

var indexNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateIndexName checks that name is safe to use as a table or collection
// identifier.
func ValidateIndexName(name string) error {
	if !indexNamePattern.MatchString(name) {
		return domain.ConfigurationError(fmt.Sprintf("invalid index name %q: use lowercase letters, digits and underscores", name))
	}
	return nil
}

// PGVectorStore keeps records in a Postgres table with a pgvector column.
type PGVectorStore struct {
	pool   *pgxpool.Pool
	table  string
	metric Metric
}

// NewPGVectorStore creates a store over table. The table is created by
// EnsureIndex.
func NewPGVectorStore(pool *pgxpool.Pool, table string) (*PGVectorStore, error) {
	if err := ValidateIndexName(table); err != nil {
		return nil, err
	}
	return &PGVectorStore{pool: pool, table: table, metric: MetricCosine}, nil
}

func pgOpsFor(metric Metric) (opclass, operator string) {
	switch metric {
	case MetricDotProduct:
		return "vector_ip_ops", "<#>"
	case MetricEuclidean:
		return "vector_l2_ops", "<->"
	default:
		return "vector_cosine_ops", "<=>"
	}
}

// scoreExpr turns the raw operator result into a similarity where larger is
// closer.
func scoreExpr(metric Metric) string {
	_, op := pgOpsFor(metric)
	switch metric {
	case MetricDotProduct:
		return fmt.Sprintf("(embedding %s $1) * -1", op)
	case MetricEuclidean:
		return fmt.Sprintf("1.0 / (1.0 + (embedding %s $1))", op)
	default:
		return fmt.Sprintf("1.0 - (embedding %s $1)", op)
	}
}

func (s *PGVectorStore) EnsureIndex(ctx context.Context, dimension int, metric Metric) error {
	if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	existing, err := s.existingDimension(ctx)
	if err != nil {
		return err
	}
	if existing > 0 && existing != dimension {
		return domain.ConfigurationError(fmt.Sprintf("index %s has dimension %d, configured %d", s.table, existing, dimension))
	}

	opclass, _ := pgOpsFor(metric)
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			source_key TEXT NOT NULL,
			document_type TEXT NOT NULL DEFAULT '',
			metadata JSONB NOT NULL,
			embedding vector(%d) NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_source_key_idx ON %s (source_key)`, s.table, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding %s)`, s.table, s.table, opclass),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to provision index %s: %w", s.table, err)
		}
	}

	s.metric = metric
	return nil
}

// existingDimension returns the declared vector dimension of the table, or 0
// if the table does not exist yet. The name resolves through search_path, the
// same way the unqualified CREATE TABLE below does.
func (s *PGVectorStore) existingDimension(ctx context.Context) (int, error) {
	var typmod int
	err := s.pool.QueryRow(ctx,
		`SELECT a.atttypmod
		 FROM pg_attribute a
		 WHERE a.attrelid = to_regclass($1::text) AND a.attname = 'embedding' AND NOT a.attisdropped`,
		s.table,
	).Scan(&typmod)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to inspect index %s: %w", s.table, err)
	}
	return typmod, nil
}

func (s *PGVectorStore) Upsert(ctx context.Context, records []domain.VectorRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin upsert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := fmt.Sprintf(`INSERT INTO %s (id, source_key, document_type, metadata, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			source_key = EXCLUDED.source_key,
			document_type = EXCLUDED.document_type,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			updated_at = now()`, s.table)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query,
			r.ID,
			r.Metadata.SourceKey,
			string(r.Metadata.DocumentType),
			r.Metadata.Payload(),
			pgvector.NewVector(r.Embedding),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to upsert records: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PGVectorStore) Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	_, op := pgOpsFor(s.metric)
	query := fmt.Sprintf(`SELECT id, metadata, %s AS score
		FROM %s
		WHERE ($2 = '' OR source_key = $2) AND ($3 = '' OR document_type = $3)
		ORDER BY embedding %s $1
		LIMIT $4`, scoreExpr(s.metric), s.table, op)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), filter.SourceKey, string(filter.DocumentType), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", s.table, err)
	}
	defer rows.Close()

	matches := make([]Match, 0, topK)
	for rows.Next() {
		var (
			m     Match
			score float64
		)
		if err := rows.Scan(&m.ID, &m.Payload, &score); err != nil {
			return nil, err
		}
		m.Score = float32(score)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (s *PGVectorStore) DeleteMany(ctx context.Context, ids []string) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, s.table), ids)
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

func (s *PGVectorStore) DeleteByFilter(ctx context.Context, filter Filter) (int, error) {
	if filter.IsEmpty() {
		return 0, ErrEmptyFilter
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE ($1 = '' OR source_key = $1) AND ($2 = '' OR document_type = $2)`, s.table),
		filter.SourceKey, string(filter.DocumentType),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete by filter: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PGVectorStore) Fetch(ctx context.Context, ids []string) ([]domain.VectorRecord, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT id, metadata, embedding FROM %s WHERE id = ANY($1) ORDER BY id`, s.table),
		ids,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.VectorRecord, 0, len(ids))
	for rows.Next() {
		var (
			id      string
			payload map[string]any
			vec     pgvector.Vector
		)
		if err := rows.Scan(&id, &payload, &vec); err != nil {
			return nil, err
		}
		rec, err := recordFromPayload(id, vec.Slice(), payload)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close is a no-op; the pool is owned by the caller.
func (s *PGVectorStore) Close() error {
	return nil
}

var _ Backend = (*PGVectorStore)(nil)
