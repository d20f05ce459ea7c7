package repository

import (
	"context"
	"errors"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/pagination"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 50

type SourceRepository struct {
	pool *pgxpool.Pool
}

func NewSourceRepository(pool *pgxpool.Pool) *SourceRepository {
	return &SourceRepository{pool: pool}
}

// Upsert records src, replacing the entry of a previous ingestion of the
// same source key. A failed attempt keeps the chunk counts of the previous
// entry, since its vectors are still stored.
func (r *SourceRepository) Upsert(ctx context.Context, src *domain.IngestedSource) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO ingested_sources
			(source_key, title, document_type, location, archive_key, chunk_count, deleted_vectors, status, ingested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (source_key) DO UPDATE SET
			title = EXCLUDED.title,
			document_type = EXCLUDED.document_type,
			location = EXCLUDED.location,
			archive_key = EXCLUDED.archive_key,
			chunk_count = CASE WHEN EXCLUDED.status = 'failed'
				THEN ingested_sources.chunk_count ELSE EXCLUDED.chunk_count END,
			deleted_vectors = CASE WHEN EXCLUDED.status = 'failed'
				THEN ingested_sources.deleted_vectors ELSE EXCLUDED.deleted_vectors END,
			status = EXCLUDED.status,
			ingested_at = EXCLUDED.ingested_at`,
		src.SourceKey, src.Title, string(src.DocumentType), src.Location, src.ArchiveKey,
		src.ChunkCount, src.DeletedVectors, string(src.Status), src.IngestedAt,
	)
	return err
}

func (r *SourceRepository) GetByKey(ctx context.Context, sourceKey string) (*domain.IngestedSource, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT source_key, title, document_type, location, archive_key, chunk_count, deleted_vectors, status, ingested_at
		 FROM ingested_sources WHERE source_key = $1`,
		sourceKey,
	)
	src, err := scanSource(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSourceNotFound
		}
		return nil, err
	}
	return src, nil
}

// List returns the most recently ingested sources first, starting after the
// given cursor when one is set.
func (r *SourceRepository) List(ctx context.Context, limit int, after *pagination.Cursor) ([]*domain.IngestedSource, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT source_key, title, document_type, location, archive_key, chunk_count, deleted_vectors, status, ingested_at
		 FROM ingested_sources`
	args := []any{limit}
	if after != nil {
		query += ` WHERE ingested_at < $2 OR (ingested_at = $2 AND source_key > $3)`
		args = append(args, after.At, after.Key)
	}
	query += ` ORDER BY ingested_at DESC, source_key LIMIT $1`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sources := []*domain.IngestedSource{}
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func scanSource(row pgx.Row) (*domain.IngestedSource, error) {
	var (
		src          domain.IngestedSource
		documentType string
		status       string
	)
	if err := row.Scan(
		&src.SourceKey, &src.Title, &documentType, &src.Location, &src.ArchiveKey,
		&src.ChunkCount, &src.DeletedVectors, &status, &src.IngestedAt,
	); err != nil {
		return nil, err
	}
	src.DocumentType = domain.DocumentType(documentType)
	src.Status = domain.IngestionStatus(status)
	src.IngestedAt = src.IngestedAt.UTC()
	return &src, nil
}
