package vectorstore

import (
	"fmt"

	"github.com/cloo-solutions/kbchat/internal/config"
	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Open builds the Adapter for the configured backend. pool is only used by
// the pgvector backend and may be nil otherwise.
func Open(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*Adapter, error) {
	metric := Metric(cfg.IndexMetric)
	if !metric.IsValid() {
		return nil, domain.ConfigurationError(fmt.Sprintf("unsupported similarity metric %q", cfg.IndexMetric))
	}

	var (
		backend Backend
		err     error
	)
	switch cfg.VectorBackend {
	case config.BackendPGVector:
		if pool == nil {
			return nil, domain.ConfigurationError("pgvector backend requires a database connection")
		}
		backend, err = NewPGVectorStore(pool, cfg.IndexName)
	case config.BackendQdrant:
		backend, err = NewQdrantStore(QdrantConfig{
			Host:       cfg.QdrantHost,
			Port:       cfg.QdrantPort,
			APIKey:     cfg.QdrantAPIKey,
			UseTLS:     cfg.QdrantUseTLS,
			Collection: cfg.IndexName,
		})
	case config.BackendMemory:
		backend, err = NewChromemStore(cfg.MemoryPersistPath, cfg.IndexName)
	default:
		return nil, domain.ConfigurationError(fmt.Sprintf("unknown vector backend %q", cfg.VectorBackend))
	}
	if err != nil {
		return nil, err
	}

	logger.Info("vector store configured",
		zap.String("backend", cfg.VectorBackend),
		zap.String("index", cfg.IndexName),
		zap.String("metric", string(metric)),
	)

	return NewAdapter(backend, AdapterConfig{
		Dimension: cfg.EmbeddingDimensions,
		Metric:    metric,
		BatchSize: cfg.UpsertBatchSize,
	}, logger), nil
}
