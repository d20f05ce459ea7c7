package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/kbchat/internal/api/handlers"
	"github.com/cloo-solutions/kbchat/internal/config"
	"github.com/cloo-solutions/kbchat/internal/database"
	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/cloo-solutions/kbchat/internal/extract"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/openai"
	"github.com/cloo-solutions/kbchat/internal/pagination"
	"github.com/cloo-solutions/kbchat/internal/repository"
	"github.com/cloo-solutions/kbchat/internal/service"
	"github.com/cloo-solutions/kbchat/internal/storage"
	"github.com/cloo-solutions/kbchat/internal/vectorstore"
	"github.com/jackc/pgx/v5/pgxpool"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// runtime is the set of wired services shared by the serve and ingest
// commands. Services whose dependencies are not configured are replaced by
// NoOp implementations that fail every call with a ConfigurationError.
type runtime struct {
	logger    *zap.Logger
	pool      *pgxpool.Pool
	index     *vectorstore.Adapter
	archive   *storage.S3Client
	sources   *repository.SourceRepository
	extractor *extract.Registry
	ingestion handlers.IngestionService
	chat      handlers.ChatService
}

type bootstrapOptions struct {
	migrate bool
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Config{
		Level:  logging.LevelFor(cfg.Debug),
		Format: cfg.LogFormat,
		Fields: map[string]string{"environment": cfg.Environment},
	})
}

func bootstrap(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts bootstrapOptions) (*runtime, error) {
	rt := &runtime{
		logger: logger,
		extractor: extract.NewRegistry(
			extract.WithTimeout(cfg.ExternalCallTimeout),
			extract.WithMaxBytes(cfg.MaxFetchBytes),
			extract.WithLogger(logger),
		),
	}

	if cfg.HasDatabase() {
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		rt.pool = pool
		logger.Info("connected to database")

		if opts.migrate {
			if err := repository.Migrate(cfg.DatabaseURL, logger); err != nil {
				rt.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		rt.sources = repository.NewSourceRepository(pool)
	}

	if cfg.HasS3() {
		s3Client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
			Bucket:          cfg.S3Bucket,
			UsePathStyle:    true,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to create S3 client: %w", err)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to ensure S3 bucket: %w", err)
		}
		logger.Info("document archive ready", zap.String("bucket", cfg.S3Bucket))
		rt.archive = s3Client
	}

	if err := cfg.Validate(); err != nil {
		logger.Warn("retrieval core not configured, chat and ingestion are disabled", zap.Error(err))
		rt.useNoOp(err)
		return rt, nil
	}

	index, err := vectorstore.Open(cfg, rt.pool, logger)
	if err != nil {
		logger.Error("vector store unavailable, chat and ingestion are disabled", zap.Error(err))
		rt.useNoOp(err)
		return rt, nil
	}
	rt.index = index

	indexCtx, cancel := context.WithTimeout(ctx, cfg.ExternalCallTimeout)
	if err := index.EnsureIndex(indexCtx); err != nil {
		// Provisioning is retried on the first write.
		logger.Warn("vector index not ready", zap.Error(err))
	}
	cancel()

	client := openai.NewClientWithConfig(openai.Config{
		APIKey:              cfg.OpenAIAPIKey,
		BaseURL:             cfg.OpenAIBaseURL,
		EmbeddingModel:      goopenai.EmbeddingModel(cfg.EmbeddingModel),
		EmbeddingDimensions: cfg.EmbeddingDimensions,
		CompletionModel:     cfg.CompletionModel,
		RequestsPerSecond:   cfg.ProviderRequestsPerSecond,
	})

	var recorder service.SourceRecorder = service.NoOpSourceRecorder{}
	if rt.sources != nil {
		recorder = rt.sources
	}

	rt.ingestion = service.NewIngestionService(client, index, recorder, service.IngestionConfig{
		Chunk:                service.ChunkConfig{MaxChars: cfg.ChunkSize, Overlap: cfg.ChunkOverlap},
		EmbeddingConcurrency: cfg.EmbeddingConcurrency,
		CallTimeout:          cfg.ExternalCallTimeout,
	}, logger)

	retrieval := service.NewRetrievalService(client, index, service.RetrievalOptions{
		TopK:               cfg.TopK,
		RelevanceThreshold: cfg.RelevanceThreshold,
		MaxContextChunks:   cfg.MaxContextChunks,
	}, cfg.ExternalCallTimeout, logger)
	rt.chat = service.NewChatService(retrieval, client, logger).WithCompletionTimeout(cfg.CompletionTimeout)

	return rt, nil
}

func (rt *runtime) useNoOp(cause error) {
	if !domain.HasCode(cause, domain.ErrCodeConfiguration) {
		cause = domain.ConfigurationError(cause.Error())
	}
	rt.ingestion = &NoOpIngestionService{err: cause}
	rt.chat = &NoOpChatService{err: cause}
}

// sourceRegistry returns the registry, or a NoOp when no database is configured.
func (rt *runtime) sourceRegistry() handlers.SourceRegistry {
	if rt.sources == nil {
		return NoOpSourceRegistry{}
	}
	return rt.sources
}

// documentArchive returns nil when no object storage is configured, which
// disables archiving of uploads.
func (rt *runtime) documentArchive() handlers.DocumentArchive {
	if rt.archive == nil {
		return nil
	}
	return rt.archive
}

func (rt *runtime) downloadSigner() handlers.DownloadURLSigner {
	if rt.archive == nil {
		return nil
	}
	return rt.archive
}

// Close releases the vector store and the database pool.
func (rt *runtime) Close() {
	if rt.index != nil {
		if err := rt.index.Close(); err != nil {
			rt.logger.Warn("failed to close vector store", zap.Error(err))
		}
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

type NoOpIngestionService struct {
	err error
}

func (s *NoOpIngestionService) Ingest(ctx context.Context, input service.IngestInput) (*service.IngestResult, error) {
	return nil, s.err
}

type NoOpChatService struct {
	err error
}

func (s *NoOpChatService) Answer(ctx context.Context, messages []domain.ChatMessage, onDelta func(string) error) (*service.ChatOutcome, error) {
	return nil, s.err
}

var errRegistryNotConfigured = domain.ConfigurationError("source registry not configured: KBCHAT_DATABASE_URL required")

type NoOpSourceRegistry struct{}

func (NoOpSourceRegistry) List(ctx context.Context, limit int, after *pagination.Cursor) ([]*domain.IngestedSource, error) {
	return nil, errRegistryNotConfigured
}

func (NoOpSourceRegistry) GetByKey(ctx context.Context, sourceKey string) (*domain.IngestedSource, error) {
	return nil, errRegistryNotConfigured
}
