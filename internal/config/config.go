package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloo-solutions/kbchat/internal/domain"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Vector store backends.
const (
	BackendPGVector = "pgvector"
	BackendQdrant   = "qdrant"
	BackendMemory   = "memory"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogFormat   string `envconfig:"LOG_FORMAT" default:"json"`

	DatabaseURL string `envconfig:"DATABASE_URL"`

	OpenAIAPIKey              string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL             string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingModel            string  `envconfig:"EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbeddingDimensions       int     `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`
	CompletionModel           string  `envconfig:"COMPLETION_MODEL" default:"gpt-4o-mini"`
	ProviderRequestsPerSecond float64 `envconfig:"PROVIDER_RPS" default:"5"`

	VectorBackend     string `envconfig:"VECTOR_BACKEND" default:"pgvector"`
	IndexName         string `envconfig:"INDEX_NAME" default:"kbchat_chunks"`
	IndexMetric       string `envconfig:"INDEX_METRIC" default:"cosine"`
	QdrantHost        string `envconfig:"QDRANT_HOST"`
	QdrantPort        int    `envconfig:"QDRANT_PORT" default:"6334"`
	QdrantAPIKey      string `envconfig:"QDRANT_API_KEY"`
	QdrantUseTLS      bool   `envconfig:"QDRANT_USE_TLS" default:"false"`
	MemoryPersistPath string `envconfig:"MEMORY_PERSIST_PATH"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"kbchat-documents"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`

	SentryDSN        string  `envconfig:"SENTRY_DSN"`
	SentrySampleRate float64 `envconfig:"SENTRY_SAMPLE_RATE"`

	ChunkSize            int     `envconfig:"CHUNK_SIZE" default:"500"`
	ChunkOverlap         int     `envconfig:"CHUNK_OVERLAP" default:"50"`
	TopK                 int     `envconfig:"TOP_K" default:"10"`
	RelevanceThreshold   float32 `envconfig:"RELEVANCE_THRESHOLD" default:"0.7"`
	MaxContextChunks     int     `envconfig:"MAX_CONTEXT_CHUNKS" default:"5"`
	EmbeddingConcurrency int     `envconfig:"EMBEDDING_CONCURRENCY" default:"4"`
	UpsertBatchSize      int     `envconfig:"UPSERT_BATCH_SIZE" default:"100"`

	ExternalCallTimeout time.Duration `envconfig:"EXTERNAL_CALL_TIMEOUT" default:"30s"`
	CompletionTimeout   time.Duration `envconfig:"COMPLETION_TIMEOUT" default:"2m"`
	MaxUploadBytes      int64         `envconfig:"MAX_UPLOAD_BYTES" default:"10485760"`
	MaxFetchBytes       int64         `envconfig:"MAX_FETCH_BYTES" default:"5242880"`

	// Zero keeps the environment preset (2 in production, 20 in development).
	RateLimitMax           int           `envconfig:"RATE_LIMIT_MAX" default:"0"`
	RateLimitWindow        time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
	RateLimitSweepInterval time.Duration `envconfig:"RATE_LIMIT_SWEEP_INTERVAL" default:"5m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KBCHAT", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	cfg.VectorBackend = strings.ToLower(strings.TrimSpace(cfg.VectorBackend))

	return &cfg, nil
}

// Validate checks the settings required by the retrieval core. A failure is a
// ConfigurationError; the server still starts and reports it per request.
func (c *Config) Validate() error {
	if c.IndexName == "" {
		return domain.ConfigurationError("vector index name is not configured")
	}
	if c.EmbeddingDimensions <= 0 {
		return domain.ConfigurationError("embedding dimensions must be positive")
	}

	switch c.VectorBackend {
	case BackendPGVector:
		if !c.HasDatabase() {
			return domain.ConfigurationError("vector store configuration missing: KBCHAT_DATABASE_URL required")
		}
	case BackendQdrant:
		if c.QdrantHost == "" {
			return domain.ConfigurationError("vector store configuration missing: KBCHAT_QDRANT_HOST required")
		}
	case BackendMemory:
	default:
		return domain.ConfigurationError(fmt.Sprintf("unknown vector backend %q", c.VectorBackend))
	}

	if !c.HasOpenAI() {
		return domain.ConfigurationError("embedding provider configuration missing: KBCHAT_OPENAI_API_KEY required")
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasDatabase() bool {
	return c.DatabaseURL != ""
}

// IsDevelopment reports whether development-only surfaces such as URL
// ingestion are enabled.
func (c *Config) IsDevelopment() bool {
	switch strings.ToLower(c.Environment) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

// TracesSampleRate returns the configured Sentry sample rate, defaulting to
// full sampling in development and 10% elsewhere.
func (c *Config) TracesSampleRate() float64 {
	if c.SentrySampleRate > 0 {
		return c.SentrySampleRate
	}
	if c.IsDevelopment() {
		return 1.0
	}
	return 0.1
}
