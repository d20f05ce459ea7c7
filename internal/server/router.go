package server

import (
	"net/http"

	"github.com/cloo-solutions/kbchat/internal/api/handlers"
	"github.com/cloo-solutions/kbchat/internal/api/middleware"
	"github.com/cloo-solutions/kbchat/internal/metrics"
	"github.com/cloo-solutions/kbchat/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const maxJSONBodyBytes int64 = 1 * 1024 * 1024

type RouterConfig struct {
	Logger         *zap.Logger
	RateLimiter    middleware.RateLimiter
	ChatRateLimit  ratelimit.Config
	ScrapeEnabled  bool
	ChatHandler    *handlers.ChatHandler
	IngestHandler  *handlers.IngestHandler
	SourcesHandler *handlers.SourcesHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog(logger))

	r.Get("/health", handlers.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	// Multipart uploads carry their own, larger limit.
	r.Post("/upload-pdf", cfg.IngestHandler.UploadPDF)

	r.Group(func(r chi.Router) {
		r.Use(middleware.MaxBodyBytes(maxJSONBodyBytes))

		r.With(middleware.RateLimit(cfg.RateLimiter, cfg.ChatRateLimit, logger)).
			Post("/chat", cfg.ChatHandler.Chat)
		r.With(middleware.RequireDevelopment(cfg.ScrapeEnabled)).
			Post("/scrape", cfg.IngestHandler.Scrape)
		r.Post("/ingest", cfg.IngestHandler.IngestText)
		r.Get("/sources", cfg.SourcesHandler.List)
		r.Get("/sources/*", cfg.SourcesHandler.Get)
	})

	return r
}
