package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloo-solutions/kbchat/internal/api/handlers"
	"github.com/cloo-solutions/kbchat/internal/config"
	"github.com/cloo-solutions/kbchat/internal/jobs"
	"github.com/cloo-solutions/kbchat/internal/metrics"
	"github.com/cloo-solutions/kbchat/internal/ratelimit"
	"github.com/cloo-solutions/kbchat/internal/server"
	"github.com/cloo-solutions/kbchat/internal/telemetry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

// ServeCmd returns the serve command
func ServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long:  "Start the kbchat API server: chat, ingestion and the source registry.",
		RunE:  runServe,
	}

	cmd.Flags().StringP("port", "p", "", "Port to listen on (overrides KBCHAT_PORT)")
	cmd.Flags().Bool("no-migrate", false, "Skip automatic database migrations on startup")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	shutdownTelemetry, err := telemetry.Init(telemetry.Config{
		DSN:              cfg.SentryDSN,
		Environment:      cfg.Environment,
		TracesSampleRate: cfg.TracesSampleRate(),
		Debug:            cfg.Debug,
		Logger:           logger,
	})
	if err != nil {
		logger.Warn("telemetry init failed, continuing without tracing", zap.Error(err))
	} else {
		defer shutdownTelemetry()
	}

	noMigrate, _ := cmd.Flags().GetBool("no-migrate")
	rt, err := bootstrap(ctx, cfg, logger, bootstrapOptions{migrate: !noMigrate})
	if err != nil {
		return err
	}
	defer rt.Close()

	governor := ratelimit.NewGovernor(ratelimit.NewMemoryStore(),
		ratelimit.WithLogger(logger),
		ratelimit.WithTrackedGauge(metrics.Default().RateLimitTracked),
	)
	sweeper := jobs.NewWorker("rate-limit-sweep", governor, cfg.RateLimitSweepInterval, logger)
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	go sweeper.Start(workerCtx)

	chatLimit := ratelimit.ChatPreset(cfg.IsDevelopment(), cfg.RateLimitWindow, cfg.RateLimitMax)
	router := server.NewRouter(server.RouterConfig{
		Logger:         logger,
		RateLimiter:    governor,
		ChatRateLimit:  chatLimit,
		ScrapeEnabled:  cfg.IsDevelopment(),
		ChatHandler:    handlers.NewChatHandler(rt.chat, logger),
		IngestHandler:  handlers.NewIngestHandler(rt.ingestion, rt.extractor, rt.documentArchive(), cfg.MaxUploadBytes, logger),
		SourcesHandler: handlers.NewSourcesHandler(rt.sourceRegistry(), rt.downloadSigner(), logger),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("port", cfg.Port),
			zap.String("environment", cfg.Environment),
			zap.Int("chat_rate_limit", chatLimit.MaxRequests),
			zap.Duration("chat_rate_window", chatLimit.Window),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	stopWorkers()
	sweeper.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
