// Package telemetry wraps sentry-go for the spans the ingestion, retrieval
// and chat services open, and for error capture from the HTTP layer.
package telemetry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const (
	serverName   = "kbchatd"
	flushTimeout = 5 * time.Second
)

// Config holds the Sentry settings. An empty DSN disables Sentry; every
// helper in this package is then a no-op.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
	Logger           *zap.Logger
}

// Init configures the global Sentry client and returns a function that
// flushes buffered events. A client that fails to initialize is logged and
// treated like an empty DSN.
func Init(cfg Config) (func(), error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func() {}
	if cfg.DSN == "" {
		return noop, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		ServerName:       serverName,
		Debug:            cfg.Debug,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
		return noop, nil
	}

	logger.Info("sentry enabled",
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.TracesSampleRate),
	)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler keeps child spans with their parent's decision and samples root
// transactions at rate.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		if ctx.Span.ParentSpanID != (sentry.SpanID{}) {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes are the tags shared by service spans.
type SpanAttributes struct {
	SourceKey    string
	DocumentType string
	Stage        string
	Operation    string
}

// Span is a nil-safe handle on a sentry span.
type Span struct {
	inner *sentry.Span
}

// StartSpan opens a child of the span in ctx, or a new transaction when ctx
// carries none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	for tag, value := range map[string]string{
		"source_key":    attrs.SourceKey,
		"document_type": attrs.DocumentType,
		"stage":         attrs.Stage,
	} {
		if value != "" {
			span.SetTag(tag, value)
		}
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}

	return span.Context(), &Span{inner: span}
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetStage tags the span with the pipeline stage now running and leaves a
// breadcrumb, so an error event lists the stages that ran before it.
func (s *Span) SetStage(stage string) {
	if s.inner != nil {
		s.inner.SetTag("stage", stage)
		AddBreadcrumb(s.inner.Context(), "stage", stage)
	}
}

func (s *Span) SetData(key string, value any) {
	if s.inner != nil {
		s.inner.SetData(key, value)
	}
}

// SetError marks the span failed and captures err on the span's hub.
func (s *Span) SetError(err error) {
	if s.inner == nil {
		return
	}
	s.inner.Status = sentry.SpanStatusInternalError
	CaptureError(s.inner.Context(), err)
}

// CaptureError reports err on the hub in ctx, falling back to the global hub.
func CaptureError(ctx context.Context, err error) {
	hubFor(ctx).CaptureException(err)
}

// AddBreadcrumb records an info breadcrumb on the hub in ctx.
func AddBreadcrumb(ctx context.Context, category, message string) {
	hubFor(ctx).AddBreadcrumb(&sentry.Breadcrumb{
		Category:  category,
		Message:   message,
		Level:     sentry.LevelInfo,
		Timestamp: time.Now(),
	}, nil)
}

func hubFor(ctx context.Context) *sentry.Hub {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		return hub
	}
	return sentry.CurrentHub()
}
