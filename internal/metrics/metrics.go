// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kbchat"

var (
	global     *Metrics
	globalOnce sync.Once
)

// Metrics groups every collector of the service.
type Metrics struct {
	IngestedChunks    *prometheus.CounterVec
	IngestionFailures *prometheus.CounterVec
	IngestionDuration *prometheus.HistogramVec

	RetrievalFallbacks prometheus.Counter
	RetrievalNoMatches prometheus.Counter

	RateLimitRejections prometheus.Counter
	RateLimitTracked    prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// Default returns the process-wide collectors, registering them on first use.
func Default() *Metrics {
	globalOnce.Do(func() {
		global = &Metrics{
			IngestedChunks: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingested_chunks_total",
				Help:      "Chunks written to the vector store",
			}, []string{"document_type"}),
			IngestionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingestion_failures_total",
				Help:      "Failed ingestions by pipeline stage",
			}, []string{"stage"}),
			IngestionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingestion_duration_seconds",
				Help:      "End-to-end ingestion time",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			}, []string{"document_type"}),
			RetrievalFallbacks: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_fallbacks_total",
				Help:      "Retrievals where no match cleared the relevance threshold",
			}),
			RetrievalNoMatches: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retrieval_no_matches_total",
				Help:      "Retrievals that returned no matches at all",
			}),
			RateLimitRejections: promauto.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejections_total",
				Help:      "Requests rejected by the rate governor",
			}),
			RateLimitTracked: promauto.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_tracked_clients",
				Help:      "Client windows currently held by the rate governor",
			}),
			HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status",
			}, []string{"method", "route", "status"}),
			HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method", "route"}),
		}
	})
	return global
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
