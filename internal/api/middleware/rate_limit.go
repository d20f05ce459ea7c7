package middleware

import (
	"net/http"
	"strconv"

	"github.com/cloo-solutions/kbchat/internal/api"
	"github.com/cloo-solutions/kbchat/internal/logging"
	"github.com/cloo-solutions/kbchat/internal/metrics"
	"github.com/cloo-solutions/kbchat/internal/ratelimit"
	"go.uber.org/zap"
)

// Rate limit response headers.
const (
	HeaderRetryAfter         = "Retry-After"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimiter is the throttle consulted for every request.
type RateLimiter interface {
	Check(identifier string, cfg ratelimit.Config) ratelimit.Result
}

// RateLimit rejects clients that exceed cfg with 429. Allowed responses carry
// the remaining request count and the window reset time.
func RateLimit(limiter RateLimiter, cfg ratelimit.Config, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	rejections := metrics.Default().RateLimitRejections

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := ratelimit.ClientIdentifier(r)
			res := limiter.Check(client, cfg)

			if !res.ResetAt.IsZero() {
				w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
				w.Header().Set(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))
			}

			if !res.Allowed {
				if res.ResetAt.IsZero() {
					// Invalid limiter configuration, not the client's fault.
					logging.For(r.Context(), logger).Error("rate limiter misconfigured", zap.String("error", res.Error))
					api.Error(w, http.StatusInternalServerError, "internal server error")
					return
				}
				rejections.Inc()
				w.Header().Set(HeaderRetryAfter, strconv.Itoa(ratelimit.RetryAfterSeconds(res.RetryAfter)))
				logging.For(r.Context(), logger).Info("rate limit exceeded",
					zap.String("client", client),
					zap.Duration("retry_after", res.RetryAfter),
				)
				api.Error(w, http.StatusTooManyRequests, res.Error)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
