package middleware

import (
	"net/http"

	"github.com/cloo-solutions/kbchat/internal/api"
)

// MaxBodyBytes caps JSON request bodies. A declared Content-Length over the
// cap is refused up front; chunked bodies are cut off by http.MaxBytesReader
// and reported by api.DecodeJSON.
func MaxBodyBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				api.Error(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}
