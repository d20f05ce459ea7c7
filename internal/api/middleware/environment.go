package middleware

import (
	"net/http"

	"github.com/cloo-solutions/kbchat/internal/api"
	"github.com/cloo-solutions/kbchat/internal/domain"
)

// RequireDevelopment answers 403 unless enabled is true. It guards endpoints
// that only make sense on a developer machine.
func RequireDevelopment(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled {
				api.Error(w, http.StatusForbidden, domain.ErrScrapeDisabled.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
