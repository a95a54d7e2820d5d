// Package middleware holds net/http middleware shared by the agent and
// the server of record.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"vellum/internal/httputil"
)

// Recovery turns panics into logged 500 responses. A panicking save
// handler must never take the whole agent down with it.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						"error", err,
						"method", r.Method,
						"path", r.URL.Path,
						"stack", string(debug.Stack()),
					)
					httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
