// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// Recovery turns handler panics into logged 500 problem responses instead of
// dropped connections. The panic value and stack go to the log only; the
// client sees a generic detail.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					logger.Error("panic recovered",
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("request_id", GetRequestID(r.Context())),
						slog.Any("panic", v),
						slog.String("stack_trace", string(debug.Stack())),
					)

					writeProblem(w, r, logger, http.StatusInternalServerError,
						"An unexpected error occurred while processing the request")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
