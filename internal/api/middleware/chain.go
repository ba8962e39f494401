// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"log/slog"
	"net/http"
)

// Option is a function that applies middleware to a handler.
type Option func(http.Handler) http.Handler

// noop passes the handler through unchanged. Used when an optional
// middleware's dependency is not configured.
func noop(next http.Handler) http.Handler { return next }

// Apply wraps handler with the given options. The first option becomes the
// outermost middleware, so requests traverse the options in the order listed.
//
// Example:
//
//	handler := middleware.Apply(mux,
//	    middleware.WithRequestID(),
//	    middleware.WithRecovery(logger),
//	    middleware.WithAuthToken(tokens, logger),
//	    middleware.WithRateLimit(limiter, logger),
//	    middleware.WithRequestLogger(logger),
//	    middleware.WithCORS(corsConfig),
//	)
func Apply(handler http.Handler, options ...Option) http.Handler {
	for i := len(options) - 1; i >= 0; i-- {
		handler = options[i](handler)
	}
	return handler
}

// WithRequestID returns an option that adds request ID middleware.
func WithRequestID() Option {
	return RequestID()
}

// WithRecovery returns an option that adds panic recovery middleware.
func WithRecovery(logger *slog.Logger) Option {
	return Recovery(logger)
}

// WithAuthToken returns an option that adds token authentication middleware.
// A nil token store disables authentication entirely.
func WithAuthToken(tokens TokenValidator, logger *slog.Logger) Option {
	if tokens == nil {
		return noop
	}
	return AuthenticateToken(tokens, logger)
}

// WithRateLimit returns an option that adds rate limiting middleware.
// A nil limiter disables rate limiting.
func WithRateLimit(limiter RateLimiter, logger *slog.Logger) Option {
	if limiter == nil {
		return noop
	}
	return RateLimit(limiter, logger)
}

// WithRequestLogger returns an option that adds request logging middleware.
func WithRequestLogger(logger *slog.Logger) Option {
	return RequestLogger(logger)
}

// WithCORS returns an option that adds CORS middleware.
func WithCORS(config CORSConfig) Option {
	return CORS(config)
}
