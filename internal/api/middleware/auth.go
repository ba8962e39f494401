// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// publicEndpoints defines public endpoints that bypass authentication.
// Health probes and the token issuance flow itself must be reachable without
// a bearer token.
//
// Security note: never add business logic endpoints to this bypass list.
var publicEndpoints = map[string]bool{} //nolint: gochecknoglobals

// RegisterPublicEndpoint registers an endpoint that bypasses authentication.
// This should only be called during route setup.
//
// Example:
//
//	middleware.RegisterPublicEndpoint("/ping")
//	middleware.RegisterPublicEndpoint("/api/common/auth/csrftoken/")
func RegisterPublicEndpoint(endpoint string) {
	publicEndpoints[endpoint] = true
}

// Authentication error types for granular error handling.
var (
	// ErrMissingToken is returned when no bearer token is provided.
	ErrMissingToken = errors.New("missing auth token")

	// ErrInvalidToken is returned for unknown or expired tokens.
	// Generic error prevents enumeration attacks.
	ErrInvalidToken = errors.New("invalid auth token")
)

// TokenValidator resolves a bearer token to its authenticated username.
// Implemented by auth.TokenStore.
type TokenValidator interface {
	Validate(token string) (username string, ok bool)
}

// userKey is the context key for the authenticated username.
type userKey struct{}

// GetUser extracts the authenticated username from the request context.
// Returns "" for unauthenticated (public endpoint) requests.
func GetUser(ctx context.Context) string {
	if username, ok := ctx.Value(userKey{}).(string); ok {
		return username
	}

	return ""
}

// AuthenticateToken creates a middleware that requires a valid bearer token
// on every non-public endpoint. Tokens are accepted from
// "Authorization: Token <t>" (primary, matches the issuance flow) or
// "Authorization: Bearer <t>".
func AuthenticateToken(tokens TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if publicEndpoints[r.URL.Path] {
				next.ServeHTTP(w, r)

				return
			}

			token, found := extractToken(r)
			if !found {
				writeAuthError(w, r, logger, ErrMissingToken)

				return
			}

			username, ok := tokens.Validate(token)
			if !ok {
				writeAuthError(w, r, logger, ErrInvalidToken)

				return
			}

			ctx := context.WithValue(r.Context(), userKey{}, username)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractToken extracts the bearer token from the Authorization header.
//
// Security considerations:
//   - Rejects tokens containing newlines (header injection prevention)
//   - Trims whitespace
//   - Case-sensitive "Token " / "Bearer " prefix checks
func extractToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	var token string

	switch {
	case strings.HasPrefix(authHeader, "Token "):
		token = strings.TrimPrefix(authHeader, "Token ")
	case strings.HasPrefix(authHeader, "Bearer "):
		token = strings.TrimPrefix(authHeader, "Bearer ")
	default:
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" || strings.ContainsAny(token, "\r\n") {
		return "", false
	}

	return token, true
}

// writeAuthError writes an RFC 7807 compliant 401 response.
func writeAuthError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, cause error) {
	logger.Warn("Request rejected by auth middleware",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
		slog.String("reason", cause.Error()),
	)

	w.Header().Set("WWW-Authenticate", `Token realm="seriesd"`)
	writeProblem(w, r, logger, http.StatusUnauthorized, cause.Error())
}
