// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// staticValidator accepts a single known token.
type staticValidator struct {
	token    string
	username string
}

func (v staticValidator) Validate(token string) (string, bool) {
	if token == v.token {
		return v.username, true
	}

	return "", false
}

// authTestHandler records the authenticated user seen by the inner handler.
func authTestHandler(seenUser *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seenUser = GetUser(r.Context())

		w.WriteHeader(http.StatusOK)
	})
}

// TestAuthenticateToken_ValidToken verifies a valid token passes through and
// the username lands in the request context.
func TestAuthenticateToken_ValidToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)
	validator := staticValidator{token: "secret-token", username: "alice"}

	var seenUser string

	handler := AuthenticateToken(validator, logger)(authTestHandler(&seenUser))

	req := httptest.NewRequest(http.MethodPost, "/api/dataseries/dataseries/", nil)
	req.Header.Set("Authorization", "Token secret-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	if seenUser != "alice" {
		t.Errorf("expected authenticated user %q, got %q", "alice", seenUser)
	}
}

// TestAuthenticateToken_BearerPrefix verifies the Bearer scheme is also
// accepted.
func TestAuthenticateToken_BearerPrefix(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)
	validator := staticValidator{token: "secret-token", username: "alice"}

	var seenUser string

	handler := AuthenticateToken(validator, logger)(authTestHandler(&seenUser))

	req := httptest.NewRequest(http.MethodPost, "/api/dataseries/dataseries/", nil)
	req.Header.Set("Authorization", "Bearer secret-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

// TestAuthenticateToken_MissingToken verifies requests without an
// Authorization header are rejected with an RFC 7807 401.
func TestAuthenticateToken_MissingToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)
	validator := staticValidator{token: "secret-token", username: "alice"}

	var seenUser string

	handler := AuthenticateToken(validator, logger)(authTestHandler(&seenUser))

	req := httptest.NewRequest(http.MethodPost, "/api/dataseries/dataseries/", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}

	if got := rec.Header().Get("Content-Type"); got != "application/problem+json" {
		t.Errorf("expected problem+json content type, got %q", got)
	}

	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header on 401")
	}

	var problem map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &problem); err != nil {
		t.Fatalf("failed to decode problem response: %v", err)
	}

	if problem["status"] != float64(http.StatusUnauthorized) {
		t.Errorf("expected status field 401, got %v", problem["status"])
	}
}

// TestAuthenticateToken_InvalidToken verifies unknown tokens are rejected.
func TestAuthenticateToken_InvalidToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	logger := slog.New(slog.DiscardHandler)
	validator := staticValidator{token: "secret-token", username: "alice"}

	var seenUser string

	handler := AuthenticateToken(validator, logger)(authTestHandler(&seenUser))

	req := httptest.NewRequest(http.MethodPost, "/api/dataseries/dataseries/", nil)
	req.Header.Set("Authorization", "Token wrong-token")

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
}

// TestAuthenticateToken_MalformedHeaders covers header shapes that must be
// rejected before the validator is consulted.
func TestAuthenticateToken_MalformedHeaders(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name   string
		header string
	}{
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "lowercase scheme", header: "token secret-token"},
		{name: "empty token", header: "Token "},
		{name: "scheme only", header: "Token"},
	}

	logger := slog.New(slog.DiscardHandler)
	validator := staticValidator{token: "secret-token", username: "alice"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seenUser string

			handler := AuthenticateToken(validator, logger)(authTestHandler(&seenUser))

			req := httptest.NewRequest(http.MethodPost, "/api/dataseries/dataseries/", nil)
			req.Header.Set("Authorization", tt.header)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

// TestAuthenticateToken_PublicEndpointBypassed verifies registered public
// endpoints never require a token.
func TestAuthenticateToken_PublicEndpointBypassed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	RegisterPublicEndpoint("/health")

	logger := slog.New(slog.DiscardHandler)
	validator := staticValidator{token: "secret-token", username: "alice"}

	var seenUser string

	handler := AuthenticateToken(validator, logger)(authTestHandler(&seenUser))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected public endpoint to bypass auth, got %d", rec.Code)
	}

	if seenUser != "" {
		t.Errorf("expected no authenticated user on public endpoint, got %q", seenUser)
	}
}

// TestGetUser_NoValue verifies GetUser on a bare context returns "".
func TestGetUser_NoValue(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)

	if got := GetUser(req.Context()); got != "" {
		t.Errorf("expected empty user, got %q", got)
	}
}
