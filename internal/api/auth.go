// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/seriesd-io/seriesd/internal/api/middleware"
)

// csrfTokenHeader is the header the login request must echo the CSRF token
// in. The name matches what existing clients already send.
const csrfTokenHeader = "X-CSRFToken" //nolint: gosec

// handleCSRFToken issues a short-lived CSRF token starting the login flow.
//
// GET /api/common/auth/csrftoken/
//
// Clients first fetch a CSRF token here, then POST it in the X-CSRFToken
// header alongside their credentials to obtain a bearer token.
func (s *Server) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	token := s.tokens.IssueCSRF()

	s.writeJSON(w, r, http.StatusOK, &CSRFTokenResponse{CSRFToken: token})
}

// handleAuthToken exchanges credentials for a bearer token.
//
// POST /api/common/auth/authtoken/
//
// Response codes:
//   - 200 OK: credentials accepted, response carries the bearer token
//   - 400 Bad Request: malformed body
//   - 401 Unauthorized: unknown user or wrong password
//   - 403 Forbidden: missing or invalid CSRF token
func (s *Server) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if !s.tokens.ValidateCSRF(r.Header.Get(csrfTokenHeader)) {
		WriteErrorResponse(w, r, s.logger, Forbidden("Missing or invalid CSRF token"))

		return
	}

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var req AuthTokenRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxMetadataBodySize)

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON request body: "+err.Error()))

		return
	}

	if !s.users.Authenticate(req.Username, req.Password) {
		// One generic rejection for unknown user and wrong password,
		// usernames are not enumerable through this endpoint
		s.logger.Warn("Login rejected",
			slog.String("request_id", requestID),
			slog.String("username", req.Username),
		)

		WriteErrorResponse(w, r, s.logger, Unauthorized("Invalid credentials"))

		return
	}

	token := s.tokens.IssueToken(req.Username)

	s.logger.Info("Bearer token issued",
		slog.String("request_id", requestID),
		slog.String("username", req.Username),
	)

	s.writeJSON(w, r, http.StatusOK, &AuthTokenResponse{Token: token})
}
