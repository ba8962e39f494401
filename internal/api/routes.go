// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seriesd-io/seriesd/internal/api/middleware"
)

const (
	healthCheckTimeout     = 2 * time.Second
	expectedURLParts       = 2
	contentTypeProblemJSON = "application/problem+json"

	serviceVersion = "v1.0.0" // TODO: inject version at build time once release tagging lands
)

type (
	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// Route represents an HTTP route configuration with a path and handler.
	// Used for declarative route registration with middleware bypass support.
	Route struct {
		Path    string           // The URL path for this route (e.g., "/ping", "GET /health")
		Handler http.HandlerFunc // The HTTP handler function for this route
	}
)

// setupRoutes sets up all HTTP routes for the API server.
//
// Resource paths keep their trailing slash and are anchored with {$} so the
// subtree wildcard of the 1.22 mux does not swallow sibling routes.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	// Public health endpoints
	s.registerPublicRoutes(
		mux,
		Route{"GET /ping", s.handlePing},     // K8s liveness probe
		Route{"GET /ready", s.handleReady},   // K8s readiness probe
		Route{"GET /health", s.handleHealth}, // Basic health check - status, uptime, version
		Route{"/", s.handleNotFound},         // Catch-all handler for 404 responses
	)

	// Public auth endpoints: the token issuance flow itself cannot require a token
	s.registerPublicRoutes(
		mux,
		Route{"GET /api/common/auth/csrftoken/{$}", s.handleCSRFToken},
		Route{"POST /api/common/auth/authtoken/{$}", s.handleAuthToken},
	)

	// Data series management
	mux.HandleFunc("POST /api/dataseries/dataseries/{$}", s.handleCreateDataSeries)

	// By-external-id routes: clients address series by their own identifier,
	// internal ids never appear in URLs
	mux.HandleFunc("GET /api/dataseries/by-external-id/dataseries/{externalID}/{$}", s.handleGetDataSeries)
	mux.HandleFunc("DELETE /api/dataseries/by-external-id/dataseries/{externalID}/{$}", s.handleDeleteDataSeries)
	mux.HandleFunc("POST /api/dataseries/by-external-id/dataseries/{externalID}/filefact/{$}", s.handleCreateFileFact)

	// Datapoint ingestion
	mux.HandleFunc(
		"POST /api/dataseries/by-external-id/dataseries/{externalID}/datapoint/{$}",
		s.handleIngestDatapoint,
	)
	mux.HandleFunc(
		"POST /api/dataseries/by-external-id/dataseries/{externalID}/bulk/datapoint/{$}",
		s.handleIngestDatapointBatch,
	)
}

// registerPublicRoutes registers HTTP routes that bypass authentication and rate limiting.
// This is a convenience method that:
//  1. Registers the route handler with the HTTP mux
//  2. Automatically registers the path as a public endpoint (bypasses auth middleware)
//
// Public routes should only be used for health checks and the token issuance
// flow. Never register business logic endpoints as public routes.
func (s *Server) registerPublicRoutes(mux *http.ServeMux, routes ...Route) {
	validHTTPMethods := map[string]bool{
		"GET":    true,
		"POST":   true,
		"PUT":    true,
		"PATCH":  true,
		"DELETE": true,
	}

	for _, route := range routes {
		mux.Handle(route.Path, route.Handler)

		// Strip method prefix for public endpoint bypass registration
		// Go 1.22+ method-based routing uses "GET /path" format
		// But r.URL.Path is just "/path" (no method prefix)
		path := route.Path

		parts := strings.Fields(path)
		if len(parts) == expectedURLParts && validHTTPMethods[parts[0]] {
			path = strings.TrimSpace(parts[1])
		}

		// The {$} anchor is mux syntax, not part of the request path
		path = strings.TrimSuffix(path, "{$}")

		if path == "" {
			s.logger.Warn("Malformed route path detected, ignoring route", slog.String("path", path))

			continue
		}

		middleware.RegisterPublicEndpoint(path)
	}
}

// handlePing responds to ping requests for basic server validation.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Seriesd-Version", serviceVersion)
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("pong"))
	if err != nil {
		s.logger.Error("Failed to write ping response",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

// handleReady responds to Kubernetes readiness probes with storage health checks.
//
// Response codes:
//   - 200 OK: storage is healthy and ready to accept traffic
//   - 503 Service Unavailable: database is unhealthy or unreachable
//
// When the service runs on in-memory stores there is no database to probe
// and the endpoint always reports ready.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if s.conn == nil {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)

		_, err := w.Write([]byte("ready"))
		if err != nil {
			s.logger.Error("Failed to write ready response",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		}

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.conn.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)

		_, writeErr := w.Write([]byte("storage unavailable"))
		if writeErr != nil {
			s.logger.Error("Failed to write unavailable response",
				slog.String("request_id", requestID),
				slog.String("error", writeErr.Error()),
			)
		}

		return
	}

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)

	_, err := w.Write([]byte("ready"))
	if err != nil {
		s.logger.Error("Failed to write ready response",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

// handleHealth returns detailed health status information.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	// Calculate uptime if server has started
	var uptime string

	if !s.startTime.IsZero() {
		duration := time.Since(s.startTime)
		uptime = duration.Round(time.Second).String()
	}

	health := HealthStatus{
		Status:      "healthy",
		ServiceName: "seriesd",
		Version:     serviceVersion,
		Uptime:      uptime,
	}

	data, err := json.Marshal(health)
	if err != nil {
		s.logger.Error("Failed to encode health response",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode health response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Seriesd-Version", serviceVersion)
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write health response",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
	}
}

// handleNotFound returns RFC 7807 compliant 404 responses for unknown endpoints.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON marshals payload and writes it with the given status code.
// Headers are only written after successful marshaling so encode failures
// can still produce a proper error response.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	requestID := middleware.GetRequestID(r.Context())

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if _, err := w.Write(data); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
}

// hasJSONContentType checks if Content-Type header starts with "application/json".
// This allows charset parameters (e.g., "application/json; charset=utf-8").
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}

// hasMultipartContentType checks if Content-Type header starts with
// "multipart/form-data".
func hasMultipartContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "multipart/form-data")
}
