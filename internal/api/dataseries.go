// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/seriesd-io/seriesd/internal/api/middleware"
	"github.com/seriesd-io/seriesd/internal/events"
	"github.com/seriesd-io/seriesd/internal/series"
)

// maxMetadataBodySize bounds JSON bodies on schema management endpoints.
// Ingestion endpoints have their own, much larger, multipart limit.
const maxMetadataBodySize int64 = 1 << 20 // 1 MB

// handleCreateDataSeries defines a new data series.
//
// POST /api/dataseries/dataseries/
//
// Response codes:
//   - 201 Created: series defined, response carries its locator URLs
//   - 400 Bad Request: malformed body, missing external_id, unknown backend
//   - 409 Conflict: external id already taken
func (s *Server) handleCreateDataSeries(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var req CreateDataSeriesRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxMetadataBodySize)

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON request body: "+err.Error()))

		return
	}

	if err := validateExternalID(req.ExternalID); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid external_id: "+err.Error()))

		return
	}

	// Display name defaults to the external id
	name := req.Name
	if name == "" {
		name = req.ExternalID
	}

	// Backend defaults to the SQL engine
	backendName := req.Backend
	if backendName == "" {
		backendName = string(series.BackendDynamicSQLNoHistory)
	}

	kind, err := series.ParseBackendKind(backendName)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	ds, err := s.registry.CreateSeries(r.Context(), req.ExternalID, name, kind)
	if err != nil {
		s.logger.Warn("Data series creation rejected",
			slog.String("request_id", requestID),
			slog.String("series", req.ExternalID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	s.logger.Info("Data series created",
		slog.String("request_id", requestID),
		slog.String("series", ds.ExternalID),
		slog.String("backend", string(ds.Backend)),
	)

	s.publishEvent(r, events.Event{
		Type:   events.TypeSeriesCreated,
		Series: ds.ExternalID,
		At:     time.Now().UTC(),
	})

	s.writeJSON(w, r, http.StatusCreated, toDataSeriesResponse(r, ds))
}

// handleGetDataSeries resolves a series by external id.
//
// GET /api/dataseries/by-external-id/dataseries/{externalID}/
func (s *Server) handleGetDataSeries(w http.ResponseWriter, r *http.Request) {
	externalID := r.PathValue("externalID")

	ds, err := s.registry.ByExternalID(r.Context(), externalID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	s.writeJSON(w, r, http.StatusOK, toDataSeriesResponse(r, ds))
}

// handleDeleteDataSeries removes a series and its backend storage.
//
// DELETE /api/dataseries/by-external-id/dataseries/{externalID}/
//
// The operation is an idempotent "ensure absent": deleting an id that does
// not resolve succeeds, so clients may retry without checking for 404s.
func (s *Server) handleDeleteDataSeries(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	externalID := r.PathValue("externalID")

	if err := s.registry.DeleteByExternalID(r.Context(), externalID); err != nil {
		s.logger.Error("Data series deletion failed",
			slog.String("request_id", requestID),
			slog.String("series", externalID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	s.logger.Info("Data series deleted",
		slog.String("request_id", requestID),
		slog.String("series", externalID),
	)

	s.publishEvent(r, events.Event{
		Type:   events.TypeSeriesDeleted,
		Series: externalID,
		At:     time.Now().UTC(),
	})

	w.WriteHeader(http.StatusNoContent)
}

// handleCreateFileFact adds a file-valued field to an existing series.
//
// POST /api/dataseries/by-external-id/dataseries/{externalID}/filefact/
//
// Response codes:
//   - 201 Created: field registered, response carries the updated series
//   - 400 Bad Request: malformed body or missing external_id
//   - 404 Not Found: series does not resolve
//   - 409 Conflict: field external id already used within the series
func (s *Server) handleCreateFileFact(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	seriesExternalID := r.PathValue("externalID")

	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	var req CreateFileFactRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxMetadataBodySize)

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid JSON request body: "+err.Error()))

		return
	}

	if err := validateExternalID(req.ExternalID); err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid external_id: "+err.Error()))

		return
	}

	if req.MaxInlineSize < 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid max_inline_size: must not be negative"))

		return
	}

	name := req.Name
	if name == "" {
		name = req.ExternalID
	}

	// An omitted limit is pinned to the server-wide default at creation time
	// so the fact keeps its limit even if the server setting changes later.
	maxInlineSize := req.MaxInlineSize
	if maxInlineSize == 0 {
		maxInlineSize = s.config.MaxInlineSize
	}

	ds, err := s.registry.ByExternalID(r.Context(), seriesExternalID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	spec := series.FieldSpec{
		ExternalID:    req.ExternalID,
		Name:          name,
		Kind:          series.FieldFile,
		Optional:      req.Optional,
		MaxInlineSize: maxInlineSize,
	}

	if _, err := s.registry.AddField(r.Context(), ds, spec); err != nil {
		s.logger.Warn("File fact creation rejected",
			slog.String("request_id", requestID),
			slog.String("series", seriesExternalID),
			slog.String("fact", req.ExternalID),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	s.logger.Info("File fact created",
		slog.String("request_id", requestID),
		slog.String("series", seriesExternalID),
		slog.String("fact", req.ExternalID),
	)

	s.writeJSON(w, r, http.StatusCreated, toDataSeriesResponse(r, ds))
}

// publishEvent delivers one lifecycle event. Publication is advisory:
// failures are logged, never surfaced to the client.
func (s *Server) publishEvent(r *http.Request, event events.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(r.Context(), event); err != nil {
		s.logger.Warn("Failed to publish lifecycle event",
			slog.String("request_id", middleware.GetRequestID(r.Context())),
			slog.String("type", event.Type),
			slog.String("series", event.Series),
			slog.String("error", err.Error()),
		)
	}
}

// validateExternalID enforces the shape of caller-assigned identifiers:
// non-empty, at most 256 bytes, no path separators or whitespace.
func validateExternalID(externalID string) error {
	switch {
	case externalID == "":
		return errors.New("must not be empty")
	case len(externalID) > 256:
		return errors.New("must not exceed 256 bytes")
	case strings.ContainsAny(externalID, "/\\ \t\r\n"):
		return errors.New("must not contain path separators or whitespace")
	default:
		return nil
	}
}
