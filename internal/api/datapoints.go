// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/seriesd-io/seriesd/internal/api/middleware"
	"github.com/seriesd-io/seriesd/internal/ingest"
)

// handleIngestDatapoint accepts one datapoint as a flat multipart form.
//
// POST /api/dataseries/by-external-id/dataseries/{externalID}/datapoint/
//
// Form keys follow the single-item grammar: a direct "external_id" part plus
// one "payload.<field>" part per supplied field. File-valued facts are sent
// as file parts, scalar facts as regular form values.
//
// Response codes:
//   - 201 Created: datapoint committed, response carries its stored reference
//   - 400 Bad Request: malformed keys or failed field validation
//   - 404 Not Found: series does not resolve
//   - 413 Content Too Large: a file payload exceeds the field's inline limit
func (s *Server) handleIngestDatapoint(w http.ResponseWriter, r *http.Request) {
	s.ingestDatapoints(w, r, ingest.ModeSingle)
}

// handleIngestDatapointBatch accepts multiple datapoints in one multipart
// form.
//
// POST /api/dataseries/by-external-id/dataseries/{externalID}/bulk/datapoint/
//
// Every form key carries a "batch-<discriminator>." prefix grouping the parts
// into items ("batch-1.external_id", "batch-1.payload.my_file"). The batch
// commits atomically: if any item fails validation, no datapoint is written
// and the error names the offending item's discriminator.
func (s *Server) handleIngestDatapointBatch(w http.ResponseWriter, r *http.Request) {
	s.ingestDatapoints(w, r, ingest.ModeBatch)
}

// ingestDatapoints is the shared parse-validate-commit path for both
// ingestion endpoints; only the key grammar differs between them.
func (s *Server) ingestDatapoints(w http.ResponseWriter, r *http.Request, mode ingest.Mode) {
	requestID := middleware.GetRequestID(r.Context())
	externalID := r.PathValue("externalID")

	ds, err := s.registry.ByExternalID(r.Context(), externalID)
	if err != nil {
		WriteErrorResponse(w, r, s.logger, ProblemFromError(err))

		return
	}

	if !hasMultipartContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be multipart/form-data"))

		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize)

	reader, err := r.MultipartReader()
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid multipart request: "+err.Error()))

		return
	}

	items, err := ingest.ParseMultipart(reader, mode, s.config.MaxRequestSize)
	if err != nil {
		s.writeIngestError(w, r, externalID, err)

		return
	}

	if len(items) == 0 {
		WriteErrorResponse(w, r, s.logger, BadRequest("Request contains no datapoints"))

		return
	}

	refs, err := s.pipeline.Ingest(r.Context(), ds, items)
	if err != nil {
		s.writeIngestError(w, r, externalID, err)

		return
	}

	s.logger.Info("Datapoints created",
		slog.String("request_id", requestID),
		slog.String("series", externalID),
		slog.Int("created", len(refs)),
	)

	s.writeJSON(w, r, http.StatusCreated, &DatapointResponse{
		Created:    len(refs),
		Datapoints: refs,
		RequestID:  requestID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

// writeIngestError maps ingestion failures onto their problem responses,
// special-casing the oversized-body error from http.MaxBytesReader.
func (s *Server) writeIngestError(w http.ResponseWriter, r *http.Request, externalID string, err error) {
	s.logger.Warn("Datapoint ingestion rejected",
		slog.String("request_id", middleware.GetRequestID(r.Context())),
		slog.String("series", externalID),
		slog.String("error", err.Error()),
	)

	var maxBytesErr *http.MaxBytesError
	if errors.As(err, &maxBytesErr) {
		WriteErrorResponse(w, r, s.logger, PayloadTooLarge("Request body exceeds the configured size limit"))

		return
	}

	WriteErrorResponse(w, r, s.logger, ProblemFromError(err))
}
