// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/seriesd-io/seriesd/internal/api/middleware"
	"github.com/seriesd-io/seriesd/internal/ingest"
	"github.com/seriesd-io/seriesd/internal/series"
)

// ProblemDetail represents an RFC 7807 Problem Details structure.
// See https://tools.ietf.org/html/rfc7807 for specification.
type ProblemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Instance  string `json:"instance,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// NewProblemDetail creates a new RFC 7807 Problem Detail.
func NewProblemDetail(status int, title, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   fmt.Sprintf("https://seriesd.io/problems/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}
}

// WithInstance adds an instance URI to the problem detail.
func (p *ProblemDetail) WithInstance(instance string) *ProblemDetail {
	p.Instance = instance

	return p
}

// WithRequestID adds a request ID to the problem detail.
func (p *ProblemDetail) WithRequestID(requestID string) *ProblemDetail {
	p.RequestID = requestID

	return p
}

// WriteErrorResponse writes an RFC 7807 compliant error response.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	requestID := middleware.GetRequestID(r.Context())

	// Add request ID if not already set
	if problem.RequestID == "" {
		problem.RequestID = requestID
	}

	// Add instance if not already set
	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	// Set proper content type for RFC 7807
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("request_id", requestID),
			slog.String("path", r.URL.Path),
			slog.String("method", r.Method),
			slog.Any("encode_error", err),
			slog.Int("status", problem.Status),
		)

		// Fallback to basic error response
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Common error constructors for frequently used errors.

// InternalServerError creates a 500 Internal Server Error problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusInternalServerError,
		"Internal Server Error",
		detail,
	)
}

// BadRequest creates a 400 Bad Request problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusBadRequest,
		"Bad Request",
		detail,
	)
}

// NotFound creates a 404 Not Found problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusNotFound,
		"Not Found",
		detail,
	)
}

// Unauthorized creates a 401 Unauthorized problem.
func Unauthorized(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnauthorized,
		"Unauthorized",
		detail,
	)
}

// Forbidden creates a 403 Forbidden problem.
func Forbidden(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusForbidden,
		"Forbidden",
		detail,
	)
}

// Conflict creates a 409 Conflict problem.
func Conflict(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusConflict,
		"Conflict",
		detail,
	)
}

// PayloadTooLarge creates a 413 Content Too Large problem.
func PayloadTooLarge(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusRequestEntityTooLarge,
		"Content Too Large",
		detail,
	)
}

// UnsupportedMediaType creates a 415 Unsupported Media Type problem.
func UnsupportedMediaType(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusUnsupportedMediaType,
		"Unsupported Media Type",
		detail,
	)
}

// MethodNotAllowed creates a 405 Method Not Allowed problem.
func MethodNotAllowed(detail string) *ProblemDetail {
	return NewProblemDetail(
		http.StatusMethodNotAllowed,
		"Method Not Allowed",
		detail,
	)
}

// ProblemFromError maps a domain error to its RFC 7807 representation.
//
// Validation failures from the ingest pipeline keep their item/field context
// in the detail string so batch callers can locate the offending part.
func ProblemFromError(err error) *ProblemDetail {
	var validationErr *ingest.ValidationError
	if errors.As(err, &validationErr) {
		if errors.Is(err, series.ErrPayloadTooLarge) {
			return PayloadTooLarge(validationErr.Error())
		}

		return BadRequest(validationErr.Error())
	}

	switch {
	case errors.Is(err, series.ErrConflict), errors.Is(err, series.ErrDuplicateField):
		return Conflict(err.Error())
	case errors.Is(err, series.ErrNotFound):
		return NotFound(err.Error())
	case errors.Is(err, series.ErrUnknownBackend),
		errors.Is(err, series.ErrUnknownField),
		errors.Is(err, series.ErrMissingRequiredField),
		errors.Is(err, series.ErrTypeMismatch),
		errors.Is(err, ingest.ErrMalformedKey):
		return BadRequest(err.Error())
	case errors.Is(err, series.ErrPayloadTooLarge):
		return PayloadTooLarge(err.Error())
	default:
		return InternalServerError("An unexpected error occurred while processing the request")
	}
}
