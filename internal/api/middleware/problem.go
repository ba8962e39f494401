// Package middleware provides HTTP middleware components for the seriesd API.
package middleware

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// problemDetail is the RFC 7807 response body written by middleware. The api
// package has its own richer variant; this one is duplicated here because
// api imports middleware and reusing it would cycle.
type problemDetail struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"requestId,omitempty"`
}

// writeProblem sends an RFC 7807 problem response. Callers set any extra
// headers (WWW-Authenticate, Retry-After) before calling.
func writeProblem(w http.ResponseWriter, r *http.Request, logger *slog.Logger, status int, detail string) {
	requestID := GetRequestID(r.Context())

	problem := problemDetail{
		Type:      fmt.Sprintf("https://seriesd.io/problems/%d", status),
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.URL.Path,
		RequestID: requestID,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode problem response",
			slog.String("request_id", requestID),
			slog.Any("error", err),
		)
	}
}
