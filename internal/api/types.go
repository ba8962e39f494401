// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"net/http"
	"net/url"

	"github.com/seriesd-io/seriesd/internal/ingest"
	"github.com/seriesd-io/seriesd/internal/series"
)

// API request/response models. These are separate from the domain model
// (series.DataSeries) to decouple the wire contract from internal types:
// internal uuids never appear here, callers see external ids only.

type (
	// CreateDataSeriesRequest is the payload for defining a new data series.
	CreateDataSeriesRequest struct {
		ExternalID string `json:"external_id"` //nolint: tagliatelle
		Name       string `json:"name,omitempty"`
		Backend    string `json:"backend,omitempty"`
	}

	// DataSeriesResponse describes one data series, including the locator
	// URLs a client follows to extend the schema or ingest datapoints.
	DataSeriesResponse struct {
		ExternalID     string         `json:"external_id"`     //nolint: tagliatelle
		Name           string         `json:"name"`
		Backend        string         `json:"backend"`
		CreatedAt      string         `json:"created_at"`      //nolint: tagliatelle
		FileFacts      string         `json:"file_facts"`      //nolint: tagliatelle
		Datapoints     string         `json:"datapoints"`
		BulkDatapoints string         `json:"bulk_datapoints"` //nolint: tagliatelle
		Facts          []FactResponse `json:"facts"`
	}

	// FactResponse describes one field definition of a series.
	FactResponse struct {
		ExternalID    string `json:"external_id"` //nolint: tagliatelle
		Name          string `json:"name"`
		Kind          string `json:"kind"`
		Optional      bool   `json:"optional"`
		MaxInlineSize int64  `json:"max_inline_size,omitempty"` //nolint: tagliatelle
	}

	// CreateFileFactRequest is the payload for adding a file-valued field to
	// an existing series. An omitted max_inline_size falls back to the
	// server-wide limit (SERIESD_MAX_INLINE_SIZE).
	CreateFileFactRequest struct {
		ExternalID    string `json:"external_id"` //nolint: tagliatelle
		Name          string `json:"name,omitempty"`
		Optional      bool   `json:"optional,omitempty"`
		MaxInlineSize int64  `json:"max_inline_size,omitempty"` //nolint: tagliatelle
	}

	// DatapointResponse reports the outcome of a single or batch ingestion
	// request. Datapoints are listed in input order, one per submitted item.
	DatapointResponse struct {
		Created    int                   `json:"created"`
		Datapoints []ingest.DatapointRef `json:"datapoints"`
		RequestID  string                `json:"request_id"` //nolint: tagliatelle
		Timestamp  string                `json:"timestamp"`
	}

	// CSRFTokenResponse carries the CSRF token for the login flow.
	CSRFTokenResponse struct {
		CSRFToken string `json:"csrftoken"`
	}

	// AuthTokenRequest is the login payload exchanged for a bearer token.
	AuthTokenRequest struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	// AuthTokenResponse carries the issued bearer token.
	AuthTokenResponse struct {
		Token string `json:"token"`
	}
)

// toDataSeriesResponse maps a domain series onto its wire representation.
// Locator URLs are absolute so clients can follow them directly.
func toDataSeriesResponse(r *http.Request, ds *series.DataSeries) *DataSeriesResponse {
	base := requestBaseURL(r) + "/api/dataseries/by-external-id/dataseries/" + url.PathEscape(ds.ExternalID)

	facts := make([]FactResponse, 0, len(ds.Fields))
	for _, f := range ds.Fields {
		facts = append(facts, FactResponse{
			ExternalID:    f.ExternalID,
			Name:          f.Name,
			Kind:          string(f.Kind),
			Optional:      f.Optional,
			MaxInlineSize: f.MaxInlineSize,
		})
	}

	return &DataSeriesResponse{
		ExternalID:     ds.ExternalID,
		Name:           ds.Name,
		Backend:        string(ds.Backend),
		CreatedAt:      ds.CreatedAt.Format("2006-01-02T15:04:05.999999Z07:00"),
		FileFacts:      base + "/filefact/",
		Datapoints:     base + "/datapoint/",
		BulkDatapoints: base + "/bulk/datapoint/",
		Facts:          facts,
	}
}

// requestBaseURL reconstructs the scheme and host the client used, honoring
// X-Forwarded-Proto when a proxy terminates TLS in front of the server.
func requestBaseURL(r *http.Request) string {
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}

	return scheme + "://" + r.Host
}
