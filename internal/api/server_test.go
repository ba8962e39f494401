// Package api provides the HTTP API server implementation for the seriesd service.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/seriesd-io/seriesd/internal/api/middleware"
	"github.com/seriesd-io/seriesd/internal/auth"
	"github.com/seriesd-io/seriesd/internal/events"
	"github.com/seriesd-io/seriesd/internal/ingest"
	"github.com/seriesd-io/seriesd/internal/series"
	"github.com/seriesd-io/seriesd/internal/storage"
)

const (
	testUsername = "tester"
	testPassword = "test-password"
)

// testFixture wires the full handler stack over in-memory stores so tests
// exercise the same middleware chain production requests pass through.
type testFixture struct {
	handler   http.Handler
	server    *Server
	tokens    *auth.TokenStore
	backend   *storage.MemoryBackend
	blobs     *storage.MemoryBlobStore
	publisher *events.RecordingPublisher
	token     string
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	return newTestFixtureWithConfig(t, testServerConfig())
}

func testServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            8080,
		Host:            "127.0.0.1",
		ReadTimeout:     defaultTimeout,
		WriteTimeout:    defaultTimeout,
		ShutdownTimeout: defaultTimeout,
		LogLevel:        slog.LevelInfo,
		MaxRequestSize:  1 << 20,
		MaxInlineSize:   series.DefaultMaxInlineSize,
	}
}

func newTestFixtureWithConfig(t *testing.T, cfg *ServerConfig) *testFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)

	backend := storage.NewMemoryBackend()
	factory := storage.NewFactory()
	factory.Register(series.BackendMemoryNoHistory, backend)

	blobs := storage.NewMemoryBlobStore()
	publisher := events.NewRecordingPublisher()

	users := auth.NewUserStore()
	if err := users.Add(testUsername, testPassword); err != nil {
		t.Fatalf("failed to seed test user: %v", err)
	}

	tokens := auth.NewTokenStore()

	server := &Server{
		logger:    logger,
		config:    cfg,
		registry:  series.NewRegistry(storage.NewMemoryMetaStore(), factory),
		pipeline:  ingest.NewPipeline(blobs, factory, publisher, logger),
		blobs:     blobs,
		users:     users,
		tokens:    tokens,
		publisher: publisher,
	}

	mux := http.NewServeMux()
	server.setupRoutes(mux)

	handler := middleware.Apply(mux,
		middleware.WithRequestID(),
		middleware.WithRecovery(logger),
		middleware.WithAuthToken(tokens, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	return &testFixture{
		handler:   handler,
		server:    server,
		tokens:    tokens,
		backend:   backend,
		blobs:     blobs,
		publisher: publisher,
		token:     tokens.IssueToken(testUsername),
	}
}

// do executes one authenticated request against the handler stack.
func (f *testFixture) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Token "+f.token)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	return rec
}

func (f *testFixture) doJSON(method, path string, payload any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(payload)

	return f.do(method, path, bytes.NewReader(data), "application/json")
}

// createSeries defines a memory-backed series through the API.
func (f *testFixture) createSeries(t *testing.T, externalID string) {
	t.Helper()

	rec := f.doJSON(http.MethodPost, "/api/dataseries/dataseries/", CreateDataSeriesRequest{
		ExternalID: externalID,
		Backend:    string(series.BackendMemoryNoHistory),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create series %q: status %d body %s", externalID, rec.Code, rec.Body.String())
	}
}

// createFileFact adds a file-valued field through the API.
func (f *testFixture) createFileFact(t *testing.T, seriesID, factID string, optional bool) {
	t.Helper()

	rec := f.doJSON(http.MethodPost,
		"/api/dataseries/by-external-id/dataseries/"+seriesID+"/filefact/",
		CreateFileFactRequest{ExternalID: factID, Optional: optional},
	)
	if rec.Code != http.StatusCreated {
		t.Fatalf("failed to create file fact %q: status %d body %s", factID, rec.Code, rec.Body.String())
	}
}

// multipartBody assembles a multipart form from alternating key/value specs.
// A key carrying the "@" prefix on its value is written as a file part.
func multipartBody(t *testing.T, pairs ...[2]string) (*bytes.Buffer, string) {
	t.Helper()

	var body bytes.Buffer

	writer := multipart.NewWriter(&body)

	for _, pair := range pairs {
		key, value := pair[0], pair[1]

		if strings.HasPrefix(value, "@") {
			fw, err := writer.CreateFormFile(key, "upload.bin")
			if err != nil {
				t.Fatalf("failed to create file part: %v", err)
			}

			if _, err := fw.Write([]byte(value[1:])); err != nil {
				t.Fatalf("failed to write file part: %v", err)
			}

			continue
		}

		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("failed to write field: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}

	return &body, writer.FormDataContentType()
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response body %q: %v", rec.Body.String(), err)
	}

	return payload
}

// TestCreateDataSeries verifies the 201 response carries the series' locator
// URLs and that a series.created event is published.
func TestCreateDataSeries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	rec := f.doJSON(http.MethodPost, "/api/dataseries/dataseries/", CreateDataSeriesRequest{
		ExternalID: "myds",
		Backend:    string(series.BackendMemoryNoHistory),
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)

	if body["external_id"] != "myds" || body["name"] != "myds" {
		t.Errorf("unexpected identifiers: %v", body)
	}

	if body["file_facts"] != "http://example.com/api/dataseries/by-external-id/dataseries/myds/filefact/" {
		t.Errorf("unexpected file_facts locator: %v", body["file_facts"])
	}

	if body["datapoints"] != "http://example.com/api/dataseries/by-external-id/dataseries/myds/datapoint/" {
		t.Errorf("unexpected datapoints locator: %v", body["datapoints"])
	}

	if body["bulk_datapoints"] != "http://example.com/api/dataseries/by-external-id/dataseries/myds/bulk/datapoint/" {
		t.Errorf("unexpected bulk_datapoints locator: %v", body["bulk_datapoints"])
	}

	evts := f.publisher.Events()
	if len(evts) != 1 || evts[0].Type != events.TypeSeriesCreated || evts[0].Series != "myds" {
		t.Errorf("expected a series.created event, got %+v", evts)
	}
}

// TestCreateDataSeries_ForwardedLocators verifies locator URLs reflect the
// host the client addressed and the proxy-advertised scheme.
func TestCreateDataSeries_ForwardedLocators(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	data, _ := json.Marshal(CreateDataSeriesRequest{
		ExternalID: "myds",
		Backend:    string(series.BackendMemoryNoHistory),
	})

	req := httptest.NewRequest(http.MethodPost, "/api/dataseries/dataseries/", bytes.NewReader(data))
	req.Host = "series.internal:8443"
	req.Header.Set("Authorization", "Token "+f.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-Proto", "https")

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	body := decodeBody(t, rec)

	want := "https://series.internal:8443/api/dataseries/by-external-id/dataseries/myds/filefact/"
	if body["file_facts"] != want {
		t.Errorf("expected locator %q, got %v", want, body["file_facts"])
	}
}

// TestCreateDataSeries_Conflict verifies a reused external id yields a 409
// problem response.
func TestCreateDataSeries_Conflict(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.createSeries(t, "myds")

	rec := f.doJSON(http.MethodPost, "/api/dataseries/dataseries/", CreateDataSeriesRequest{
		ExternalID: "myds",
		Backend:    string(series.BackendMemoryNoHistory),
	})

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != contentTypeProblemJSON {
		t.Errorf("expected problem+json, got %q", ct)
	}
}

// TestCreateDataSeries_Rejections covers malformed create requests.
func TestCreateDataSeries_Rejections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	tests := []struct {
		name        string
		body        string
		contentType string
		wantStatus  int
	}{
		{
			name:        "wrong content type",
			body:        `{"external_id":"myds"}`,
			contentType: "text/plain",
			wantStatus:  http.StatusUnsupportedMediaType,
		},
		{
			name:        "invalid json",
			body:        `{"external_id":`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "missing external id",
			body:        `{"name":"x"}`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "external id with slash",
			body:        `{"external_id":"a/b"}`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
		},
		{
			name:        "unknown backend",
			body:        `{"external_id":"myds2","backend":"S3_PARQUET"}`,
			contentType: "application/json",
			wantStatus:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/dataseries/dataseries/",
				strings.NewReader(tt.body), tt.contentType)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
		})
	}
}

// TestCreateDataSeries_ConcurrentSameID verifies exactly one of two
// concurrent creates for the same id succeeds.
func TestCreateDataSeries_ConcurrentSameID(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	const attempts = 8

	var (
		wg       sync.WaitGroup
		mutex    sync.Mutex
		statuses []int
	)

	for i := 0; i < attempts; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			rec := f.doJSON(http.MethodPost, "/api/dataseries/dataseries/", CreateDataSeriesRequest{
				ExternalID: "myds",
				Backend:    string(series.BackendMemoryNoHistory),
			})

			mutex.Lock()
			statuses = append(statuses, rec.Code)
			mutex.Unlock()
		}()
	}

	wg.Wait()

	created, conflicted := 0, 0

	for _, status := range statuses {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusConflict:
			conflicted++
		default:
			t.Errorf("unexpected status %d", status)
		}
	}

	if created != 1 || conflicted != attempts-1 {
		t.Errorf("expected 1 created and %d conflicts, got %d/%d", attempts-1, created, conflicted)
	}
}

// TestGetDataSeries verifies resolution by external id.
func TestGetDataSeries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	rec := f.do(http.MethodGet, "/api/dataseries/by-external-id/dataseries/missing/", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown series, got %d", rec.Code)
	}

	f.createSeries(t, "myds")
	f.createFileFact(t, "myds", "my_file", false)

	rec = f.do(http.MethodGet, "/api/dataseries/by-external-id/dataseries/myds/", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody(t, rec)

	facts, ok := body["facts"].([]any)
	if !ok || len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %v", body["facts"])
	}

	fact := facts[0].(map[string]any)
	if fact["external_id"] != "my_file" || fact["kind"] != string(series.FieldFile) {
		t.Errorf("unexpected fact: %v", fact)
	}
}

// TestDeleteDataSeries_Idempotent verifies delete responds 204 for both a
// resolvable and an already-absent id.
func TestDeleteDataSeries_Idempotent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.createSeries(t, "myds")

	for i := 0; i < 2; i++ {
		rec := f.do(http.MethodDelete, "/api/dataseries/by-external-id/dataseries/myds/", nil, "")
		if rec.Code != http.StatusNoContent {
			t.Errorf("delete attempt %d: expected 204, got %d", i+1, rec.Code)
		}
	}

	rec := f.do(http.MethodGet, "/api/dataseries/by-external-id/dataseries/myds/", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", rec.Code)
	}

	var deleted int

	for _, evt := range f.publisher.Events() {
		if evt.Type == events.TypeSeriesDeleted && evt.Series == "myds" {
			deleted++
		}
	}

	if deleted != 2 {
		t.Errorf("expected 2 series.deleted events (one per request), got %d", deleted)
	}
}

// TestCreateFileFact_Rejections covers file fact error paths.
func TestCreateFileFact_Rejections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.createSeries(t, "myds")
	f.createFileFact(t, "myds", "my_file", false)

	// Duplicate field id within the series
	rec := f.doJSON(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/filefact/",
		CreateFileFactRequest{ExternalID: "my_file"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a duplicate fact, got %d", rec.Code)
	}

	// Unknown series
	rec = f.doJSON(http.MethodPost, "/api/dataseries/by-external-id/dataseries/missing/filefact/",
		CreateFileFactRequest{ExternalID: "my_file"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown series, got %d", rec.Code)
	}

	// Missing fact external id
	rec = f.doJSON(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/filefact/",
		CreateFileFactRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a missing external_id, got %d", rec.Code)
	}

	// Negative inline size limit
	rec = f.doJSON(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/filefact/",
		CreateFileFactRequest{ExternalID: "other_file", MaxInlineSize: -1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a negative max_inline_size, got %d", rec.Code)
	}
}

// TestCreateFileFact_InlineSizeLimits verifies the server-wide inline size
// setting seeds facts created without an explicit limit, that a per-fact
// max_inline_size overrides it, and that ingestion enforces whichever
// limit the fact carries.
func TestCreateFileFact_InlineSizeLimits(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testServerConfig()
	cfg.MaxInlineSize = 16

	f := newTestFixtureWithConfig(t, cfg)
	f.createSeries(t, "myds")

	// Omitted limit pins to the configured server-wide value.
	rec := f.doJSON(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/filefact/",
		CreateFileFactRequest{ExternalID: "small_file"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	facts := decodeBody(t, rec)["facts"].([]any)
	if len(facts) != 1 {
		t.Fatalf("expected 1 fact, got %d", len(facts))
	}

	if got := facts[0].(map[string]any)["max_inline_size"]; got != float64(16) {
		t.Errorf("expected the configured limit 16, got %v", got)
	}

	// An explicit limit wins over the configured default.
	rec = f.doJSON(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/filefact/",
		CreateFileFactRequest{ExternalID: "big_file", Optional: true, MaxInlineSize: 64})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	facts = decodeBody(t, rec)["facts"].([]any)
	if got := facts[1].(map[string]any)["max_inline_size"]; got != float64(64) {
		t.Errorf("expected the explicit limit 64, got %v", got)
	}

	// A payload over the configured limit is rejected.
	body, contentType := multipartBody(t,
		[2]string{"external_id", "dp-1"},
		[2]string{"payload.small_file", "@" + strings.Repeat("x", 32)},
	)

	rec = f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/", body, contentType)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 over the configured limit, got %d: %s", rec.Code, rec.Body.String())
	}

	// The same payload fits under the fact-level limit.
	body, contentType = multipartBody(t,
		[2]string{"external_id", "dp-2"},
		[2]string{"payload.small_file", "@" + strings.Repeat("x", 8)},
		[2]string{"payload.big_file", "@" + strings.Repeat("x", 32)},
	)

	rec = f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/", body, contentType)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201 under the fact-level limit, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestIngestDatapoint_RoundTrip verifies the single-datapoint flow end to
// end: multipart upload, blob staging and the stored reference.
func TestIngestDatapoint_RoundTrip(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.createSeries(t, "myds")
	f.createFileFact(t, "myds", "my_file", false)

	body, contentType := multipartBody(t,
		[2]string{"external_id", "dp-1"},
		[2]string{"payload.my_file", "@hello"},
	)

	rec := f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/", body, contentType)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody(t, rec)
	if resp["created"] != float64(1) {
		t.Errorf("expected created=1, got %v", resp["created"])
	}

	datapoints := resp["datapoints"].([]any)
	if len(datapoints) != 1 {
		t.Fatalf("expected 1 datapoint reference, got %d", len(datapoints))
	}

	ref := datapoints[0].(map[string]any)
	if ref["external_id"] != "dp-1" || ref["ref"] == "" {
		t.Errorf("unexpected reference: %v", ref)
	}

	// The uploaded bytes are retrievable through the content-addressed store.
	key := storage.BlobKey([]byte("hello"))

	data, err := f.blobs.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("blob lookup failed: %v", err)
	}

	if string(data) != "hello" {
		t.Errorf("expected blob content %q, got %q", "hello", data)
	}

	if rows := f.backend.Rows("myds"); len(rows) != 1 || rows[0].ExternalID != "dp-1" {
		t.Errorf("unexpected stored rows: %+v", rows)
	}
}

// TestIngestDatapoint_Batch verifies batch grouping and first-seen ordering
// of discriminators.
func TestIngestDatapoint_Batch(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.createSeries(t, "myds")
	f.createFileFact(t, "myds", "my_file", false)

	body, contentType := multipartBody(t,
		[2]string{"batch-10.external_id", "dp-10"},
		[2]string{"batch-10.payload.my_file", "@ten"},
		[2]string{"batch-2.external_id", "dp-2"},
		[2]string{"batch-2.payload.my_file", "@two"},
	)

	rec := f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/bulk/datapoint/", body, contentType)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeBody(t, rec)

	datapoints := resp["datapoints"].([]any)
	if len(datapoints) != 2 {
		t.Fatalf("expected 2 datapoint references, got %d", len(datapoints))
	}

	// batch-10 appeared first in the body, so its item commits first:
	// discriminators group, they do not order numerically.
	first := datapoints[0].(map[string]any)
	second := datapoints[1].(map[string]any)

	if first["external_id"] != "dp-10" || second["external_id"] != "dp-2" {
		t.Errorf("references out of first-seen order: %v, %v", first, second)
	}
}

// TestIngestDatapoint_BatchAtomicity verifies a batch with one invalid item
// writes nothing and names the offending item.
func TestIngestDatapoint_BatchAtomicity(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.createSeries(t, "myds")
	f.createFileFact(t, "myds", "my_file", false)

	// batch-2 misses the required my_file field
	body, contentType := multipartBody(t,
		[2]string{"batch-1.external_id", "dp-1"},
		[2]string{"batch-1.payload.my_file", "@one"},
		[2]string{"batch-2.external_id", "dp-2"},
		[2]string{"batch-3.external_id", "dp-3"},
		[2]string{"batch-3.payload.my_file", "@three"},
	)

	rec := f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/bulk/datapoint/", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}

	problem := decodeBody(t, rec)

	detail, _ := problem["detail"].(string)
	if !strings.Contains(detail, "batch-2") || !strings.Contains(detail, "my_file") {
		t.Errorf("expected the detail to name item and field, got %q", detail)
	}

	if rows := f.backend.Rows("myds"); len(rows) != 0 {
		t.Errorf("expected zero rows after a rejected batch, got %d", len(rows))
	}

	if f.blobs.Len() != 0 {
		t.Errorf("expected zero staged blobs after a rejected batch, got %d", f.blobs.Len())
	}
}

// TestIngestDatapoint_Rejections covers the remaining ingestion error paths.
func TestIngestDatapoint_Rejections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.createSeries(t, "myds")
	f.createFileFact(t, "myds", "my_file", false)

	// Unknown series resolves before the body is touched
	body, contentType := multipartBody(t, [2]string{"external_id", "dp-1"})

	rec := f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/missing/datapoint/", body, contentType)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for an unknown series, got %d", rec.Code)
	}

	// Wrong content type
	rec = f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/",
		strings.NewReader(`{"external_id":"dp-1"}`), "application/json")
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Errorf("expected 415 for JSON on an ingestion endpoint, got %d", rec.Code)
	}

	// Empty form
	body, contentType = multipartBody(t)

	rec = f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for an empty form, got %d", rec.Code)
	}

	// Text part for a file fact
	body, contentType = multipartBody(t,
		[2]string{"external_id", "dp-1"},
		[2]string{"payload.my_file", "not a file part"},
	)

	rec = f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a text value on a file fact, got %d", rec.Code)
	}

	// Batch grammar on the single endpoint
	body, contentType = multipartBody(t,
		[2]string{"batch-1.external_id", "dp-1"},
	)

	rec = f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/", body, contentType)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for batch keys on the single endpoint, got %d", rec.Code)
	}
}

// TestIngestDatapoint_PayloadTooLarge verifies the configured request size
// bound maps to 413.
func TestIngestDatapoint_PayloadTooLarge(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	cfg := testServerConfig()
	cfg.MaxRequestSize = 256

	f := newTestFixtureWithConfig(t, cfg)
	f.createSeries(t, "myds")
	f.createFileFact(t, "myds", "my_file", false)

	body, contentType := multipartBody(t,
		[2]string{"external_id", "dp-1"},
		[2]string{"payload.my_file", "@" + strings.Repeat("x", 1024)},
	)

	rec := f.do(http.MethodPost, "/api/dataseries/by-external-id/dataseries/myds/datapoint/", body, contentType)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestAuthFlow verifies the two-step login: CSRF token, then credentials,
// then the issued bearer token grants access to protected endpoints.
func TestAuthFlow(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	// Step 1: fetch a CSRF token without any credentials
	req := httptest.NewRequest(http.MethodGet, "/api/common/auth/csrftoken/", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from csrftoken, got %d", rec.Code)
	}

	csrf, _ := decodeBody(t, rec)["csrftoken"].(string)
	if csrf == "" {
		t.Fatal("expected a csrftoken in the response")
	}

	// Step 2: exchange credentials for a bearer token
	login, _ := json.Marshal(AuthTokenRequest{Username: testUsername, Password: testPassword})

	req = httptest.NewRequest(http.MethodPost, "/api/common/auth/authtoken/", bytes.NewReader(login))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(csrfTokenHeader, csrf)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from authtoken, got %d: %s", rec.Code, rec.Body.String())
	}

	bearer, _ := decodeBody(t, rec)["token"].(string)
	if bearer == "" {
		t.Fatal("expected a bearer token in the response")
	}

	// Step 3: the token authenticates a protected request
	payload, _ := json.Marshal(CreateDataSeriesRequest{
		ExternalID: "myds",
		Backend:    string(series.BackendMemoryNoHistory),
	})

	req = httptest.NewRequest(http.MethodPost, "/api/dataseries/dataseries/", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+bearer)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 with the issued token, got %d: %s", rec.Code, rec.Body.String())
	}
}

// TestAuthFlow_Rejections covers the login error paths.
func TestAuthFlow_Rejections(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	login, _ := json.Marshal(AuthTokenRequest{Username: testUsername, Password: testPassword})

	// Missing CSRF token
	req := httptest.NewRequest(http.MethodPost, "/api/common/auth/authtoken/", bytes.NewReader(login))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 without a CSRF token, got %d", rec.Code)
	}

	// Wrong password with a valid CSRF token
	badLogin, _ := json.Marshal(AuthTokenRequest{Username: testUsername, Password: "wrong"})

	req = httptest.NewRequest(http.MethodPost, "/api/common/auth/authtoken/", bytes.NewReader(badLogin))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(csrfTokenHeader, f.tokens.IssueCSRF())
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong credentials, got %d", rec.Code)
	}
}

// TestProtectedEndpointsRequireToken verifies business endpoints reject
// unauthenticated requests while health endpoints stay open.
func TestProtectedEndpointsRequireToken(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dataseries/by-external-id/dataseries/myds/", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without a token, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Errorf("expected open ping endpoint, got %d %q", rec.Code, rec.Body.String())
	}
}

// TestHealthEndpoints verifies readiness and health responses on in-memory
// stores.
func TestHealthEndpoints(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)
	f.server.startTime = time.Now().Add(-time.Minute)

	rec := f.do(http.MethodGet, "/ready", nil, "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected ready without a database, got %d", rec.Code)
	}

	rec = f.do(http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from health, got %d", rec.Code)
	}

	var health HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if health.Status != "healthy" || health.ServiceName != "seriesd" {
		t.Errorf("unexpected health payload: %+v", health)
	}

	if health.Uptime == "" {
		t.Error("expected an uptime value after start")
	}
}

// TestNotFoundHandler verifies unknown paths yield RFC 7807 responses.
func TestNotFoundHandler(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	f := newTestFixture(t)

	rec := f.do(http.MethodGet, "/no/such/path", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != contentTypeProblemJSON {
		t.Errorf("expected problem+json, got %q", ct)
	}

	problem := decodeBody(t, rec)
	if problem["status"] != float64(http.StatusNotFound) {
		t.Errorf("expected status 404 in the problem body, got %v", problem["status"])
	}
}
