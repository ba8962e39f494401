package storage

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/seriesd-io/seriesd/internal/series"
)

// MemoryBackend implements the no-history storage strategy in process
// memory. Semantics mirror SQLBackend: append-only, no uniqueness constraint
// across datapoints. Intended for tests and local development.
type MemoryBackend struct {
	// rows maps series external id to its datapoints in insertion order
	rows map[string][]MemoryRow
	// mutex protects concurrent access to rows
	mutex sync.RWMutex
}

// MemoryRow is one stored datapoint in the in-memory backend.
type MemoryRow struct {
	Handle     string
	ExternalID string
	Values     map[string]any
}

// Compile-time interface assertion.
var _ series.Backend = (*MemoryBackend)(nil)

// NewMemoryBackend creates a thread-safe in-memory no-history backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		rows: make(map[string][]MemoryRow),
	}
}

// EnsureSchema materializes the series' row bucket.
func (b *MemoryBackend) EnsureSchema(_ context.Context, ds *series.DataSeries) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if _, exists := b.rows[ds.ExternalID]; !exists {
		b.rows[ds.ExternalID] = []MemoryRow{}
	}

	return nil
}

// WriteDatapoint appends one row and returns its opaque handle.
func (b *MemoryBackend) WriteDatapoint(
	_ context.Context,
	ds *series.DataSeries,
	values map[string]any,
) (string, error) {
	externalID, _ := values["external_id"].(string)

	// Copy to prevent external modification after the write
	stored := make(map[string]any, len(values))
	for k, v := range values {
		stored[k] = v
	}

	row := MemoryRow{
		Handle:     uuid.New().String(),
		ExternalID: externalID,
		Values:     stored,
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.rows[ds.ExternalID] = append(b.rows[ds.ExternalID], row)

	return row.Handle, nil
}

// Exists reports whether storage was materialized for the series.
func (b *MemoryBackend) Exists(_ context.Context, seriesExternalID string) (bool, error) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	_, exists := b.rows[seriesExternalID]

	return exists, nil
}

// Delete removes the series' rows. Absent storage is not an error.
func (b *MemoryBackend) Delete(_ context.Context, ds *series.DataSeries) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	delete(b.rows, ds.ExternalID)

	return nil
}

// Rows returns a copy of the stored datapoints for a series, in insertion
// order. Test helper.
func (b *MemoryBackend) Rows(seriesExternalID string) []MemoryRow {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	rows := b.rows[seriesExternalID]
	out := make([]MemoryRow, len(rows))
	copy(out, rows)

	return out
}
