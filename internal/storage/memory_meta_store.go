package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/seriesd-io/seriesd/internal/series"
)

// MemoryMetaStore provides thread-safe in-memory storage for series and
// field definitions. The mutex serializes structural operations per store,
// which gives the same create/delete guarantees the unique index gives the
// PostgreSQL implementation: one success, one conflict.
type MemoryMetaStore struct {
	// byExternalID maps series external ids to definitions
	byExternalID map[string]*series.DataSeries
	// mutex protects concurrent access to the map
	mutex sync.RWMutex
}

// Compile-time interface assertion.
var _ series.MetaStore = (*MemoryMetaStore)(nil)

// NewMemoryMetaStore creates a thread-safe in-memory metadata store.
func NewMemoryMetaStore() *MemoryMetaStore {
	return &MemoryMetaStore{
		byExternalID: make(map[string]*series.DataSeries),
	}
}

// CreateSeries stores a new series definition.
// Returns series.ErrConflict when the external id is already taken.
func (s *MemoryMetaStore) CreateSeries(_ context.Context, ds *series.DataSeries) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.byExternalID[ds.ExternalID]; exists {
		return fmt.Errorf("%w: %q", series.ErrConflict, ds.ExternalID)
	}

	s.byExternalID[ds.ExternalID] = copySeries(ds)

	return nil
}

// SeriesByExternalID loads a series with its fields.
// Returns series.ErrNotFound for unresolvable ids.
func (s *MemoryMetaStore) SeriesByExternalID(
	_ context.Context,
	externalID string,
) (*series.DataSeries, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ds, exists := s.byExternalID[externalID]
	if !exists {
		return nil, fmt.Errorf("%w: %q", series.ErrNotFound, externalID)
	}

	return copySeries(ds), nil
}

// DeleteSeriesByExternalID removes a series definition.
// Returns the removed series, or nil when the id was already absent.
func (s *MemoryMetaStore) DeleteSeriesByExternalID(
	_ context.Context,
	externalID string,
) (*series.DataSeries, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	ds, exists := s.byExternalID[externalID]
	if !exists {
		return nil, nil
	}

	delete(s.byExternalID, externalID)

	return copySeries(ds), nil
}

// AddField appends a field definition to a series' registry.
// Returns series.ErrDuplicateField when the field external id is reused.
func (s *MemoryMetaStore) AddField(
	_ context.Context,
	seriesID uuid.UUID,
	def *series.FieldDefinition,
) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, ds := range s.byExternalID {
		if ds.ID != seriesID {
			continue
		}

		for _, f := range ds.Fields {
			if f.ExternalID == def.ExternalID {
				return fmt.Errorf("%w: %q", series.ErrDuplicateField, def.ExternalID)
			}
		}

		ds.Fields = append(ds.Fields, *def)

		return nil
	}

	return fmt.Errorf("%w: series id %s", series.ErrNotFound, seriesID)
}

// copySeries returns a deep copy to prevent external modification.
func copySeries(ds *series.DataSeries) *series.DataSeries {
	dup := *ds
	dup.Fields = make([]series.FieldDefinition, len(ds.Fields))
	copy(dup.Fields, ds.Fields)

	return &dup
}
