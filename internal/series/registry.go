package series

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type (
	// MetaStore persists series and field definitions. Implementations must
	// enforce external-id uniqueness so that concurrent creates for the same
	// id yield exactly one success and one ErrConflict (the storage package
	// provides a PostgreSQL implementation backed by a unique index and an
	// in-memory implementation for tests).
	MetaStore interface {
		// CreateSeries stores a new series definition.
		// Returns ErrConflict if the external id is already taken.
		CreateSeries(ctx context.Context, ds *DataSeries) error

		// SeriesByExternalID loads a series with its field registry populated.
		// Returns ErrNotFound if the external id does not resolve.
		SeriesByExternalID(ctx context.Context, externalID string) (*DataSeries, error)

		// DeleteSeriesByExternalID removes a series definition and its fields.
		// Returns the removed series, or nil if the id was already absent.
		DeleteSeriesByExternalID(ctx context.Context, externalID string) (*DataSeries, error)

		// AddField appends a field definition to a series' registry.
		// Returns ErrDuplicateField if the field external id is reused within
		// the series.
		AddField(ctx context.Context, seriesID uuid.UUID, def *FieldDefinition) error
	}

	// Backend is the strategy interface every storage engine implements.
	// Backends are polymorphic over exactly this capability set; new engines
	// implement the interface and register with the factory, they are never
	// selected by branching on BackendKind inside the ingestion pipeline.
	Backend interface {
		// EnsureSchema materializes backend storage for a series.
		EnsureSchema(ctx context.Context, ds *DataSeries) error

		// WriteDatapoint appends one row and returns an opaque stored handle.
		WriteDatapoint(ctx context.Context, ds *DataSeries, values map[string]any) (string, error)

		// Exists reports whether backend storage exists for the series.
		Exists(ctx context.Context, seriesExternalID string) (bool, error)

		// Delete tears down backend storage for a series. Deleting storage
		// that is already gone is not an error.
		Delete(ctx context.Context, ds *DataSeries) error
	}

	// BackendFactory resolves a backend kind to its implementation.
	// Returns ErrUnknownBackend for kinds with no registered engine.
	BackendFactory interface {
		Backend(kind BackendKind) (Backend, error)
	}

	// Registry is the schema manager: it creates, resolves, extends and
	// deletes data-series definitions, keeping the metadata store and the
	// selected storage backend in step.
	Registry struct {
		store    MetaStore
		backends BackendFactory
	}
)

// NewRegistry creates a schema manager over the given metadata store and
// backend factory.
func NewRegistry(store MetaStore, backends BackendFactory) *Registry {
	return &Registry{
		store:    store,
		backends: backends,
	}
}

// CreateSeries defines a new data series bound to the given backend kind and
// materializes its backend storage.
//
// Returns ErrConflict if the external id is already taken and
// ErrUnknownBackend for an unrecognized backend name. If schema
// materialization fails the metadata entry is rolled back so a failed create
// leaves no trace.
func (r *Registry) CreateSeries(ctx context.Context, externalID, name string, kind BackendKind) (*DataSeries, error) {
	backend, err := r.backends.Backend(kind)
	if err != nil {
		return nil, err
	}

	ds := &DataSeries{
		ID:         uuid.New(),
		ExternalID: externalID,
		Name:       name,
		Backend:    kind,
		CreatedAt:  time.Now().UTC(),
		Fields:     []FieldDefinition{},
	}

	if err := r.store.CreateSeries(ctx, ds); err != nil {
		return nil, err
	}

	if err := backend.EnsureSchema(ctx, ds); err != nil {
		// Roll back the metadata entry; a half-created series must not be
		// resolvable by external id.
		_, _ = r.store.DeleteSeriesByExternalID(ctx, externalID)

		return nil, fmt.Errorf("%w: ensure schema for %q: %w", ErrBackend, externalID, err)
	}

	return ds, nil
}

// ByExternalID resolves a series by its caller-assigned external id.
func (r *Registry) ByExternalID(ctx context.Context, externalID string) (*DataSeries, error) {
	return r.store.SeriesByExternalID(ctx, externalID)
}

// DeleteByExternalID removes a series and its backend storage. The operation
// is an idempotent "ensure absent": deleting an id that does not resolve is
// success, not an error, so repeated deletes are tolerated at the protocol
// level.
func (r *Registry) DeleteByExternalID(ctx context.Context, externalID string) error {
	ds, err := r.store.DeleteSeriesByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	if ds == nil {
		// Already absent.
		return nil
	}

	backend, err := r.backends.Backend(ds.Backend)
	if err != nil {
		return err
	}

	if err := backend.Delete(ctx, ds); err != nil {
		return fmt.Errorf("%w: delete storage for %q: %w", ErrBackend, externalID, err)
	}

	return nil
}

// FieldSpec describes a field to add to a series. MaxInlineSize only applies
// to file-kind fields; zero defers to the process-wide default at ingestion
// time.
type FieldSpec struct {
	ExternalID    string
	Name          string
	Kind          FieldKind
	Optional      bool
	MaxInlineSize int64
}

// AddField extends a series' field registry with a new definition and
// returns the stored definition. Returns ErrDuplicateField when the field
// external id is reused within the series.
func (r *Registry) AddField(ctx context.Context, ds *DataSeries, spec FieldSpec) (*FieldDefinition, error) {
	def := &FieldDefinition{
		ID:            uuid.New(),
		ExternalID:    spec.ExternalID,
		Name:          spec.Name,
		Kind:          spec.Kind,
		Optional:      spec.Optional,
		MaxInlineSize: spec.MaxInlineSize,
	}

	if err := r.store.AddField(ctx, ds.ID, def); err != nil {
		return nil, err
	}

	ds.Fields = append(ds.Fields, *def)

	return def, nil
}
