package storage

import (
	"github.com/seriesd-io/seriesd/internal/series"
)

// Factory resolves backend kinds to registered engine implementations.
// It implements series.BackendFactory.
type Factory struct {
	backends map[series.BackendKind]series.Backend
}

// Compile-time interface assertion.
var _ series.BackendFactory = (*Factory)(nil)

// NewFactory creates an empty backend factory.
func NewFactory() *Factory {
	return &Factory{
		backends: make(map[series.BackendKind]series.Backend),
	}
}

// Register adds an engine for a backend kind. A later registration for the
// same kind replaces the earlier one.
func (f *Factory) Register(kind series.BackendKind, backend series.Backend) {
	f.backends[kind] = backend
}

// Backend resolves a backend kind.
// Returns series.ErrUnknownBackend for unregistered kinds.
func (f *Factory) Backend(kind series.BackendKind) (series.Backend, error) {
	backend, ok := f.backends[kind]
	if !ok {
		return nil, series.ErrUnknownBackend
	}

	return backend, nil
}
