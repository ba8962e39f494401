// Package series provides the data-series metamodel: series definitions,
// typed field (fact) definitions, and the registry that manages them.
package series

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Default policy boundary for inline file payloads (32 MiB).
const DefaultMaxInlineSize int64 = 32 << 20

// BackendKind identifies a storage backend implementation. The kind is chosen
// at series creation and is immutable afterwards: storage layout is
// backend-specific and this subsystem does not migrate data between backends.
type BackendKind string

const (
	// BackendDynamicSQLNoHistory stores datapoints in one dynamically created
	// SQL table per series, append-only. A second write for the same logical
	// entity inserts a new row; there is no update-in-place versioning.
	BackendDynamicSQLNoHistory BackendKind = "DYNAMIC_SQL_NO_HISTORY"

	// BackendMemoryNoHistory keeps datapoints in process memory with the same
	// append-only semantics. Intended for tests and local development.
	BackendMemoryNoHistory BackendKind = "MEMORY_NO_HISTORY"
)

// ErrUnknownBackend is returned when a series is created with a backend kind
// that no registered backend implements.
var ErrUnknownBackend = errors.New("unknown storage backend")

// ParseBackendKind validates a caller-supplied backend name.
func ParseBackendKind(s string) (BackendKind, error) {
	switch BackendKind(s) {
	case BackendDynamicSQLNoHistory:
		return BackendDynamicSQLNoHistory, nil
	case BackendMemoryNoHistory:
		return BackendMemoryNoHistory, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: %s, %s)",
			ErrUnknownBackend, s, BackendDynamicSQLNoHistory, BackendMemoryNoHistory)
	}
}

// FieldKind distinguishes scalar facts from file-valued facts.
type FieldKind string

const (
	// FieldScalar holds a plain text value supplied as a regular form part.
	FieldScalar FieldKind = "SCALAR"

	// FieldFile holds binary content supplied as a file part. The stored value
	// is a blob reference, never the raw bytes.
	FieldFile FieldKind = "FILE"
)

// FieldDefinition is one typed column of a data series. External ids are
// unique within the owning series and are the only caller-facing handle.
type FieldDefinition struct {
	ID         uuid.UUID
	ExternalID string
	Name       string
	Kind       FieldKind
	Optional   bool

	// MaxInlineSize bounds how large an embedded file payload may be before
	// ingestion rejects it. Only meaningful for FieldFile; zero means the
	// process-wide default applies.
	MaxInlineSize int64
}

// InlineSizeLimit returns the effective payload size limit for this field.
func (f *FieldDefinition) InlineSizeLimit() int64 {
	if f.MaxInlineSize > 0 {
		return f.MaxInlineSize
	}

	return DefaultMaxInlineSize
}

// DataSeries is a named, typed schema definition bound to one storage
// backend. The internal ID is an opaque surrogate key that never appears in
// requests or responses; callers address a series only by ExternalID.
type DataSeries struct {
	ID         uuid.UUID
	ExternalID string
	Name       string
	Backend    BackendKind
	CreatedAt  time.Time

	// Fields is the series' field registry in creation order.
	Fields []FieldDefinition
}

// Field looks up a field definition by its external id.
// Returns ErrUnknownField if the series has no such field.
func (ds *DataSeries) Field(externalID string) (*FieldDefinition, error) {
	for i := range ds.Fields {
		if ds.Fields[i].ExternalID == externalID {
			return &ds.Fields[i], nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownField, externalID)
}

// RequiredFields returns the non-optional field definitions of the series.
func (ds *DataSeries) RequiredFields() []FieldDefinition {
	required := make([]FieldDefinition, 0, len(ds.Fields))

	for _, f := range ds.Fields {
		if !f.Optional {
			required = append(required, f)
		}
	}

	return required
}
