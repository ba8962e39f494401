package series

import "errors"

// Sentinel errors for schema manager and ingestion validation failures.
// These can be used with errors.Is() across package boundaries; the HTTP
// layer maps them onto problem responses.
var (
	// ErrConflict is returned when a series external id is already taken.
	ErrConflict = errors.New("external id already exists")

	// ErrNotFound is returned when an external id does not resolve to a series.
	ErrNotFound = errors.New("data series not found")

	// ErrDuplicateField is returned when a field external id is reused within
	// the same series.
	ErrDuplicateField = errors.New("field external id already exists in series")

	// ErrUnknownField is returned when an ingestion item supplies a payload
	// key that matches no field of the target series.
	ErrUnknownField = errors.New("unknown field")

	// ErrMissingRequiredField is returned when a non-optional field has no
	// value in an ingestion item.
	ErrMissingRequiredField = errors.New("missing required field")

	// ErrTypeMismatch is returned when a file field receives a text part or a
	// scalar field receives a file part.
	ErrTypeMismatch = errors.New("value type does not match field kind")

	// ErrPayloadTooLarge is returned when an inline file payload exceeds the
	// field's inline-size policy.
	ErrPayloadTooLarge = errors.New("inline payload too large")

	// ErrBackend wraps storage engine failures. Backend errors are always
	// surfaced and never retried at this layer.
	ErrBackend = errors.New("storage backend failure")
)
