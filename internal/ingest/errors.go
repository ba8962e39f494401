package ingest

import "fmt"

// ValidationError reports one rejected ingestion item with enough detail to
// identify the offending item discriminator and field. Validation errors are
// always detected before any durable write, so a request that produces one
// never partially commits.
//
// Unwrap exposes the underlying sentinel (series.ErrUnknownField,
// series.ErrMissingRequiredField, series.ErrTypeMismatch,
// series.ErrPayloadTooLarge) for errors.Is checks at the HTTP boundary.
type ValidationError struct {
	// Discriminator is the item's grouping token ("batch-2"), empty for
	// single-mode requests.
	Discriminator string

	// Field is the external id of the offending field.
	Field string

	Err error
}

// Error renders the item discriminator and field name alongside the cause.
func (e *ValidationError) Error() string {
	if e.Discriminator == "" {
		return fmt.Sprintf("field %q: %v", e.Field, e.Err)
	}

	return fmt.Sprintf("item %q, field %q: %v", e.Discriminator, e.Field, e.Err)
}

// Unwrap returns the underlying sentinel error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}
