// Package ingest turns inbound multipart ingestion requests into committed
// datapoints: it parses the flat key grammar into typed items, validates
// every item against the target series' field registry, stages file payloads
// in the blob store and commits rows through the storage backend.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"github.com/seriesd-io/seriesd/internal/series"
)

// Mode selects the key grammar accepted by the parser.
type Mode int

const (
	// ModeSingle accepts flat keys (external_id, payload.<field>) and yields
	// exactly one item.
	ModeSingle Mode = iota

	// ModeBatch requires every key to carry a batch-<discriminator>. prefix
	// and yields one item per discriminator.
	ModeBatch
)

const (
	batchPrefix   = "batch-"
	payloadPrefix = "payload."
	externalIDKey = "external_id"
)

// ErrMalformedKey is returned when a form key does not follow the grammar of
// the selected mode (missing batch prefix in batch mode, empty field name,
// duplicate key within an item).
var ErrMalformedKey = errors.New("malformed form key")

type (
	// FilePart holds one uploaded payload with its content metadata.
	FilePart struct {
		Filename    string
		ContentType string
		Data        []byte
	}

	// Value is one supplied field value: either text or a file stream, never
	// both.
	Value struct {
		Text string
		File *FilePart
	}

	// Item is one parsed datapoint candidate: the typed intermediate tree the
	// flat key grammar encodes (discriminator, field name, value-or-stream).
	Item struct {
		// Discriminator is the grouping token exactly as it appeared in the
		// request ("batch-2"), or empty in single mode. Error reporting uses
		// it to identify the offending item.
		Discriminator string

		// ExternalID is the caller-assigned id of the datapoint (direct
		// field, not part of the payload).
		ExternalID string

		// Payload maps field external ids to supplied values.
		Payload map[string]Value
	}
)

// IsFile reports whether the value is a file stream.
func (v Value) IsFile() bool {
	return v.File != nil
}

// ParseMultipart reads all parts of a multipart ingestion request and groups
// them into items.
//
// Items are ordered by the first appearance of their discriminator in the
// request body. The textual value of the discriminator carries no ordering
// meaning: "batch-10" before "batch-2" yields the batch-10 item first. This
// is deliberate - discriminators are opaque grouping tokens, not sequence
// numbers.
//
// maxPartSize bounds how many bytes a single part may supply; the
// per-field inline-size policy is enforced later during validation, this
// limit only protects the parser itself.
func ParseMultipart(reader *multipart.Reader, mode Mode, maxPartSize int64) ([]*Item, error) {
	items := []*Item{}
	byDiscriminator := make(map[string]*Item)

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}

		value, err := readPart(part, maxPartSize)
		if err != nil {
			return nil, err
		}

		key := part.FormName()

		discriminator, rest, err := splitDiscriminator(key, mode)
		if err != nil {
			return nil, err
		}

		item, exists := byDiscriminator[discriminator]
		if !exists {
			item = &Item{
				Discriminator: discriminator,
				Payload:       make(map[string]Value),
			}
			byDiscriminator[discriminator] = item
			items = append(items, item)
		}

		if err := assignKey(item, rest, value); err != nil {
			return nil, err
		}
	}

	return items, nil
}

// readPart drains one part into a Value, distinguishing file parts from text
// parts by the presence of a filename.
func readPart(part *multipart.Part, maxPartSize int64) (Value, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxPartSize+1))
	if err != nil {
		return Value{}, fmt.Errorf("failed to read part %q: %w", part.FormName(), err)
	}

	if int64(len(data)) > maxPartSize {
		return Value{}, fmt.Errorf("part %q exceeds %d bytes", part.FormName(), maxPartSize)
	}

	if part.FileName() != "" {
		return Value{File: &FilePart{
			Filename:    part.FileName(),
			ContentType: part.Header.Get("Content-Type"),
			Data:        data,
		}}, nil
	}

	return Value{Text: string(data)}, nil
}

// splitDiscriminator extracts the item grouping token from a form key.
//
// Batch mode: "batch-2.payload.my_file" -> ("batch-2", "payload.my_file").
// Single mode: the whole request is one implicit item with an empty token.
func splitDiscriminator(key string, mode Mode) (string, string, error) {
	if mode == ModeSingle {
		return "", key, nil
	}

	if !strings.HasPrefix(key, batchPrefix) {
		return "", "", fmt.Errorf("%w: %q is missing the %q prefix", ErrMalformedKey, key, batchPrefix)
	}

	dot := strings.Index(key, ".")
	if dot <= len(batchPrefix) {
		return "", "", fmt.Errorf("%w: %q has no key after the discriminator", ErrMalformedKey, key)
	}

	return key[:dot], key[dot+1:], nil
}

// assignKey routes one key/value pair into the item: a bare key is a direct
// field, a payload.<field> key supplies the value for <field>.
func assignKey(item *Item, key string, value Value) error {
	switch {
	case key == externalIDKey:
		if value.IsFile() {
			return &ValidationError{
				Discriminator: item.Discriminator,
				Field:         externalIDKey,
				Err:           series.ErrTypeMismatch,
			}
		}

		if item.ExternalID != "" {
			return fmt.Errorf("%w: duplicate %q", ErrMalformedKey, qualifiedKey(item, key))
		}

		item.ExternalID = value.Text

		return nil

	case strings.HasPrefix(key, payloadPrefix):
		field := key[len(payloadPrefix):]
		if field == "" {
			return fmt.Errorf("%w: %q has an empty field name", ErrMalformedKey, qualifiedKey(item, key))
		}

		if _, exists := item.Payload[field]; exists {
			return fmt.Errorf("%w: duplicate %q", ErrMalformedKey, qualifiedKey(item, key))
		}

		item.Payload[field] = value

		return nil

	default:
		return &ValidationError{
			Discriminator: item.Discriminator,
			Field:         key,
			Err:           series.ErrUnknownField,
		}
	}
}

// qualifiedKey re-renders a key with its discriminator prefix for error
// messages.
func qualifiedKey(item *Item, key string) string {
	if item.Discriminator == "" {
		return key
	}

	return item.Discriminator + "." + key
}
