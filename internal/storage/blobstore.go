package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrBlobNotFound is returned when a requested blob does not exist.
var ErrBlobNotFound = errors.New("blob not found")

// BlobRef is the stored value of a file fact: an opaque content-addressed
// handle plus content metadata, never the raw bytes.
type BlobRef struct {
	Key         string `json:"key"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
}

// BlobStore abstracts durable storage for file-fact payloads.
//
// Keys are content addresses (see BlobKey), which makes Put idempotent: a
// retried ingestion request overwrites a blob with identical bytes instead of
// duplicating storage. This is also what keeps batch atomicity sound without
// rollback support - blobs staged for a batch that later fails validation at
// commit are either never referenced or harmlessly re-written by a retry.
type BlobStore interface {
	// Put writes data under the given key with content metadata.
	Put(ctx context.Context, key string, data []byte, filename, contentType string) (BlobRef, error)

	// Get retrieves the bytes for the given key.
	// Returns ErrBlobNotFound if the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists checks whether a blob exists for the given key.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases resources held by the store.
	Close() error
}

// BlobKey computes the content address for a payload: the hex SHA-256 of its
// bytes.
func BlobKey(data []byte) string {
	sum := sha256.Sum256(data)

	return hex.EncodeToString(sum[:])
}
