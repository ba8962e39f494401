package storage

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBlobStore provides thread-safe in-memory blob storage for tests and
// local development.
type MemoryBlobStore struct {
	// blobs maps content-address keys to payload bytes
	blobs map[string][]byte
	// refs maps content-address keys to blob metadata
	refs map[string]BlobRef
	// mutex protects concurrent access to both maps
	mutex sync.RWMutex
}

// Compile-time interface assertion.
var _ BlobStore = (*MemoryBlobStore)(nil)

// NewMemoryBlobStore creates a thread-safe in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[string][]byte),
		refs:  make(map[string]BlobRef),
	}
}

// Put stores a payload. Overwriting a content-addressed key is idempotent.
func (s *MemoryBlobStore) Put(
	_ context.Context,
	key string,
	data []byte,
	filename, contentType string,
) (BlobRef, error) {
	ref := BlobRef{
		Key:         key,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
	}

	// Copy to prevent external modification after the write
	stored := make([]byte, len(data))
	copy(stored, data)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.blobs[key] = stored
	s.refs[key] = ref

	return ref, nil
}

// Get retrieves the bytes for a key.
// Returns ErrBlobNotFound if the key does not exist.
func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, exists := s.blobs[key]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// Exists checks whether a blob exists for the key.
func (s *MemoryBlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, exists := s.blobs[key]

	return exists, nil
}

// Len returns the number of stored blobs. Test helper.
func (s *MemoryBlobStore) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return len(s.blobs)
}

// Close is a no-op for the in-memory store.
func (s *MemoryBlobStore) Close() error {
	return nil
}
