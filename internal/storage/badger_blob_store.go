package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/klauspost/compress/zstd"
)

// Key prefixes separating payload bytes from their metadata records.
const (
	blobDataPrefix = "b:"
	blobMetaPrefix = "m:"
)

// BadgerBlobStore persists file-fact payloads in an embedded BadgerDB,
// transparently compressed with zstd. Payloads are content-addressed, so
// writes are idempotent and duplicate uploads share storage.
type BadgerBlobStore struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// Compile-time interface assertion.
var _ BlobStore = (*BadgerBlobStore)(nil)

// NewBadgerBlobStore opens (or creates) a Badger-backed blob store at path.
func NewBadgerBlobStore(path string) (*BadgerBlobStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Badger's own logging is too chatty for a blob store

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob store at %s: %w", path, err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &BadgerBlobStore{
		db:      db,
		encoder: encoder,
		decoder: decoder,
	}, nil
}

// Put writes a payload and its metadata in one transaction. Writing a key
// that already exists replaces it with identical content (content-addressed
// keys), so retries never duplicate storage.
func (s *BadgerBlobStore) Put(
	ctx context.Context,
	key string,
	data []byte,
	filename, contentType string,
) (BlobRef, error) {
	if err := ctx.Err(); err != nil {
		return BlobRef{}, err
	}

	ref := BlobRef{
		Key:         key,
		Filename:    filename,
		ContentType: contentType,
		Size:        int64(len(data)),
	}

	meta, err := json.Marshal(ref)
	if err != nil {
		return BlobRef{}, fmt.Errorf("failed to encode blob metadata: %w", err)
	}

	compressed := s.encoder.EncodeAll(data, nil)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(blobDataPrefix+key), compressed); err != nil {
			return err
		}

		return txn.Set([]byte(blobMetaPrefix+key), meta)
	})
	if err != nil {
		return BlobRef{}, fmt.Errorf("failed to store blob %s: %w", key, err)
	}

	return ref, nil
}

// Get retrieves and decompresses the payload for a key.
// Returns ErrBlobNotFound if the key does not exist.
func (s *BadgerBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var compressed []byte

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(blobDataPrefix + key))
		if err != nil {
			return err
		}

		compressed, err = item.ValueCopy(nil)

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}

		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}

	data, err := s.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress blob %s: %w", key, err)
	}

	return data, nil
}

// Exists checks whether a blob exists for the key.
func (s *BadgerBlobStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(blobDataPrefix + key))

		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}

		return false, fmt.Errorf("failed to check blob %s: %w", key, err)
	}

	return true, nil
}

// Close releases the database and compression resources.
func (s *BadgerBlobStore) Close() error {
	s.encoder.Close()
	s.decoder.Close()

	return s.db.Close()
}
