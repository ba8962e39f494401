package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seriesd-io/seriesd/internal/events"
	"github.com/seriesd-io/seriesd/internal/series"
	"github.com/seriesd-io/seriesd/internal/storage"
)

// blobStagingConcurrency bounds parallel blob writes per request.
const blobStagingConcurrency = 4

type (
	// Pipeline commits parsed ingestion items as datapoints.
	//
	// Atomicity lives here, not in the backend: all validation for a request
	// completes before any durable write begins, so a backend without
	// transaction support still honors "no write happens unless the whole
	// batch validated". Blob writes are content-addressed and idempotent,
	// which keeps them safely outside the rollback discussion (a retried
	// request overwrites rather than duplicates).
	Pipeline struct {
		blobs     storage.BlobStore
		backends  series.BackendFactory
		publisher events.Publisher
		logger    *slog.Logger
	}

	// DatapointRef identifies one created datapoint in a response: the
	// caller-assigned external id plus the backend's opaque stored handle.
	DatapointRef struct {
		ExternalID string `json:"external_id"`
		Ref        string `json:"ref"`
	}
)

// NewPipeline creates an ingestion pipeline over the given blob store,
// backend factory and event publisher.
func NewPipeline(
	blobs storage.BlobStore,
	backends series.BackendFactory,
	publisher events.Publisher,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		blobs:     blobs,
		backends:  backends,
		publisher: publisher,
		logger:    logger,
	}
}

// Ingest validates and commits all items for one request as a single atomic
// unit.
//
// Returns a *ValidationError naming the offending item and field if any item
// fails validation; in that case zero datapoints were written. On success the
// returned references are in input order, one per item.
func (p *Pipeline) Ingest(
	ctx context.Context,
	ds *series.DataSeries,
	items []*Item,
) ([]DatapointRef, error) {
	backend, err := p.backends.Backend(ds.Backend)
	if err != nil {
		return nil, err
	}

	// Stage 1: validate everything before any durable write.
	for _, item := range items {
		if err := validateItem(ds, item); err != nil {
			return nil, err
		}
	}

	// Stage 2: stage file payloads in the blob store.
	blobRefs, err := p.stageBlobs(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("%w: blob staging: %w", series.ErrBackend, err)
	}

	// Stage 3: commit rows through the backend strategy.
	refs := make([]DatapointRef, 0, len(items))

	for _, item := range items {
		handle, err := backend.WriteDatapoint(ctx, ds, assembleValues(item, blobRefs))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", series.ErrBackend, err)
		}

		refs = append(refs, DatapointRef{ExternalID: item.ExternalID, Ref: handle})
	}

	p.publishCreated(ctx, ds, refs)

	return refs, nil
}

// validateItem checks one item against the series' field registry.
func validateItem(ds *series.DataSeries, item *Item) error {
	if item.ExternalID == "" {
		return &ValidationError{
			Discriminator: item.Discriminator,
			Field:         externalIDKey,
			Err:           series.ErrMissingRequiredField,
		}
	}

	for field, value := range item.Payload {
		def, err := ds.Field(field)
		if err != nil {
			return &ValidationError{
				Discriminator: item.Discriminator,
				Field:         field,
				Err:           series.ErrUnknownField,
			}
		}

		switch def.Kind {
		case series.FieldFile:
			if !value.IsFile() {
				return &ValidationError{
					Discriminator: item.Discriminator,
					Field:         field,
					Err:           series.ErrTypeMismatch,
				}
			}

			if int64(len(value.File.Data)) > def.InlineSizeLimit() {
				return &ValidationError{
					Discriminator: item.Discriminator,
					Field:         field,
					Err:           series.ErrPayloadTooLarge,
				}
			}

		case series.FieldScalar:
			if value.IsFile() {
				return &ValidationError{
					Discriminator: item.Discriminator,
					Field:         field,
					Err:           series.ErrTypeMismatch,
				}
			}
		}
	}

	for _, def := range ds.RequiredFields() {
		if _, supplied := item.Payload[def.ExternalID]; !supplied {
			return &ValidationError{
				Discriminator: item.Discriminator,
				Field:         def.ExternalID,
				Err:           series.ErrMissingRequiredField,
			}
		}
	}

	return nil
}

// stagedBlob addresses one staged payload by item discriminator and field.
type stagedBlob struct {
	discriminator string
	field         string
}

// stageBlobs writes every file payload to the content-addressed blob store,
// concurrently across items. Runs only after the whole request validated.
func (p *Pipeline) stageBlobs(
	ctx context.Context,
	items []*Item,
) (map[stagedBlob]storage.BlobRef, error) {
	refs := make(map[stagedBlob]storage.BlobRef)

	var mutex sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobStagingConcurrency)

	for _, item := range items {
		for field, value := range item.Payload {
			if !value.IsFile() {
				continue
			}

			addr := stagedBlob{discriminator: item.Discriminator, field: field}
			file := value.File

			g.Go(func() error {
				ref, err := p.blobs.Put(
					gctx,
					storage.BlobKey(file.Data),
					file.Data,
					file.Filename,
					file.ContentType,
				)
				if err != nil {
					return err
				}

				mutex.Lock()
				refs[addr] = ref
				mutex.Unlock()

				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return refs, nil
}

// assembleValues builds the final value mapping for one item: scalar text
// values stay inline, file values become their stored blob references.
func assembleValues(item *Item, blobRefs map[stagedBlob]storage.BlobRef) map[string]any {
	payload := make(map[string]any, len(item.Payload))

	for field, value := range item.Payload {
		if value.IsFile() {
			payload[field] = blobRefs[stagedBlob{discriminator: item.Discriminator, field: field}]

			continue
		}

		payload[field] = value.Text
	}

	return map[string]any{
		"external_id": item.ExternalID,
		"payload":     payload,
	}
}

// publishCreated emits datapoint.created events. Failures are logged, never
// surfaced: events are advisory and must not fail a committed request.
func (p *Pipeline) publishCreated(ctx context.Context, ds *series.DataSeries, refs []DatapointRef) {
	evts := make([]events.Event, len(refs))

	now := time.Now().UTC()
	for i, ref := range refs {
		evts[i] = events.Event{
			Type:      events.TypeDatapointCreated,
			Series:    ds.ExternalID,
			Datapoint: ref.ExternalID,
			Ref:       ref.Ref,
			At:        now,
		}
	}

	if err := p.publisher.Publish(ctx, evts...); err != nil {
		p.logger.Error("Failed to publish datapoint events",
			slog.String("series", ds.ExternalID),
			slog.Int("count", len(refs)),
			slog.String("error", err.Error()),
		)
	}
}
