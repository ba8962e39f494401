// Package events publishes data-series lifecycle events to downstream
// consumers. Events are advisory: publication failures are reported to the
// caller for logging but never fail the originating request.
package events

import (
	"context"
	"sync"
	"time"
)

// Event types emitted by the service.
const (
	TypeSeriesCreated    = "series.created"
	TypeSeriesDeleted    = "series.deleted"
	TypeDatapointCreated = "datapoint.created"
)

// Event is one lifecycle notification. Series and Datapoint carry external
// identifiers only; internal ids never leave the process.
type Event struct {
	Type      string    `json:"type"`
	Series    string    `json:"series"`
	Datapoint string    `json:"datapoint,omitempty"`
	Ref       string    `json:"ref,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers lifecycle events.
//
// Implementations: KafkaPublisher for production, NopPublisher when event
// delivery is not configured, RecordingPublisher for tests.
type Publisher interface {
	// Publish delivers one or more events.
	Publish(ctx context.Context, evts ...Event) error

	// Close releases any resources held by the publisher.
	Close() error
}

// NopPublisher discards all events.
type NopPublisher struct{}

// Compile-time interface assertion.
var _ Publisher = (*NopPublisher)(nil)

// Publish discards the events.
func (NopPublisher) Publish(_ context.Context, _ ...Event) error { return nil }

// Close is a no-op.
func (NopPublisher) Close() error { return nil }

// RecordingPublisher captures published events in memory. Test helper.
type RecordingPublisher struct {
	mutex  sync.Mutex
	events []Event
}

// Compile-time interface assertion.
var _ Publisher = (*RecordingPublisher)(nil)

// NewRecordingPublisher creates an empty recording publisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

// Publish records the events.
func (p *RecordingPublisher) Publish(_ context.Context, evts ...Event) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.events = append(p.events, evts...)

	return nil
}

// Events returns a copy of the recorded events in publication order.
func (p *RecordingPublisher) Events() []Event {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	out := make([]Event, len(p.events))
	copy(out, p.events)

	return out
}

// Close is a no-op.
func (p *RecordingPublisher) Close() error { return nil }
