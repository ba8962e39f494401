package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/seriesd-io/seriesd/internal/config"
)

const (
	defaultTopic        = "seriesd.events"
	defaultBatchTimeout = 100 * time.Millisecond
)

// KafkaConfig holds event publisher configuration.
type KafkaConfig struct {
	// Brokers is the Kafka bootstrap broker list. Empty disables publishing.
	Brokers []string
	Topic   string
}

// LoadKafkaConfig loads publisher configuration from environment variables.
func LoadKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr("SERIESD_KAFKA_BROKERS", "")),
		Topic:   config.GetEnvStr("SERIESD_KAFKA_TOPIC", defaultTopic),
	}
}

// Enabled reports whether brokers are configured.
func (c *KafkaConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// KafkaPublisher delivers lifecycle events to a Kafka topic. Messages are
// keyed by series external id so all events of one series land in one
// partition, in order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// Compile-time interface assertion.
var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for the configured brokers and topic.
func NewKafkaPublisher(cfg *KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: defaultBatchTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// Publish delivers the events as JSON messages.
func (p *KafkaPublisher) Publish(ctx context.Context, evts ...Event) error {
	if len(evts) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(evts))

	for i, evt := range evts {
		value, err := json.Marshal(evt)
		if err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}

		messages[i] = kafka.Message{
			Key:   []byte(evt.Series),
			Value: value,
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
