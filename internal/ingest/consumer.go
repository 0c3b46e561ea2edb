package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
)

var errMalformedPayload = errors.New("malformed event payload")

// ConsumerConfig configures the Kafka event consumer.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Events  chan<- *models.LogEvent
}

// Consumer pulls LogEvent records from a Kafka topic and feeds them to
// the ingest queue. Delivery from the broker is at-least-once; the
// engine tolerates modest reordering within one bucket width.
type Consumer struct {
	reader *kafka.Reader
	events chan<- *models.LogEvent

	consumed atomic.Uint64
	rejected atomic.Uint64
}

// NewConsumer creates a Kafka consumer in the given consumer group.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group ID is required")
	}

	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10 * 1024 * 1024,
			CommitInterval: time.Second,
		}),
		events: cfg.Events,
	}, nil
}

// Run consumes until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	log := logger.WithComponent("kafka_consumer")
	log.Info().Msg("consumer started")

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Info().Msg("consumer stopped")
				return nil
			}
			log.Error().Err(err).Msg("read message failed")
			return err
		}

		event, err := c.decode(msg.Value)
		if err != nil {
			// Malformed events are dropped and logged, never fatal.
			c.rejected.Add(1)
			metrics.IngestEventsTotal.WithLabelValues("kafka", "rejected").Inc()
			metrics.IngestValidationErrors.WithLabelValues(err.Error()).Inc()
			log.Warn().
				Err(err).
				Int64("offset", msg.Offset).
				Msg("event rejected")
			continue
		}

		select {
		case c.events <- event:
			c.consumed.Add(1)
			metrics.IngestEventsTotal.WithLabelValues("kafka", "accepted").Inc()
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) decode(data []byte) (*models.LogEvent, error) {
	var event models.LogEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errMalformedPayload
	}
	event.Normalize()
	if err := event.Validate(); err != nil {
		return nil, err
	}
	return &event, nil
}

// Stats returns consumer counters.
func (c *Consumer) Stats() (consumed, rejected uint64) {
	return c.consumed.Load(), c.rejected.Load()
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
