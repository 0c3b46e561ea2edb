package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"sentinel/internal/logger"
	"sentinel/internal/metrics"
	"sentinel/internal/models"
)

// Kafka sink errors
var (
	ErrSinkClosed      = errors.New("history sink is closed")
	ErrSerializeFailed = errors.New("failed to serialize history record")
)

// record is the wire envelope written to the history topic.
type record struct {
	Kind    string                  `json:"kind"` // firing or attempt
	Firing  *models.AlertFiring     `json:"firing,omitempty"`
	Attempt *models.DeliveryAttempt `json:"attempt,omitempty"`
}

// KafkaSinkConfig configures the Kafka history sink.
type KafkaSinkConfig struct {
	Brokers      []string
	Topic        string
	MaxRetries   int
	RetryBackoff time.Duration
	WriteTimeout time.Duration
}

// KafkaSink publishes history records to a Kafka topic, partitioned by
// rule id so a rule's firings and attempts stay ordered.
type KafkaSink struct {
	cfg    KafkaSinkConfig
	writer *kafka.Writer
	closed atomic.Bool

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewKafkaSink creates a Kafka-backed history sink.
func NewKafkaSink(cfg KafkaSinkConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 100 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	return &KafkaSink{
		cfg: cfg,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.Hash{}, // partition by rule id
			WriteTimeout: cfg.WriteTimeout,
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
	}, nil
}

// RecordFiring publishes an AlertFiring record.
func (s *KafkaSink) RecordFiring(ctx context.Context, firing *models.AlertFiring) error {
	err := s.publish(ctx, firing.RuleID, record{Kind: "firing", Firing: firing})
	s.observe("firing", err)
	return err
}

// RecordAttempt publishes a DeliveryAttempt record.
func (s *KafkaSink) RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error {
	err := s.publish(ctx, attempt.RuleID, record{Kind: "attempt", Attempt: attempt})
	s.observe("attempt", err)
	return err
}

func (s *KafkaSink) observe(kind string, err error) {
	if err != nil {
		s.failed.Add(1)
		metrics.HistoryWritesTotal.WithLabelValues(kind, "failed").Inc()
		return
	}
	s.written.Add(1)
	metrics.HistoryWritesTotal.WithLabelValues(kind, "success").Inc()
}

func (s *KafkaSink) publish(ctx context.Context, key string, rec record) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: data,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
		},
		Time: time.Now(),
	}

	return s.publishWithRetry(ctx, msg)
}

// publishWithRetry writes a message with exponential backoff retry.
func (s *KafkaSink) publishWithRetry(ctx context.Context, msg kafka.Message) error {
	log := logger.WithComponent("history_sink")
	var lastErr error
	backoff := s.cfg.RetryBackoff

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("retrying history publish")

			metrics.HistoryWriteRetries.Inc()

			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}

		lastErr = err
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Msg("history publish attempt failed")

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}

	log.Error().
		Err(lastErr).
		Int("max_retries", s.cfg.MaxRetries+1).
		Msg("history publish failed after all retries")

	return fmt.Errorf("failed after %d attempts: %w", s.cfg.MaxRetries+1, lastErr)
}

// Stats returns sink write counters.
func (s *KafkaSink) Stats() (written, failed uint64) {
	return s.written.Load(), s.failed.Load()
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.writer.Close()
}
