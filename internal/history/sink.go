package history

import (
	"context"
	"sync"

	"sentinel/internal/models"
)

// Sink is the durable record of firings and delivery attempts. The
// engine only writes; reporting reads the sink out of band.
type Sink interface {
	RecordFiring(ctx context.Context, firing *models.AlertFiring) error
	RecordAttempt(ctx context.Context, attempt *models.DeliveryAttempt) error
	Close() error
}

// MemorySink keeps records in memory. Used in tests and single-node
// deployments without Kafka.
type MemorySink struct {
	mu       sync.Mutex
	firings  []*models.AlertFiring
	attempts []*models.DeliveryAttempt
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) RecordFiring(_ context.Context, firing *models.AlertFiring) error {
	s.mu.Lock()
	s.firings = append(s.firings, firing)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) RecordAttempt(_ context.Context, attempt *models.DeliveryAttempt) error {
	s.mu.Lock()
	s.attempts = append(s.attempts, attempt)
	s.mu.Unlock()
	return nil
}

func (s *MemorySink) Close() error { return nil }

// Firings returns a snapshot of recorded firings.
func (s *MemorySink) Firings() []*models.AlertFiring {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.AlertFiring, len(s.firings))
	copy(out, s.firings)
	return out
}

// Attempts returns a snapshot of recorded delivery attempts.
func (s *MemorySink) Attempts() []*models.DeliveryAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.DeliveryAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}
