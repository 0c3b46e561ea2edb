package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"sentinel/internal/models"
)

// IdempotencyStore tracks delivered (firing_id, channel) pairs so that
// replays, e.g. after a process restart, never double-notify a channel.
type IdempotencyStore interface {
	// Seen reports whether the pair was already delivered.
	Seen(ctx context.Context, firingID string, channel models.ChannelRef) (bool, error)
	// MarkDelivered records a successful delivery.
	MarkDelivered(ctx context.Context, firingID string, channel models.ChannelRef) error
	Close() error
}

// MemoryIdempotencyStore keeps delivered pairs in memory.
type MemoryIdempotencyStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{seen: make(map[string]struct{})}
}

func (s *MemoryIdempotencyStore) Seen(_ context.Context, firingID string, channel models.ChannelRef) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[deliveryKey(firingID, channel)]
	return ok, nil
}

func (s *MemoryIdempotencyStore) MarkDelivered(_ context.Context, firingID string, channel models.ChannelRef) error {
	s.mu.Lock()
	s.seen[deliveryKey(firingID, channel)] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemoryIdempotencyStore) Close() error { return nil }

// RedisIdempotencyStore persists delivered pairs in Redis with a TTL,
// surviving process restarts.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore connects to Redis at addr. Keys expire
// after ttl; a zero ttl defaults to 24h.
func NewRedisIdempotencyStore(addr string, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func (s *RedisIdempotencyStore) Seen(ctx context.Context, firingID string, channel models.ChannelRef) (bool, error) {
	n, err := s.client.Exists(ctx, deliveryKey(firingID, channel)).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency check: %w", err)
	}
	return n > 0, nil
}

func (s *RedisIdempotencyStore) MarkDelivered(ctx context.Context, firingID string, channel models.ChannelRef) error {
	if err := s.client.Set(ctx, deliveryKey(firingID, channel), 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency mark: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Close() error {
	return s.client.Close()
}

func deliveryKey(firingID string, channel models.ChannelRef) string {
	return fmt.Sprintf("sentinel:delivered:%s:%s", firingID, channel)
}
