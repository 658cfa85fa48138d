package cache

import (
	"context"
	"fmt"
	"time"
)

const (
	// IdempotencyKeyTTL is how long a client-supplied Idempotency-Key is remembered.
	IdempotencyKeyTTL = 24 * time.Hour

	idempotencyKeyPrefix = "idem"
)

// IdempotencyStore remembers request keys so replays can be rejected.
type IdempotencyStore struct {
	client *RedisClient
	ttl    time.Duration
}

// NewIdempotencyStore creates an IdempotencyStore with IdempotencyKeyTTL.
func NewIdempotencyStore(r *RedisClient) *IdempotencyStore {
	return &IdempotencyStore{client: r, ttl: IdempotencyKeyTTL}
}

// Reserve claims key. It returns false when the key was already claimed.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.client.Client().SetNX(ctx, s.client.Key(idempotencyKeyPrefix, key), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency reserve: %w", err)
	}
	return ok, nil
}

// Release forgets key so a failed request can be retried with it.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Client().Del(ctx, s.client.Key(idempotencyKeyPrefix, key)).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}
