// Package cache provides the Redis-backed idempotency-key store for
// session creation.
package cache

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

const keyPrefix = "idempotency:feedback-session:"

// IdempotencyStore implements domain.IdempotencyCache. A hit returns the
// session created by the first request carrying the same key within the TTL
// window.
type IdempotencyStore struct {
	rdb redis.UniversalClient
}

// New constructs an IdempotencyStore.
func New(rdb redis.UniversalClient) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb}
}

// Get returns the session id recorded for key, with found=false on a miss.
func (s *IdempotencyStore) Get(ctx domain.Context, key string) (int64, bool, error) {
	val, err := s.rdb.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("op=idempotency.get: %w", err)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("op=idempotency.get: %w", err)
	}
	return id, true, nil
}

// Set records the session id for key with the given TTL.
func (s *IdempotencyStore) Set(ctx domain.Context, key string, id int64, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, keyPrefix+key, strconv.FormatInt(id, 10), ttl).Err(); err != nil {
		return fmt.Errorf("op=idempotency.set: %w", err)
	}
	return nil
}
