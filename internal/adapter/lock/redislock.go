// Package lock provides a Redis-backed advisory lock used to serialize
// session termination across worker processes.
package lock

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/persona-feedback/internal/domain"
)

// releaseScript deletes the key only when it still holds our token, so an
// expired lock re-acquired by someone else is never released from here.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements domain.SessionLocker with SET NX PX plus a
// compare-and-delete release. The lease self-expires, so a crashed holder
// only stalls contenders until the TTL runs out.
type RedisLocker struct {
	rdb          redis.UniversalClient
	pollInterval time.Duration
}

// New constructs a RedisLocker.
func New(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb, pollInterval: 100 * time.Millisecond}
}

// Acquire blocks up to wait for the lock at key, polling between attempts.
// On success it returns a release func bound to this acquisition's token.
// Exceeding wait returns domain.ErrLockTimeout, which is retriable.
func (l *RedisLocker) Acquire(ctx domain.Context, key string, wait, lease time.Duration) (func(ctx domain.Context) error, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, lease).Result()
		if err != nil {
			return nil, fmt.Errorf("op=lock.acquire: %w", err)
		}
		if ok {
			release := func(ctx domain.Context) error {
				if err := releaseScript.Run(ctx, l.rdb, []string{key}, token).Err(); err != nil && err != redis.Nil {
					return fmt.Errorf("op=lock.release: %w", err)
				}
				return nil
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			slog.Debug("lock wait exhausted", slog.String("key", key), slog.Duration("wait", wait))
			return nil, fmt.Errorf("op=lock.acquire: key=%s: %w", key, domain.ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("op=lock.acquire: %w", ctx.Err())
		case <-time.After(l.pollInterval):
		}
	}
}
