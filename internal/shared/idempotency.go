package shared

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyGuard records processed request keys in Redis so retried
// payment submissions do not append duplicate events.
type IdempotencyGuard struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyGuard constructs the guard. Keys expire after ttl.
func NewIdempotencyGuard(client *redis.Client, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{client: client, ttl: ttl}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// CheckAndSet claims the key within its scope. A second claim before the
// TTL expires fails with ErrIdempotencyConflict.
func (g *IdempotencyGuard) CheckAndSet(ctx context.Context, key, scope string) error {
	if g == nil || g.client == nil {
		return errors.New("idempotency guard not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	ok, err := g.client.SetNX(ctx, scope+":"+key, 1, g.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrIdempotencyConflict
	}
	return nil
}

// Release removes a key, typically used to roll back failed processing.
func (g *IdempotencyGuard) Release(ctx context.Context, key, scope string) error {
	if g == nil || g.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	return g.client.Del(ctx, scope+":"+key).Err()
}
