package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the production Store: counters live in Redis so the limit is
// enforced across all gateway replicas. INCR is atomic server-side; the TTL
// is attached only on first increment (NX) so the window expiry never slides.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// Allow implements Store. The increment and expiry travel in one pipeline —
// a single round trip per check.
//
// Redis unavailability degrades open: a broken limiter should not take the
// whole gateway down with it.
func (r *RedisStore) Allow(ctx context.Context, keyID string, limit int) (Decision, error) {
	window, remaining := windowOf(time.Now())
	key := fmt.Sprintf("rl:%s:%d", keyID, window)

	pipe := r.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, counterTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{Allowed: true}, nil
	}

	if incr.Val() > int64(limit) {
		return Decision{Allowed: false, RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true}, nil
}
