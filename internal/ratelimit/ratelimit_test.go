package ratelimit_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/modelgrid/gateway/internal/ratelimit"
)

func newTestRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return client, func() {
		client.Close()
		mr.Close()
	}
}

func TestRedisStore_AllowsUpToLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	const limit = 20
	rl := ratelimit.NewRedisStore(rdb)
	ctx := context.Background()

	for i := 1; i <= limit; i++ {
		dec, err := rl.Allow(ctx, "key-1", limit)
		if err != nil {
			t.Fatalf("request %d: unexpected error: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d: expected allowed within limit %d", i, limit)
		}
	}
}

func TestRedisStore_BlocksPastLimit(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	const limit = 20
	rl := ratelimit.NewRedisStore(rdb)
	ctx := context.Background()

	for i := 1; i <= limit; i++ {
		if dec, _ := rl.Allow(ctx, "key-1", limit); !dec.Allowed {
			t.Fatalf("request %d unexpectedly blocked", i)
		}
	}

	dec, err := rl.Allow(ctx, "key-1", limit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dec.Allowed {
		t.Fatal("request 21 of 20 should be blocked")
	}
	if dec.RetryAfter <= 0 {
		t.Errorf("expected positive RetryAfter, got %s", dec.RetryAfter)
	}
	if dec.RetryAfter > ratelimit.Window {
		t.Errorf("RetryAfter %s exceeds the window", dec.RetryAfter)
	}
}

func TestRedisStore_KeysAreIndependent(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	defer cleanup()

	rl := ratelimit.NewRedisStore(rdb)
	ctx := context.Background()

	const limit = 2
	for i := 0; i < limit; i++ {
		rl.Allow(ctx, "key-a", limit)
	}
	if dec, _ := rl.Allow(ctx, "key-a", limit); dec.Allowed {
		t.Fatal("key-a should be exhausted")
	}

	// A different key still has its full budget.
	if dec, _ := rl.Allow(ctx, "key-b", limit); !dec.Allowed {
		t.Error("key-b should not share key-a's counter")
	}
}

func TestRedisStore_DegradesOpenWhenRedisDown(t *testing.T) {
	rdb, cleanup := newTestRedis(t)
	cleanup() // close Redis before the first call

	rl := ratelimit.NewRedisStore(rdb)
	dec, err := rl.Allow(context.Background(), "key-1", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !dec.Allowed {
		t.Error("expected allowed=true when Redis is unavailable (graceful degradation)")
	}
}

func TestMemoryStore_LimitBoundary(t *testing.T) {
	m := ratelimit.NewMemoryStore(context.Background())
	defer m.Close()

	const limit = 5
	ctx := context.Background()

	for i := 1; i <= limit; i++ {
		dec, err := m.Allow(ctx, "key-1", limit)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if !dec.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}

	dec, _ := m.Allow(ctx, "key-1", limit)
	if dec.Allowed {
		t.Fatal("request past limit should be blocked")
	}
	if dec.RetryAfter <= 0 || dec.RetryAfter > ratelimit.Window {
		t.Errorf("RetryAfter out of range: %s", dec.RetryAfter)
	}
}

func TestMemoryStore_WindowRollover(t *testing.T) {
	m := ratelimit.NewMemoryStore(context.Background())
	defer m.Close()

	base := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	current := base
	m.SetClock(func() time.Time { return current })

	const limit = 1
	ctx := context.Background()

	if dec, _ := m.Allow(ctx, "key-1", limit); !dec.Allowed {
		t.Fatal("first request should pass")
	}
	if dec, _ := m.Allow(ctx, "key-1", limit); dec.Allowed {
		t.Fatal("second request in the same window should be blocked")
	}

	// Next 60s window: the budget resets.
	current = base.Add(ratelimit.Window)
	if dec, _ := m.Allow(ctx, "key-1", limit); !dec.Allowed {
		t.Error("request in the next window should be allowed again")
	}
}

func TestMemoryStore_ConcurrentIncrementsNeverOverAdmit(t *testing.T) {
	m := ratelimit.NewMemoryStore(context.Background())
	defer m.Close()

	const (
		limit   = 50
		callers = 200
	)
	ctx := context.Background()

	// Pin the clock so the test cannot straddle a window boundary.
	fixed := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	m.SetClock(func() time.Time { return fixed })

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dec, _ := m.Allow(ctx, "key-1", limit)
			if dec.Allowed {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed > limit {
		t.Errorf("admitted %d requests, limit is %d", allowed, limit)
	}
}
