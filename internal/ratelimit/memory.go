package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryStore is an in-process Store with per-entry expiry. It matches the
// Redis backend's semantics exactly but is not shared across replicas — use
// it for tests, local development, and single-instance deployments.
//
// A background goroutine periodically evicts expired windows so the map does
// not grow without bound.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter

	now  func() time.Time // injectable clock for window-boundary tests
	done chan struct{}
}

// NewMemoryStore creates a MemoryStore and starts the cleanup loop. The loop
// stops when ctx is cancelled or Close is called.
func NewMemoryStore(ctx context.Context) *MemoryStore {
	m := &MemoryStore{
		counters: make(map[string]*memCounter),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go m.cleanup(ctx)
	return m
}

// Allow implements Store.
func (m *MemoryStore) Allow(_ context.Context, keyID string, limit int) (Decision, error) {
	now := m.now()
	window, remaining := windowOf(now)
	key := fmt.Sprintf("rl:%s:%d", keyID, window)

	m.mu.Lock()
	c, ok := m.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memCounter{expiresAt: now.Add(counterTTL)}
		m.counters[key] = c
	}
	c.count++
	count := c.count
	m.mu.Unlock()

	if count > int64(limit) {
		return Decision{Allowed: false, RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true}, nil
}

// Close stops the cleanup goroutine.
func (m *MemoryStore) Close() {
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

// SetClock overrides the time source. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) { m.now = now }

func (m *MemoryStore) cleanup(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictExpired()
		case <-ctx.Done():
			return
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) evictExpired() {
	now := m.now()
	m.mu.Lock()
	for k, c := range m.counters {
		if now.After(c.expiresAt) {
			delete(m.counters, k)
		}
	}
	m.mu.Unlock()
}
