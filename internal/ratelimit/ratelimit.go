// Package ratelimit implements the per-key request-rate window used on the
// gateway hot path.
//
// The algorithm is store-agnostic: the current 60-second window is
// floor(now/60), the counter key is "rl:{key_id}:{window}", and the counter
// is incremented unconditionally before the limit check. Because increments
// are atomic, the Nth and (N+1)th concurrent callers each observe a distinct
// count and only the one past the limit is rejected — no lost updates and no
// in-process locking across requests.
//
// Two backends implement Store: a Redis-backed counter for production
// clusters and an in-process counter for tests and single-node deployments.
package ratelimit

import (
	"context"
	"time"
)

// Window is the fixed rate-limit window length.
const Window = 60 * time.Second

// counterTTL outlives the window slightly so stale windows self-clean.
const counterTTL = 120 * time.Second

// Decision is the outcome of one rate-limit check.
type Decision struct {
	Allowed bool
	// RetryAfter is the remaining window time; meaningful when !Allowed.
	RetryAfter time.Duration
}

// Store is the abstract atomic counter behind the limiter.
type Store interface {
	// Allow increments the counter for keyID in the current window and
	// reports whether the request is within limit.
	Allow(ctx context.Context, keyID string, limit int) (Decision, error)
}

// windowOf returns the window index and the time remaining in it.
func windowOf(now time.Time) (int64, time.Duration) {
	sec := now.Unix()
	idx := sec / 60
	remaining := time.Duration(60-sec%60) * time.Second
	return idx, remaining
}
