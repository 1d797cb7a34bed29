package gateway

import (
	"sync"
	"time"
)

// Cooldown tuning defaults.
const (
	DefaultCooldownWindow    = 30 * time.Second
	DefaultCooldownThreshold = 3
)

// pairState holds per-(provider, model) failure tracking.
type pairState struct {
	mu sync.Mutex

	failureCount int
	windowStart  time.Time // start of the failure-counting window
	coolingSince time.Time // zero when not cooling down
}

// CooldownTracker marks (provider, model) pairs as cooling down after
// repeated invocation failures, so failover selection skips them for a fixed
// window. State is process-local: horizontally scaled replicas each track
// their own view, which bounds rather than eliminates a failing upstream's
// blast radius.
type CooldownTracker struct {
	mu    sync.RWMutex
	pairs map[string]*pairState

	window    time.Duration // how long a pair stays cooling
	threshold int           // failures within window that trip the cooldown

	now func() time.Time
}

// NewCooldownTracker creates a tracker. Zero window/threshold fall back to
// the package defaults.
func NewCooldownTracker(window time.Duration, threshold int) *CooldownTracker {
	if window <= 0 {
		window = DefaultCooldownWindow
	}
	if threshold <= 0 {
		threshold = DefaultCooldownThreshold
	}
	return &CooldownTracker{
		pairs:     make(map[string]*pairState),
		window:    window,
		threshold: threshold,
		now:       time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (t *CooldownTracker) SetClock(now func() time.Time) { t.now = now }

func pairKey(provider, model string) string { return provider + "/" + model }

// InCooldown reports whether the pair is currently cooling down. A pair whose
// window has elapsed is reported available again without mutating state; the
// next RecordFailure or RecordSuccess resets it.
func (t *CooldownTracker) InCooldown(provider, model string) bool {
	ps := t.get(pairKey(provider, model))
	if ps == nil {
		return false
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.coolingSince.IsZero() {
		return false
	}
	return t.now().Sub(ps.coolingSince) < t.window
}

// RecordSuccess clears all failure state for the pair.
func (t *CooldownTracker) RecordSuccess(provider, model string) {
	ps := t.get(pairKey(provider, model))
	if ps == nil {
		return
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failureCount = 0
	ps.coolingSince = time.Time{}
	ps.windowStart = t.now()
}

// RecordFailure counts one failed invocation attempt. Reaching the threshold
// within the counting window starts the cooldown.
func (t *CooldownTracker) RecordFailure(provider, model string) {
	key := pairKey(provider, model)
	ps := t.getOrCreate(key)

	ps.mu.Lock()
	defer ps.mu.Unlock()

	now := t.now()
	if now.Sub(ps.windowStart) > t.window {
		ps.failureCount = 0
		ps.windowStart = now
	}

	ps.failureCount++
	if ps.failureCount >= t.threshold {
		ps.coolingSince = now
		ps.failureCount = 0
	}
}

// ForceCooldown puts the pair straight into cooldown. Test hook.
func (t *CooldownTracker) ForceCooldown(provider, model string) {
	ps := t.getOrCreate(pairKey(provider, model))
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.coolingSince = t.now()
}

// CoolingPairs returns the "provider/model" keys currently cooling down
// (metrics export).
func (t *CooldownTracker) CoolingPairs() []string {
	t.mu.RLock()
	keys := make([]string, 0, len(t.pairs))
	for k := range t.pairs {
		keys = append(keys, k)
	}
	t.mu.RUnlock()

	var cooling []string
	now := t.now()
	for _, k := range keys {
		ps := t.get(k)
		ps.mu.Lock()
		if !ps.coolingSince.IsZero() && now.Sub(ps.coolingSince) < t.window {
			cooling = append(cooling, k)
		}
		ps.mu.Unlock()
	}
	return cooling
}

func (t *CooldownTracker) get(key string) *pairState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pairs[key]
}

func (t *CooldownTracker) getOrCreate(key string) *pairState {
	t.mu.RLock()
	ps := t.pairs[key]
	t.mu.RUnlock()
	if ps != nil {
		return ps
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if ps = t.pairs[key]; ps == nil {
		ps = &pairState{windowStart: t.now()}
		t.pairs[key] = ps
	}
	return ps
}
