package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/modelgrid/gateway/internal/metrics"
	"github.com/modelgrid/gateway/internal/providers"
)

const healthProbeInterval = 30 * time.Second
const healthProbeTimeout = 5 * time.Second

// componentStatus holds the last known health result for one component.
type componentStatus struct {
	mu     sync.RWMutex
	status string // "ok" | "degraded" | "down"
}

func (s *componentStatus) set(v string) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
}

func (s *componentStatus) get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status == "" {
		return "unknown"
	}
	return s.status
}

// HealthChecker runs background probes and exposes the latest results.
type HealthChecker struct {
	registry     *providers.Registry
	storeReady   func(ctx context.Context) error
	limiterReady func() bool
	baseCtx      context.Context
	metrics      *metrics.Registry

	providerStatuses map[string]*componentStatus
	storeStatus      componentStatus
	limiterStatus    componentStatus

	startTime time.Time
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewHealthChecker creates a HealthChecker and immediately starts background
// probes. storeReady pings the relational store; limiterReady reports the
// rate-limiter backend (nil means "not configured" → ok).
func NewHealthChecker(
	ctx context.Context,
	reg *providers.Registry,
	storeReady func(ctx context.Context) error,
	limiterReady func() bool,
	met *metrics.Registry,
) *HealthChecker {
	if ctx == nil {
		panic("healthchecker: context must not be nil")
	}
	hc := &HealthChecker{
		registry:         reg,
		storeReady:       storeReady,
		limiterReady:     limiterReady,
		providerStatuses: make(map[string]*componentStatus),
		startTime:        time.Now(),
		done:             make(chan struct{}),
		baseCtx:          ctx,
		metrics:          met,
	}

	for _, name := range reg.Names() {
		hc.providerStatuses[name] = &componentStatus{status: "unknown"}
	}

	// Run first probe synchronously so health is not "unknown" immediately.
	hc.probe()

	hc.wg.Add(1)
	go hc.run()

	return hc
}

// HealthSnapshot returns the current health state for all components.
type HealthSnapshot struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Providers     map[string]string `json:"providers"`
	Database      string            `json:"database"`
	RateLimiter   string            `json:"rate_limiter"`
}

// Snapshot builds a snapshot from the latest probe results.
func (hc *HealthChecker) Snapshot() HealthSnapshot {
	overall := "ok"

	provs := make(map[string]string, len(hc.providerStatuses))
	for name, s := range hc.providerStatuses {
		st := s.get()
		provs[name] = st
		if st != "ok" {
			overall = "degraded"
		}
	}

	db := hc.storeStatus.get()
	if db == "down" {
		overall = "degraded"
	}

	return HealthSnapshot{
		Status:        overall,
		UptimeSeconds: int64(time.Since(hc.startTime).Seconds()),
		Providers:     provs,
		Database:      db,
		RateLimiter:   hc.limiterStatus.get(),
	}
}

// ReadinessOK returns true when the relational store is reachable
// (used by GET /readiness for Kubernetes probes).
func (hc *HealthChecker) ReadinessOK() bool {
	return hc.storeStatus.get() == "ok"
}

// Close stops the background probe goroutine.
func (hc *HealthChecker) Close() {
	hc.closeOnce.Do(func() { close(hc.done) })
	hc.wg.Wait()
}

func (hc *HealthChecker) run() {
	defer hc.wg.Done()
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probe()
		case <-hc.done:
			return
		}
	}
}

func (hc *HealthChecker) probe() {
	ctx, cancel := context.WithTimeout(hc.baseCtx, healthProbeTimeout)
	defer cancel()

	// Provider probes — run in parallel.
	var wg sync.WaitGroup
	for _, adapter := range hc.registry.All() {
		s := hc.providerStatuses[adapter.Name()]
		if s == nil {
			continue
		}
		wg.Add(1)
		go func(a providers.Adapter, s *componentStatus) {
			defer wg.Done()
			if err := a.HealthCheck(ctx); err != nil {
				s.set("degraded")
				if hc.metrics != nil {
					hc.metrics.SetProviderHealth(a.Name(), false)
				}
			} else {
				s.set("ok")
				if hc.metrics != nil {
					hc.metrics.SetProviderHealth(a.Name(), true)
				}
			}
		}(adapter, s)
	}

	// Store probe — nil probe means "not configured" → ok.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.storeReady == nil || hc.storeReady(ctx) == nil {
			hc.storeStatus.set("ok")
		} else {
			hc.storeStatus.set("down")
		}
	}()

	// Rate limiter probe.
	wg.Add(1)
	go func() {
		defer wg.Done()
		if hc.limiterReady == nil || hc.limiterReady() {
			hc.limiterStatus.set("ok")
		} else {
			hc.limiterStatus.set("degraded")
		}
	}()

	wg.Wait()
}
