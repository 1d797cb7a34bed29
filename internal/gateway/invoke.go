package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

// Retry policy defaults.
const (
	DefaultMaxRetries   = 2
	DefaultRetryBackoff = 250 * time.Millisecond
)

// Invoker drives a single logical invocation against one (provider, model)
// pair: hard per-attempt timeout, bounded retries with backoff on transient
// failures, and cooldown accounting on the outcome.
type Invoker struct {
	registry *providers.Registry
	cooldown *CooldownTracker
	log      *slog.Logger

	maxRetries int
	backoff    time.Duration
	timeout    time.Duration

	sleep func(ctx context.Context, d time.Duration) error // injectable for tests
}

// NewInvoker creates an Invoker. Zero maxRetries/backoff/timeout fall back to
// the package defaults.
func NewInvoker(reg *providers.Registry, cd *CooldownTracker, log *slog.Logger, maxRetries int, backoff, timeout time.Duration) *Invoker {
	if log == nil {
		log = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	if timeout <= 0 {
		timeout = providers.DefaultTimeout
	}
	return &Invoker{
		registry:   reg,
		cooldown:   cd,
		log:        log,
		maxRetries: maxRetries,
		backoff:    backoff,
		timeout:    timeout,
		sleep:      sleepCtx,
	}
}

// Invoke calls the provider's adapter with up to maxRetries automatic retries
// on transient failures (upstream 5xx/timeouts and upstream throttling). Auth
// and validation failures return immediately and leave the cooldown tracker
// untouched; only transient attempt failures count toward a cooldown.
func (iv *Invoker) Invoke(ctx context.Context, provider string, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	adapter, err := iv.registry.Get(provider)
	if err != nil {
		return nil, &gwerr.ValidationError{Message: err.Error()}
	}

	var lastErr error
	for attempt := 0; attempt <= iv.maxRetries; attempt++ {
		if attempt > 0 {
			// Linear backoff between attempts; honors client disconnects.
			if err := iv.sleep(ctx, time.Duration(attempt)*iv.backoff); err != nil {
				return nil, err
			}
		}

		resp, err := iv.invokeOnce(ctx, adapter, req)
		if err == nil {
			iv.cooldown.RecordSuccess(provider, req.Model)
			return resp, nil
		}

		lastErr = err

		// Only transient upstream failures count toward the cooldown:
		// a burst of malformed client requests must not take a healthy
		// (provider, model) pair out of failover rotation.
		if !gwerr.IsRetryable(err) {
			return nil, err
		}
		iv.cooldown.RecordFailure(provider, req.Model)

		iv.log.Warn("upstream attempt failed",
			slog.String("provider", provider),
			slog.String("model", req.Model),
			slog.Int("attempt", attempt+1),
			slog.String("error_class", gwerr.Classify(err)),
			slog.String("error", err.Error()),
		)
	}

	return nil, lastErr
}

// invokeOnce runs one attempt. Non-streaming attempts are bounded by the hard
// per-call timeout; streaming attempts inherit the caller's context, since
// the response outlives the call.
func (iv *Invoker) invokeOnce(ctx context.Context, adapter providers.Adapter, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	start := time.Now()

	if !req.Stream {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, iv.timeout)
		defer cancel()
	}

	resp, err := adapter.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
