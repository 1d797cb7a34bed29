package gateway

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

// scriptedAdapter returns the queued errors in order, then succeeds.
type scriptedAdapter struct {
	name  string
	fails []error
	calls int
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) Invoke(_ context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	a.calls++
	if len(a.fails) > 0 {
		err := a.fails[0]
		a.fails = a.fails[1:]
		return nil, err
	}
	return &providers.InvokeResponse{
		ID:      "resp-1",
		Model:   req.Model,
		Content: "ok",
	}, nil
}

func (a *scriptedAdapter) ListModels(context.Context) ([]catalog.Entry, error) { return nil, nil }

func (a *scriptedAdapter) HealthCheck(context.Context) error { return nil }

func newTestInvoker(t *testing.T, adapter providers.Adapter) (*Invoker, *CooldownTracker, *[]time.Duration) {
	t.Helper()
	reg := providers.NewRegistry()
	reg.Register(adapter)

	cd := NewCooldownTracker(30*time.Second, 3)
	iv := NewInvoker(reg, cd, slog.New(slog.DiscardHandler), 2, 100*time.Millisecond, time.Minute)

	var sleeps []time.Duration
	iv.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return iv, cd, &sleeps
}

func TestInvoker_SuccessFirstAttempt(t *testing.T) {
	adapter := &scriptedAdapter{name: "openai"}
	iv, cd, sleeps := newTestInvoker(t, adapter)

	resp, err := iv.Invoke(context.Background(), "openai", &providers.InvokeRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp.Content != "ok" {
		t.Errorf("content = %q", resp.Content)
	}
	if adapter.calls != 1 {
		t.Errorf("calls = %d, want 1", adapter.calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("unexpected backoff sleeps: %v", *sleeps)
	}
	if cd.InCooldown("openai", "gpt-4o") {
		t.Error("success put the pair in cooldown")
	}
}

func TestInvoker_RetriesTransientThenSucceeds(t *testing.T) {
	upstream := &gwerr.UpstreamError{Provider: "openai", Message: "service unavailable", StatusCode: 503}
	adapter := &scriptedAdapter{name: "openai", fails: []error{upstream, upstream}}
	iv, cd, sleeps := newTestInvoker(t, adapter)

	resp, err := iv.Invoke(context.Background(), "openai", &providers.InvokeRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp == nil || adapter.calls != 3 {
		t.Fatalf("calls = %d, want 3", adapter.calls)
	}

	// Linear backoff: 1x then 2x the base delay.
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(*sleeps) != len(want) {
		t.Fatalf("sleeps = %v, want %v", *sleeps, want)
	}
	for i := range want {
		if (*sleeps)[i] != want[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, (*sleeps)[i], want[i])
		}
	}

	// The trailing success clears the two recorded failures.
	if cd.InCooldown("openai", "gpt-4o") {
		t.Error("pair cooling after eventual success")
	}
}

func TestInvoker_ExhaustedRetriesTripCooldown(t *testing.T) {
	upstream := &gwerr.UpstreamError{Provider: "openai", Message: "bad gateway", StatusCode: 502}
	adapter := &scriptedAdapter{name: "openai", fails: []error{upstream, upstream, upstream}}
	iv, cd, _ := newTestInvoker(t, adapter)

	_, err := iv.Invoke(context.Background(), "openai", &providers.InvokeRequest{Model: "gpt-4o"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	var ue *gwerr.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("error type = %T, want UpstreamError", err)
	}
	if adapter.calls != 3 {
		t.Errorf("calls = %d, want 3", adapter.calls)
	}
	// Three failed attempts reach the cooldown threshold.
	if !cd.InCooldown("openai", "gpt-4o") {
		t.Error("expected pair in cooldown after a fully failed invocation")
	}
}

func TestInvoker_AuthErrorNotRetried(t *testing.T) {
	adapter := &scriptedAdapter{
		name:  "openai",
		fails: []error{&gwerr.AuthenticationError{Message: "invalid api key"}},
	}
	iv, _, sleeps := newTestInvoker(t, adapter)

	_, err := iv.Invoke(context.Background(), "openai", &providers.InvokeRequest{Model: "gpt-4o"})
	var ae *gwerr.AuthenticationError
	if !errors.As(err, &ae) {
		t.Fatalf("error type = %T, want AuthenticationError", err)
	}
	if adapter.calls != 1 {
		t.Errorf("calls = %d, want 1", adapter.calls)
	}
	if len(*sleeps) != 0 {
		t.Errorf("backoff slept for a non-retryable error: %v", *sleeps)
	}
}

func TestInvoker_ValidationErrorNotRetried(t *testing.T) {
	adapter := &scriptedAdapter{
		name:  "openai",
		fails: []error{&gwerr.ValidationError{Message: "messages is required"}},
	}
	iv, _, _ := newTestInvoker(t, adapter)

	_, err := iv.Invoke(context.Background(), "openai", &providers.InvokeRequest{Model: "gpt-4o"})
	var ve *gwerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T, want ValidationError", err)
	}
	if adapter.calls != 1 {
		t.Errorf("calls = %d, want 1", adapter.calls)
	}
}

func TestInvoker_NonRetryableFailuresNeverTripCooldown(t *testing.T) {
	// Enough malformed requests to pass the failure threshold, were they
	// counted. A healthy pair must stay in failover rotation regardless.
	adapter := &scriptedAdapter{
		name: "openai",
		fails: []error{
			&gwerr.ValidationError{Message: "messages is required"},
			&gwerr.ValidationError{Message: "messages is required"},
			&gwerr.ValidationError{Message: "messages is required"},
			&gwerr.AuthenticationError{Message: "invalid api key"},
		},
	}
	iv, cd, _ := newTestInvoker(t, adapter)

	for i := 0; i < 4; i++ {
		if _, err := iv.Invoke(context.Background(), "openai", &providers.InvokeRequest{Model: "gpt-4o"}); err == nil {
			t.Fatalf("invocation %d: expected error", i+1)
		}
	}
	if cd.InCooldown("openai", "gpt-4o") {
		t.Error("non-retryable failures put a healthy pair in cooldown")
	}
}

func TestInvoker_UpstreamThrottleRetried(t *testing.T) {
	adapter := &scriptedAdapter{
		name:  "openai",
		fails: []error{&gwerr.RateLimitExceeded{}},
	}
	iv, _, _ := newTestInvoker(t, adapter)

	resp, err := iv.Invoke(context.Background(), "openai", &providers.InvokeRequest{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp == nil || adapter.calls != 2 {
		t.Errorf("calls = %d, want 2", adapter.calls)
	}
}

func TestInvoker_UnknownProviderIsValidationError(t *testing.T) {
	iv, _, _ := newTestInvoker(t, &scriptedAdapter{name: "openai"})

	_, err := iv.Invoke(context.Background(), "nonexistent", &providers.InvokeRequest{Model: "gpt-4o"})
	var ve *gwerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T, want ValidationError", err)
	}
}

func TestInvoker_CanceledContextStopsRetrying(t *testing.T) {
	upstream := &gwerr.UpstreamError{Provider: "openai", Message: "bad gateway", StatusCode: 502}
	adapter := &scriptedAdapter{name: "openai", fails: []error{upstream, upstream, upstream}}

	reg := providers.NewRegistry()
	reg.Register(adapter)
	iv := NewInvoker(reg, NewCooldownTracker(0, 0), slog.New(slog.DiscardHandler), 2, 100*time.Millisecond, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := iv.Invoke(ctx, "openai", &providers.InvokeRequest{Model: "gpt-4o"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if adapter.calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancellation)", adapter.calls)
	}
}
