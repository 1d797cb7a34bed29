package routing

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"gorm.io/datatypes"

	"github.com/modelgrid/gateway/internal/store"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

type fakeCooldown struct {
	cooling map[string]bool // "provider/model"
}

func (f *fakeCooldown) InCooldown(provider, model string) bool {
	return f.cooling[provider+"/"+model]
}

func testPolicy(t *testing.T, strategy string, models []store.ModelEntry) *store.RoutingPolicy {
	t.Helper()
	b, err := json.Marshal(models)
	if err != nil {
		t.Fatalf("marshal models: %v", err)
	}
	return &store.RoutingPolicy{
		ID:       "rp_test",
		OrgID:    "org_1",
		Name:     "test",
		Strategy: strategy,
		Models:   datatypes.JSON(b),
		IsActive: true,
	}
}

func providerOf(string) string { return "openai" }

func TestSelect_CostOptimizedPicksHighestWeight(t *testing.T) {
	s := NewSelector(nil, providerOf)
	p := testPolicy(t, store.StrategyCostOptimized, []store.ModelEntry{
		{ModelID: "A", Weight: 80},
		{ModelID: "B", Weight: 20},
	})

	for range 10 {
		sel, err := s.Select(p)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if sel.Entry.ModelID != "A" {
			t.Fatalf("selected %q, want A", sel.Entry.ModelID)
		}
	}
}

func TestSelect_WeightTieKeepsListOrder(t *testing.T) {
	s := NewSelector(nil, providerOf)
	p := testPolicy(t, store.StrategyLatencyOptimized, []store.ModelEntry{
		{ModelID: "first", Weight: 50},
		{ModelID: "second", Weight: 50},
	})

	sel, err := s.Select(p)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Entry.ModelID != "first" {
		t.Fatalf("tie broke to %q, want first", sel.Entry.ModelID)
	}
}

func TestSelect_BalancedCoversAllModels(t *testing.T) {
	s := NewSelector(nil, providerOf)
	p := testPolicy(t, store.StrategyBalanced, []store.ModelEntry{
		{ModelID: "A"}, {ModelID: "B"}, {ModelID: "C"},
	})

	seen := map[string]int{}
	for range 3000 {
		sel, err := s.Select(p)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		seen[sel.Entry.ModelID]++
	}
	for _, id := range []string{"A", "B", "C"} {
		frac := float64(seen[id]) / 3000
		if math.Abs(frac-1.0/3) > 0.05 {
			t.Fatalf("model %s frequency %.3f, want ~0.333", id, frac)
		}
	}
}

func TestSelect_FailoverPrimaryWhenHealthy(t *testing.T) {
	cd := &fakeCooldown{cooling: map[string]bool{}}
	s := NewSelector(cd, providerOf)
	p := testPolicy(t, store.StrategyFailover, []store.ModelEntry{
		{ModelID: "A", Role: store.RolePrimary},
		{ModelID: "B", Role: store.RoleFallback},
	})

	sel, err := s.Select(p)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Entry.ModelID != "A" {
		t.Fatalf("selected %q, want primary A", sel.Entry.ModelID)
	}
}

func TestSelect_FailoverFallsBackDuringCooldown(t *testing.T) {
	cd := &fakeCooldown{cooling: map[string]bool{"openai/A": true}}
	s := NewSelector(cd, providerOf)
	p := testPolicy(t, store.StrategyFailover, []store.ModelEntry{
		{ModelID: "A", Role: store.RolePrimary},
		{ModelID: "B", Role: store.RoleFallback},
	})

	sel, err := s.Select(p)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Entry.ModelID != "B" {
		t.Fatalf("selected %q, want fallback B", sel.Entry.ModelID)
	}
	if sel.Reason != "failover: primary cooling down, using fallback" {
		t.Fatalf("reason = %q", sel.Reason)
	}

	// Cooldown cleared: primary again.
	cd.cooling = map[string]bool{}
	sel, err = s.Select(p)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Entry.ModelID != "A" {
		t.Fatalf("selected %q after cooldown cleared, want A", sel.Entry.ModelID)
	}
}

func TestSelect_FailoverNoExplicitPrimaryUsesFirstUnroled(t *testing.T) {
	s := NewSelector(nil, providerOf)
	p := testPolicy(t, store.StrategyFailover, []store.ModelEntry{
		{ModelID: "A", Role: store.RoleFallback},
		{ModelID: "B"},
		{ModelID: "C"},
	})

	sel, err := s.Select(p)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Entry.ModelID != "B" {
		t.Fatalf("selected %q, want first unroled B", sel.Entry.ModelID)
	}
}

func TestSelect_ABTestDistribution(t *testing.T) {
	s := NewSelector(nil, providerOf)
	p := testPolicy(t, store.StrategyABTest, []store.ModelEntry{
		{ModelID: "A", Weight: 70},
		{ModelID: "B", Weight: 30},
	})

	seen := map[string]int{}
	const trials = 10000
	for range trials {
		sel, err := s.Select(p)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		seen[sel.Entry.ModelID]++
	}

	fracA := float64(seen["A"]) / trials
	if math.Abs(fracA-0.70) > 0.03 {
		t.Fatalf("A frequency %.3f, want ~0.700", fracA)
	}
}

func TestSelect_ABTestRoundingFallsBackToFirst(t *testing.T) {
	s := NewSelector(nil, providerOf)
	// Weights under-sum 100; a draw past the last bucket hits the default.
	s.SetRand(func() float64 { return 0.99 }, nil)
	p := testPolicy(t, store.StrategyABTest, []store.ModelEntry{
		{ModelID: "A", Weight: 50},
		{ModelID: "B", Weight: 40},
	})

	sel, err := s.Select(p)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if sel.Entry.ModelID != "A" {
		t.Fatalf("selected %q, want default A", sel.Entry.ModelID)
	}
	if sel.Reason != "default (no strategy match)" {
		t.Fatalf("reason = %q", sel.Reason)
	}
}

func TestSelect_EmptyModelsIsValidationError(t *testing.T) {
	s := NewSelector(nil, providerOf)
	p := testPolicy(t, store.StrategyBalanced, []store.ModelEntry{})

	_, err := s.Select(p)
	var ve *gwerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if ve.Message != "policy has no models configured" {
		t.Fatalf("message = %q", ve.Message)
	}
}

func TestSelect_UnknownStrategyRejected(t *testing.T) {
	s := NewSelector(nil, providerOf)
	p := testPolicy(t, "round_robin", []store.ModelEntry{{ModelID: "A"}})

	_, err := s.Select(p)
	var ve *gwerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
