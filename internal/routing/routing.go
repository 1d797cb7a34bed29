// Package routing picks one upstream model from a routing policy's candidate
// list according to the policy's strategy.
package routing

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/modelgrid/gateway/internal/store"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

// CooldownChecker reports whether a (provider, model) pair is currently
// cooling down and must be skipped by failover resolution.
type CooldownChecker interface {
	InCooldown(provider, model string) bool
}

// Selection is the selector's output: the chosen entry and a human-readable
// reason recorded alongside the request.
type Selection struct {
	Entry  store.ModelEntry
	Reason string
}

// Selector applies a routing policy's strategy to its model list.
type Selector struct {
	cooldown   CooldownChecker
	providerOf func(modelID string) string

	randFloat func() float64 // [0,1); injectable for tests
	randIntN  func(n int) int
}

// NewSelector creates a Selector. providerOf maps a model id to the provider
// that serves it, used for cooldown lookups during failover.
func NewSelector(cooldown CooldownChecker, providerOf func(modelID string) string) *Selector {
	return &Selector{
		cooldown:   cooldown,
		providerOf: providerOf,
		randFloat:  rand.Float64,
		randIntN:   rand.IntN,
	}
}

// SetRand overrides the random sources. Test hook; nil leaves a source as-is.
func (s *Selector) SetRand(float func() float64, intN func(int) int) {
	if float != nil {
		s.randFloat = float
	}
	if intN != nil {
		s.randIntN = intN
	}
}

// Select picks one entry per the policy's strategy. Ties and rounding cases
// resolve deterministically as documented per strategy.
func (s *Selector) Select(policy *store.RoutingPolicy) (*Selection, error) {
	models, err := policy.Entries()
	if err != nil {
		return nil, fmt.Errorf("routing: decode policy models: %w", err)
	}
	if len(models) == 0 {
		return nil, &gwerr.ValidationError{Message: "policy has no models configured"}
	}

	switch policy.Strategy {
	case store.StrategyCostOptimized:
		return s.byWeight(models, "highest cost-preference weight"), nil
	case store.StrategyLatencyOptimized:
		return s.byWeight(models, "highest latency-preference weight"), nil
	case store.StrategyBalanced:
		e := models[s.randIntN(len(models))]
		return &Selection{Entry: e, Reason: "balanced random choice"}, nil
	case store.StrategyFailover:
		return s.failover(models), nil
	case store.StrategyABTest:
		return s.abTest(models), nil
	default:
		return nil, &gwerr.ValidationError{
			Message: fmt.Sprintf("unknown routing strategy %q", policy.Strategy),
		}
	}
}

// byWeight sorts by weight descending; ties keep original list order.
func (s *Selector) byWeight(models []store.ModelEntry, reason string) *Selection {
	sorted := make([]store.ModelEntry, len(models))
	copy(sorted, models)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })
	return &Selection{Entry: sorted[0], Reason: reason}
}

// failover picks the explicit primary, or the first unroled entry when no
// primary is designated. A cooling-down pick falls through to the first
// fallback entry.
func (s *Selector) failover(models []store.ModelEntry) *Selection {
	primary := -1
	for i, m := range models {
		if m.Role == store.RolePrimary {
			primary = i
			break
		}
	}
	if primary < 0 {
		for i, m := range models {
			if m.Role == "" {
				primary = i
				break
			}
		}
	}

	if primary >= 0 && !s.inCooldown(models[primary].ModelID) {
		return &Selection{Entry: models[primary], Reason: "failover primary"}
	}

	for _, m := range models {
		if m.Role == store.RoleFallback && !s.inCooldown(m.ModelID) {
			return &Selection{Entry: m, Reason: "failover: primary cooling down, using fallback"}
		}
	}

	// Everything eligible is cooling down: return the primary anyway and let
	// the invocation path surface the upstream failure.
	if primary >= 0 {
		return &Selection{Entry: models[primary], Reason: "failover primary (all candidates cooling down)"}
	}
	return &Selection{Entry: models[0], Reason: "failover primary (all candidates cooling down)"}
}

// abTest draws r uniformly from [0,100) and walks the cumulative weights.
func (s *Selector) abTest(models []store.ModelEntry) *Selection {
	r := s.randFloat() * 100

	cum := 0
	for _, m := range models {
		cum += m.Weight
		if float64(cum) >= r {
			return &Selection{
				Entry:  m,
				Reason: fmt.Sprintf("ab_test bucket (r=%.1f)", r),
			}
		}
	}
	// Weights under-sum 100 and r landed past the last bucket.
	return &Selection{Entry: models[0], Reason: "default (no strategy match)"}
}

func (s *Selector) inCooldown(modelID string) bool {
	if s.cooldown == nil {
		return false
	}
	provider := ""
	if s.providerOf != nil {
		provider = s.providerOf(modelID)
	}
	return s.cooldown.InCooldown(provider, modelID)
}
