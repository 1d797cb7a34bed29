// Package policy evaluates org- and key-level governance rules before any
// upstream call is made. All three checks short-circuit the request with a
// 403 and never write a usage row.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/modelgrid/gateway/internal/store"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

// Engine runs the pre-invocation policy checks. Checks whose policy type is
// absent for the org are skipped — absence means no restriction.
type Engine struct {
	store *store.Store
	log   *slog.Logger

	now func() time.Time // injectable clock for spend-cap day boundaries
}

// New creates an Engine.
func New(s *store.Store, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{store: s, log: log, now: time.Now}
}

// SetClock overrides the time source. Test hook.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// CheckModelAllowed enforces the key-level model allowlist. A key with an
// empty allowlist may use any model.
func (e *Engine) CheckModelAllowed(key *store.GatewayKey, model string) error {
	allowed, err := key.AllowedModelList()
	if err != nil {
		return fmt.Errorf("policy: decode key allowlist: %w", err)
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, m := range allowed {
		if m == model {
			return nil
		}
	}
	return &gwerr.PolicyViolation{Reason: "model not allowed"}
}

// CheckModelAccess enforces the org's enabled model_access policy. Orgs
// without one are unrestricted.
func (e *Engine) CheckModelAccess(ctx context.Context, orgID, model string) error {
	p, err := e.store.GetPolicy(ctx, orgID, store.PolicyTypeModelAccess)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("policy: load model_access: %w", err)
	}

	rules, err := p.ModelAccessRules()
	if err != nil {
		return fmt.Errorf("policy: decode model_access rules: %w", err)
	}
	for _, m := range rules.AllowedModels {
		if m == model {
			return nil
		}
	}
	return &gwerr.PolicyViolation{Reason: "model not approved"}
}

// CheckSpendCap enforces the org's enabled spend_limits policy against the
// ledger's spend for the current UTC calendar day.
//
// The check reads a point-in-time aggregate and is intentionally not
// serialized against concurrent writers: in-flight requests may jointly
// overshoot the cap by a bounded margin before the next check observes the
// updated sum. That is an accepted trade-off, not something to fix with
// locking.
func (e *Engine) CheckSpendCap(ctx context.Context, orgID string) error {
	p, err := e.store.GetPolicy(ctx, orgID, store.PolicyTypeSpendLimits)
	if err != nil {
		if store.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("policy: load spend_limits: %w", err)
	}

	rules, err := p.SpendLimitRules()
	if err != nil {
		return fmt.Errorf("policy: decode spend_limits rules: %w", err)
	}
	if rules.MaxDailySpend <= 0 {
		return nil
	}

	spent, err := e.store.DailySpend(ctx, orgID, e.now())
	if err != nil {
		return fmt.Errorf("policy: daily spend: %w", err)
	}

	if spent >= rules.MaxDailySpend {
		e.log.Warn("spend cap exceeded",
			slog.String("org_id", orgID),
			slog.Float64("spent", spent),
			slog.Float64("cap", rules.MaxDailySpend),
		)
		return &gwerr.PolicyViolation{Reason: "daily spend cap exceeded"}
	}
	return nil
}
