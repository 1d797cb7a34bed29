// Package gateway is the request-routing core: it authenticates the caller,
// applies rate limits and governance policy, resolves the target model via
// routing policies and alias rules, invokes the upstream provider with
// bounded retries, and records usage to the ledger.
//
// Key design constraints:
//   - No blocking I/O beyond the store lookups and the upstream call itself;
//     usage recording is asynchronous and never delays the response.
//   - Rate limiter outages degrade open.
//   - Streaming responses are pass-through (SSE).
package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelgrid/gateway/internal/alias"
	"github.com/modelgrid/gateway/internal/auth"
	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/metrics"
	"github.com/modelgrid/gateway/internal/policy"
	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/internal/ratelimit"
	"github.com/modelgrid/gateway/internal/recorder"
	"github.com/modelgrid/gateway/internal/routing"
	"github.com/modelgrid/gateway/internal/store"
)

// Options holds optional tuning parameters for a Gateway. All fields have
// sensible defaults and can be omitted.
type Options struct {
	// Logger is the structured logger for request events. Defaults to
	// slog.Default when nil.
	Logger *slog.Logger

	// Metrics enables Prometheus metrics collection. When nil, metrics are
	// disabled.
	Metrics *metrics.Registry

	// DefaultRPM applies to keys without an explicit rate limit. Default: 60.
	DefaultRPM int

	// MaxRetries / RetryBackoff / ProviderTimeout configure the invoker.
	// Zero values use the invoker defaults.
	MaxRetries      int
	RetryBackoff    time.Duration
	ProviderTimeout time.Duration

	// CooldownWindow / CooldownThreshold configure the cooldown tracker.
	// Zero values use the tracker defaults.
	CooldownWindow    time.Duration
	CooldownThreshold int

	// ManagedProvider reports whether a provider runs on platform-owned
	// credentials (its usage gets the marked-up cost column). Nil means no
	// provider is managed.
	ManagedProvider func(provider string) bool
}

// Gateway is the main dispatcher — all dependencies are injected via the
// constructor so they can be replaced with doubles in unit tests.
type Gateway struct {
	store     *store.Store
	auth      *auth.Authenticator
	limiter   ratelimit.Store
	policy    *policy.Engine
	selector  *routing.Selector
	catalog   *catalog.Registry
	registry  *providers.Registry
	cooldown  *CooldownTracker
	invoker   *Invoker
	recorder  *recorder.Recorder
	health    *HealthChecker
	baseCtx   context.Context
	log       *slog.Logger
	metrics   *metrics.Registry

	defaultRPM      int
	managedProvider func(string) bool

	// CORS allowed origins. Empty or ["*"] means allow all.
	corsOrigins []string
}

// New creates a fully wired Gateway.
func New(
	baseCtx context.Context,
	st *store.Store,
	authn *auth.Authenticator,
	limiter ratelimit.Store,
	pol *policy.Engine,
	cat *catalog.Registry,
	reg *providers.Registry,
	rec *recorder.Recorder,
	opts Options,
) *Gateway {
	if baseCtx == nil {
		panic("gateway: context must not be nil")
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	defaultRPM := opts.DefaultRPM
	if defaultRPM < 1 {
		defaultRPM = 60
	}

	cooldown := NewCooldownTracker(opts.CooldownWindow, opts.CooldownThreshold)

	g := &Gateway{
		store:           st,
		auth:            authn,
		limiter:         limiter,
		policy:          pol,
		selector:        routing.NewSelector(cooldown, providers.ProviderForModel),
		catalog:         cat,
		registry:        reg,
		cooldown:        cooldown,
		invoker:         NewInvoker(reg, cooldown, log, opts.MaxRetries, opts.RetryBackoff, opts.ProviderTimeout),
		recorder:        rec,
		baseCtx:         baseCtx,
		log:             log,
		metrics:         opts.Metrics,
		defaultRPM:      defaultRPM,
		managedProvider: opts.ManagedProvider,
	}
	return g
}

// SetCORSOrigins configures the allowed CORS origins.
func (g *Gateway) SetCORSOrigins(origins []string) {
	g.corsOrigins = origins
}

// SetHealthChecker attaches the background health prober used by /health
// and /readiness.
func (g *Gateway) SetHealthChecker(hc *HealthChecker) {
	g.health = hc
}

// Cooldown exposes the tracker for metrics export and tests.
func (g *Gateway) Cooldown() *CooldownTracker { return g.cooldown }

// isManaged reports whether invocations through provider are marked up.
func (g *Gateway) isManaged(provider string) bool {
	return g.managedProvider != nil && g.managedProvider(provider)
}

// resolveTarget maps the requested model to a concrete (provider, model)
// pair. When the model field names one of the org's active routing policies
// the selector picks an upstream model per the policy strategy; otherwise
// the model is used directly. Either way the chosen name goes through alias
// resolution before provider lookup.
func (g *Gateway) resolveTarget(ctx context.Context, orgID, requested string) (provider, model, strategy, reason string, err error) {
	rp, lookupErr := g.store.GetRoutingPolicy(ctx, orgID, requested)
	switch {
	case lookupErr == nil:
		sel, selErr := g.selector.Select(rp)
		if selErr != nil {
			return "", "", "", "", selErr
		}
		model = sel.Entry.ModelID
		strategy = rp.Strategy
		reason = sel.Reason
	case store.IsNotFound(lookupErr):
		model = requested
	default:
		return "", "", "", "", lookupErr
	}

	model = alias.Resolve(model)
	provider = providers.ProviderForModel(model)
	return provider, model, strategy, reason, nil
}
