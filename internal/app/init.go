package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/modelgrid/gateway/internal/auth"
	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/gateway"
	"github.com/modelgrid/gateway/internal/metrics"
	"github.com/modelgrid/gateway/internal/policy"
	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/internal/providers/anthropic"
	"github.com/modelgrid/gateway/internal/providers/azure"
	"github.com/modelgrid/gateway/internal/providers/bedrock"
	"github.com/modelgrid/gateway/internal/providers/groq"
	"github.com/modelgrid/gateway/internal/providers/openai"
	"github.com/modelgrid/gateway/internal/providers/vertex"
	"github.com/modelgrid/gateway/internal/ratelimit"
	"github.com/modelgrid/gateway/internal/recorder"
	"github.com/modelgrid/gateway/internal/store"
)

// initInfra opens external connections: the relational store always, Redis
// only when the limiter runs in redis mode, ClickHouse only when an analytics
// address is configured.
func (a *App) initInfra(ctx context.Context) error {
	db, err := store.Open(a.cfg.Database.Driver, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.db = db
	a.log.Info("store connected", slog.String("driver", a.cfg.Database.Driver))

	if a.cfg.RateLimit.Mode == "redis" {
		rdb, err := connectRedis(ctx, a.cfg.Redis.URL)
		if err != nil {
			return err
		}
		a.rdb = rdb
		a.log.Info("redis connected", slog.String("url", redactURL(a.cfg.Redis.URL)))
	}

	if a.cfg.Analytics.Addr != "" {
		sink, err := recorder.NewClickHouseSink(ctx,
			a.cfg.Analytics.Addr,
			a.cfg.Analytics.Database,
			a.cfg.Analytics.Username,
			a.cfg.Analytics.Password,
			a.log)
		if err != nil {
			return fmt.Errorf("connect clickhouse: %w", err)
		}
		a.sink = sink
		a.log.Info("clickhouse mirror enabled", slog.String("addr", a.cfg.Analytics.Addr))
	}

	return nil
}

// initProviders builds an adapter per configured credential and registers it.
// Config validation already guaranteed at least one credential is present.
func (a *App) initProviders(ctx context.Context) error {
	reg := providers.NewRegistry()

	if a.cfg.OpenAI.APIKey != "" {
		reg.Register(openai.New(a.cfg.OpenAI.APIKey, a.cfg.OpenAI.BaseURL))
	}
	if a.cfg.Anthropic.APIKey != "" {
		reg.Register(anthropic.New(a.cfg.Anthropic.APIKey, a.cfg.Anthropic.BaseURL))
	}
	if a.cfg.Groq.APIKey != "" {
		reg.Register(groq.New(a.cfg.Groq.APIKey, a.cfg.Groq.BaseURL))
	}
	if a.cfg.Azure.Endpoint != "" && a.cfg.Azure.APIKey != "" {
		reg.Register(azure.New(a.cfg.Azure.Endpoint, a.cfg.Azure.APIKey, a.cfg.Azure.APIVersion))
	}
	if a.cfg.Bedrock.AccessKey != "" && a.cfg.Bedrock.SecretKey != "" {
		opts := []bedrock.Option{}
		if a.cfg.Bedrock.SessionToken != "" {
			opts = append(opts, bedrock.WithSessionToken(a.cfg.Bedrock.SessionToken))
		}
		if a.cfg.Bedrock.EndpointURL != "" {
			opts = append(opts, bedrock.WithEndpointURL(a.cfg.Bedrock.EndpointURL))
		}
		reg.Register(bedrock.New(a.cfg.Bedrock.AccessKey, a.cfg.Bedrock.SecretKey, a.cfg.Bedrock.Region, opts...))
	}
	if a.cfg.Vertex.Project != "" {
		opts := []vertex.Option{}
		if a.cfg.Vertex.Location != "" {
			opts = append(opts, vertex.WithLocation(a.cfg.Vertex.Location))
		}
		ad, err := vertex.New(ctx, a.cfg.Vertex.Project, opts...)
		if err != nil {
			return fmt.Errorf("vertex adapter: %w", err)
		}
		reg.Register(ad)
	}

	names := reg.Names()
	if len(names) == 0 {
		return fmt.Errorf("no provider configured")
	}
	a.registry = reg
	a.log.Info("providers registered", slog.String("providers", strings.Join(names, ",")))
	return nil
}

// initServices builds the observability registry, the model catalog, the
// usage recorder, and the rate-limiter backend.
func (a *App) initServices(ctx context.Context) error {
	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	sources := make([]catalog.Source, 0, len(a.registry.All()))
	for _, ad := range a.registry.All() {
		sources = append(sources, ad)
	}
	a.catalog = catalog.NewRegistry(sources, a.log)
	if err := a.catalog.Refresh(ctx); err != nil {
		// A provider listing failure must not block startup; the refresh
		// loop retries and static pricing tables still resolve.
		a.log.Warn("initial catalog refresh incomplete", slog.String("error", err.Error()))
	}
	a.prom.SetCatalogModels(len(a.catalog.List()))

	var sink recorder.AnalyticsSink
	if a.sink != nil {
		sink = a.sink
	}
	a.recorder = recorder.New(a.baseCtx, a.db, a.catalog, sink, a.cfg.Billing.MarkupRate, a.log)

	switch a.cfg.RateLimit.Mode {
	case "redis":
		a.limiter = ratelimit.NewRedisStore(a.rdb)
	default:
		mem := ratelimit.NewMemoryStore(a.baseCtx)
		a.memLim = mem
		a.limiter = mem
	}
	a.log.Info("rate limiter ready",
		slog.String("mode", a.cfg.RateLimit.Mode),
		slog.Int("default_rpm", a.cfg.RateLimit.DefaultRPM))

	return nil
}

// initGateway wires the dispatcher, its HTTP surface, and the health checker.
func (a *App) initGateway(ctx context.Context) error {
	authn := auth.New(a.db, a.cfg.KeyPrefix)
	pol := policy.New(a.db, a.log)

	a.gw = gateway.New(a.baseCtx, a.db, authn, a.limiter, pol, a.catalog, a.registry, a.recorder, gateway.Options{
		Logger:            a.log,
		Metrics:           a.prom,
		DefaultRPM:        a.cfg.RateLimit.DefaultRPM,
		MaxRetries:        a.cfg.Upstream.MaxRetries,
		RetryBackoff:      a.cfg.Upstream.RetryBackoff,
		ProviderTimeout:   a.cfg.Upstream.ProviderTimeout,
		CooldownWindow:    a.cfg.Upstream.CooldownWindow,
		CooldownThreshold: a.cfg.Upstream.CooldownThreshold,
		ManagedProvider:   a.cfg.IsManagedProvider,
	})
	a.gw.SetCORSOrigins(a.cfg.CORSOrigins)

	a.hc = gateway.NewHealthChecker(a.baseCtx, a.registry, a.db.Ping, a.limiterReady(), a.prom)
	a.gw.SetHealthChecker(a.hc)

	a.mgmt = &gateway.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}
	return nil
}

// limiterReady returns a probe for the limiter backend, or nil when the
// in-process limiter is in use (it cannot fail).
func (a *App) limiterReady() func() bool {
	if a.rdb == nil {
		return nil
	}
	rdb := a.rdb
	return func() bool {
		ctx, cancel := context.WithTimeout(a.baseCtx, 2*time.Second)
		defer cancel()
		return rdb.Ping(ctx).Err() == nil
	}
}
