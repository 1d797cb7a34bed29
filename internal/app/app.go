// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initInfra     — external connections (database, Redis, ClickHouse)
//  2. initProviders — upstream provider adapters
//  3. initServices  — metrics, catalog, recorder, rate limiter
//  4. initGateway   — the request dispatcher and HTTP surface
//
// Shutdown runs in reverse.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/config"
	"github.com/modelgrid/gateway/internal/gateway"
	"github.com/modelgrid/gateway/internal/metrics"
	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/internal/ratelimit"
	"github.com/modelgrid/gateway/internal/recorder"
	"github.com/modelgrid/gateway/internal/store"
)

// App owns every long-lived subsystem and coordinates startup and shutdown.
type App struct {
	cfg     *config.Config
	log     *slog.Logger
	baseCtx context.Context
	version string

	db      *store.Store
	rdb     *redis.Client
	sink    *recorder.ClickHouseSink
	limiter ratelimit.Store
	memLim  *ratelimit.MemoryStore

	registry *providers.Registry
	catalog  *catalog.Registry
	recorder *recorder.Recorder
	prom     *metrics.Registry

	gw   *gateway.Gateway
	hc   *gateway.HealthChecker
	mgmt *gateway.ManagementRoutes
}

// New builds the application. Every init step either fully succeeds or the
// whole startup aborts; nothing is left half-connected.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	a := &App{
		cfg:     cfg,
		log:     log,
		baseCtx: ctx,
		version: version,
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"infra", a.initInfra},
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, step := range steps {
		start := time.Now()
		if err := step.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("init %s: %w", step.name, err)
		}
		log.Debug("init step complete",
			slog.String("step", step.name),
			slog.Duration("took", time.Since(start)))
	}

	return a, nil
}

// Run starts the HTTP server and the background loops, then blocks until the
// context is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	addr := fmt.Sprintf(":%d", a.cfg.Port)

	g.Go(func() error {
		a.log.Info("gateway listening",
			slog.String("addr", addr),
			slog.String("version", a.version))
		return a.gw.Start(addr, a.mgmt)
	})

	g.Go(func() error {
		<-ctx.Done()
		a.log.Info("shutting down")
		a.Close()
		return ctx.Err()
	})

	if iv := a.cfg.Catalog.RefreshInterval; iv > 0 {
		g.Go(func() error {
			a.refreshCatalogLoop(ctx, iv)
			return nil
		})
	}

	g.Go(func() error {
		a.syncMetricsLoop(ctx)
		return nil
	})

	return g.Wait()
}

// refreshCatalogLoop re-fetches provider model listings on a fixed interval.
func (a *App) refreshCatalogLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.catalog.Refresh(ctx); err != nil {
				a.log.Warn("catalog refresh failed", slog.String("error", err.Error()))
			}
			a.prom.SetCatalogModels(len(a.catalog.List()))
		}
	}
}

// syncMetricsLoop publishes counters that subsystems only expose by polling.
func (a *App) syncMetricsLoop(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var lastDropped int64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d := a.recorder.Dropped(); d > lastDropped {
				a.prom.AddLedgerDropped(d - lastDropped)
				lastDropped = d
			}
			a.prom.SetCoolingPairs(len(a.gw.Cooldown().CoolingPairs()))
		}
	}
}

// Close tears subsystems down in reverse init order. Safe on a partially
// initialized App: every field is nil-checked.
func (a *App) Close() {
	if a.hc != nil {
		a.hc.Close()
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			a.log.Warn("recorder close", slog.String("error", err.Error()))
		}
	}
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.log.Warn("clickhouse close", slog.String("error", err.Error()))
		}
	}
	if a.memLim != nil {
		a.memLim.Close()
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn("redis close", slog.String("error", err.Error()))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("store close", slog.String("error", err.Error()))
		}
	}
}

// connectRedis dials and pings Redis so a bad URL fails startup instead of
// the first rate-limited request.
func connectRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// redactURL strips credentials from a connection URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}
