// Package metrics provides a Prometheus metrics registry for the gateway.
//
// All metrics are scoped to a private registry (not the global default) so
// they don't interfere with host-level metrics when embedded in other
// applications. The /metrics HTTP handler is exposed via Handler().
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Registry holds all exported metrics.
type Registry struct {
	reg *prometheus.Registry

	// gateway_inflight_requests
	inFlight prometheus.Gauge

	// gateway_http_requests_total{route,status}
	httpRequestsTotal *prometheus.CounterVec

	// gateway_http_request_duration_seconds{route}
	httpDuration *prometheus.HistogramVec

	// gateway_requests_total{provider,model,status}
	requestsTotal *prometheus.CounterVec

	// gateway_upstream_attempt_duration_seconds{provider,outcome}
	upstreamDuration *prometheus.HistogramVec

	// gateway_upstream_attempts_total{provider,outcome}
	upstreamAttempts *prometheus.CounterVec

	// gateway_routing_decisions_total{strategy,reason}
	routingDecisions *prometheus.CounterVec

	// gateway_policy_denials_total{reason}
	policyDenials *prometheus.CounterVec

	// gateway_ratelimit_total{result}
	rateLimitTotal *prometheus.CounterVec

	// gateway_auth_failures_total
	authFailures prometheus.Counter

	// gateway_cooling_pairs
	coolingPairs prometheus.Gauge

	// gateway_ledger_dropped_rows_total
	ledgerDropped prometheus.Counter

	// gateway_tokens_total{provider,model,direction}
	tokensTotal *prometheus.CounterVec

	// gateway_cost_usd_total{provider,model}
	costTotal *prometheus.CounterVec

	// gateway_provider_health{provider}
	providerHealth *prometheus.GaugeVec

	// gateway_catalog_models
	catalogModels prometheus.Gauge

	// gateway_build_info{version}
	buildInfo *prometheus.GaugeVec

	metricsHandler fasthttp.RequestHandler
}

func New() *Registry {
	reg := prometheus.NewRegistry()

	// Baseline runtime metrics even with a private registry.
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	r := &Registry{
		reg: reg,

		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Current number of in-flight HTTP requests handled by the gateway",
		}),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_http_requests_total",
				Help: "Total number of HTTP requests handled by the gateway",
			},
			[]string{"route", "status"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds (end-to-end, includes upstream)",
				Buckets: []float64{0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"route"},
		),

		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_requests_total",
				Help: "Completed invocations by provider, model, and outcome",
			},
			[]string{"provider", "model", "status"},
		),

		upstreamAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_upstream_attempts_total",
				Help: "Upstream invocation attempts (includes retries)",
			},
			[]string{"provider", "outcome"},
		),

		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gateway_upstream_attempt_duration_seconds",
				Help:    "Upstream invocation attempt duration in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "outcome"},
		),

		routingDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_routing_decisions_total",
				Help: "Routing strategy selections by strategy and decision reason",
			},
			[]string{"strategy", "reason"},
		),

		policyDenials: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_policy_denials_total",
				Help: "Requests denied by governance policy",
			},
			[]string{"reason"},
		),

		rateLimitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_ratelimit_total",
				Help: "Rate limit decisions",
			},
			[]string{"result"},
		),

		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_auth_failures_total",
			Help: "Requests rejected for missing, unknown, or revoked keys",
		}),

		coolingPairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_cooling_pairs",
			Help: "Number of (provider, model) pairs currently in cooldown",
		}),

		ledgerDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_ledger_dropped_rows_total",
			Help: "Usage ledger rows dropped because the write buffer was full or persistence failed",
		}),

		tokensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_tokens_total",
				Help: "Token usage totals derived from upstream usage fields",
			},
			[]string{"provider", "model", "direction"},
		),

		costTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_cost_usd_total",
				Help: "Accumulated upstream cost in USD",
			},
			[]string{"provider", "model"},
		),

		providerHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_provider_health",
				Help: "Provider health status (1=ok, 0=degraded)",
			},
			[]string{"provider"},
		),

		catalogModels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gateway_catalog_models",
			Help: "Number of models in the current catalog snapshot",
		}),

		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "gateway_build_info",
				Help: "Build information",
			},
			[]string{"version"},
		),
	}

	reg.MustRegister(
		r.inFlight,
		r.httpRequestsTotal,
		r.httpDuration,
		r.requestsTotal,
		r.upstreamAttempts,
		r.upstreamDuration,
		r.routingDecisions,
		r.policyDenials,
		r.rateLimitTotal,
		r.authFailures,
		r.coolingPairs,
		r.ledgerDropped,
		r.tokensTotal,
		r.costTotal,
		r.providerHealth,
		r.catalogModels,
		r.buildInfo,
	)

	h := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	r.metricsHandler = fasthttpadaptor.NewFastHTTPHandler(h)

	return r
}

func (r *Registry) IncInFlight() { r.inFlight.Inc() }
func (r *Registry) DecInFlight() { r.inFlight.Dec() }

// ObserveHTTP records end-to-end HTTP metrics.
func (r *Registry) ObserveHTTP(route string, statusCode int, dur time.Duration) {
	status := strconv.Itoa(statusCode)
	r.httpRequestsTotal.WithLabelValues(route, status).Inc()
	r.httpDuration.WithLabelValues(route).Observe(dur.Seconds())
}

// RecordRequest records one completed invocation.
func (r *Registry) RecordRequest(provider, model, status string) {
	r.requestsTotal.WithLabelValues(provider, model, status).Inc()
}

// ObserveUpstreamAttempt records one upstream attempt including retries.
func (r *Registry) ObserveUpstreamAttempt(provider, outcome string, dur time.Duration) {
	r.upstreamAttempts.WithLabelValues(provider, outcome).Inc()
	r.upstreamDuration.WithLabelValues(provider, outcome).Observe(dur.Seconds())
}

func (r *Registry) RecordRoutingDecision(strategy, reason string) {
	r.routingDecisions.WithLabelValues(strategy, reason).Inc()
}

func (r *Registry) RecordPolicyDenial(reason string) {
	r.policyDenials.WithLabelValues(reason).Inc()
}

func (r *Registry) RecordRateLimit(result string) {
	r.rateLimitTotal.WithLabelValues(result).Inc()
}

func (r *Registry) RecordAuthFailure() { r.authFailures.Inc() }

// SetCoolingPairs publishes the current cooldown gauge.
func (r *Registry) SetCoolingPairs(n int) {
	r.coolingPairs.Set(float64(n))
}

// AddLedgerDropped adds newly observed recorder drops to the counter.
func (r *Registry) AddLedgerDropped(n int64) {
	if n > 0 {
		r.ledgerDropped.Add(float64(n))
	}
}

func (r *Registry) AddTokens(provider, model string, inputTokens, outputTokens int) {
	if inputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	}
	if outputTokens > 0 {
		r.tokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
	}
}

func (r *Registry) AddCost(provider, model string, usd float64) {
	if usd > 0 {
		r.costTotal.WithLabelValues(provider, model).Add(usd)
	}
}

func (r *Registry) SetProviderHealth(provider string, ok bool) {
	if ok {
		r.providerHealth.WithLabelValues(provider).Set(1)
		return
	}
	r.providerHealth.WithLabelValues(provider).Set(0)
}

func (r *Registry) SetCatalogModels(n int) {
	r.catalogModels.Set(float64(n))
}

func (r *Registry) SetBuildInfo(version string) {
	// Gauge is used so the time series always exists.
	r.buildInfo.WithLabelValues(version).Set(1)
}

func (r *Registry) Handler() fasthttp.RequestHandler {
	return r.metricsHandler
}

func (r *Registry) PromRegistry() *prometheus.Registry { return r.reg }
