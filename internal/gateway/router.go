package gateway

import (
	"encoding/json"
	"time"

	"github.com/fasthttp/router"
	"github.com/valyala/fasthttp"
)

// RouteHandler is a fasthttp handler function.
type RouteHandler = fasthttp.RequestHandler

// ManagementRoutes holds optional management handler functions registered
// alongside the dispatch routes.
type ManagementRoutes struct {
	Metrics RouteHandler
}

// Handler builds the full fasthttp handler: routes plus middleware chain.
// Pass nil for mgmt to skip the management routes.
func (g *Gateway) Handler(mgmt *ManagementRoutes) fasthttp.RequestHandler {
	r := router.New()

	r.POST("/v1/chat/completions", g.dispatchChat)
	r.POST("/v1/completions", g.dispatchChat)
	r.POST("/v1/embeddings", g.dispatchEmbeddings)
	r.GET("/v1/models", g.handleModels)
	r.GET("/health", g.handleHealth)
	r.GET("/readiness", g.handleReadiness)

	if mgmt != nil && mgmt.Metrics != nil {
		r.GET("/metrics", mgmt.Metrics)
	}

	return applyMiddleware(r.Handler,
		recovery(g.log),
		requestID,
		timing,
		corsHandler(g.corsOrigins),
		securityHeaders,
	)
}

// Start starts the HTTP server on addr (e.g. ":8080").
func (g *Gateway) Start(addr string, mgmt *ManagementRoutes) error {
	srv := &fasthttp.Server{
		Handler:      g.Handler(mgmt),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv.ListenAndServe(addr)
}

// handleModels serves the current catalog snapshot in the OpenAI list shape.
// Requires a valid key — the catalog reveals the configured upstream surface.
func (g *Gateway) handleModels(ctx *fasthttp.RequestCtx) {
	if g.authenticate(ctx) == nil {
		return
	}

	entries := g.catalog.List()
	data := make([]map[string]any, len(entries))
	for i, e := range entries {
		data[i] = map[string]any{
			"id":       e.ModelID,
			"object":   "model",
			"owned_by": e.Provider,
		}
	}
	writeJSON(ctx, map[string]any{"object": "list", "data": data})
}

func (g *Gateway) handleHealth(ctx *fasthttp.RequestCtx) {
	if g.health == nil {
		writeJSON(ctx, map[string]any{"status": "ok"})
		return
	}
	writeJSON(ctx, g.health.Snapshot())
}

func (g *Gateway) handleReadiness(ctx *fasthttp.RequestCtx) {
	if g.health == nil || g.health.ReadinessOK() {
		writeJSON(ctx, map[string]string{"status": "ok"})
		return
	}
	ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	writeJSON(ctx, map[string]string{"status": "unavailable"})
}

func writeJSON(ctx *fasthttp.RequestCtx, v any) {
	ctx.SetContentType("application/json")
	data, _ := json.Marshal(v)
	ctx.SetBody(data)
}
