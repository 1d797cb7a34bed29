package gateway

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/internal/recorder"
	"github.com/modelgrid/gateway/internal/store"
	"github.com/modelgrid/gateway/pkg/apierr"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

type (
	inboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	inboundRequest struct {
		Model       string           `json:"model"`
		Messages    []inboundMessage `json:"messages"`
		Stream      bool             `json:"stream"`
		Temperature float64          `json:"temperature"`
		MaxTokens   int              `json:"max_tokens"`
	}

	outboundUsage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	}

	outboundMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}

	outboundChoice struct {
		Index        int             `json:"index"`
		Message      outboundMessage `json:"message"`
		FinishReason string          `json:"finish_reason"`
	}

	outboundResponse struct {
		ID      string           `json:"id"`
		Object  string           `json:"object"`
		Created int64            `json:"created"`
		Model   string           `json:"model"`
		Choices []outboundChoice `json:"choices"`
		Usage   outboundUsage    `json:"usage"`
	}
)

// authenticate runs the bearer-token check. On failure it writes the 401
// itself and returns nil.
func (g *Gateway) authenticate(ctx *fasthttp.RequestCtx) *store.GatewayKey {
	token := parseBearerToken(strings.TrimSpace(string(ctx.Request.Header.Peek("Authorization"))))
	key, err := g.auth.Authenticate(ctx, token)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordAuthFailure()
		}
		apierr.WriteFromError(ctx, err)
		return nil
	}
	return key
}

// checkRateLimit enforces the key's RPM window. Limiter backend errors
// degrade open. On rejection it writes the 429 itself and returns false.
func (g *Gateway) checkRateLimit(ctx *fasthttp.RequestCtx, key *store.GatewayKey, reqID string) bool {
	limit := key.RateLimit
	if limit <= 0 {
		limit = g.defaultRPM
	}

	dec, err := g.limiter.Allow(ctx, key.ID, limit)
	if err != nil {
		if g.metrics != nil {
			g.metrics.RecordRateLimit("error")
		}
		g.log.WarnContext(ctx, "rate limiter unavailable, allowing request",
			slog.String("request_id", reqID),
			slog.String("error", err.Error()),
		)
		return true
	}
	if !dec.Allowed {
		if g.metrics != nil {
			g.metrics.RecordRateLimit("blocked")
		}
		g.log.WarnContext(ctx, "rate_limit_exceeded",
			slog.String("request_id", reqID),
			slog.String("key_id", key.ID),
		)
		apierr.WriteRateLimit(ctx, int(dec.RetryAfter.Seconds()))
		return false
	}
	if g.metrics != nil {
		g.metrics.RecordRateLimit("allowed")
	}
	return true
}

// checkPolicy runs the governance checks for the requested model. On
// violation it writes the 403 itself and returns false.
func (g *Gateway) checkPolicy(ctx *fasthttp.RequestCtx, key *store.GatewayKey, model, reqID string) bool {
	err := g.policy.CheckModelAllowed(key, model)
	if err == nil {
		err = g.policy.CheckModelAccess(ctx, key.OrgID, model)
	}
	if err == nil {
		err = g.policy.CheckSpendCap(ctx, key.OrgID)
	}
	if err == nil {
		return true
	}

	var pv *gwerr.PolicyViolation
	if errors.As(err, &pv) && g.metrics != nil {
		g.metrics.RecordPolicyDenial(pv.Reason)
	}
	g.log.InfoContext(ctx, "policy_denied",
		slog.String("request_id", reqID),
		slog.String("key_id", key.ID),
		slog.String("model", model),
		slog.String("error", err.Error()),
	)
	apierr.WriteFromError(ctx, err)
	return false
}

// dispatchChat is the core handler for /v1/chat/completions and /v1/completions.
func (g *Gateway) dispatchChat(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "chat_completions"
	if string(ctx.Path()) == "/v1/completions" {
		route = "completions"
	}
	streaming := false

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil || streaming {
			return // streaming is finalised by the stream writer
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	// 1. Parse request body.
	var req inboundRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteValidation(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if req.Model == "" {
		apierr.WriteValidation(ctx, "field 'model' is required")
		return
	}
	if len(req.Messages) == 0 {
		apierr.WriteValidation(ctx, "field 'messages' is required")
		return
	}

	// 2. Authenticate.
	key := g.authenticate(ctx)
	if key == nil {
		return
	}

	// 3. Rate limit.
	if !g.checkRateLimit(ctx, key, reqID) {
		return
	}

	// 4. Governance policy.
	if !g.checkPolicy(ctx, key, req.Model, reqID) {
		return
	}

	// 5. Resolve the target (provider, model) — routing policy or direct.
	provider, model, strategy, reason, err := g.resolveTarget(ctx, key.OrgID, req.Model)
	if err != nil {
		apierr.WriteFromError(ctx, err)
		return
	}
	if strategy != "" && g.metrics != nil {
		g.metrics.RecordRoutingDecision(strategy, reason)
	}
	if !g.registry.Has(provider) {
		apierr.WriteValidation(ctx, fmt.Sprintf("no upstream configured for provider %q", provider))
		return
	}

	g.log.InfoContext(ctx, "request",
		slog.String("request_id", reqID),
		slog.String("org_id", key.OrgID),
		slog.String("model_requested", req.Model),
		slog.String("model_used", model),
		slog.String("provider", provider),
		slog.Bool("stream", req.Stream),
	)

	// 6. Invoke upstream (retries and cooldown accounting inside).
	msgs := make([]providers.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = providers.Message{Role: m.Role, Content: m.Content}
	}

	invReq := &providers.InvokeRequest{
		Model:       model,
		Messages:    msgs,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		RequestID:   reqID,
	}

	resp, err := g.invoker.Invoke(ctx, provider, invReq)
	if err != nil {
		g.log.ErrorContext(ctx, "provider_error",
			slog.String("request_id", reqID),
			slog.String("provider", provider),
			slog.String("model", model),
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		g.recordInvocation(key, req.Model, model, provider, 0, 0, time.Since(start), err)
		if g.metrics != nil {
			g.metrics.RecordRequest(provider, model, store.StatusError)
		}
		apierr.WriteFromError(ctx, err)
		return
	}

	// 7a. Streaming — SSE pass-through. Upstreams rarely report usage on
	// streamed responses, so both sides of the ledger row are estimated:
	// input from the request messages, output from the drained stream.
	if req.Stream && resp.Stream != nil {
		streaming = true
		inTokens := resp.Usage.InputTokens
		if inTokens == 0 {
			chars := 0
			for _, m := range req.Messages {
				chars += len(m.Content)
			}
			inTokens = estimateTokens(chars)
		}
		g.writeSSE(ctx, resp, func(outputTokens int) {
			dur := time.Since(start)
			g.recordInvocation(key, req.Model, resp.Model, provider, inTokens, outputTokens, dur, nil)
			if g.metrics != nil {
				g.metrics.DecInFlight()
				g.metrics.ObserveHTTP(route, fasthttp.StatusOK, dur)
				g.metrics.RecordRequest(provider, resp.Model, store.StatusSuccess)
				g.metrics.AddTokens(provider, resp.Model, inTokens, outputTokens)
			}
		})
		return
	}

	// 7b. Non-streaming — OpenAI-compatible envelope.
	out := outboundResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   resp.Model,
		Choices: []outboundChoice{
			{
				Index:        0,
				Message:      outboundMessage{Role: "assistant", Content: resp.Content},
				FinishReason: "stop",
			},
		},
		Usage: outboundUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	g.recordInvocation(key, req.Model, resp.Model, provider,
		resp.Usage.InputTokens, resp.Usage.OutputTokens, time.Since(start), nil)
	if g.metrics != nil {
		g.metrics.RecordRequest(provider, resp.Model, store.StatusSuccess)
		g.metrics.AddTokens(provider, resp.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
		if entry, ok := g.catalog.Lookup(resp.Model); ok {
			g.metrics.AddCost(provider, resp.Model, entry.Cost(resp.Usage.InputTokens, resp.Usage.OutputTokens))
		}
	}

	g.log.DebugContext(ctx, "response_ok",
		slog.String("request_id", reqID),
		slog.String("provider", provider),
		slog.String("model", resp.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.Duration("elapsed", time.Since(start)),
	)

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}

// recordInvocation enqueues one ledger row for a completed invocation
// attempt. invErr nil means success. Never blocks.
func (g *Gateway) recordInvocation(
	key *store.GatewayKey,
	requested, used, provider string,
	inputTokens, outputTokens int,
	latency time.Duration,
	invErr error,
) {
	if g.recorder == nil {
		return
	}

	inv := recorder.Invocation{
		OrgID:              key.OrgID,
		KeyID:              key.ID,
		ModelRequested:     requested,
		ModelUsed:          used,
		Provider:           provider,
		Status:             store.StatusSuccess,
		InputTokens:        inputTokens,
		OutputTokens:       outputTokens,
		LatencyMs:          latency.Milliseconds(),
		ManagedCredentials: g.isManaged(provider),
	}
	if invErr != nil {
		inv.Status = store.StatusError
		inv.ErrorMessage = invErr.Error()
	}
	g.recorder.Record(inv)

	if g.metrics != nil {
		g.metrics.SetCoolingPairs(len(g.cooldown.CoolingPairs()))
	}
}

// writeSSE streams response chunks as Server-Sent Events. onComplete fires
// once the stream drains with an estimated output token count (≈ chars/4),
// enabling async recording for streaming requests.
func (g *Gateway) writeSSE(ctx *fasthttp.RequestCtx, resp *providers.InvokeResponse, onComplete func(outputTokens int)) {
	ctx.SetContentType("text/event-stream")
	ctx.Response.Header.Set("Cache-Control", "no-cache")
	ctx.Response.Header.Set("Connection", "keep-alive")
	ctx.SetStatusCode(fasthttp.StatusOK)

	ctx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() { recover() }() //nolint:errcheck // panic recovery in stream writer

		var sb strings.Builder
		for chunk := range resp.Stream {
			sb.WriteString(chunk.Content)

			delta := map[string]any{
				"id":      "chatcmpl-stream",
				"object":  "chat.completion.chunk",
				"created": time.Now().Unix(),
				"model":   resp.Model,
				"choices": []map[string]any{
					{
						"index": 0,
						"delta": map[string]string{"content": chunk.Content},
						"finish_reason": func() any {
							if chunk.FinishReason != "" {
								return chunk.FinishReason
							}
							return nil
						}(),
					},
				},
			}
			data, _ := json.Marshal(delta)
			fmt.Fprintf(w, "data: %s\n\n", data)
			w.Flush() //nolint:errcheck
		}

		fmt.Fprint(w, "data: [DONE]\n\n")
		w.Flush() //nolint:errcheck

		if onComplete != nil {
			onComplete(estimateTokens(sb.Len()))
		}
	})
}

// estimateTokens approximates a token count from a character count, ~4 chars
// per token, never less than one.
func estimateTokens(chars int) int {
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

func parseBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
