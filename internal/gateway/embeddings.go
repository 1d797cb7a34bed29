package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/modelgrid/gateway/internal/alias"
	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/internal/store"
	"github.com/modelgrid/gateway/pkg/apierr"
)

type (
	// inboundEmbeddingRequest mirrors the OpenAI POST /v1/embeddings body.
	// The "input" field accepts a string or array of strings; we normalise
	// to []string via parseEmbeddingInput.
	inboundEmbeddingRequest struct {
		Model          string          `json:"model"`
		Input          json.RawMessage `json:"input"`
		EncodingFormat string          `json:"encoding_format"`
	}

	outboundEmbeddingData struct {
		Object    string    `json:"object"`
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}

	outboundEmbeddingUsage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	}

	outboundEmbeddingResponse struct {
		Object string                  `json:"object"`
		Data   []outboundEmbeddingData `json:"data"`
		Model  string                  `json:"model"`
		Usage  outboundEmbeddingUsage  `json:"usage"`
	}
)

// parseEmbeddingInput converts the raw JSON "input" field into []string.
// The OpenAI API accepts either a bare string or an array of strings.
func parseEmbeddingInput(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("'input' is required")
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		if len(arr) == 0 {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return arr, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil, fmt.Errorf("'input' must not be empty")
		}
		return []string{s}, nil
	}
	return nil, fmt.Errorf("'input' must be a string or array of strings")
}

// dispatchEmbeddings handles POST /v1/embeddings. Embeddings never go through
// routing policies; the model is used directly after alias resolution.
func (g *Gateway) dispatchEmbeddings(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	route := "embeddings"

	if g.metrics != nil {
		g.metrics.IncInFlight()
	}
	defer func() {
		if g.metrics == nil {
			return
		}
		g.metrics.DecInFlight()
		g.metrics.ObserveHTTP(route, ctx.Response.StatusCode(), time.Since(start))
	}()

	reqID, _ := ctx.UserValue("request_id").(string)

	var req inboundEmbeddingRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		apierr.WriteValidation(ctx, fmt.Sprintf("invalid JSON: %s", err.Error()))
		return
	}
	if req.Model == "" {
		apierr.WriteValidation(ctx, "field 'model' is required")
		return
	}
	inputs, err := parseEmbeddingInput(req.Input)
	if err != nil {
		apierr.WriteValidation(ctx, err.Error())
		return
	}

	key := g.authenticate(ctx)
	if key == nil {
		return
	}
	if !g.checkRateLimit(ctx, key, reqID) {
		return
	}
	if !g.checkPolicy(ctx, key, req.Model, reqID) {
		return
	}

	model := alias.Resolve(req.Model)
	provider := providers.ProviderForModel(model)

	adapter, err := g.registry.Get(provider)
	if err != nil {
		apierr.WriteValidation(ctx, fmt.Sprintf("no upstream configured for provider %q", provider))
		return
	}
	embedder, ok := adapter.(providers.Embedder)
	if !ok {
		apierr.WriteValidation(ctx, fmt.Sprintf("provider %q does not support embeddings", provider))
		return
	}

	g.log.InfoContext(ctx, "embedding_request",
		slog.String("request_id", reqID),
		slog.String("org_id", key.OrgID),
		slog.String("model", model),
		slog.String("provider", provider),
		slog.Int("inputs", len(inputs)),
	)

	embResp, err := embedder.Embed(ctx, &providers.EmbedRequest{
		Model:     model,
		Input:     inputs,
		RequestID: reqID,
	})
	if err != nil {
		g.log.ErrorContext(ctx, "embedding_error",
			slog.String("request_id", reqID),
			slog.String("provider", provider),
			slog.String("error", err.Error()),
		)
		g.recordInvocation(key, req.Model, model, provider, 0, 0, time.Since(start), err)
		if g.metrics != nil {
			g.metrics.RecordRequest(provider, model, store.StatusError)
		}
		apierr.WriteFromError(ctx, err)
		return
	}

	outData := make([]outboundEmbeddingData, len(embResp.Data))
	for i, d := range embResp.Data {
		outData[i] = outboundEmbeddingData{
			Object:    "embedding",
			Index:     d.Index,
			Embedding: d.Embedding,
		}
	}
	out := outboundEmbeddingResponse{
		Object: "list",
		Data:   outData,
		Model:  embResp.Model,
		Usage: outboundEmbeddingUsage{
			PromptTokens: embResp.Usage.InputTokens,
			TotalTokens:  embResp.Usage.InputTokens,
		},
	}

	body, err := json.Marshal(out)
	if err != nil {
		apierr.Write(ctx, fasthttp.StatusInternalServerError,
			"failed to serialize response", apierr.TypeServerError, apierr.CodeInternalError)
		return
	}

	g.recordInvocation(key, req.Model, embResp.Model, provider,
		embResp.Usage.InputTokens, 0, time.Since(start), nil)
	if g.metrics != nil {
		g.metrics.RecordRequest(provider, embResp.Model, store.StatusSuccess)
		g.metrics.AddTokens(provider, embResp.Model, embResp.Usage.InputTokens, 0)
	}

	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetContentType("application/json")
	ctx.SetBody(body)
}
