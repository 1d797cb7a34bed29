// Package openai implements the providers.Adapter contract against the
// OpenAI platform API using the official SDK.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openaiSDK "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/providers"
)

const providerName = providers.ProviderOpenAI

type Adapter struct {
	client openaiSDK.Client
}

// New creates an OpenAI adapter. baseURL overrides the platform endpoint
// (used by tests and by OpenAI-compatible gateways); empty means the default.
func New(apiKey, baseURL string) *Adapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: providers.DefaultTimeout}),
		// Retry policy lives in the invocation layer, not the SDK.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Adapter{client: openaiSDK.NewClient(opts...)}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx); err != nil {
		return fmt.Errorf("openai: health check: %w", mapError(err))
	}
	return nil
}

func (a *Adapter) Invoke(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	params := buildParams(req)
	if req.Stream {
		return a.invokeStreaming(ctx, params)
	}

	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}
	return &providers.InvokeResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: content,
		Usage: providers.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (a *Adapter) invokeStreaming(ctx context.Context, params openaiSDK.ChatCompletionNewParams) (*providers.InvokeResponse, error) {
	ch := make(chan providers.StreamChunk, 64)
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(ch)
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			c := chunk.Choices[0]
			if c.Delta.Content != "" || c.FinishReason != "" {
				ch <- providers.StreamChunk{
					Content:      c.Delta.Content,
					FinishReason: c.FinishReason,
				}
			}
		}
		if err := stream.Err(); err != nil {
			ch <- providers.StreamChunk{
				Content:      fmt.Sprintf("[stream error] %v", err),
				FinishReason: "error",
			}
		}
	}()

	return &providers.InvokeResponse{Stream: ch}, nil
}

// ListModels intersects the platform's model listing with the static price
// table, so the catalog only carries models the gateway can cost.
func (a *Adapter) ListModels(ctx context.Context) ([]catalog.Entry, error) {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	var entries []catalog.Entry
	for _, m := range page.Data {
		if e, ok := priceTable[m.ID]; ok {
			entries = append(entries, e)
		}
	}
	if len(entries) == 0 {
		// Listing succeeded but nothing matched the price table: serve the
		// full table rather than blanking the catalog.
		for _, e := range priceTable {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Embed implements providers.Embedder.
func (a *Adapter) Embed(ctx context.Context, req *providers.EmbedRequest) (*providers.EmbedResponse, error) {
	params := openaiSDK.EmbeddingNewParams{
		Model: openaiSDK.EmbeddingModel(req.Model),
		Input: openaiSDK.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: req.Input,
		},
	}

	resp, err := a.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	data := make([]providers.EmbedVector, len(resp.Data))
	for i, d := range resp.Data {
		f32 := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			f32[j] = float32(v)
		}
		data[i] = providers.EmbedVector{Index: int(d.Index), Embedding: f32}
	}

	return &providers.EmbedResponse{
		Model: resp.Model,
		Data:  data,
		Usage: providers.Usage{InputTokens: int(resp.Usage.PromptTokens)},
	}, nil
}

func buildParams(req *providers.InvokeRequest) openaiSDK.ChatCompletionNewParams {
	msgs := make([]openaiSDK.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, toSDKMessage(m.Role, m.Content))
	}

	params := openaiSDK.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.Temperature != 0 {
		params.Temperature = openaiSDK.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openaiSDK.Int(int64(req.MaxTokens))
	}
	return params
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "developer":
		return openaiSDK.DeveloperMessage(content)
	case "system":
		return openaiSDK.SystemMessage(content)
	case "assistant":
		return openaiSDK.AssistantMessage(content)
	default:
		return openaiSDK.UserMessage(content)
	}
}

func mapError(err error) error {
	var apiErr *openaiSDK.Error
	if errors.As(err, &apiErr) {
		return providers.MapStatus(providerName, apiErr.StatusCode, apiErr.Error())
	}
	return providers.MapTransportError(providerName, err)
}
