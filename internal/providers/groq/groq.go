// Package groq implements the providers.Adapter contract against Groq's
// OpenAI-compatible chat completions API.
package groq

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

const (
	providerName   = providers.ProviderGroq
	defaultBaseURL = "https://api.groq.com/openai/v1"
)

type Adapter struct {
	client openaiSDK.Client
}

// New creates a Groq adapter. baseURL overrides the endpoint (tests); empty
// means the Groq API.
func New(apiKey, baseURL string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{client: openaiSDK.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(&http.Client{Timeout: providers.DefaultTimeout}),
		option.WithMaxRetries(0),
	)}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	if _, err := a.client.Models.List(ctx); err != nil {
		return fmt.Errorf("groq: health check: %w", mapError(err))
	}
	return nil
}

func (a *Adapter) Invoke(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
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
		// Groq still uses the classic max_tokens field.
		params.MaxTokens = openaiSDK.Int(int64(req.MaxTokens))
	}

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

// ListModels serves the static price table.
func (a *Adapter) ListModels(ctx context.Context) ([]catalog.Entry, error) {
	entries := make([]catalog.Entry, 0, len(priceTable))
	for _, e := range priceTable {
		entries = append(entries, e)
	}
	return entries, nil
}

func toSDKMessage(role, content string) openaiSDK.ChatCompletionMessageParamUnion {
	switch strings.ToLower(role) {
	case "system", "developer":
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

// priceTable holds USD-per-1M-token pricing for the served Groq models.
var priceTable = map[string]catalog.Entry{
	"llama-3.3-70b-versatile": {
		ModelID: "llama-3.3-70b-versatile", Provider: providerName,
		InputPricePer1M: 0.59, OutputPricePer1M: 0.79, ContextWindow: 128000,
	},
	"llama-3.1-8b-instant": {
		ModelID: "llama-3.1-8b-instant", Provider: providerName,
		InputPricePer1M: 0.05, OutputPricePer1M: 0.08, ContextWindow: 128000,
	},
	"mixtral-8x7b-32768": {
		ModelID: "mixtral-8x7b-32768", Provider: providerName,
		InputPricePer1M: 0.24, OutputPricePer1M: 0.24, ContextWindow: 32768,
	},
	"gemma2-9b-it": {
		ModelID: "gemma2-9b-it", Provider: providerName,
		InputPricePer1M: 0.20, OutputPricePer1M: 0.20, ContextWindow: 8192,
	},
}
