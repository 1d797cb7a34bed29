// Package anthropic implements the providers.Adapter contract against the
// Anthropic Messages API using the official SDK.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/providers"
)

const (
	providerName = providers.ProviderAnthropic

	// The Messages API requires max_tokens; used when the caller omits it.
	defaultMaxTokens = 4096
)

type Adapter struct {
	client anthropic.Client
}

// New creates an Anthropic adapter. baseURL overrides the API endpoint
// (tests); empty means the default.
func New(apiKey, baseURL string) *Adapter {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: providers.DefaultTimeout}),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Adapter{client: anthropic.NewClient(opts...)}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.List(ctx, anthropic.ModelListParams{
		Limit: anthropic.Int(1),
	})
	if err != nil {
		return fmt.Errorf("anthropic: health check: %w", mapError(err))
	}
	return nil
}

func (a *Adapter) Invoke(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	params := buildParams(req)
	if req.Stream {
		return a.invokeStreaming(ctx, params)
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, mapError(err)
	}

	var sb strings.Builder
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropic.TextBlock:
			sb.WriteString(v.Text)
		case *anthropic.TextBlock:
			sb.WriteString(v.Text)
		}
	}

	return &providers.InvokeResponse{
		ID:      msg.ID,
		Model:   string(msg.Model),
		Content: sb.String(),
		Usage: providers.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func (a *Adapter) invokeStreaming(ctx context.Context, params anthropic.MessageNewParams) (*providers.InvokeResponse, error) {
	ch := make(chan providers.StreamChunk, 64)
	stream := a.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(ch)
		for stream.Next() {
			ev := stream.Current()
			switch eventVariant := ev.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text != "" {
						ch <- providers.StreamChunk{Content: deltaVariant.Text}
					}
				case *anthropic.TextDelta:
					if deltaVariant.Text != "" {
						ch <- providers.StreamChunk{Content: deltaVariant.Text}
					}
				}
			case anthropic.MessageStopEvent:
				ch <- providers.StreamChunk{FinishReason: "stop"}
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

// ListModels serves the static price table. The Anthropic listing endpoint
// reports ids but no pricing, so the table is the source of truth.
func (a *Adapter) ListModels(ctx context.Context) ([]catalog.Entry, error) {
	entries := make([]catalog.Entry, 0, len(priceTable))
	for _, e := range priceTable {
		entries = append(entries, e)
	}
	return entries, nil
}

func buildParams(req *providers.InvokeRequest) anthropic.MessageNewParams {
	// Anthropic takes the system prompt as a top-level field, not a message.
	var systemPrompt string
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		default:
			msgs = append(msgs, toSDKMessage(m.Role, m.Content))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func toSDKMessage(role, content string) anthropic.MessageParam {
	anthRole := anthropic.MessageParamRoleUser
	if strings.ToLower(role) == "assistant" {
		anthRole = anthropic.MessageParamRoleAssistant
	}
	return anthropic.MessageParam{
		Role: anthRole,
		Content: []anthropic.ContentBlockParamUnion{
			{OfText: &anthropic.TextBlockParam{Text: content}},
		},
	}
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.MapStatus(providerName, apiErr.StatusCode, apiErr.Error())
	}
	return providers.MapTransportError(providerName, err)
}
