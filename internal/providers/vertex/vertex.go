// Package vertex implements the providers.Adapter contract for Google Vertex
// AI through the google.golang.org/genai SDK, authenticating with Application
// Default Credentials (service account key file or workload identity) rather
// than an API key.
//
// Model routing: ids with the "vertex-" prefix have it stripped before the
// SDK call ("vertex-gemini-2.0-flash" -> "gemini-2.0-flash").
package vertex

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/providers"
)

const (
	providerName    = providers.ProviderVertex
	defaultLocation = "us-central1"
)

// Adapter implements providers.Adapter for Google Vertex AI.
type Adapter struct {
	project  string
	location string
	client   *genai.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLocation overrides the default Vertex AI region.
func WithLocation(loc string) Option {
	return func(a *Adapter) { a.location = loc }
}

// New creates a Vertex AI adapter. Auth resolves via Application Default
// Credentials.
func New(ctx context.Context, project string, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		project:  project,
		location: defaultLocation,
	}
	for _, o := range opts {
		o(a)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  a.project,
		Location: a.location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex: create client: %w", err)
	}
	a.client = client
	return a, nil
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1})
	if err != nil {
		return fmt.Errorf("vertex: health check: %w", mapError(err))
	}
	return nil
}

func (a *Adapter) Invoke(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	model := modelName(req.Model)
	contents, cfg := buildContentsAndConfig(req)

	if req.Stream {
		return a.invokeStreaming(ctx, model, contents, cfg), nil
	}

	resp, err := a.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, mapError(err)
	}

	out := ""
	id := req.RequestID
	var inTok, outTok int
	if resp != nil {
		out = resp.Text()
		if resp.ResponseID != "" {
			id = resp.ResponseID
		}
		if resp.UsageMetadata != nil {
			inTok = int(resp.UsageMetadata.PromptTokenCount)
			outTok = int(resp.UsageMetadata.CandidatesTokenCount)
		}
	}

	return &providers.InvokeResponse{
		ID:      id,
		Model:   req.Model,
		Content: out,
		Usage: providers.Usage{
			InputTokens:  inTok,
			OutputTokens: outTok,
		},
	}, nil
}

func (a *Adapter) invokeStreaming(
	ctx context.Context,
	model string,
	contents []*genai.Content,
	cfg *genai.GenerateContentConfig,
) *providers.InvokeResponse {
	ch := make(chan providers.StreamChunk, 64)

	go func() {
		defer close(ch)

		for resp, err := range a.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				ch <- providers.StreamChunk{
					Content:      fmt.Sprintf("[stream error] %v", err),
					FinishReason: "error",
				}
				return
			}
			if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
				continue
			}

			c := resp.Candidates[0]
			text := candidateText(c)
			finish := string(c.FinishReason)
			if text != "" || finish != "" {
				ch <- providers.StreamChunk{Content: text, FinishReason: finish}
			}
		}
	}()

	return &providers.InvokeResponse{Stream: ch}
}

// ListModels serves the static price table.
func (a *Adapter) ListModels(ctx context.Context) ([]catalog.Entry, error) {
	entries := make([]catalog.Entry, 0, len(priceTable))
	for _, e := range priceTable {
		entries = append(entries, e)
	}
	return entries, nil
}

// modelName strips the "vertex-" routing prefix.
func modelName(model string) string {
	return strings.TrimPrefix(model, "vertex-")
}

func buildContentsAndConfig(req *providers.InvokeRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var systemPrompt string
	contents := make([]*genai.Content, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			if systemPrompt != "" {
				systemPrompt += "\n"
			}
			systemPrompt += m.Content
		case "assistant", "model":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	var cfg *genai.GenerateContentConfig
	if systemPrompt != "" || req.Temperature > 0 || req.MaxTokens > 0 {
		cfg = &genai.GenerateContentConfig{}
		if systemPrompt != "" {
			cfg.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: systemPrompt}},
			}
		}
		if req.Temperature > 0 {
			cfg.Temperature = genai.Ptr[float32](float32(req.Temperature))
		}
		if req.MaxTokens > 0 {
			cfg.MaxOutputTokens = int32(req.MaxTokens)
		}
	}

	return contents, cfg
}

func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil || len(c.Content.Parts) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p != nil && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

func mapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return providers.MapStatus(providerName, apiErr.Code, apiErr.Message)
	}
	return providers.MapTransportError(providerName, err)
}

// priceTable holds USD-per-1M-token pricing for the served Vertex ids, keyed
// by the prefixed routing name.
var priceTable = map[string]catalog.Entry{
	"vertex-gemini-2.0-flash": {
		ModelID: "vertex-gemini-2.0-flash", Provider: providerName,
		InputPricePer1M: 0.10, OutputPricePer1M: 0.40, ContextWindow: 1048576,
	},
	"vertex-gemini-2.0-flash-lite": {
		ModelID: "vertex-gemini-2.0-flash-lite", Provider: providerName,
		InputPricePer1M: 0.075, OutputPricePer1M: 0.30, ContextWindow: 1048576,
	},
	"vertex-gemini-2.5-pro": {
		ModelID: "vertex-gemini-2.5-pro", Provider: providerName,
		InputPricePer1M: 1.25, OutputPricePer1M: 10.00, ContextWindow: 1048576,
	},
	"vertex-gemini-2.5-flash": {
		ModelID: "vertex-gemini-2.5-flash", Provider: providerName,
		InputPricePer1M: 0.30, OutputPricePer1M: 2.50, ContextWindow: 1048576,
	},
}
