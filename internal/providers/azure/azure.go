// Package azure implements the providers.Adapter contract for Azure OpenAI.
// Azure uses deployment-based URLs and the "api-key" header instead of the
// standard "Authorization: Bearer" scheme.
//
// Model routing: ids with the "azure-" prefix have it stripped to derive the
// deployment name ("azure-gpt-4o" -> deployment "gpt-4o"); ids without the
// prefix are used as-is.
package azure

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/providers"
)

const providerName = providers.ProviderAzure

type chatRequest struct {
	Messages    []chatMessage `json:"messages"`
	Stream      bool          `json:"stream,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []choice `json:"choices"`
	Usage   usage    `json:"usage"`
	Error   *apiErr  `json:"error,omitempty"`
}

type choice struct {
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiErr struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// Adapter implements providers.Adapter for Azure OpenAI.
type Adapter struct {
	endpoint   string // e.g. "https://myresource.openai.azure.com"
	apiKey     string
	apiVersion string
	client     *http.Client
}

// New creates an Azure OpenAI adapter.
func New(endpoint, apiKey, apiVersion string) *Adapter {
	return &Adapter{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		apiVersion: apiVersion,
		client:     &http.Client{Timeout: providers.DefaultTimeout},
	}
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/openai/models?api-version=%s", a.endpoint, a.apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("azure: health check: %w", err)
	}
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("azure: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("azure: health check: status %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) Invoke(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	url := a.completionsURL(deploymentName(req.Model))

	body, err := buildBody(req)
	if err != nil {
		return nil, fmt.Errorf("azure: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("azure: %w", err)
	}
	httpReq.Header.Set("api-key", a.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(providerName, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}

	if req.Stream {
		return handleStreaming(resp), nil
	}
	defer resp.Body.Close()
	return handleResponse(resp)
}

// ListModels serves the static price table: Azure has no priced listing
// endpoint, and deployments are named after the base models anyway.
func (a *Adapter) ListModels(ctx context.Context) ([]catalog.Entry, error) {
	entries := make([]catalog.Entry, 0, len(priceTable))
	for _, e := range priceTable {
		entries = append(entries, e)
	}
	return entries, nil
}

// deploymentName strips the "azure-" routing prefix, yielding the deployment
// name used in the URL.
func deploymentName(model string) string {
	return strings.TrimPrefix(model, "azure-")
}

func (a *Adapter) completionsURL(deployment string) string {
	return fmt.Sprintf(
		"%s/openai/deployments/%s/chat/completions?api-version=%s",
		a.endpoint, deployment, a.apiVersion,
	)
}

func buildBody(req *providers.InvokeRequest) ([]byte, error) {
	msgs := make([]chatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = chatMessage{Role: m.Role, Content: m.Content}
	}
	cr := chatRequest{Messages: msgs, Stream: req.Stream}
	if req.Temperature > 0 {
		cr.Temperature = req.Temperature
	}
	if req.MaxTokens > 0 {
		cr.MaxTokens = req.MaxTokens
	}

	data, err := json.Marshal(cr)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return data, nil
}

func handleResponse(resp *http.Response) (*providers.InvokeResponse, error) {
	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("azure: decode response: %w", err)
	}

	content := ""
	if len(cr.Choices) > 0 && cr.Choices[0].Message != nil {
		content = cr.Choices[0].Message.Content
	}

	return &providers.InvokeResponse{
		ID:      cr.ID,
		Model:   cr.Model,
		Content: content,
		Usage: providers.Usage{
			InputTokens:  cr.Usage.PromptTokens,
			OutputTokens: cr.Usage.CompletionTokens,
		},
	}, nil
}

func handleStreaming(resp *http.Response) *providers.InvokeResponse {
	ch := make(chan providers.StreamChunk, 64)

	go func() {
		defer resp.Body.Close()
		defer close(ch)

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				return
			}

			var cr chatResponse
			if err := json.Unmarshal([]byte(data), &cr); err != nil {
				continue
			}
			if len(cr.Choices) == 0 || cr.Choices[0].Delta == nil {
				continue
			}

			ch <- providers.StreamChunk{
				Content:      cr.Choices[0].Delta.Content,
				FinishReason: cr.Choices[0].FinishReason,
			}
		}
	}()

	return &providers.InvokeResponse{Stream: ch}
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var cr chatResponse
	if json.Unmarshal(body, &cr) == nil && cr.Error != nil {
		return providers.MapStatus(providerName, resp.StatusCode, cr.Error.Message)
	}
	return providers.MapStatus(providerName, resp.StatusCode,
		fmt.Sprintf("unexpected status %d", resp.StatusCode))
}

// priceTable mirrors OpenAI pricing under the "azure-" routing prefix.
var priceTable = map[string]catalog.Entry{
	"azure-gpt-4o": {
		ModelID: "azure-gpt-4o", Provider: providerName,
		InputPricePer1M: 2.50, OutputPricePer1M: 10.00, ContextWindow: 128000,
	},
	"azure-gpt-4o-mini": {
		ModelID: "azure-gpt-4o-mini", Provider: providerName,
		InputPricePer1M: 0.15, OutputPricePer1M: 0.60, ContextWindow: 128000,
	},
	"azure-gpt-4.1": {
		ModelID: "azure-gpt-4.1", Provider: providerName,
		InputPricePer1M: 2.00, OutputPricePer1M: 8.00, ContextWindow: 1047576,
	},
	"azure-o3-mini": {
		ModelID: "azure-o3-mini", Provider: providerName,
		InputPricePer1M: 1.10, OutputPricePer1M: 4.40, ContextWindow: 200000,
	},
}
