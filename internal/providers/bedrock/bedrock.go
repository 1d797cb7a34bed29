// Package bedrock implements the providers.Adapter contract for AWS Bedrock
// via the Converse API with SigV4 request signing.
//
// Required configuration: AWS access key, secret key, and region. A session
// token is optional (temporary credentials from IAM roles or STS).
package bedrock

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/providers"
)

const (
	providerName = providers.ProviderBedrock
	service      = "bedrock"
	algorithm    = "AWS4-HMAC-SHA256"
)

// Adapter implements providers.Adapter for AWS Bedrock.
type Adapter struct {
	accessKey    string
	secretKey    string
	sessionToken string
	region       string
	endpointURL  string // optional override for the base endpoint (testing)
	client       *http.Client
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithSessionToken sets the AWS session token for temporary credentials.
func WithSessionToken(token string) Option {
	return func(a *Adapter) { a.sessionToken = token }
}

// WithEndpointURL overrides the Bedrock endpoint base URL (local mocks).
func WithEndpointURL(u string) Option {
	return func(a *Adapter) { a.endpointURL = u }
}

// New creates an AWS Bedrock adapter.
func New(accessKey, secretKey, region string, opts ...Option) *Adapter {
	a := &Adapter{
		accessKey: accessKey,
		secretKey: secretKey,
		region:    region,
		client:    &http.Client{Timeout: providers.DefaultTimeout},
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string { return providerName }

func (a *Adapter) HealthCheck(ctx context.Context) error {
	endpoint := a.baseEndpoint("bedrock") + "/foundation-models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("bedrock: health check: %w", err)
	}

	if err := a.signRequest(req, nil); err != nil {
		return fmt.Errorf("bedrock: health check sign: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("bedrock: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bedrock: health check: status %d", resp.StatusCode)
	}
	return nil
}

func (a *Adapter) Invoke(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	if req.Stream {
		return a.invokeStreaming(ctx, req)
	}
	return a.invoke(ctx, req)
}

// ListModels serves the static price table.
func (a *Adapter) ListModels(ctx context.Context) ([]catalog.Entry, error) {
	entries := make([]catalog.Entry, 0, len(priceTable))
	for _, e := range priceTable {
		entries = append(entries, e)
	}
	return entries, nil
}

// Converse API types.

type converseRequest struct {
	Messages        []converseMessage `json:"messages"`
	System          []systemContent   `json:"system,omitempty"`
	InferenceConfig *inferenceConfig  `json:"inferenceConfig,omitempty"`
}

type converseMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Text string `json:"text"`
}

type systemContent struct {
	Text string `json:"text"`
}

type inferenceConfig struct {
	MaxTokens   int     `json:"maxTokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type converseResponse struct {
	Output converseOutput `json:"output"`
	Usage  converseUsage  `json:"usage"`
}

type converseOutput struct {
	Message converseMessage `json:"message"`
}

type converseUsage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

func buildConverseRequest(req *providers.InvokeRequest) converseRequest {
	var systemTexts []systemContent
	msgs := make([]converseMessage, 0, len(req.Messages))

	for _, m := range req.Messages {
		switch strings.ToLower(m.Role) {
		case "system", "developer":
			systemTexts = append(systemTexts, systemContent{Text: m.Content})
		default:
			role := "user"
			if strings.ToLower(m.Role) == "assistant" {
				role = "assistant"
			}
			msgs = append(msgs, converseMessage{
				Role:    role,
				Content: []contentBlock{{Text: m.Content}},
			})
		}
	}

	cr := converseRequest{Messages: msgs, System: systemTexts}
	if req.MaxTokens > 0 || req.Temperature > 0 {
		cr.InferenceConfig = &inferenceConfig{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		}
	}
	return cr
}

func (a *Adapter) invoke(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	payload, err := json.Marshal(buildConverseRequest(req))
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal: %w", err)
	}

	endpoint := a.converseEndpoint(req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if err := a.signRequest(httpReq, payload); err != nil {
		return nil, fmt.Errorf("bedrock: sign: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(providerName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseError(resp)
	}

	var cr converseResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("bedrock: decode response: %w", err)
	}

	content := ""
	if len(cr.Output.Message.Content) > 0 {
		content = cr.Output.Message.Content[0].Text
	}

	return &providers.InvokeResponse{
		ID:      req.RequestID,
		Model:   req.Model,
		Content: content,
		Usage: providers.Usage{
			InputTokens:  cr.Usage.InputTokens,
			OutputTokens: cr.Usage.OutputTokens,
		},
	}, nil
}

type streamEvent struct {
	ContentBlockDelta *struct {
		Delta struct {
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"contentBlockDelta"`
	MessageStop *struct {
		StopReason string `json:"stopReason"`
	} `json:"messageStop"`
}

func (a *Adapter) invokeStreaming(ctx context.Context, req *providers.InvokeRequest) (*providers.InvokeResponse, error) {
	payload, err := json.Marshal(buildConverseRequest(req))
	if err != nil {
		return nil, fmt.Errorf("bedrock: marshal: %w", err)
	}

	endpoint := a.converseStreamEndpoint(req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("bedrock: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if err := a.signRequest(httpReq, payload); err != nil {
		return nil, fmt.Errorf("bedrock: sign: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(providerName, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}

	ch := make(chan providers.StreamChunk, 64)

	go func() {
		defer resp.Body.Close()
		defer close(ch)

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

			var ev streamEvent
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				continue
			}

			if ev.ContentBlockDelta != nil && ev.ContentBlockDelta.Delta.Text != "" {
				ch <- providers.StreamChunk{Content: ev.ContentBlockDelta.Delta.Text}
			}
			if ev.MessageStop != nil {
				ch <- providers.StreamChunk{FinishReason: ev.MessageStop.StopReason}
			}
		}
	}()

	return &providers.InvokeResponse{Stream: ch}, nil
}

// Endpoints.

// baseEndpoint returns the root URL for a Bedrock sub-service. When
// endpointURL is set (testing), it is used for all services.
func (a *Adapter) baseEndpoint(subservice string) string {
	if a.endpointURL != "" {
		return strings.TrimRight(a.endpointURL, "/")
	}
	return fmt.Sprintf("https://%s.%s.amazonaws.com", subservice, a.region)
}

func (a *Adapter) converseEndpoint(modelID string) string {
	if a.endpointURL != "" {
		return fmt.Sprintf("%s/model/%s/converse", strings.TrimRight(a.endpointURL, "/"), modelID)
	}
	return fmt.Sprintf(
		"https://bedrock-runtime.%s.amazonaws.com/model/%s/converse",
		a.region, modelID,
	)
}

func (a *Adapter) converseStreamEndpoint(modelID string) string {
	if a.endpointURL != "" {
		return fmt.Sprintf("%s/model/%s/converse-stream", strings.TrimRight(a.endpointURL, "/"), modelID)
	}
	return fmt.Sprintf(
		"https://bedrock-runtime.%s.amazonaws.com/model/%s/converse-stream",
		a.region, modelID,
	)
}

// AWS SigV4 signing.

func (a *Adapter) signRequest(req *http.Request, payload []byte) error {
	now := time.Now().UTC()
	datestamp := now.Format("20060102")
	amzdate := now.Format("20060102T150405Z")

	req.Header.Set("X-Amz-Date", amzdate)
	if a.sessionToken != "" {
		req.Header.Set("X-Amz-Security-Token", a.sessionToken)
	}

	payloadHash := sha256Hex(payload)

	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	req.Header.Set("Host", host)

	signedHeaders := "content-type;host;x-amz-date"
	canonicalHeaders := fmt.Sprintf(
		"content-type:%s\nhost:%s\nx-amz-date:%s\n",
		req.Header.Get("Content-Type"), host, amzdate,
	)
	if a.sessionToken != "" {
		signedHeaders = "content-type;host;x-amz-date;x-amz-security-token"
		canonicalHeaders = fmt.Sprintf(
			"content-type:%s\nhost:%s\nx-amz-date:%s\nx-amz-security-token:%s\n",
			req.Header.Get("Content-Type"), host, amzdate, a.sessionToken,
		)
	}

	canonicalURI := req.URL.Path
	if canonicalURI == "" {
		canonicalURI = "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		canonicalURI,
		req.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		payloadHash,
	}, "\n")

	credentialScope := fmt.Sprintf("%s/%s/%s/aws4_request", datestamp, a.region, service)

	stringToSign := strings.Join([]string{
		algorithm,
		amzdate,
		credentialScope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")

	signingKey := deriveSigningKey(a.secretKey, datestamp, a.region, service)
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithm, a.accessKey, credentialScope, signedHeaders, signature,
	))

	return nil
}

func deriveSigningKey(secretKey, date, region, svc string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), date)
	kRegion := hmacSHA256(kDate, region)
	kService := hmacSHA256(kRegion, svc)
	return hmacSHA256(kService, "aws4_request")
}

func hmacSHA256(key []byte, data string) []byte {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(data))
	return h.Sum(nil)
}

func sha256Hex(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Error handling.

type bedrockError struct {
	Message string `json:"message"`
	Type    string `json:"__type"`
}

func parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var be bedrockError
	if json.Unmarshal(body, &be) == nil && be.Message != "" {
		return providers.MapStatus(providerName, resp.StatusCode, be.Message)
	}
	return providers.MapStatus(providerName, resp.StatusCode,
		fmt.Sprintf("unexpected status %d", resp.StatusCode))
}

// priceTable holds USD-per-1M-token pricing for the served Bedrock ids.
var priceTable = map[string]catalog.Entry{
	"anthropic.claude-3-5-sonnet-20241022-v2:0": {
		ModelID: "anthropic.claude-3-5-sonnet-20241022-v2:0", Provider: providerName,
		InputPricePer1M: 3.00, OutputPricePer1M: 15.00, ContextWindow: 200000,
	},
	"anthropic.claude-3-haiku-20240307-v1:0": {
		ModelID: "anthropic.claude-3-haiku-20240307-v1:0", Provider: providerName,
		InputPricePer1M: 0.25, OutputPricePer1M: 1.25, ContextWindow: 200000,
	},
	"meta.llama3-70b-instruct-v1:0": {
		ModelID: "meta.llama3-70b-instruct-v1:0", Provider: providerName,
		InputPricePer1M: 2.65, OutputPricePer1M: 3.50, ContextWindow: 8192,
	},
	"amazon.nova-pro-v1:0": {
		ModelID: "amazon.nova-pro-v1:0", Provider: providerName,
		InputPricePer1M: 0.80, OutputPricePer1M: 3.20, ContextWindow: 300000,
	},
	"amazon.nova-lite-v1:0": {
		ModelID: "amazon.nova-lite-v1:0", Provider: providerName,
		InputPricePer1M: 0.06, OutputPricePer1M: 0.24, ContextWindow: 300000,
	},
}
