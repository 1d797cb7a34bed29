// Package providers defines the uniform invocation contract implemented by
// every upstream adapter (OpenAI, Anthropic, Azure OpenAI, AWS Bedrock,
// GCP Vertex, Groq).
//
// Each adapter lives in its own sub-package, builds the provider-specific
// request shape, parses the provider-specific response, and maps upstream
// error codes onto the shared taxonomy in pkg/gwerr. Adapters that support
// vector embeddings additionally implement Embedder.
package providers

import (
	"context"
	"time"

	"github.com/modelgrid/gateway/internal/catalog"
)

type (
	// Message is a single turn in a conversation.
	Message struct {
		Role    string
		Content string
	}

	// Usage — token counts reported by the upstream.
	Usage struct {
		InputTokens  int
		OutputTokens int
	}

	// StreamChunk is one token delta of a streaming response.
	StreamChunk struct {
		Content      string
		FinishReason string
	}

	// InvokeRequest — normalized invocation input.
	InvokeRequest struct {
		Model       string
		Messages    []Message
		Stream      bool
		Temperature float64
		MaxTokens   int
		RequestID   string
	}

	// InvokeResponse — normalized invocation output. Stream is nil for
	// non-streaming calls; when set, Content and Usage are unpopulated and
	// the caller drains the channel.
	InvokeResponse struct {
		ID        string
		Model     string
		Content   string
		Usage     Usage
		LatencyMs int64
		Stream    <-chan StreamChunk
	}

	// EmbedRequest — normalized embedding input. Input always has at least
	// one element.
	EmbedRequest struct {
		Model     string
		Input     []string
		RequestID string
	}

	// EmbedVector is one embedding result.
	EmbedVector struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	}

	// EmbedResponse — normalized embedding output.
	EmbedResponse struct {
		Model string
		Data  []EmbedVector
		Usage Usage
	}
)

// Adapter is the uniform upstream contract. Invoke must honor ctx
// cancellation so a client disconnect frees the upstream connection.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req *InvokeRequest) (*InvokeResponse, error)
	ListModels(ctx context.Context) ([]catalog.Entry, error)
	HealthCheck(ctx context.Context) error
}

// Embedder is an optional interface for adapters that serve embeddings.
// Check with a type assertion before calling.
type Embedder interface {
	Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error)
}

// DefaultTimeout bounds a single upstream call when the caller supplies no
// tighter deadline.
const DefaultTimeout = 30 * time.Second
