package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelgrid/gateway/internal/providers"
	"github.com/modelgrid/gateway/pkg/gwerr"
)

func newTestAdapter(srv *httptest.Server) *Adapter {
	return New("mock-api-key", srv.URL)
}

func baseRequest() *providers.InvokeRequest {
	return &providers.InvokeRequest{
		Model:     "claude-sonnet-4",
		Messages:  []providers.Message{{Role: "user", Content: "Hello"}},
		RequestID: "req-mock-1",
	}
}

func TestAdapter_Name(t *testing.T) {
	a := New("key", "")
	if a.Name() != "anthropic" {
		t.Fatalf("expected 'anthropic', got %q", a.Name())
	}
}

func TestAdapter_Invoke_Success(t *testing.T) {
	responseBody := map[string]any{
		"id":    "msg_123",
		"type":  "message",
		"role":  "assistant",
		"model": "claude-sonnet-4",
		"content": []any{
			map[string]any{"type": "text", "text": "Hello, world!"},
		},
		"stop_reason": "end_turn",
		"usage": map[string]any{
			"input_tokens":  12,
			"output_tokens": 6,
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("X-Api-Key") != "mock-api-key" {
			t.Errorf("missing or wrong X-Api-Key header: %s", r.Header.Get("X-Api-Key"))
		}

		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["max_tokens"]; !ok {
			t.Error("max_tokens missing from request body")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(responseBody)
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	resp, err := a.Invoke(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.ID != "msg_123" {
		t.Errorf("expected ID 'msg_123', got %q", resp.ID)
	}
	if resp.Content != "Hello, world!" {
		t.Errorf("expected content 'Hello, world!', got %q", resp.Content)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 6 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAdapter_Invoke_SystemPromptLifted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		if _, ok := body["system"]; !ok {
			t.Error("system prompt not lifted to top-level field")
		}
		msgs, _ := body["messages"].([]any)
		if len(msgs) != 1 {
			t.Errorf("expected 1 message after lifting system, got %d", len(msgs))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"ok"}],"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	req := baseRequest()
	req.Messages = []providers.Message{
		{Role: "system", Content: "You are terse."},
		{Role: "user", Content: "Hello"},
	}

	a := newTestAdapter(srv)
	if _, err := a.Invoke(context.Background(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdapter_Invoke_Overloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"rate_limit_error","message":"Overloaded"}}`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	_, err := a.Invoke(context.Background(), baseRequest())

	var rl *gwerr.RateLimitExceeded
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitExceeded, got %T: %v", err, err)
	}
}

func TestAdapter_Invoke_InvalidRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv)
	_, err := a.Invoke(context.Background(), baseRequest())

	var ve *gwerr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	if gwerr.IsRetryable(err) {
		t.Error("validation errors must not be retryable")
	}
}

func TestAdapter_ListModels_ServesPriceTable(t *testing.T) {
	a := New("key", "")
	entries, err := a.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected non-empty catalog")
	}
	for _, e := range entries {
		if e.Provider != "anthropic" {
			t.Errorf("entry %s has provider %q", e.ModelID, e.Provider)
		}
	}
}
