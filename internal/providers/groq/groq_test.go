package groq

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

func baseRequest() *providers.InvokeRequest {
	return &providers.InvokeRequest{
		Model:     "llama-3.3-70b-versatile",
		Messages:  []providers.Message{{Role: "user", Content: "Hello"}},
		MaxTokens: 64,
	}
}

func TestAdapter_Invoke_Success(t *testing.T) {
	responseBody := map[string]any{
		"id":      "chatcmpl-groq-1",
		"object":  "chat.completion",
		"created": 0,
		"model":   "llama-3.3-70b-versatile",
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": "Hi"},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 8, "completion_tokens": 2, "total_tokens": 10},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := body["max_tokens"]; !ok {
			t.Error("expected classic max_tokens field in request body")
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(responseBody)
	}))
	defer srv.Close()

	a := New("mock-key", srv.URL)
	resp, err := a.Invoke(context.Background(), baseRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "Hi" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 8 || resp.Usage.OutputTokens != 2 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestAdapter_Invoke_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"Rate limit reached","type":"tokens"}}`))
	}))
	defer srv.Close()

	a := New("mock-key", srv.URL)
	_, err := a.Invoke(context.Background(), baseRequest())

	var rl *gwerr.RateLimitExceeded
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitExceeded, got %T: %v", err, err)
	}
}

func TestAdapter_ListModels_ServesPriceTable(t *testing.T) {
	a := New("key", "")
	entries, err := a.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != len(priceTable) {
		t.Fatalf("expected %d entries, got %d", len(priceTable), len(entries))
	}
	for _, e := range entries {
		if e.Provider != "groq" {
			t.Errorf("entry %s has provider %q", e.ModelID, e.Provider)
		}
	}
}
