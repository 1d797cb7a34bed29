package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// anthropicMockModels mirrors the gateway's anthropic price table.
var anthropicMockModels = []string{
	"claude-opus-4", "claude-sonnet-4", "claude-3-5-sonnet",
	"claude-3-5-haiku", "claude-3-haiku",
}

// newAnthropicHandler returns an http.Handler simulating the Anthropic
// Messages API. Requests without an x-api-key get the provider-shaped 401.
func newAnthropicHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeAnthropicError(w, http.StatusMethodNotAllowed, "method not allowed", "invalid_request_error")
			return
		}
		if r.Header.Get("x-api-key") == "" {
			writeAnthropicError(w, http.StatusUnauthorized, "missing x-api-key header", "authentication_error")
			return
		}
		delay(cfg)
		if injectFault(cfg) {
			writeAnthropicError(w, http.StatusInternalServerError, "injected fault", "overloaded_error")
			return
		}

		var req struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Stream    bool   `json:"stream"`
			Messages  []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeAnthropicError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}

		model := req.Model
		if model == "" {
			model = anthropicMockModels[2]
		}

		promptChars := 0
		for _, m := range req.Messages {
			promptChars += len(m.Content)
		}
		inTokens := approxTokens(promptChars)
		content := sampleText(cfg.StreamWords)
		outTokens := approxTokens(len(content))

		id := fmt.Sprintf("msg_%x", rand.Int64())

		if req.Stream {
			serveAnthropicStream(w, id, model, content, inTokens, outTokens)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":            id,
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content": []map[string]string{
				{"type": "text", "text": content},
			},
			"usage": map[string]int{
				"input_tokens":  inTokens,
				"output_tokens": outTokens,
			},
		})
	})

	// The catalog refresh and health checker both hit the model listing.
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, len(anthropicMockModels))
		for i, id := range anthropicMockModels {
			data[i] = map[string]any{
				"id":         id,
				"type":       "model",
				"created_at": time.Now().UTC().Format(time.RFC3339),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"data":     data,
			"has_more": false,
			"first_id": anthropicMockModels[0],
			"last_id":  anthropicMockModels[len(anthropicMockModels)-1],
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAnthropicError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found_error")
	})

	return mux
}

func writeAnthropicError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]any{
		"type": "error",
		"error": map[string]string{
			"type":    typ,
			"message": msg,
		},
	})
}

// serveAnthropicStream writes the Anthropic SSE event sequence:
// message_start, content_block_start, ping, one content_block_delta per
// word, content_block_stop, message_delta (with usage), message_stop.
func serveAnthropicStream(w http.ResponseWriter, id, model, content string, inTokens, outTokens int) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	send := func(eventType string, data any) {
		b, _ := json.Marshal(data)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, b)
		if flusher != nil {
			flusher.Flush()
		}
	}

	send("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            id,
			"type":          "message",
			"role":          "assistant",
			"model":         model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": inTokens, "output_tokens": 0},
		},
	})
	send("content_block_start", map[string]any{
		"type":          "content_block_start",
		"index":         0,
		"content_block": map[string]string{"type": "text", "text": ""},
	})
	send("ping", map[string]string{"type": "ping"})

	for _, word := range strings.Fields(content) {
		send("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]string{"type": "text_delta", "text": word + " "},
		})
	}

	send("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
	send("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]string{"stop_reason": "end_turn", "stop_sequence": ""},
		"usage": map[string]int{"output_tokens": outTokens},
	})
	send("message_stop", map[string]string{"type": "message_stop"})
}
