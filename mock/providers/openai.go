package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// openaiMockModels mirrors the gateway's openai price table, so a catalog
// refresh against the mock yields the same ids the adapters would price.
var openaiMockModels = []string{
	"gpt-4o", "gpt-4o-mini", "gpt-4.1", "gpt-4.1-mini", "o4-mini",
	"text-embedding-3-small", "text-embedding-3-large",
}

// newOpenAIHandler returns an http.Handler simulating the OpenAI API. Groq
// speaks the same wire format, so GROQ_BASE_URL can point here too. Requests
// without a bearer token get the provider-shaped 401, letting an E2E run
// exercise the gateway's upstream-auth error mapping.
func newOpenAIHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		if r.Header.Get("Authorization") == "" {
			writeOpenAIError(w, http.StatusUnauthorized, "missing bearer token", "invalid_request_error")
			return
		}
		delay(cfg)
		if injectFault(cfg) {
			writeOpenAIError(w, http.StatusInternalServerError, "injected fault", "server_error")
			return
		}

		var req struct {
			Model    string `json:"model"`
			Stream   bool   `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}

		model := req.Model
		if model == "" {
			model = openaiMockModels[0]
		}

		// Usage mirrors the gateway's own estimator instead of fixed counts.
		promptChars := 0
		for _, m := range req.Messages {
			promptChars += len(m.Content)
		}
		inTokens := approxTokens(promptChars)
		content := sampleText(cfg.StreamWords)
		outTokens := approxTokens(len(content))

		id := fmt.Sprintf("chatcmpl-mock%x", rand.Int64())

		if req.Stream {
			serveOpenAIStream(w, id, model, content)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{
					"index":         0,
					"message":       map[string]string{"role": "assistant", "content": content},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     inTokens,
				"completion_tokens": outTokens,
				"total_tokens":      inTokens + outTokens,
			},
		})
	})

	mux.HandleFunc("/v1/embeddings", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		delay(cfg)
		if injectFault(cfg) {
			writeOpenAIError(w, http.StatusInternalServerError, "injected fault", "server_error")
			return
		}

		var req struct {
			Model string `json:"model"`
			Input any    `json:"input"` // string or []string
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid request body", "invalid_request_error")
			return
		}

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []any:
			for _, x := range v {
				if s, ok := x.(string); ok {
					inputs = append(inputs, s)
				}
			}
		}
		if len(inputs) == 0 {
			inputs = []string{""}
		}

		model := req.Model
		if model == "" {
			model = "text-embedding-3-small"
		}

		inputChars := 0
		data := make([]map[string]any, len(inputs))
		for i, in := range inputs {
			inputChars += len(in)
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": sampleEmbedding(1536),
			}
		}
		tokens := approxTokens(inputChars)

		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data":   data,
			"model":  model,
			"usage": map[string]int{
				"prompt_tokens": tokens,
				"total_tokens":  tokens,
			},
		})
	})

	// The catalog refresh and health checker both hit the model listing.
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		data := make([]map[string]any, len(openaiMockModels))
		for i, id := range openaiMockModels {
			data[i] = map[string]any{
				"id": id, "object": "model", "created": 1710000000, "owned_by": "openai",
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"object": "list", "data": data})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeOpenAIError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
	})

	return mux
}

// serveOpenAIStream writes chat completion chunks as SSE: a role delta
// first, one delta per word, a finish_reason chunk, then [DONE].
func serveOpenAIStream(w http.ResponseWriter, id, model, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	emit := func(delta map[string]string, finish any) {
		chunk := map[string]any{
			"id":      id,
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   model,
			"choices": []map[string]any{
				{"index": 0, "delta": delta, "finish_reason": finish},
			},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit(map[string]string{"role": "assistant"}, nil)
	for _, word := range strings.Fields(content) {
		emit(map[string]string{"content": word + " "}, nil)
	}
	emit(map[string]string{}, "stop")

	fmt.Fprint(w, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}
