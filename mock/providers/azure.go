package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// newAzureHandler returns an http.Handler simulating the Azure OpenAI API.
// Same payloads as OpenAI, but routed per deployment:
//
//	POST /openai/deployments/{deployment}/chat/completions?api-version=...
//	GET  /openai/models?api-version=...
func newAzureHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/openai/deployments/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeOpenAIError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
			return
		}
		if r.Header.Get("api-key") == "" {
			writeOpenAIError(w, http.StatusUnauthorized, "missing api-key header", "invalid_request_error")
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			writeOpenAIError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
			return
		}
		deployment := extractAzureDeployment(r.URL.Path)

		delay(cfg)
		if injectFault(cfg) {
			writeOpenAIError(w, http.StatusInternalServerError, "mock internal server error", "server_error")
			return
		}

		var req struct {
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeOpenAIError(w, http.StatusBadRequest, "invalid request body", "invalid_request")
			return
		}

		id := fmt.Sprintf("chatcmpl-mock%x", rand.Int64())
		content := sampleText(cfg.StreamWords)
		outTokens := approxTokens(len(content))

		if req.Stream {
			serveOpenAIStream(w, id, deployment, content)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"id":      id,
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   deployment,
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]string{
						"role":    "assistant",
						"content": content,
					},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{
				"prompt_tokens":     10,
				"completion_tokens": outTokens,
				"total_tokens":      10 + outTokens,
			},
		})
	})

	// Health check hits the models listing.
	mux.HandleFunc("/openai/models", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"id": "gpt-4o", "object": "model", "created": 1710000000, "owned_by": "openai"},
				{"id": "gpt-4o-mini", "object": "model", "created": 1710000000, "owned_by": "openai"},
			},
		})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeOpenAIError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "not_found")
	})

	return mux
}

// extractAzureDeployment pulls the deployment name from
// /openai/deployments/{deployment}/chat/completions.
func extractAzureDeployment(path string) string {
	rest := strings.TrimPrefix(path, "/openai/deployments/")
	if i := strings.Index(rest, "/"); i > 0 {
		return rest[:i]
	}
	return "gpt-4o"
}
