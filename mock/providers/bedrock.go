package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
)

// bedrockMockModels mirrors the gateway's bedrock price table.
var bedrockMockModels = []struct {
	id, name, provider string
}{
	{"anthropic.claude-3-5-sonnet-20241022-v2:0", "Claude 3.5 Sonnet v2", "Anthropic"},
	{"anthropic.claude-3-haiku-20240307-v1:0", "Claude 3 Haiku", "Anthropic"},
	{"meta.llama3-70b-instruct-v1:0", "Llama 3 70B Instruct", "Meta"},
	{"amazon.nova-pro-v1:0", "Nova Pro", "Amazon"},
	{"amazon.nova-lite-v1:0", "Nova Lite", "Amazon"},
}

// converseRequest is the subset of the Converse payload the mock reads to
// size its usage numbers.
type converseRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func (r *converseRequest) promptTokens() int {
	chars := 0
	for _, m := range r.Messages {
		for _, c := range m.Content {
			chars += len(c.Text)
		}
	}
	return approxTokens(chars)
}

// newBedrockHandler returns an http.Handler simulating the Bedrock runtime:
//
//	POST /model/{modelId}/converse          — non-streaming
//	POST /model/{modelId}/converse-stream   — streaming
//	GET  /foundation-models                 — listing (catalog/health)
func newBedrockHandler(cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/model/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeBedrockError(w, http.StatusMethodNotAllowed, "method not allowed", "ValidationException")
			return
		}
		if r.Header.Get("Authorization") == "" {
			writeBedrockError(w, http.StatusForbidden, "missing signature", "AccessDeniedException")
			return
		}

		modelID := extractBedrockModel(r.URL.Path)
		isStream := strings.HasSuffix(r.URL.Path, "/converse-stream")

		delay(cfg)
		if injectFault(cfg) {
			writeBedrockError(w, http.StatusInternalServerError, "injected fault", "ServiceUnavailableException")
			return
		}

		var req converseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBedrockError(w, http.StatusBadRequest, "invalid request body", "ValidationException")
			return
		}

		if isStream {
			serveBedrockStream(w, req.promptTokens(), cfg)
		} else {
			serveBedrockConverse(w, modelID, req.promptTokens(), cfg)
		}
	})

	mux.HandleFunc("/foundation-models", func(w http.ResponseWriter, r *http.Request) {
		summaries := make([]map[string]any, len(bedrockMockModels))
		for i, m := range bedrockMockModels {
			summaries[i] = map[string]any{
				"modelId":      m.id,
				"modelName":    m.name,
				"providerName": m.provider,
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"modelSummaries": summaries})
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeBedrockError(w, http.StatusNotFound, fmt.Sprintf("mock: unknown path %s", r.URL.Path), "ResourceNotFoundException")
	})

	return mux
}

func serveBedrockConverse(w http.ResponseWriter, modelID string, inTokens int, cfg Config) {
	content := sampleText(cfg.StreamWords)
	outTokens := approxTokens(len(content))

	writeJSON(w, http.StatusOK, map[string]any{
		"output": map[string]any{
			"message": map[string]any{
				"role": "assistant",
				"content": []map[string]string{
					{"text": content},
				},
			},
		},
		"stopReason": "end_turn",
		"usage": map[string]int{
			"inputTokens":  inTokens,
			"outputTokens": outTokens,
			"totalTokens":  inTokens + outTokens,
		},
		"metrics": map[string]int{
			"latencyMs": cfg.LatencyMS,
		},
		"additionalModelResponseFields": nil,
		// Echoed for identification in tests; the real API omits it.
		"model": modelID,
	})
}

// serveBedrockStream emits newline-delimited JSON events, a simplification
// of Bedrock's binary event-stream framing that the gateway's dev setup can
// read without an AWS decoder.
func serveBedrockStream(w http.ResponseWriter, inTokens int, cfg Config) {
	w.Header().Set("Content-Type", "application/vnd.amazon.eventstream")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	content := sampleText(cfg.StreamWords)
	outTokens := approxTokens(len(content))

	emit := func(ev any) {
		data, _ := json.Marshal(ev)
		fmt.Fprintf(w, "data:%s\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	emit(map[string]any{"messageStart": map[string]string{"role": "assistant"}})
	emit(map[string]any{
		"contentBlockStart": map[string]any{
			"start":             map[string]any{"text": ""},
			"contentBlockIndex": 0,
		},
	})
	for _, word := range strings.Fields(content) {
		emit(map[string]any{
			"contentBlockDelta": map[string]any{
				"delta":             map[string]string{"text": word + " "},
				"contentBlockIndex": 0,
			},
		})
	}
	emit(map[string]any{"contentBlockStop": map[string]int{"contentBlockIndex": 0}})
	emit(map[string]any{
		"messageStop": map[string]any{
			"stopReason":                    "end_turn",
			"additionalModelResponseFields": nil,
		},
	})
	emit(map[string]any{
		"metadata": map[string]any{
			"usage": map[string]any{
				"inputTokens":  inTokens,
				"outputTokens": outTokens,
				"totalTokens":  inTokens + outTokens,
			},
			"metrics": map[string]any{"latencyMs": cfg.LatencyMS},
			"trace":   nil,
		},
	})
	emit(map[string]any{"id": fmt.Sprintf("mock-%x", rand.Int64())})
}

func writeBedrockError(w http.ResponseWriter, status int, msg, errType string) {
	writeJSON(w, status, map[string]any{
		"message": msg,
		"__type":  errType,
	})
}

// extractBedrockModel pulls the model id from
// /model/{modelId}/converse[-stream]. Model ids contain dots and colons but
// never slashes, so the first segment after the prefix is the id.
func extractBedrockModel(path string) string {
	rest := strings.TrimPrefix(path, "/model/")
	if i := strings.Index(rest, "/"); i > 0 {
		return rest[:i]
	}
	return "unknown"
}
