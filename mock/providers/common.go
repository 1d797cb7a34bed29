package main

import (
	"encoding/json"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"
)

// replyWords is the vocabulary the mock servers build reply text from.
var replyWords = []string{
	"routing", "the", "request", "through", "a", "simulated", "upstream",
	"model", "for", "local", "gateway", "development", "no", "tokens",
	"were", "harmed", "in", "generating", "this", "reply", "latency",
	"and", "fault", "injection", "are", "configurable", "via", "env",
}

// sampleText returns roughly n words of filler reply text.
func sampleText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = replyWords[rand.IntN(len(replyWords))]
	}
	return strings.Join(words, " ") + "."
}

// approxTokens estimates a token count from a character count the same way
// the gateway estimates streamed usage: ~4 chars per token, never below one.
// Using the same rule keeps mock usage consistent with ledger estimates.
func approxTokens(chars int) int {
	n := chars / 4
	if n < 1 {
		n = 1
	}
	return n
}

// sampleEmbedding returns a pseudo-random vector with components in [-1, 1).
func sampleEmbedding(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rand.Float32()*2 - 1
	}
	return v
}

// delay sleeps for the configured artificial latency.
func delay(cfg Config) {
	if cfg.LatencyMS > 0 {
		time.Sleep(time.Duration(cfg.LatencyMS) * time.Millisecond)
	}
}

// injectFault reports whether this request should fail per MOCK_ERROR_RATE.
func injectFault(cfg Config) bool {
	return cfg.ErrorRate > 0 && rand.Float64() < cfg.ErrorRate
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeOpenAIError writes the OpenAI-format error envelope, which the
// OpenAI-compatible mocks (openai, azure) share.
func writeOpenAIError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"message": msg,
			"type":    typ,
			"code":    strings.ToLower(strings.ReplaceAll(typ, " ", "_")),
		},
	})
}
