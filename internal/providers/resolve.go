package providers

import "strings"

// Provider names used across the gateway.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderAzure     = "azure"
	ProviderBedrock   = "bedrock"
	ProviderVertex    = "vertex"
	ProviderGroq      = "groq"
)

// groqFamilies are model-name prefixes Groq serves under its own naming.
var groqFamilies = []string{"llama-", "llama3", "llama4", "mixtral-", "gemma2-", "qwen-", "deepseek-r1"}

// ProviderForModel maps a canonical model id to the provider that serves it.
// Explicit prefixes win ("azure-", "vertex-"); Bedrock's vendor-namespaced
// ids are recognized by their "vendor.model" shape; model families cover the
// rest. Unrecognized ids default to openai, the broadest catalog.
func ProviderForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "azure-"):
		return ProviderAzure
	case strings.HasPrefix(model, "vertex-"):
		return ProviderVertex
	case isBedrockID(model):
		return ProviderBedrock
	case strings.HasPrefix(model, "claude"):
		return ProviderAnthropic
	}
	for _, fam := range groqFamilies {
		if strings.HasPrefix(model, fam) {
			return ProviderGroq
		}
	}
	return ProviderOpenAI
}

// bedrockVendors are the namespaces Bedrock prefixes its model ids with.
var bedrockVendors = []string{"anthropic.", "amazon.", "meta.", "mistral.", "ai21.", "cohere."}

// isBedrockID recognizes "anthropic.claude-...-v1:0" style ids: a known
// vendor namespace, or a colon-pinned artifact version.
func isBedrockID(model string) bool {
	if strings.ContainsRune(model, ':') {
		return true
	}
	for _, v := range bedrockVendors {
		if strings.HasPrefix(model, v) {
			return true
		}
	}
	return false
}
