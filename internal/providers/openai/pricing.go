package openai

import "github.com/modelgrid/gateway/internal/catalog"

// priceTable holds USD-per-1M-token pricing for the models the gateway is
// willing to cost. Kept by hand; models absent here are not served.
var priceTable = map[string]catalog.Entry{
	"gpt-4o": {
		ModelID: "gpt-4o", Provider: providerName,
		InputPricePer1M: 2.50, OutputPricePer1M: 10.00, ContextWindow: 128000,
	},
	"gpt-4o-mini": {
		ModelID: "gpt-4o-mini", Provider: providerName,
		InputPricePer1M: 0.15, OutputPricePer1M: 0.60, ContextWindow: 128000,
	},
	"gpt-4.1": {
		ModelID: "gpt-4.1", Provider: providerName,
		InputPricePer1M: 2.00, OutputPricePer1M: 8.00, ContextWindow: 1047576,
	},
	"gpt-4.1-mini": {
		ModelID: "gpt-4.1-mini", Provider: providerName,
		InputPricePer1M: 0.40, OutputPricePer1M: 1.60, ContextWindow: 1047576,
	},
	"gpt-4.1-nano": {
		ModelID: "gpt-4.1-nano", Provider: providerName,
		InputPricePer1M: 0.10, OutputPricePer1M: 0.40, ContextWindow: 1047576,
	},
	"o3": {
		ModelID: "o3", Provider: providerName,
		InputPricePer1M: 2.00, OutputPricePer1M: 8.00, ContextWindow: 200000,
	},
	"o4-mini": {
		ModelID: "o4-mini", Provider: providerName,
		InputPricePer1M: 1.10, OutputPricePer1M: 4.40, ContextWindow: 200000,
	},
	"gpt-3.5-turbo": {
		ModelID: "gpt-3.5-turbo", Provider: providerName,
		InputPricePer1M: 0.50, OutputPricePer1M: 1.50, ContextWindow: 16385,
	},
	"text-embedding-3-small": {
		ModelID: "text-embedding-3-small", Provider: providerName,
		InputPricePer1M: 0.02, ContextWindow: 8191,
	},
	"text-embedding-3-large": {
		ModelID: "text-embedding-3-large", Provider: providerName,
		InputPricePer1M: 0.13, ContextWindow: 8191,
	},
}
