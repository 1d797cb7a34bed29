package anthropic

import "github.com/modelgrid/gateway/internal/catalog"

// priceTable holds USD-per-1M-token pricing for the served Claude models.
var priceTable = map[string]catalog.Entry{
	"claude-opus-4": {
		ModelID: "claude-opus-4", Provider: providerName,
		InputPricePer1M: 15.00, OutputPricePer1M: 75.00, ContextWindow: 200000,
	},
	"claude-sonnet-4": {
		ModelID: "claude-sonnet-4", Provider: providerName,
		InputPricePer1M: 3.00, OutputPricePer1M: 15.00, ContextWindow: 200000,
	},
	"claude-3-5-sonnet": {
		ModelID: "claude-3-5-sonnet", Provider: providerName,
		InputPricePer1M: 3.00, OutputPricePer1M: 15.00, ContextWindow: 200000,
	},
	"claude-3-5-haiku": {
		ModelID: "claude-3-5-haiku", Provider: providerName,
		InputPricePer1M: 0.80, OutputPricePer1M: 4.00, ContextWindow: 200000,
	},
	"claude-3-haiku": {
		ModelID: "claude-3-haiku", Provider: providerName,
		InputPricePer1M: 0.25, OutputPricePer1M: 1.25, ContextWindow: 200000,
	},
}
