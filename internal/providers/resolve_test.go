package providers

import "testing"

func TestProviderForModel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o", ProviderOpenAI},
		{"o4-mini", ProviderOpenAI},
		{"claude-sonnet-4", ProviderAnthropic},
		{"azure-gpt-4o", ProviderAzure},
		{"vertex-gemini-2.0-flash", ProviderVertex},
		{"anthropic.claude-3-5-sonnet-20241022-v2:0", ProviderBedrock},
		{"amazon.nova-pro-v1:0", ProviderBedrock},
		{"meta.llama3-70b-instruct-v1:0", ProviderBedrock},
		{"llama-3.3-70b-versatile", ProviderGroq},
		{"mixtral-8x7b-32768", ProviderGroq},
		{"gemma2-9b-it", ProviderGroq},
		{"some-unknown-model", ProviderOpenAI},
	}
	for _, tt := range tests {
		if got := ProviderForModel(tt.model); got != tt.want {
			t.Errorf("ProviderForModel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}
