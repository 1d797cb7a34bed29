package vertex

import (
	"context"
	"testing"

	"github.com/modelgrid/gateway/internal/providers"
)

func TestModelName(t *testing.T) {
	if got := modelName("vertex-gemini-2.0-flash"); got != "gemini-2.0-flash" {
		t.Errorf("modelName(vertex-gemini-2.0-flash) = %q", got)
	}
	if got := modelName("gemini-2.0-flash"); got != "gemini-2.0-flash" {
		t.Errorf("modelName(gemini-2.0-flash) = %q", got)
	}
}

func TestBuildContentsAndConfig(t *testing.T) {
	req := &providers.InvokeRequest{
		Model: "vertex-gemini-2.0-flash",
		Messages: []providers.Message{
			{Role: "system", Content: "Be terse."},
			{Role: "user", Content: "Hi"},
			{Role: "assistant", Content: "Hello"},
		},
		Temperature: 0.3,
		MaxTokens:   100,
	}

	contents, cfg := buildContentsAndConfig(req)
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents after lifting system, got %d", len(contents))
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
	if cfg.SystemInstruction == nil {
		t.Error("system instruction not set")
	}
	if cfg.MaxOutputTokens != 100 {
		t.Errorf("MaxOutputTokens = %d", cfg.MaxOutputTokens)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.3 {
		t.Errorf("Temperature = %v", cfg.Temperature)
	}
}

func TestBuildContentsAndConfig_NoConfigWhenDefaults(t *testing.T) {
	req := &providers.InvokeRequest{
		Model:    "vertex-gemini-2.0-flash",
		Messages: []providers.Message{{Role: "user", Content: "Hi"}},
	}
	_, cfg := buildContentsAndConfig(req)
	if cfg != nil {
		t.Errorf("expected nil config, got %+v", cfg)
	}
}

func TestPriceTable_ListModels(t *testing.T) {
	a := &Adapter{project: "p", location: defaultLocation}
	entries, err := a.ListModels(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entries) != len(priceTable) {
		t.Fatalf("expected %d entries, got %d", len(priceTable), len(entries))
	}
	for _, e := range entries {
		if e.Provider != "vertex" {
			t.Errorf("entry %s has provider %q", e.ModelID, e.Provider)
		}
	}
}
