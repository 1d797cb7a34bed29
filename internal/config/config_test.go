package config

import (
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Port)
	}
	if cfg.KeyPrefix != "mg" {
		t.Errorf("key prefix = %q, want mg", cfg.KeyPrefix)
	}
	if cfg.RateLimit.Mode != "memory" || cfg.RateLimit.DefaultRPM != 60 {
		t.Errorf("rate limit defaults = %+v", cfg.RateLimit)
	}
	if cfg.Upstream.MaxRetries != 2 {
		t.Errorf("max retries = %d, want 2", cfg.Upstream.MaxRetries)
	}
	if cfg.Billing.MarkupRate != 0.25 {
		t.Errorf("markup rate = %v, want 0.25", cfg.Billing.MarkupRate)
	}
}

func TestLoad_NoProviderConfigured(t *testing.T) {
	// Make sure ambient env from the host doesn't satisfy the check.
	for _, k := range []string{
		"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GROQ_API_KEY",
		"AZURE_OPENAI_API_KEY", "AWS_ACCESS_KEY_ID", "VERTEX_PROJECT",
	} {
		t.Setenv(k, "")
	}

	_, err := Load()
	if err == nil {
		t.Fatal("expected error with no provider credentials")
	}
	if !strings.Contains(err.Error(), "provider credential") {
		t.Errorf("error = %v", err)
	}
}

func TestLoad_RedisModeRequiresURL(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RATE_LIMIT_MODE", "redis")
	t.Setenv("REDIS_URL", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "REDIS_URL") {
		t.Fatalf("error = %v, want REDIS_URL requirement", err)
	}
}

func TestLoad_InvalidRateLimitMode(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RATE_LIMIT_MODE", "dynamo")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "RATE_LIMIT_MODE") {
		t.Fatalf("error = %v, want invalid mode", err)
	}
}

func TestIsManagedProvider(t *testing.T) {
	cfg := &Config{Billing: BillingConfig{ManagedProviders: []string{"openai", "Anthropic"}}}

	if !cfg.IsManagedProvider("openai") || !cfg.IsManagedProvider("anthropic") {
		t.Error("managed providers not matched case-insensitively")
	}
	if cfg.IsManagedProvider("bedrock") {
		t.Error("bedrock reported managed")
	}
}
