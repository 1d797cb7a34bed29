// Package config loads and validates all runtime configuration for the gateway.
//
// Configuration is read from environment variables (preferred for containers)
// or from a config.yaml file in the working directory. Environment variables
// take precedence over the YAML file.
//
// Naming convention: env vars use UPPER_SNAKE_CASE; the YAML file uses the
// same names in lower_snake_case. For example OPENAI_API_KEY becomes
// openai_api_key in YAML.
//
// Only one upstream provider credential is strictly required for the gateway
// to start. Redis is optional — set RATE_LIMIT_MODE=memory to use the
// built-in in-process limiter with no external dependencies.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config is the top-level configuration container.
type Config struct {
	// Port is the TCP port the HTTP server listens on. Default: 8080.
	Port int

	// LogLevel controls the minimum log level. One of: debug, info, warn, error.
	// Default: info.
	LogLevel string

	// KeyPrefix is the expected prefix of gateway API keys (tokens have the
	// shape "<prefix>-<hex>"). Default: "mg".
	KeyPrefix string

	// Database is the shared relational store holding keys, policies, and the
	// usage ledger.
	Database DatabaseConfig

	// Redis holds the connection URL for the distributed rate limiter.
	// Required only when RateLimit.Mode is "redis".
	Redis RedisConfig

	// RateLimit controls per-key request-rate limiting.
	RateLimit RateLimitConfig

	// Billing controls cost markup for orgs on managed upstream credentials.
	Billing BillingConfig

	// Upstream controls invocation retry, timeout, and cooldown behaviour.
	Upstream UpstreamConfig

	// Catalog controls the model catalog refresh loop.
	Catalog CatalogConfig

	// Analytics optionally mirrors the usage ledger into ClickHouse.
	Analytics AnalyticsConfig

	// Upstream provider credentials — at least one must be configured.
	OpenAI    ProviderConfig
	Anthropic ProviderConfig
	Groq      ProviderConfig

	// Google Vertex AI (uses ADC instead of an API key).
	Vertex VertexConfig

	// AWS Bedrock.
	Bedrock BedrockConfig

	// Azure OpenAI.
	Azure AzureConfig

	// CORSOrigins is the list of allowed CORS origins.
	// Use ["*"] to allow any origin (default). Set to specific origins in prod.
	CORSOrigins []string
}

// DatabaseConfig selects the relational store backend.
type DatabaseConfig struct {
	// Driver is "postgres" (production) or "sqlite" (local/dev). Default: sqlite.
	Driver string
	// DSN is the connection string. For sqlite, ":memory:" or a file path.
	DSN string
}

// ProviderConfig holds configuration for a single upstream provider.
type ProviderConfig struct {
	// APIKey is the provider API key. Leave empty to disable the provider.
	APIKey string

	// BaseURL overrides the provider's default API endpoint.
	// Useful for local mocks and development. Leave empty to use the default.
	BaseURL string
}

// VertexConfig holds Google Vertex AI configuration.
// Auth is resolved via Application Default Credentials (ADC).
type VertexConfig struct {
	// Project is the Google Cloud project ID. Required to enable Vertex.
	Project string
	// Location is the Vertex AI region. Default: "us-central1".
	Location string
}

// BedrockConfig holds AWS Bedrock configuration.
type BedrockConfig struct {
	// AccessKey is the AWS access key ID.
	AccessKey string
	// SecretKey is the AWS secret access key.
	SecretKey string
	// SessionToken is the optional STS session token for temporary credentials.
	SessionToken string
	// Region is the AWS region, e.g. "us-east-1".
	Region string
	// EndpointURL overrides the Bedrock runtime endpoint. Useful for local mocks.
	EndpointURL string
}

// AzureConfig holds Azure OpenAI configuration.
type AzureConfig struct {
	// Endpoint is the Azure OpenAI resource URL,
	// e.g. "https://myresource.openai.azure.com".
	Endpoint string
	// APIKey is the Azure OpenAI resource key.
	APIKey string
	// APIVersion is the API version string, e.g. "2024-12-01-preview".
	APIVersion string
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is a redis:// or rediss:// URL. Example: redis://localhost:6379
	URL string
}

// RateLimitConfig controls per-key request-rate limiting.
type RateLimitConfig struct {
	// Mode selects the limiter backend:
	//   "redis"  — Redis-backed counters shared across replicas. Recommended
	//              for production.
	//   "memory" — In-process counters. No external deps; per-replica only.
	// Default: "memory".
	Mode string

	// DefaultRPM applies to keys whose record carries no explicit limit.
	// Default: 60.
	DefaultRPM int
}

// BillingConfig controls the cost markup applied to managed-credential orgs.
type BillingConfig struct {
	// MarkupRate is the fractional markup, e.g. 0.25 for 25%. Default: 0.25.
	MarkupRate float64

	// ManagedProviders lists the providers invoked with platform-owned
	// credentials. Usage through them gets the marked-up cost column.
	ManagedProviders []string
}

// UpstreamConfig controls invocation behaviour against providers.
type UpstreamConfig struct {
	// MaxRetries is the number of automatic retries after a failed attempt
	// (so MaxRetries=2 means up to 3 attempts). Default: 2.
	MaxRetries int

	// RetryBackoff is the base delay between attempts; attempt n waits
	// n*RetryBackoff. Default: 250ms.
	RetryBackoff time.Duration

	// ProviderTimeout bounds a single non-streaming upstream call. Default: 30s.
	ProviderTimeout time.Duration

	// CooldownWindow is how long a failing (provider, model) pair is skipped
	// by failover routing. Default: 30s.
	CooldownWindow time.Duration

	// CooldownThreshold is the failed attempts within the window that start
	// the cooldown. Default: 3.
	CooldownThreshold int
}

// CatalogConfig controls catalog refresh.
type CatalogConfig struct {
	// RefreshInterval is how often provider model listings are re-fetched.
	// 0 disables periodic refresh (the startup snapshot still loads).
	// Default: 1h.
	RefreshInterval time.Duration
}

// AnalyticsConfig configures the optional ClickHouse usage mirror.
type AnalyticsConfig struct {
	// Addr is the ClickHouse native address, e.g. "localhost:9000".
	// Empty disables the mirror.
	Addr     string
	Database string
	Username string
	Password string
}

// Load reads configuration from environment variables and (optionally) from
// config.yaml in the current working directory.
//
// At least one provider credential must be configured.
// REDIS_URL is only required when RATE_LIMIT_MODE=redis.
func Load() (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// ── Defaults ──────────────────────────────────────────────────────────────
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KEY_PREFIX", "mg")
	v.SetDefault("CORS_ORIGINS", []string{"*"})

	// Database defaults to a local throwaway store.
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_DSN", ":memory:")

	// Rate limit defaults.
	v.SetDefault("RATE_LIMIT_MODE", "memory")
	v.SetDefault("DEFAULT_RPM", 60)

	// Billing defaults.
	v.SetDefault("MARKUP_RATE", 0.25)
	v.SetDefault("MANAGED_PROVIDERS", []string{})

	// Upstream defaults.
	v.SetDefault("MAX_RETRIES", 2)
	v.SetDefault("RETRY_BACKOFF", "250ms")
	v.SetDefault("PROVIDER_TIMEOUT", "30s")
	v.SetDefault("COOLDOWN_WINDOW", "30s")
	v.SetDefault("COOLDOWN_THRESHOLD", 3)

	// Catalog defaults.
	v.SetDefault("CATALOG_REFRESH_INTERVAL", "1h")

	// ── Build config ──────────────────────────────────────────────────────────
	cfg := &Config{
		Port:      v.GetInt("PORT"),
		LogLevel:  strings.ToLower(v.GetString("LOG_LEVEL")),
		KeyPrefix: v.GetString("KEY_PREFIX"),

		Database: DatabaseConfig{
			Driver: strings.ToLower(v.GetString("DB_DRIVER")),
			DSN:    v.GetString("DB_DSN"),
		},

		Redis: RedisConfig{URL: v.GetString("REDIS_URL")},

		RateLimit: RateLimitConfig{
			Mode:       strings.ToLower(v.GetString("RATE_LIMIT_MODE")),
			DefaultRPM: v.GetInt("DEFAULT_RPM"),
		},

		Billing: BillingConfig{
			MarkupRate:       v.GetFloat64("MARKUP_RATE"),
			ManagedProviders: v.GetStringSlice("MANAGED_PROVIDERS"),
		},

		Upstream: UpstreamConfig{
			MaxRetries:        v.GetInt("MAX_RETRIES"),
			RetryBackoff:      v.GetDuration("RETRY_BACKOFF"),
			ProviderTimeout:   v.GetDuration("PROVIDER_TIMEOUT"),
			CooldownWindow:    v.GetDuration("COOLDOWN_WINDOW"),
			CooldownThreshold: v.GetInt("COOLDOWN_THRESHOLD"),
		},

		Catalog: CatalogConfig{
			RefreshInterval: v.GetDuration("CATALOG_REFRESH_INTERVAL"),
		},

		Analytics: AnalyticsConfig{
			Addr:     v.GetString("CLICKHOUSE_ADDR"),
			Database: v.GetString("CLICKHOUSE_DATABASE"),
			Username: v.GetString("CLICKHOUSE_USERNAME"),
			Password: v.GetString("CLICKHOUSE_PASSWORD"),
		},

		OpenAI:    ProviderConfig{APIKey: v.GetString("OPENAI_API_KEY"), BaseURL: v.GetString("OPENAI_BASE_URL")},
		Anthropic: ProviderConfig{APIKey: v.GetString("ANTHROPIC_API_KEY"), BaseURL: v.GetString("ANTHROPIC_BASE_URL")},
		Groq:      ProviderConfig{APIKey: v.GetString("GROQ_API_KEY"), BaseURL: v.GetString("GROQ_BASE_URL")},

		Vertex: VertexConfig{
			Project:  v.GetString("VERTEX_PROJECT"),
			Location: v.GetString("VERTEX_LOCATION"),
		},

		Bedrock: BedrockConfig{
			AccessKey:    v.GetString("AWS_ACCESS_KEY_ID"),
			SecretKey:    v.GetString("AWS_SECRET_ACCESS_KEY"),
			SessionToken: v.GetString("AWS_SESSION_TOKEN"),
			Region:       v.GetString("AWS_REGION"),
			EndpointURL:  v.GetString("BEDROCK_ENDPOINT_URL"),
		},

		Azure: AzureConfig{
			Endpoint:   v.GetString("AZURE_OPENAI_ENDPOINT"),
			APIKey:     v.GetString("AZURE_OPENAI_API_KEY"),
			APIVersion: v.GetString("AZURE_OPENAI_API_VERSION"),
		},

		CORSOrigins: v.GetStringSlice("CORS_ORIGINS"),
	}

	// ── Validation ────────────────────────────────────────────────────────────
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks all semantic constraints that cannot be expressed as defaults.
func (c *Config) validate() error {
	if !c.AtLeastOneProviderKey() {
		return fmt.Errorf(
			"config: at least one provider credential is required " +
				"(OPENAI_API_KEY, ANTHROPIC_API_KEY, GROQ_API_KEY, " +
				"AZURE_OPENAI_API_KEY, AWS_ACCESS_KEY_ID, or VERTEX_PROJECT)",
		)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf(
			"config: invalid DB_DRIVER %q; must be one of: postgres, sqlite",
			c.Database.Driver,
		)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("config: DB_DSN is required")
	}

	switch c.RateLimit.Mode {
	case "redis", "memory":
	default:
		return fmt.Errorf(
			"config: invalid RATE_LIMIT_MODE %q; must be one of: redis, memory",
			c.RateLimit.Mode,
		)
	}
	if c.RateLimit.Mode == "redis" && c.Redis.URL == "" {
		return fmt.Errorf(
			"config: REDIS_URL is required when RATE_LIMIT_MODE=redis; " +
				"set RATE_LIMIT_MODE=memory to use the built-in in-process limiter",
		)
	}
	if c.RateLimit.DefaultRPM < 1 {
		return fmt.Errorf("config: DEFAULT_RPM must be ≥ 1, got %d", c.RateLimit.DefaultRPM)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf(
			"config: invalid LOG_LEVEL %q; must be one of: debug, info, warn, error",
			c.LogLevel,
		)
	}

	if c.Billing.MarkupRate < 0 {
		return fmt.Errorf("config: MARKUP_RATE must be ≥ 0, got %v", c.Billing.MarkupRate)
	}

	if c.Upstream.MaxRetries < 0 {
		return fmt.Errorf("config: MAX_RETRIES must be ≥ 0, got %d", c.Upstream.MaxRetries)
	}
	if c.Upstream.CooldownThreshold < 1 {
		return fmt.Errorf("config: COOLDOWN_THRESHOLD must be ≥ 1, got %d", c.Upstream.CooldownThreshold)
	}
	if c.Upstream.CooldownWindow <= 0 {
		return fmt.Errorf("config: COOLDOWN_WINDOW must be a positive duration")
	}

	return nil
}

// AtLeastOneProviderKey returns true if at least one provider is configured.
func (c *Config) AtLeastOneProviderKey() bool {
	return c.OpenAI.APIKey != "" ||
		c.Anthropic.APIKey != "" ||
		c.Groq.APIKey != "" ||
		c.Azure.APIKey != "" ||
		c.Bedrock.AccessKey != "" ||
		c.Vertex.Project != ""
}

// IsManagedProvider reports whether invocations through the provider use
// platform-owned credentials and are therefore marked up.
func (c *Config) IsManagedProvider(provider string) bool {
	for _, p := range c.Billing.ManagedProviders {
		if strings.EqualFold(p, provider) {
			return true
		}
	}
	return false
}

// loadDotEnv populates process env vars from a .env file when present.
func loadDotEnv(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("config: %s is a directory, expected a file", path)
	}
	if err := gotenv.Load(path); err != nil {
		return fmt.Errorf("config: failed to load %s: %w", path, err)
	}
	return nil
}
