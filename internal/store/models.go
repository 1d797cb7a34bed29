package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Routing strategy values for RoutingPolicy.Strategy.
const (
	StrategyCostOptimized    = "cost_optimized"
	StrategyLatencyOptimized = "latency_optimized"
	StrategyBalanced         = "balanced"
	StrategyFailover         = "failover"
	StrategyABTest           = "ab_test"
)

// Model entry roles within a routing policy.
const (
	RolePrimary  = "primary"
	RoleFallback = "fallback"
)

// Policy type values for Policy.Type.
const (
	PolicyTypeSpendLimits = "spend_limits"
	PolicyTypeModelAccess = "model_access"
)

// Request status values for GatewayRequest.Status.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// GatewayKey is an API key record. Keys are created and revoked by the
// external key-management surface; the gateway only reads them. The secret is
// never stored — only its SHA-256 hash and a display prefix.
type GatewayKey struct {
	ID    string `gorm:"type:text;primaryKey"`
	OrgID string `gorm:"type:text;not null;index"`

	KeyHash   string `gorm:"type:text;not null;uniqueIndex"` // sha256 hex of the full secret
	KeyPrefix string `gorm:"type:text;not null"`             // display-only, e.g. "mg-3fa9"

	Name   string  `gorm:"type:text;not null"`
	TeamID *string `gorm:"type:text;index"`

	RateLimit int `gorm:"not null;default:0"` // requests per minute; 0 means the configured default

	// AllowedModels is a JSON array of canonical model names. Empty or null
	// means the key may use any model the org's policies permit.
	AllowedModels datatypes.JSON `gorm:"type:json"`

	// RevokedAt is monotonic: once set it is never cleared.
	RevokedAt *time.Time `gorm:"index"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
}

// Revoked reports whether the key has been revoked.
func (k *GatewayKey) Revoked() bool { return k.RevokedAt != nil }

// AllowedModelList decodes the allowed-models JSON column. A missing or empty
// column yields a nil slice (no key-level restriction).
func (k *GatewayKey) AllowedModelList() ([]string, error) {
	if len(k.AllowedModels) == 0 {
		return nil, nil
	}
	var models []string
	if err := json.Unmarshal(k.AllowedModels, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// ModelEntry is one candidate in a routing policy's ordered model list.
type ModelEntry struct {
	ModelID string `json:"model_id"`
	Weight  int    `json:"weight"` // 0–100 relative preference / traffic share
	Role    string `json:"role"`   // "primary", "fallback", or empty
}

// RoutingPolicy is a named, org-owned configuration describing which models
// serve a class of requests and how to choose among them. Written by the
// external policy-management surface; read by the routing selector.
type RoutingPolicy struct {
	ID    string `gorm:"type:text;primaryKey"`
	OrgID string `gorm:"type:text;not null;index:idx_routing_org_name"`
	Name  string `gorm:"type:text;not null;index:idx_routing_org_name"`

	Strategy string `gorm:"type:text;not null"`

	// Models is the ordered candidate list as a JSON array of ModelEntry.
	Models datatypes.JSON `gorm:"type:json;not null"`

	// No column default: gorm omits false zero values on insert, and a
	// database default of true would silently re-activate them.
	IsActive bool `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// Entries decodes the policy's model list.
func (p *RoutingPolicy) Entries() ([]ModelEntry, error) {
	if len(p.Models) == 0 {
		return nil, nil
	}
	var entries []ModelEntry
	if err := json.Unmarshal(p.Models, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SpendLimitRules is the rules payload for a spend_limits policy.
type SpendLimitRules struct {
	MaxDailySpend float64 `json:"max_daily_spend"`
}

// ModelAccessRules is the rules payload for a model_access policy.
type ModelAccessRules struct {
	AllowedModels []string `json:"allowed_models"`
}

// Policy is an org-level governance rule evaluated before any upstream call.
type Policy struct {
	ID    string `gorm:"type:text;primaryKey"`
	OrgID string `gorm:"type:text;not null;index:idx_policy_org_type"`
	Type  string `gorm:"type:text;not null;index:idx_policy_org_type"`

	Rules datatypes.JSON `gorm:"type:json;not null"`

	// No column default, for the same reason as RoutingPolicy.IsActive: a
	// disabled policy must survive the insert disabled.
	Enabled bool `gorm:"not null"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`
}

// SpendLimitRules decodes the rules payload of a spend_limits policy.
func (p *Policy) SpendLimitRules() (*SpendLimitRules, error) {
	var r SpendLimitRules
	if err := json.Unmarshal(p.Rules, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ModelAccessRules decodes the rules payload of a model_access policy.
func (p *Policy) ModelAccessRules() (*ModelAccessRules, error) {
	var r ModelAccessRules
	if err := json.Unmarshal(p.Rules, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// GatewayRequest is one row of the append-only usage ledger. Exactly one row
// is written per completed invocation attempt — never for pre-invocation
// rejections — and rows are immutable once written.
type GatewayRequest struct {
	ID    string `gorm:"type:text;primaryKey"`
	OrgID string `gorm:"type:text;not null;index:idx_req_org_created"`
	KeyID string `gorm:"type:text;not null;index"`

	ModelRequested string  `gorm:"type:text;not null"`
	ModelUsed      *string `gorm:"type:text"`
	Provider       string  `gorm:"type:text;not null;index"`

	Status string `gorm:"type:text;not null"`

	InputTokens  int `gorm:"not null;default:0"`
	OutputTokens int `gorm:"not null;default:0"`

	Cost         float64  `gorm:"not null;default:0"`
	MarkedUpCost *float64 // set only when the org uses managed credentials

	LatencyMs    int64   `gorm:"not null;default:0"`
	ErrorMessage *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null;index:idx_req_org_created"`
}
