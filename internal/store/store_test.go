package store

import (
	"context"
	"encoding/json"
	"testing"

	"gorm.io/datatypes"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func jsonDoc(t *testing.T, v any) datatypes.JSON {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return datatypes.JSON(b)
}

func TestPolicy_DisabledSurvivesInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p := &Policy{
		ID:      "pol_1",
		OrgID:   "org_1",
		Type:    PolicyTypeModelAccess,
		Rules:   jsonDoc(t, ModelAccessRules{AllowedModels: []string{"gpt-4o"}}),
		Enabled: false,
	}
	if err := s.CreatePolicy(ctx, p); err != nil {
		t.Fatalf("create policy: %v", err)
	}

	// GetPolicy filters on enabled, so a disabled policy must read back as
	// absent — absent means "no restriction".
	if _, err := s.GetPolicy(ctx, "org_1", PolicyTypeModelAccess); !IsNotFound(err) {
		t.Fatalf("disabled policy still enforced: err = %v", err)
	}

	var got Policy
	if err := s.db.WithContext(ctx).First(&got, "id = ?", "pol_1").Error; err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if got.Enabled {
		t.Error("disabled policy came back enabled")
	}
}

func TestRoutingPolicy_InactiveSurvivesInsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rp := &RoutingPolicy{
		ID:       "rp_1",
		OrgID:    "org_1",
		Name:     "chat-default",
		Strategy: StrategyFailover,
		Models:   jsonDoc(t, []ModelEntry{{ModelID: "gpt-4o", Role: RolePrimary}}),
		IsActive: false,
	}
	if err := s.CreateRoutingPolicy(ctx, rp); err != nil {
		t.Fatalf("create routing policy: %v", err)
	}

	if _, err := s.GetRoutingPolicy(ctx, "org_1", "chat-default"); !IsNotFound(err) {
		t.Fatalf("inactive routing policy still selectable: err = %v", err)
	}

	var got RoutingPolicy
	if err := s.db.WithContext(ctx).First(&got, "id = ?", "rp_1").Error; err != nil {
		t.Fatalf("read raw row: %v", err)
	}
	if got.IsActive {
		t.Error("inactive routing policy came back active")
	}
}
