package recorder

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/store"
)

type staticSource struct {
	name    string
	entries []catalog.Entry
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) ListModels(context.Context) ([]catalog.Entry, error) {
	return s.entries, nil
}

type captureSink struct {
	mu   sync.Mutex
	rows []store.GatewayRequest
}

func (c *captureSink) Mirror(_ context.Context, rows []store.GatewayRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, rows...)
}

func newTestCatalog(t *testing.T) *catalog.Registry {
	t.Helper()
	reg := catalog.NewRegistry([]catalog.Source{
		&staticSource{name: "openai", entries: []catalog.Entry{
			{ModelID: "gpt-4o", Provider: "openai", InputPricePer1M: 2.50, OutputPricePer1M: 10.00, ContextWindow: 128000},
		}},
	}, slog.New(slog.DiscardHandler))
	if err := reg.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh catalog: %v", err)
	}
	return reg
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecorder_FlushesRowWithCostAndMarkup(t *testing.T) {
	s := newTestStore(t)
	sink := &captureSink{}
	rec := New(context.Background(), s, newTestCatalog(t), sink, 0.25, slog.New(slog.DiscardHandler))

	rec.Record(Invocation{
		OrgID:              "org-1",
		KeyID:              "key-1",
		ModelRequested:     "gpt-4o-2024-08-06",
		ModelUsed:          "gpt-4o",
		Provider:           "openai",
		Status:             store.StatusSuccess,
		InputTokens:        1000,
		OutputTokens:       500,
		LatencyMs:          420,
		ManagedCredentials: true,
	})
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := s.RequestsByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]

	if row.ModelUsed == nil || *row.ModelUsed != "gpt-4o" {
		t.Errorf("model_used = %v, want gpt-4o", row.ModelUsed)
	}
	wantCost := 1000.0/1_000_000*2.50 + 500.0/1_000_000*10.00
	if math.Abs(row.Cost-wantCost) > 1e-9 {
		t.Errorf("cost = %v, want %v", row.Cost, wantCost)
	}
	if row.MarkedUpCost == nil {
		t.Fatal("expected marked_up_cost for managed credentials")
	}
	if math.Abs(*row.MarkedUpCost-wantCost*1.25) > 1e-9 {
		t.Errorf("marked_up_cost = %v, want %v", *row.MarkedUpCost, wantCost*1.25)
	}
	if row.Status != store.StatusSuccess {
		t.Errorf("status = %q", row.Status)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.rows) != 1 {
		t.Errorf("analytics mirror got %d rows, want 1", len(sink.rows))
	}
}

func TestRecorder_NoMarkupForCustomerCredentials(t *testing.T) {
	s := newTestStore(t)
	rec := New(context.Background(), s, newTestCatalog(t), nil, 0.25, slog.New(slog.DiscardHandler))

	rec.Record(Invocation{
		OrgID:          "org-1",
		KeyID:          "key-1",
		ModelRequested: "gpt-4o",
		ModelUsed:      "gpt-4o",
		Provider:       "openai",
		Status:         store.StatusSuccess,
		InputTokens:    100,
		OutputTokens:   100,
	})
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := s.RequestsByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].MarkedUpCost != nil {
		t.Errorf("marked_up_cost = %v, want nil", *rows[0].MarkedUpCost)
	}
}

func TestRecorder_ErrorAttemptRecorded(t *testing.T) {
	s := newTestStore(t)
	rec := New(context.Background(), s, newTestCatalog(t), nil, 0, slog.New(slog.DiscardHandler))

	rec.Record(Invocation{
		OrgID:          "org-1",
		KeyID:          "key-1",
		ModelRequested: "gpt-4o",
		ModelUsed:      "gpt-4o",
		Provider:       "openai",
		Status:         store.StatusError,
		LatencyMs:      95,
		ErrorMessage:   "openai: service unavailable",
	})
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := s.RequestsByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	row := rows[0]
	if row.Status != store.StatusError {
		t.Errorf("status = %q, want error", row.Status)
	}
	if row.Cost != 0 {
		t.Errorf("cost = %v, want 0 for zero-token failure", row.Cost)
	}
	if row.ErrorMessage == nil || *row.ErrorMessage != "openai: service unavailable" {
		t.Errorf("error_message = %v", row.ErrorMessage)
	}
}

func TestRecorder_UnknownModelCostsZero(t *testing.T) {
	s := newTestStore(t)
	rec := New(context.Background(), s, newTestCatalog(t), nil, 0.25, slog.New(slog.DiscardHandler))

	rec.Record(Invocation{
		OrgID:              "org-1",
		KeyID:              "key-1",
		ModelRequested:     "some-experimental-model",
		ModelUsed:          "some-experimental-model",
		Provider:           "openai",
		Status:             store.StatusSuccess,
		InputTokens:        5000,
		OutputTokens:       5000,
		ManagedCredentials: true,
	})
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := s.RequestsByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if rows[0].Cost != 0 {
		t.Errorf("cost = %v, want 0 for unpriced model", rows[0].Cost)
	}
	if rows[0].MarkedUpCost != nil {
		t.Error("unpriced model should not get a marked-up cost")
	}
}

func TestRecorder_CloseDrainsBacklog(t *testing.T) {
	s := newTestStore(t)
	rec := New(context.Background(), s, newTestCatalog(t), nil, 0, slog.New(slog.DiscardHandler))

	const n = 250 // spans multiple flush batches
	for i := 0; i < n; i++ {
		rec.Record(Invocation{
			OrgID:          "org-1",
			KeyID:          "key-1",
			ModelRequested: "gpt-4o",
			ModelUsed:      "gpt-4o",
			Provider:       "openai",
			Status:         store.StatusSuccess,
			InputTokens:    10,
			OutputTokens:   10,
		})
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	rows, err := s.RequestsByOrg(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("read ledger: %v", err)
	}
	if len(rows) != n {
		t.Errorf("persisted %d rows, want %d", len(rows), n)
	}
	if rec.Dropped() != 0 {
		t.Errorf("dropped = %d, want 0", rec.Dropped())
	}
}
