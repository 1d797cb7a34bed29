package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/modelgrid/gateway/internal/store"
)

const insertRequestsQuery = `INSERT INTO gateway_requests (
	id, org_id, key_id, model_requested, model_used, provider, status,
	input_tokens, output_tokens, cost, marked_up_cost, latency_ms,
	error_message, created_at
)`

// ClickHouseSink mirrors ledger batches into ClickHouse for analytics.
// Mirror failures are logged and otherwise ignored; the relational ledger
// stays the source of truth.
type ClickHouseSink struct {
	conn driver.Conn
	log  *slog.Logger
}

// NewClickHouseSink connects to ClickHouse and verifies the connection.
func NewClickHouseSink(ctx context.Context, addr, database, username, password string, log *slog.Logger) (*ClickHouseSink, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &ClickHouseSink{conn: conn, log: log}, nil
}

// Mirror appends one batch. Best-effort.
func (s *ClickHouseSink) Mirror(ctx context.Context, rows []store.GatewayRequest) {
	batch, err := s.conn.PrepareBatch(ctx, insertRequestsQuery)
	if err != nil {
		s.log.Warn("clickhouse mirror unavailable", slog.String("error", err.Error()))
		return
	}
	for _, r := range rows {
		err = batch.Append(
			r.ID,
			r.OrgID,
			r.KeyID,
			r.ModelRequested,
			deref(r.ModelUsed),
			r.Provider,
			r.Status,
			uint32(r.InputTokens),
			uint32(r.OutputTokens),
			r.Cost,
			derefFloat(r.MarkedUpCost),
			uint64(r.LatencyMs),
			deref(r.ErrorMessage),
			r.CreatedAt,
		)
		if err != nil {
			s.log.Warn("clickhouse mirror append failed", slog.String("error", err.Error()))
			return
		}
	}
	if err := batch.Send(); err != nil {
		s.log.Warn("clickhouse mirror send failed",
			slog.Int("rows", len(rows)),
			slog.String("error", err.Error()),
		)
	}
}

// Close releases the connection.
func (s *ClickHouseSink) Close() error { return s.conn.Close() }

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
