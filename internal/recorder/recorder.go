// Package recorder persists the usage/cost ledger. Rows are written to an
// internal buffered channel and flushed in batches by a background goroutine,
// so recording never blocks or fails the response path. If the channel fills
// up, new rows are dropped and counted in Dropped.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/modelgrid/gateway/internal/catalog"
	"github.com/modelgrid/gateway/internal/store"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
	writeTimeout  = 5 * time.Second
)

// Invocation describes one completed invocation attempt (success or upstream
// failure). Pre-invocation rejections are never recorded.
type Invocation struct {
	OrgID string
	KeyID string

	ModelRequested string
	ModelUsed      string // empty when no model was ever invoked
	Provider       string

	Status       string // store.StatusSuccess or store.StatusError
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	ErrorMessage string // empty on success

	// ManagedCredentials marks orgs invoking through platform-owned upstream
	// credentials, which are subject to the cost markup.
	ManagedCredentials bool
}

// AnalyticsSink receives a best-effort mirror of every flushed batch
// (ClickHouse in the managed deployment). Optional.
type AnalyticsSink interface {
	Mirror(ctx context.Context, rows []store.GatewayRequest)
}

// Recorder computes cost from catalog pricing and appends immutable ledger
// rows asynchronously.
type Recorder struct {
	ch        chan store.GatewayRequest
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped int64

	store      *store.Store
	catalog    *catalog.Registry
	sink       AnalyticsSink
	markupRate float64

	baseCtx context.Context
	log     *slog.Logger
	now     func() time.Time
}

// New creates a Recorder and starts its flush goroutine. sink may be nil.
func New(ctx context.Context, s *store.Store, cat *catalog.Registry, sink AnalyticsSink, markupRate float64, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		ch:         make(chan store.GatewayRequest, channelBuffer),
		done:       make(chan struct{}),
		store:      s,
		catalog:    cat,
		sink:       sink,
		markupRate: markupRate,
		baseCtx:    ctx,
		log:        log,
		now:        time.Now,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// SetClock overrides the time source. Test hook.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

// Record enqueues one ledger row. Never blocks: when the buffer is full the
// row is dropped and counted.
func (r *Recorder) Record(inv Invocation) {
	row := r.buildRow(inv)
	select {
	case r.ch <- row:
	default:
		atomic.AddInt64(&r.dropped, 1)
	}
}

// Dropped reports how many rows have been dropped since startup.
func (r *Recorder) Dropped() int64 {
	return atomic.LoadInt64(&r.dropped)
}

// Close drains the channel, flushes the remainder, and stops the goroutine.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
	return nil
}

func (r *Recorder) buildRow(inv Invocation) store.GatewayRequest {
	row := store.GatewayRequest{
		ID:             uuid.NewString(),
		OrgID:          inv.OrgID,
		KeyID:          inv.KeyID,
		ModelRequested: inv.ModelRequested,
		Provider:       inv.Provider,
		Status:         inv.Status,
		InputTokens:    inv.InputTokens,
		OutputTokens:   inv.OutputTokens,
		LatencyMs:      inv.LatencyMs,
		CreatedAt:      r.now().UTC(),
	}
	if inv.ModelUsed != "" {
		used := inv.ModelUsed
		row.ModelUsed = &used
	}
	if inv.ErrorMessage != "" {
		msg := inv.ErrorMessage
		row.ErrorMessage = &msg
	}

	// Cost resolves from the matched catalog entry; unknown models cost 0.
	priceModel := inv.ModelUsed
	if priceModel == "" {
		priceModel = inv.ModelRequested
	}
	if entry, ok := r.catalog.Lookup(priceModel); ok {
		row.Cost = entry.Cost(inv.InputTokens, inv.OutputTokens)
		if inv.ManagedCredentials {
			marked := row.Cost * (1 + r.markupRate)
			row.MarkedUpCost = &marked
		}
	}
	return row
}

func (r *Recorder) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]store.GatewayRequest, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case row := <-r.ch:
			batch = append(batch, row)
			if len(batch) >= batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-r.done:
			for {
				select {
				case row := <-r.ch:
					batch = append(batch, row)
					if len(batch) >= batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// write persists one batch: best-effort with one retry, then the batch is
// dropped with an internal log line. The response path is long gone by now.
func (r *Recorder) write(batch []store.GatewayRequest) {
	ctx, cancel := context.WithTimeout(r.baseCtx, writeTimeout)
	defer cancel()

	err := r.store.InsertRequests(ctx, batch)
	if err != nil {
		err = r.store.InsertRequests(ctx, batch)
	}
	if err != nil {
		atomic.AddInt64(&r.dropped, int64(len(batch)))
		r.log.Error("usage ledger write failed, batch dropped",
			slog.Int("rows", len(batch)),
			slog.String("error", err.Error()),
		)
		return
	}

	if r.sink != nil {
		r.sink.Mirror(ctx, batch)
	}
}
