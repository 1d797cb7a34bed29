// Package catalog holds the in-process model catalog: pricing and context
// windows per canonical model id, populated from the providers' model lists.
package catalog

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Entry describes one model a provider can serve. Prices are USD per one
// million tokens.
type Entry struct {
	ModelID          string  `json:"model_id"`
	Provider         string  `json:"provider"`
	InputPricePer1M  float64 `json:"input_price_per_1m"`
	OutputPricePer1M float64 `json:"output_price_per_1m"`
	ContextWindow    int     `json:"context_window"`
}

// Cost computes the USD cost of a request against this entry's pricing.
func (e *Entry) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*e.InputPricePer1M/1e6 +
		float64(outputTokens)*e.OutputPricePer1M/1e6
}

// Source supplies catalog entries, typically a provider adapter.
type Source interface {
	Name() string
	ListModels(ctx context.Context) ([]Entry, error)
}

// Registry is the thread-safe catalog. Lookups are served from an in-memory
// snapshot; Refresh rebuilds the snapshot from all sources concurrently.
type Registry struct {
	mu        sync.RWMutex
	entries   map[string]Entry // canonical model id -> entry
	refreshed time.Time

	sources []Source
	log     *slog.Logger
}

// NewRegistry creates an empty registry over the given sources.
func NewRegistry(sources []Source, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		entries: make(map[string]Entry),
		sources: sources,
		log:     log,
	}
}

// Refresh queries every source and replaces the snapshot with the merged
// result. A failing source is logged and skipped; its previously known
// entries are carried over so a transient listing failure does not blank out
// pricing. The first provider to report a model id wins on conflict.
func (r *Registry) Refresh(ctx context.Context) error {
	results := make([][]Entry, len(r.sources))
	failed := make([]bool, len(r.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range r.sources {
		g.Go(func() error {
			entries, err := src.ListModels(gctx)
			if err != nil {
				r.log.Warn("catalog refresh: source failed",
					slog.String("provider", src.Name()),
					slog.String("error", err.Error()),
				)
				failed[i] = true
				return nil
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	merged := make(map[string]Entry)
	for i := range r.sources {
		for _, e := range results[i] {
			if _, ok := merged[e.ModelID]; !ok {
				merged[e.ModelID] = e
			}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Carry over entries from failed providers.
	for id, e := range r.entries {
		for i, src := range r.sources {
			if failed[i] && e.Provider == src.Name() {
				if _, ok := merged[id]; !ok {
					merged[id] = e
				}
			}
		}
	}
	r.entries = merged
	r.refreshed = time.Now()
	return nil
}

// Invalidate drops the snapshot. The next Refresh rebuilds from scratch and
// does not carry over stale entries.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]Entry)
	r.refreshed = time.Time{}
}

// Lookup returns the entry for a canonical model id.
func (r *Registry) Lookup(modelID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[modelID]
	return e, ok
}

// List returns all entries sorted by model id.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// LastRefreshed reports when the snapshot was last rebuilt (zero if never).
func (r *Registry) LastRefreshed() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.refreshed
}
