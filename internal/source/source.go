// Package source contains the adapters for the three upstream data
// services. Each adapter converts its source's wire format into canonical
// records and reconciles them through the store; source-specific quirks
// (encodings, date formats, sentinel values, range splitting) stay inside
// the adapter that owns them.
package source

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/datum-agro/safra-cli/internal/config"
	"github.com/datum-agro/safra-cli/internal/fetcher"
	"github.com/datum-agro/safra-cli/internal/store"
)

// Cadence describes how often a source should be synced.
type Cadence string

const (
	Daily   Cadence = "daily"
	Weekly  Cadence = "weekly"
	Monthly Cadence = "monthly"
)

// Options tunes a single sync invocation.
type Options struct {
	// Years restricts which calendar years the weather sources fetch.
	// Empty means "the distinct harvest years already in the store".
	Years []int
}

// UnitFailure records one failed unit of work (a station half-year window,
// a locality year) without aborting the rest of the run.
type UnitFailure struct {
	Unit string `json:"unit"`
	Kind Kind   `json:"kind"`
	Err  string `json:"error"`
}

// Result holds the outcome of a source sync.
type Result struct {
	RowsWritten int64          `json:"rows_written"`
	Failures    []UnitFailure  `json:"failures,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Source defines the capability contract each upstream adapter implements.
type Source interface {
	// Name returns the unique identifier for this source (e.g., "conab").
	Name() string

	// Cadence returns how often this source publishes new data.
	Cadence() Cadence

	// ShouldRun decides if this source needs syncing given the current time
	// and the time of the last successful run (nil if never run).
	ShouldRun(now time.Time, lastRun *time.Time) bool

	// Sync fetches, normalizes, and reconciles this source's records into
	// the store. Per-unit failures are collected in the Result; an error
	// return means the whole source run failed.
	Sync(ctx context.Context, st store.Store, f fetcher.Fetcher, opts Options) (*Result, error)
}

// Registry maps source names to their implementations.
type Registry struct {
	sources map[string]Source
	order   []string // insertion order for deterministic iteration
}

// NewRegistry creates a registry populated with all three sources.
// Registration order is ingestion order: crop yields first, because the
// weather sources derive their year range from the stored harvest years.
func NewRegistry(cfg *config.Config) *Registry {
	r := &Registry{
		sources: make(map[string]Source),
	}

	r.Register(&Conab{cfg: cfg})
	r.Register(&Inmet{cfg: cfg})
	r.Register(&NasaPower{cfg: cfg})

	return r
}

// Register adds a source to the registry.
func (r *Registry) Register(s Source) {
	if r.sources == nil {
		r.sources = make(map[string]Source)
	}
	name := s.Name()
	r.sources[name] = s
	r.order = append(r.order, name)
}

// Get returns a source by name.
func (r *Registry) Get(name string) (Source, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, eris.Errorf("source: unknown source %q", name)
	}
	return s, nil
}

// Select returns the named sources in registration order, or all of them
// when names is empty.
func (r *Registry) Select(names []string) ([]Source, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	var result []Source
	for _, name := range names {
		s, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, nil
}

// All returns all sources in registration order.
func (r *Registry) All() []Source {
	result := make([]Source, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.sources[name])
	}
	return result
}

// AllNames returns all registered source names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
