// Package store persists canonical records and the ingest run log.
// Two drivers are provided: Postgres for deployments and SQLite for local
// runs. Both enforce the natural-key uniqueness constraints at the storage
// boundary so concurrent upserts cannot duplicate rows.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/datum-agro/safra-cli/internal/model"
)

// ErrConflict marks a uniqueness violation the upsert logic could not
// resolve. Callers treat it as fatal.
var ErrConflict = eris.New("store: persistence conflict")

// RunEntry is one row of the ingest run log.
type RunEntry struct {
	ID          string         `json:"id" yaml:"id"`
	Source      string         `json:"source" yaml:"source"`
	Status      string         `json:"status" yaml:"status"`
	StartedAt   time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
	RowsWritten int64          `json:"rows_written" yaml:"rows_written"`
	Error       string         `json:"error,omitempty" yaml:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Run statuses recorded in the ingest run log.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// Store defines the persistence interface for the ingestion pipeline and
// the aggregation service.
type Store interface {
	// Crop yields: the archive republishes its complete history each run,
	// so the whole table is atomically replaced rather than patched.
	ReplaceCropYields(ctx context.Context, records []model.CropYield) (int64, error)
	CropYears(ctx context.Context) ([]int, error)

	// Weather catalog and observations: upserted per natural key,
	// last write wins, unrelated history preserved.
	UpsertStations(ctx context.Context, stations []model.Station) (int64, error)
	UpsertLocalities(ctx context.Context, localities []model.Locality) (int64, error)
	UpsertObservations(ctx context.Context, observations []model.Observation) (int64, error)

	// Aggregates for the yearly comparison.
	ProductionByYear(ctx context.Context, cropFilter string) (map[int]float64, error)
	PrecipitationByYear(ctx context.Context) (map[int]float64, error)

	// Ingest run log.
	StartRun(ctx context.Context, source string) (string, error)
	CompleteRun(ctx context.Context, runID string, rowsWritten int64, metadata map[string]any) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	LastSuccess(ctx context.Context, source string) (*time.Time, error)
	ListRuns(ctx context.Context) ([]RunEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// dedupeCropYields collapses duplicate natural keys, keeping the last
// occurrence. The archive occasionally repeats a (year, region, crop) row;
// last write wins, matching the upsert contract.
func dedupeCropYields(records []model.CropYield) []model.CropYield {
	type key struct {
		year   int
		region string
		crop   string
	}
	idx := make(map[key]int, len(records))
	out := make([]model.CropYield, 0, len(records))
	for _, r := range records {
		k := key{r.Year, r.Region, r.Crop}
		if i, ok := idx[k]; ok {
			out[i] = r
			continue
		}
		idx[k] = len(out)
		out = append(out, r)
	}
	return out
}
