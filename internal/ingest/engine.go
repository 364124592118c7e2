// Package ingest orchestrates source sync runs: scheduling, the run log,
// and failure isolation between sources.
package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/datum-agro/safra-cli/internal/fetcher"
	"github.com/datum-agro/safra-cli/internal/source"
	"github.com/datum-agro/safra-cli/internal/store"
)

// Engine runs the ingestion pipeline over the registered sources.
type Engine struct {
	store   store.Store
	fetcher fetcher.Fetcher
	reg     *source.Registry
}

// RunOpts configures which sources to sync and how.
type RunOpts struct {
	Sources []string // restrict to specific source names
	Years   []int    // restrict weather sources to specific calendar years
	Force   bool     // ignore ShouldRun() scheduling
}

// RunSummary reports the outcome of one source within an engine run.
type RunSummary struct {
	Source      string `json:"source"`
	Status      string `json:"status"`
	RowsWritten int64  `json:"rows_written"`
	Failures    int    `json:"failures"`
	Error       string `json:"error,omitempty"`
}

// NewEngine creates a new ingestion engine.
func NewEngine(st store.Store, f fetcher.Fetcher, reg *source.Registry) *Engine {
	return &Engine{store: st, fetcher: f, reg: reg}
}

// Run iterates over the selected sources in registration order, checks if
// each needs syncing, and runs the sync. One source failing never stops
// the sources after it; every attempted source gets a run log entry.
func (e *Engine) Run(ctx context.Context, opts RunOpts) ([]RunSummary, error) {
	log := zap.L().With(zap.String("component", "ingest.engine"))
	now := time.Now().UTC()

	sources, err := e.reg.Select(opts.Sources)
	if err != nil {
		return nil, err
	}

	if len(sources) == 0 {
		log.Info("no sources selected")
		return nil, nil
	}

	log.Info("selected sources", zap.Int("count", len(sources)))

	var summaries []RunSummary

	for _, src := range sources {
		select {
		case <-ctx.Done():
			return summaries, ctx.Err()
		default:
		}

		srcLog := log.With(zap.String("source", src.Name()))

		if !opts.Force {
			lastSync, err := e.store.LastSuccess(ctx, src.Name())
			if err != nil {
				return summaries, eris.Wrapf(err, "engine: check last sync for %s", src.Name())
			}

			if !src.ShouldRun(now, lastSync) {
				srcLog.Debug("skipping (not due)")
				summaries = append(summaries, RunSummary{Source: src.Name(), Status: "skipped"})
				continue
			}
		}

		srcLog.Info("starting sync")
		runID, err := e.store.StartRun(ctx, src.Name())
		if err != nil {
			return summaries, eris.Wrapf(err, "engine: start run log for %s", src.Name())
		}

		start := time.Now()
		result, err := src.Sync(ctx, e.store, e.fetcher, source.Options{Years: opts.Years})
		elapsed := time.Since(start)

		if err != nil {
			srcLog.Error("sync failed",
				zap.String("kind", string(source.Classify(err))),
				zap.Error(err),
				zap.Duration("elapsed", elapsed),
			)
			if logErr := e.store.FailRun(ctx, runID, err.Error()); logErr != nil {
				srcLog.Error("failed to record run failure", zap.Error(logErr))
			}
			summaries = append(summaries, RunSummary{
				Source: src.Name(),
				Status: store.RunFailed,
				Error:  err.Error(),
			})
			continue
		}

		metadata := result.Metadata
		if len(result.Failures) > 0 {
			if metadata == nil {
				metadata = make(map[string]any)
			}
			metadata["unit_failures"] = result.Failures
		}

		if err := e.store.CompleteRun(ctx, runID, result.RowsWritten, metadata); err != nil {
			srcLog.Error("failed to record run completion", zap.Error(err))
		}

		srcLog.Info("sync complete",
			zap.Int64("rows", result.RowsWritten),
			zap.Int("unit_failures", len(result.Failures)),
			zap.Duration("elapsed", elapsed),
		)
		summaries = append(summaries, RunSummary{
			Source:      src.Name(),
			Status:      store.RunComplete,
			RowsWritten: result.RowsWritten,
			Failures:    len(result.Failures),
		})
	}

	var synced, skipped, failed int
	for _, s := range summaries {
		switch s.Status {
		case store.RunComplete:
			synced++
		case store.RunFailed:
			failed++
		default:
			skipped++
		}
	}
	log.Info("engine run complete",
		zap.Int("synced", synced),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed),
	)
	return summaries, nil
}
