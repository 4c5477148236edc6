package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/registry"
	"github.com/spachava753/templatesync/internal/report"
)

// Executor processes a single repository.
type Executor interface {
	Execute(ctx context.Context, entry models.RepositoryEntry) *models.UpdateOutcome
}

// Runner coordinates one pass over a registry.
type Runner struct {
	Executor Executor
	Options  models.RunOptions

	// RunID identifies the run in reports and history. Generated when empty.
	RunID string
}

// Run processes every selected entry of reg with a bounded pool of workers
// and returns the aggregated report. The report lists every selected entry
// exactly once, including entries never started because ctx was cancelled.
// The only error Run returns is a *registry.ConfigError for a bad selection.
func (r *Runner) Run(ctx context.Context, reg *registry.Registry) (*models.RunReport, error) {
	entries, err := r.selection(reg)
	if err != nil {
		return nil, err
	}

	runID := r.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	mode := r.Options.Mode
	if mode == "" {
		mode = models.ModeApply
	}

	nWorkers := r.Options.Concurrency
	if nWorkers <= 0 {
		nWorkers = reg.Settings().Concurrency
	}
	nWorkers = max(min(nWorkers, len(entries)), 1)

	agg := report.NewAggregator(runID, mode, nWorkers)
	slog.Info("starting run",
		"run_id", runID,
		"mode", mode,
		"repositories", len(entries),
		"concurrency", nWorkers)

	r.runConcurrent(ctx, entries, nWorkers, agg)

	skipped := 0
	for _, e := range entries {
		if agg.Has(e.Name) {
			continue
		}
		o := models.NewOutcome(e)
		o.Fail(models.StatusFailed, models.ErrCancelled, "run cancelled before the repository was started")
		o.EndedAt = o.StartedAt
		agg.Record(*o)
		skipped++
	}
	if skipped > 0 || ctx.Err() != nil {
		agg.MarkCancelled()
	}

	rep := agg.Summarize()
	slog.Info("run finished",
		"run_id", runID,
		"duration", rep.Duration().Round(time.Millisecond),
		"not_started", skipped,
		"cancelled", rep.Cancelled)
	return rep, nil
}

// selection applies the --only filter. Entries with auto_update disabled
// stay in the selection so they are probed and reported as skipped.
func (r *Runner) selection(reg *registry.Registry) ([]models.RepositoryEntry, error) {
	if len(r.Options.Only) == 0 {
		return reg.List(), nil
	}
	var unknown []string
	for _, name := range r.Options.Only {
		if _, ok := reg.Get(name); !ok {
			unknown = append(unknown, fmt.Sprintf("unknown repository %q", name))
		}
	}
	if len(unknown) > 0 {
		return nil, &registry.ConfigError{Source: reg.Source(), Problems: unknown}
	}
	return reg.Filter(registry.Named(r.Options.Only...)).List(), nil
}

// runConcurrent feeds entries to nWorkers workers and records each outcome
// as it completes. Feeding stops once ctx is cancelled.
func (r *Runner) runConcurrent(ctx context.Context, entries []models.RepositoryEntry, nWorkers int, agg *report.Aggregator) {
	entryChan := make(chan models.RepositoryEntry) // unbuffered

	var wg sync.WaitGroup

	for range nWorkers {
		wg.Go(func() {
			for entry := range entryChan {
				outcome := r.Executor.Execute(ctx, entry)
				if outcome == nil {
					outcome = models.NewOutcome(entry)
					outcome.Fail(models.StatusFailed, models.ErrInternalError, "executor returned no outcome")
				}
				agg.Record(*outcome)
			}
		})
	}

	// Feeder: sends entries to workers, respects context cancellation
	go func() {
		defer close(entryChan)
		for _, entry := range entries {
			select {
			case <-ctx.Done():
				return
			case entryChan <- entry:
			}
		}
	}()

	wg.Wait()
}
