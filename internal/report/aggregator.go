package report

import (
	"sort"
	"sync"
	"time"

	"github.com/spachava753/templatesync/internal/models"
)

// Aggregator collects outcomes from concurrent workers. It is the only
// state workers share.
type Aggregator struct {
	mu        sync.Mutex
	runID     string
	mode      models.RunMode
	workers   int
	startedAt time.Time
	outcomes  map[string]models.UpdateOutcome
	cancelled bool
}

// NewAggregator starts the report for a run.
func NewAggregator(runID string, mode models.RunMode, concurrency int) *Aggregator {
	return &Aggregator{
		runID:     runID,
		mode:      mode,
		workers:   concurrency,
		startedAt: time.Now(),
		outcomes:  make(map[string]models.UpdateOutcome),
	}
}

// Record stores an outcome, replacing any earlier outcome for the same name.
func (a *Aggregator) Record(o models.UpdateOutcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.outcomes[o.Name] = o
}

// Has reports whether an outcome was recorded for name.
func (a *Aggregator) Has(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.outcomes[name]
	return ok
}

// MarkCancelled flags the run as interrupted.
func (a *Aggregator) MarkCancelled() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancelled = true
}

// Summarize returns the report so far, outcomes sorted by name.
func (a *Aggregator) Summarize() *models.RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := &models.RunReport{
		RunID:       a.runID,
		Mode:        a.mode,
		Concurrency: a.workers,
		Cancelled:   a.cancelled,
		StartedAt:   a.startedAt,
		EndedAt:     time.Now(),
		Counts:      make(map[models.UpdateStatus]int),
		Outcomes:    make([]models.UpdateOutcome, 0, len(a.outcomes)),
	}
	for _, o := range a.outcomes {
		r.Outcomes = append(r.Outcomes, o)
		r.Counts[o.Status]++
	}
	sort.Slice(r.Outcomes, func(i, j int) bool {
		return r.Outcomes[i].Name < r.Outcomes[j].Name
	})
	return r
}
