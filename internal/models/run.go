package models

import (
	"time"
)

// PreservePolicy controls workspace cleanup behavior.
type PreservePolicy string

const (
	PreserveNever     PreservePolicy = "never"
	PreserveAlways    PreservePolicy = "always"
	PreserveOnFailure PreservePolicy = "on_failure"
)

// Valid reports whether p is a known policy.
func (p PreservePolicy) Valid() bool {
	switch p {
	case PreserveNever, PreserveAlways, PreserveOnFailure:
		return true
	}
	return false
}

// RunMode selects whether a run mutates anything upstream.
type RunMode string

const (
	ModeDryRun RunMode = "dry-run"
	ModeApply  RunMode = "apply"
)

type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	InitialDelayMs int     `yaml:"initial_delay_ms" toml:"initial_delay_ms" json:"initial_delay_ms"`
	MaxDelayMs     int     `yaml:"max_delay_ms" toml:"max_delay_ms" json:"max_delay_ms"`
	Multiplier     float64 `yaml:"multiplier" toml:"multiplier" json:"multiplier"`
}

// RunOptions are the per-invocation knobs for a run.
type RunOptions struct {
	Mode        RunMode
	Concurrency int
	Preserve    PreservePolicy
	Only        []string
}

// RunReport aggregates every repository outcome of a run.
type RunReport struct {
	RunID       string               `json:"run_id"`
	Mode        RunMode              `json:"mode"`
	Concurrency int                  `json:"concurrency"`
	Cancelled   bool                 `json:"cancelled"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     time.Time            `json:"ended_at"`
	Counts      map[UpdateStatus]int `json:"counts"`
	Outcomes    []UpdateOutcome      `json:"outcomes"`
}

// HasFailures reports whether any outcome counts as a run failure.
// Conflicts and skips are expected outcomes and do not.
func (r *RunReport) HasFailures() bool {
	for _, o := range r.Outcomes {
		if o.Status.IsFailure() {
			return true
		}
	}
	return r.Cancelled
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
