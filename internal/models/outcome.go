package models

import (
	"strings"
	"time"
)

// DriftStatus is the result of comparing a repository's template linkage
// against the upstream template.
type DriftStatus string

const (
	DriftUpToDate    DriftStatus = "up_to_date"
	DriftNeedsUpdate DriftStatus = "needs_update"
	DriftUnlinked    DriftStatus = "unlinked"
	DriftProbeError  DriftStatus = "probe_error"
)

// UpdateStatus is the terminal status of one repository in a run.
type UpdateStatus string

const (
	StatusSkipped       UpdateStatus = "skipped"
	StatusApplied       UpdateStatus = "applied"
	StatusConflict      UpdateStatus = "conflict"
	StatusFailed        UpdateStatus = "failed"
	StatusPublished     UpdateStatus = "published"
	StatusPublishFailed UpdateStatus = "publish_failed"
)

// AllStatuses lists every status in report order.
var AllStatuses = []UpdateStatus{
	StatusPublished,
	StatusApplied,
	StatusSkipped,
	StatusConflict,
	StatusFailed,
	StatusPublishFailed,
}

// IsFailure reports whether the status makes the run exit nonzero.
func (s UpdateStatus) IsFailure() bool {
	return s == StatusFailed || s == StatusPublishFailed
}

// SkipReason explains a skipped outcome.
type SkipReason string

const (
	SkipDisabled         SkipReason = "disabled"
	SkipUpToDate         SkipReason = "up_to_date"
	SkipUnlinked         SkipReason = "unlinked"
	SkipNoChanges        SkipReason = "no_changes"
	SkipAlreadyPublished SkipReason = "already_published"
)

// DiffSummary describes what a merge changed.
type DiffSummary struct {
	FilesChanged int      `json:"files_changed"`
	Files        []string `json:"files,omitempty"`
	Excerpt      string   `json:"excerpt,omitempty"`
}

// UpdateOutcome is the result of processing one repository.
type UpdateOutcome struct {
	Name           string        `json:"name"`
	HostSlug       string        `json:"github"`
	Status         UpdateStatus  `json:"status"`
	SkipReason     SkipReason    `json:"skip_reason,omitempty"`
	Drift          DriftStatus   `json:"drift,omitempty"`
	RecordedCommit string        `json:"recorded_commit,omitempty"`
	UpstreamCommit string        `json:"upstream_commit,omitempty"`
	Diff           DiffSummary   `json:"diff"`
	Branch         string        `json:"branch,omitempty"`
	PRReference    string        `json:"pr_reference,omitempty"`
	Error          *OutcomeError `json:"error,omitempty"`
	Attempts       int           `json:"attempts"`
	WorkspacePath  string        `json:"workspace_path,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        time.Time     `json:"ended_at"`
}

// NewOutcome starts an outcome for entry.
func NewOutcome(entry RepositoryEntry) *UpdateOutcome {
	return &UpdateOutcome{
		Name:      entry.Name,
		HostSlug:  entry.HostSlug,
		StartedAt: time.Now(),
	}
}

// Skip marks the outcome skipped for reason.
func (o *UpdateOutcome) Skip(reason SkipReason) {
	o.Status = StatusSkipped
	o.SkipReason = reason
	o.PRReference = ""
}

// Fail marks the outcome with status and a structured cause.
func (o *UpdateOutcome) Fail(status UpdateStatus, typ ErrorType, msg string) {
	o.Status = status
	o.Error = &OutcomeError{Type: typ, Message: msg}
	o.PRReference = ""
}

// Detail returns a one-line human description of the outcome.
func (o *UpdateOutcome) Detail() string {
	switch {
	case o.Error != nil:
		return o.Error.Error()
	case o.Status == StatusSkipped:
		return string(o.SkipReason)
	case o.Status == StatusPublished:
		return o.PRReference
	case o.Status == StatusConflict:
		return "conflicts in " + strings.Join(o.Diff.Files, ", ")
	}
	return ""
}
