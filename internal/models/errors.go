package models

import "fmt"

// ErrorType identifies the category of error behind a failed outcome.
type ErrorType string

const (
	// Workspace acquisition
	ErrWorkspaceAuth     ErrorType = "workspace_auth"
	ErrWorkspaceNetwork  ErrorType = "workspace_network"
	ErrWorkspaceNotFound ErrorType = "workspace_not_found"

	// Drift probing
	ErrProbeFailed ErrorType = "probe_failed"

	// Merge phase
	ErrMergeFailed ErrorType = "merge_failed"

	// Publish phase
	ErrPublishFailed ErrorType = "publish_failed"
	ErrRateLimited   ErrorType = "rate_limited"

	// Run level
	ErrCancelled ErrorType = "cancelled"

	// Catch-all
	ErrInternalError ErrorType = "internal_error"
)

// OutcomeError is the structured cause attached to an UpdateOutcome.
type OutcomeError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (e *OutcomeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}
