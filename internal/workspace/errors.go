package workspace

import (
	"fmt"

	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/models"
)

// Kind classifies a workspace failure.
type Kind string

const (
	KindAuth     Kind = "auth"
	KindNetwork  Kind = "network"
	KindNotFound Kind = "not_found"
	KindDirty    Kind = "dirty"
	KindOther    Kind = "other"
)

// WorkspaceError is returned when a workspace cannot be acquired.
type WorkspaceError struct {
	Repository string
	Kind       Kind
	Err        error
}

func (e *WorkspaceError) Error() string {
	return fmt.Sprintf("workspace %s (%s): %v", e.Repository, e.Kind, e.Err)
}

func (e *WorkspaceError) Unwrap() error {
	return e.Err
}

// Retryable reports whether acquiring again may succeed.
func (e *WorkspaceError) Retryable() bool {
	return e.Kind == KindAuth || e.Kind == KindNetwork
}

// ErrorType maps the failure onto the outcome taxonomy.
func (e *WorkspaceError) ErrorType() models.ErrorType {
	switch e.Kind {
	case KindAuth:
		return models.ErrWorkspaceAuth
	case KindNetwork:
		return models.ErrWorkspaceNetwork
	case KindNotFound:
		return models.ErrWorkspaceNotFound
	}
	return models.ErrInternalError
}

func wrapGitError(entry models.RepositoryEntry, action string, err error) *WorkspaceError {
	kind := KindOther
	switch gitclient.KindOf(err) {
	case gitclient.FailureAuth:
		kind = KindAuth
	case gitclient.FailureNetwork:
		kind = KindNetwork
	case gitclient.FailureNotFound:
		kind = KindNotFound
	}
	return &WorkspaceError{
		Repository: entry.Name,
		Kind:       kind,
		Err:        fmt.Errorf("%s: %w", action, err),
	}
}
