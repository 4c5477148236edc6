package hosting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// PullRequest is an open pull request on the host.
type PullRequest struct {
	Number  int
	URL     string
	Branch  string
	Base    string
	Created bool
}

// PullRequestSpec describes the pull request to open or update.
type PullRequestSpec struct {
	Owner  string
	Repo   string
	Branch string
	// Base defaults to the repository's default branch.
	Base  string
	Title string
	Body  string
}

// Client is the hosting API surface the orchestrator uses.
type Client interface {
	// FindOpenPullRequest returns the open pull request whose head is
	// branch, or nil when there is none.
	FindOpenPullRequest(ctx context.Context, owner, repo, branch string) (*PullRequest, error)

	// EnsurePullRequest edits the open pull request for spec.Branch in
	// place, or creates one when none is open.
	EnsurePullRequest(ctx context.Context, spec PullRequestSpec) (*PullRequest, error)

	// SearchTemplateConsumers finds repositories with a .cruft.json that
	// references templateURL, as owner/repo slugs.
	SearchTemplateConsumers(ctx context.Context, templateURL string) ([]string, error)
}

// ErrRateLimited is returned when the API budget is exhausted for longer
// than the limiter is willing to wait.
var ErrRateLimited = errors.New("hosting API rate limit exhausted")

// Error is a failed hosting API call.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err came from rate limiting.
func IsRateLimited(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var herr *Error
	return errors.As(err, &herr) && herr.StatusCode == http.StatusTooManyRequests
}

// Retryable reports whether a hosting error may succeed on retry: server
// errors, transport failures and rate limits.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if IsRateLimited(err) {
		return true
	}
	var herr *Error
	if errors.As(err, &herr) {
		return herr.StatusCode == 0 || herr.StatusCode >= 500
	}
	return true
}
