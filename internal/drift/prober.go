package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/retry"
	"github.com/spachava753/templatesync/internal/workspace"
)

// Result describes a repository's drift from its template.
type Result struct {
	Status         models.DriftStatus
	TemplateURL    string
	Ref            string
	RecordedCommit string
	UpstreamCommit string
	Attempts       int
}

// ProbeError is returned when the upstream template cannot be resolved.
type ProbeError struct {
	Template string
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing template %s: %v", e.Template, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// Prober compares a workspace's recorded template commit with upstream.
// It never mutates the workspace.
type Prober struct {
	git   gitclient.Client
	retry retry.Policy
}

// NewProber creates a prober resolving templates through git.
func NewProber(git gitclient.Client, policy retry.Policy) *Prober {
	return &Prober{git: git, retry: policy}
}

// Probe reads the linkage and resolves the upstream commit. A missing
// linkage file is not an error: the result is DriftUnlinked. Any other
// failure yields DriftProbeError together with a *ProbeError.
func (p *Prober) Probe(ctx context.Context, ws *workspace.Workspace) (Result, error) {
	link, err := ReadLinkage(ws.Path)
	if errors.Is(err, ErrUnlinked) {
		return Result{Status: models.DriftUnlinked}, nil
	}
	if err != nil {
		return Result{Status: models.DriftProbeError}, &ProbeError{Template: ws.Entry.TemplateRef, Err: err}
	}

	res := Result{
		TemplateURL:    link.Template,
		Ref:            link.Ref(),
		RecordedCommit: link.Commit,
	}
	if res.TemplateURL == "" {
		res.TemplateURL = ws.Entry.TemplateRef
	} else if res.TemplateURL != ws.Entry.TemplateRef {
		slog.Debug("linkage template differs from registry", "repo", ws.Entry.Name, "linkage", res.TemplateURL, "registry", ws.Entry.TemplateRef)
	}

	attempts, err := p.retry.Do(ctx, transient, func(ctx context.Context) error {
		sha, err := p.git.RemoteHead(ctx, res.TemplateURL, res.Ref)
		res.UpstreamCommit = sha
		return err
	})
	res.Attempts = attempts
	if err != nil {
		res.Status = models.DriftProbeError
		return res, &ProbeError{Template: res.TemplateURL, Err: err}
	}

	if SameCommit(res.RecordedCommit, res.UpstreamCommit) {
		res.Status = models.DriftUpToDate
	} else {
		res.Status = models.DriftNeedsUpdate
	}
	return res, nil
}

func transient(err error) bool {
	switch gitclient.KindOf(err) {
	case gitclient.FailureNetwork, gitclient.FailureAuth:
		return true
	}
	return false
}
