package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spachava753/templatesync/internal/drift"
	"github.com/spachava753/templatesync/internal/engine"
	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/retry"
	"github.com/spachava753/templatesync/internal/workspace"
)

// maxExcerptLines caps the diff excerpt carried in an outcome.
const maxExcerptLines = 50

// Workspaces acquires and releases repository working copies.
type Workspaces interface {
	Acquire(ctx context.Context, entry models.RepositoryEntry) (*workspace.Workspace, error)
	Release(ws *workspace.Workspace) error
}

// Prober determines a workspace's drift from its template.
type Prober interface {
	Probe(ctx context.Context, ws *workspace.Workspace) (drift.Result, error)
}

// Publisher turns an applied outcome into a pull request.
type Publisher interface {
	Publish(ctx context.Context, ws *workspace.Workspace, outcome *models.UpdateOutcome, templateURL string)
}

// Executor processes a single repository: acquire, probe, merge, classify
// and, in apply mode, publish.
type Executor struct {
	Workspaces Workspaces
	Prober     Prober
	Engine     engine.Engine
	Git        gitclient.Client
	Publisher  Publisher
	Mode       models.RunMode
	Retry      retry.Policy
}

// Execute runs the update for entry. Every error is folded into the
// returned outcome; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, entry models.RepositoryEntry) *models.UpdateOutcome {
	outcome := models.NewOutcome(entry)
	log := slog.With("repo", entry.Name)

	attempts, err := e.Retry.Do(ctx, retryable, func(ctx context.Context) error {
		reset(outcome, entry)
		return e.attempt(ctx, entry, outcome, log)
	})
	outcome.Attempts = max(attempts, 1)
	if err != nil {
		fail(ctx, outcome, err)
	}
	outcome.EndedAt = time.Now()

	log.Info("repository processed",
		"status", outcome.Status,
		"detail", outcome.Detail(),
		"attempts", outcome.Attempts,
		"duration", outcome.EndedAt.Sub(outcome.StartedAt).Round(time.Millisecond))
	return outcome
}

// reset clears what a previous attempt recorded.
func reset(outcome *models.UpdateOutcome, entry models.RepositoryEntry) {
	started := outcome.StartedAt
	*outcome = *models.NewOutcome(entry)
	outcome.StartedAt = started
}

func (e *Executor) attempt(ctx context.Context, entry models.RepositoryEntry, outcome *models.UpdateOutcome, log *slog.Logger) (err error) {
	ws, err := e.Workspaces.Acquire(ctx, entry)
	if err != nil {
		return err
	}
	log.Debug("workspace acquired", "path", ws.Path, "reused", ws.Reused)

	defer func() {
		if err != nil || outcome.Status.IsFailure() {
			ws.MarkFailed()
		}
		if rerr := e.Workspaces.Release(ws); rerr != nil {
			log.Warn("releasing workspace", "error", rerr)
		}
		if ws.Preserved() {
			outcome.WorkspacePath = ws.Path
		}
	}()

	res, err := e.Prober.Probe(ctx, ws)
	outcome.Drift = res.Status
	outcome.RecordedCommit = res.RecordedCommit
	outcome.UpstreamCommit = res.UpstreamCommit
	if err != nil {
		return err
	}

	if !entry.AutoUpdate {
		outcome.Skip(models.SkipDisabled)
		return nil
	}

	switch res.Status {
	case models.DriftUpToDate:
		outcome.Skip(models.SkipUpToDate)
		return nil
	case models.DriftUnlinked:
		outcome.Skip(models.SkipUnlinked)
		return nil
	}

	log.Info("template drift detected", "recorded", drift.Short(res.RecordedCommit), "upstream", drift.Short(res.UpstreamCommit))

	if err := e.merge(ctx, ws, outcome, log); err != nil {
		return err
	}

	if outcome.Status == models.StatusApplied && e.Mode == models.ModeApply {
		e.Publisher.Publish(ctx, ws, outcome, res.TemplateURL)
	}
	return nil
}

// merge runs the engine and classifies what it left in the workspace.
// Conflicting and failed merges are discarded so nothing is committed.
func (e *Executor) merge(ctx context.Context, ws *workspace.Workspace, outcome *models.UpdateOutcome, log *slog.Logger) error {
	preview, err := e.Engine.Diff(ctx, ws.Path)
	if err != nil {
		log.Debug("engine diff unavailable", "error", err)
	}

	updateErr := e.Engine.Update(ctx, ws.Path)
	if ctx.Err() != nil {
		e.discard(ws, log)
		return ctx.Err()
	}

	status, err := e.Git.Status(ctx, ws.Path)
	if err != nil {
		e.discard(ws, log)
		return fmt.Errorf("reading workspace status: %w", err)
	}

	if conflicts := findConflicts(ws.Path, status); len(conflicts) > 0 {
		e.discard(ws, log)
		outcome.Status = models.StatusConflict
		outcome.Diff = models.DiffSummary{FilesChanged: len(status), Files: conflicts}
		return nil
	}

	if updateErr != nil {
		e.discard(ws, log)
		if engine.IsTransient(updateErr) {
			return updateErr
		}
		outcome.Fail(models.StatusFailed, models.ErrMergeFailed, updateErr.Error())
		return nil
	}

	if len(status) == 0 {
		outcome.Skip(models.SkipNoChanges)
		return nil
	}

	if err := e.Git.StageAll(ctx, ws.Path); err != nil {
		e.discard(ws, log)
		return fmt.Errorf("staging changes: %w", err)
	}
	if strings.TrimSpace(preview) == "" {
		preview, err = e.Git.Diff(ctx, ws.Path)
		if err != nil {
			log.Debug("git diff unavailable", "error", err)
		}
	}

	files := make([]string, 0, len(status))
	for _, s := range status {
		files = append(files, s.Path)
	}
	outcome.Status = models.StatusApplied
	outcome.Diff = models.DiffSummary{
		FilesChanged: len(status),
		Files:        files,
		Excerpt:      excerpt(preview, maxExcerptLines),
	}
	return nil
}

func (e *Executor) discard(ws *workspace.Workspace, log *slog.Logger) {
	if err := e.Git.Discard(context.Background(), ws.Path); err != nil {
		log.Warn("discarding merge", "error", err)
	}
}

func retryable(err error) bool {
	var wsErr *workspace.WorkspaceError
	if errors.As(err, &wsErr) {
		return wsErr.Retryable()
	}
	return engine.IsTransient(err)
}

// fail converts an operational error into the outcome taxonomy.
func fail(ctx context.Context, outcome *models.UpdateOutcome, err error) {
	var (
		wsErr    *workspace.WorkspaceError
		probeErr *drift.ProbeError
		engErr   *engine.Error
	)
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		outcome.Fail(models.StatusFailed, models.ErrCancelled, err.Error())
	case errors.As(err, &wsErr):
		outcome.Fail(models.StatusFailed, wsErr.ErrorType(), err.Error())
	case errors.As(err, &probeErr):
		outcome.Drift = models.DriftProbeError
		outcome.Fail(models.StatusFailed, models.ErrProbeFailed, err.Error())
	case errors.As(err, &engErr):
		outcome.Fail(models.StatusFailed, models.ErrMergeFailed, err.Error())
	default:
		outcome.Fail(models.StatusFailed, models.ErrInternalError, err.Error())
	}
}

func excerpt(diff string, maxLines int) string {
	diff = strings.TrimRight(diff, "\n")
	if diff == "" {
		return ""
	}
	lines := strings.Split(diff, "\n")
	if len(lines) <= maxLines {
		return diff
	}
	return strings.Join(lines[:maxLines], "\n") + fmt.Sprintf("\n... (%d more lines)", len(lines)-maxLines)
}
