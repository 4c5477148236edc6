package executor_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spachava753/templatesync/internal/config"
	"github.com/spachava753/templatesync/internal/drift"
	"github.com/spachava753/templatesync/internal/engine"
	"github.com/spachava753/templatesync/internal/executor"
	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/gitclient/gitfake"
	"github.com/spachava753/templatesync/internal/hosting/hostfake"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/publisher"
	"github.com/spachava753/templatesync/internal/retry"
	"github.com/spachava753/templatesync/internal/workspace"
)

const (
	cloneURL    = "https://github.com/example/svc.git"
	templateURL = "https://github.com/example/template.git"
	oldCommit   = "1111111aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	newCommit   = "2222222bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

var fastRetry = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}

// scriptEngine is an engine whose update runs a Go function in the workspace.
type scriptEngine struct {
	preview string
	update  func(dir string) error
	calls   int
}

func (s *scriptEngine) Diff(ctx context.Context, dir string) (string, error) {
	return s.preview, nil
}

func (s *scriptEngine) Update(ctx context.Context, dir string) error {
	s.calls++
	if s.update == nil {
		return nil
	}
	return s.update(dir)
}

func writeFile(name, content string) func(dir string) error {
	return func(dir string) error {
		return os.WriteFile(filepath.Join(dir, name), []byte(content), 0644)
	}
}

type harness struct {
	git        *gitfake.Client
	host       *hostfake.Client
	engine     *scriptEngine
	workspaces *workspace.Manager
	exec       *executor.Executor
}

func linkage(commit string) string {
	return `{"template": "` + templateURL + `", "commit": "` + commit + `", "checkout": null}`
}

func newHarness(t *testing.T, mode models.RunMode, preserve models.PreservePolicy) *harness {
	t.Helper()
	git := gitfake.New()
	git.Remotes[cloneURL] = map[string]string{
		drift.LinkageFile: linkage(oldCommit),
		"setup.py":        "v1\n",
	}
	git.Heads[templateURL] = newCommit

	host := hostfake.New()
	eng := &scriptEngine{}

	mgr, err := workspace.NewManager(git, workspace.Options{BaseDir: t.TempDir(), Preserve: preserve})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	pub, err := publisher.New(git, host, config.DefaultSettings())
	if err != nil {
		t.Fatalf("publisher.New: %v", err)
	}

	return &harness{
		git:        git,
		host:       host,
		engine:     eng,
		workspaces: mgr,
		exec: &executor.Executor{
			Workspaces: mgr,
			Prober:     drift.NewProber(git, fastRetry),
			Engine:     eng,
			Git:        git,
			Publisher:  pub,
			Mode:       mode,
			Retry:      fastRetry,
		},
	}
}

func entry() models.RepositoryEntry {
	return models.RepositoryEntry{
		Name:         "svc",
		TemplateName: "python",
		TemplateRef:  templateURL,
		HostSlug:     "example/svc",
		AutoUpdate:   true,
	}
}

func assertReleased(t *testing.T, h *harness) {
	t.Helper()
	if open := h.workspaces.Stats().Open; open != 0 {
		t.Errorf("%d workspaces left open", open)
	}
}

func TestUpToDateSkipsInBothModes(t *testing.T) {
	for _, mode := range []models.RunMode{models.ModeDryRun, models.ModeApply} {
		t.Run(string(mode), func(t *testing.T) {
			h := newHarness(t, mode, models.PreserveNever)
			h.git.Heads[templateURL] = oldCommit

			out := h.exec.Execute(context.Background(), entry())

			if out.Status != models.StatusSkipped || out.SkipReason != models.SkipUpToDate {
				t.Errorf("status = %s/%s, want skipped/up_to_date", out.Status, out.SkipReason)
			}
			if out.Drift != models.DriftUpToDate {
				t.Errorf("drift = %s", out.Drift)
			}
			if h.engine.calls != 0 {
				t.Error("engine must not run for an up-to-date repository")
			}
			assertReleased(t, h)
		})
	}
}

func TestUnlinkedSkips(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	h.git.Remotes[cloneURL] = map[string]string{"setup.py": "v1\n"}

	out := h.exec.Execute(context.Background(), entry())
	if out.Status != models.StatusSkipped || out.SkipReason != models.SkipUnlinked {
		t.Errorf("status = %s/%s, want skipped/unlinked", out.Status, out.SkipReason)
	}
}

func TestDisabledIsProbedButNotMerged(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	e := entry()
	e.AutoUpdate = false

	out := h.exec.Execute(context.Background(), e)
	if out.Status != models.StatusSkipped || out.SkipReason != models.SkipDisabled {
		t.Errorf("status = %s/%s, want skipped/disabled", out.Status, out.SkipReason)
	}
	if out.Drift != models.DriftNeedsUpdate {
		t.Errorf("disabled repositories are still probed, drift = %s", out.Drift)
	}
	if h.engine.calls != 0 {
		t.Error("engine must not run for a disabled repository")
	}
}

func TestDryRunApplied(t *testing.T) {
	h := newHarness(t, models.ModeDryRun, models.PreserveNever)
	h.engine.update = writeFile("setup.py", "v2\n")

	out := h.exec.Execute(context.Background(), entry())

	if out.Status != models.StatusApplied {
		t.Fatalf("status = %s (%v)", out.Status, out.Error)
	}
	if out.Diff.FilesChanged != 1 || out.Diff.Files[0] != "setup.py" {
		t.Errorf("unexpected diff summary %+v", out.Diff)
	}
	if !strings.Contains(out.Diff.Excerpt, "+v2") {
		t.Errorf("excerpt should fall back to git diff, got %q", out.Diff.Excerpt)
	}
	if out.RecordedCommit != oldCommit || out.UpstreamCommit != newCommit {
		t.Errorf("commits = %s -> %s", out.RecordedCommit, out.UpstreamCommit)
	}
	if out.PRReference != "" || out.Branch != "" {
		t.Error("dry run must not publish")
	}
	for _, call := range h.git.Calls() {
		if call == "commit" || call == "push" {
			t.Errorf("dry run issued git %s", call)
		}
	}
	assertReleased(t, h)
}

func TestApplyPublishes(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	h.engine.preview = "diff --git a/setup.py b/setup.py\n-v1\n+v2\n"
	h.engine.update = writeFile("setup.py", "v2\n")

	out := h.exec.Execute(context.Background(), entry())

	if out.Status != models.StatusPublished {
		t.Fatalf("status = %s (%v)", out.Status, out.Error)
	}
	if out.PRReference == "" {
		t.Error("published outcome needs a PR reference")
	}
	if out.Diff.Excerpt != strings.TrimRight(h.engine.preview, "\n") {
		t.Errorf("excerpt should come from the engine diff, got %q", out.Diff.Excerpt)
	}
	if created, _ := h.host.Counts(); created != 1 {
		t.Errorf("expected 1 PR, got %d", created)
	}
}

func TestApplyRerunWithOpenPullRequestSkips(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	h.engine.update = writeFile("setup.py", "v2\n")

	first := h.exec.Execute(context.Background(), entry())
	if first.Status != models.StatusPublished {
		t.Fatalf("first run: %s (%v)", first.Status, first.Error)
	}

	second := h.exec.Execute(context.Background(), entry())
	if second.Status != models.StatusSkipped || second.SkipReason != models.SkipAlreadyPublished {
		t.Errorf("rerun: %s/%s, want skipped/already_published", second.Status, second.SkipReason)
	}
	if created, updated := h.host.Counts(); created != 1 || updated != 0 {
		t.Errorf("created = %d, updated = %d", created, updated)
	}
}

func TestNoChangesSkips(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)

	out := h.exec.Execute(context.Background(), entry())
	if out.Status != models.StatusSkipped || out.SkipReason != models.SkipNoChanges {
		t.Errorf("status = %s/%s, want skipped/no_changes", out.Status, out.SkipReason)
	}
	if h.engine.calls != 1 {
		t.Errorf("engine calls = %d", h.engine.calls)
	}
}

func TestConflictIsStableAndNeverCommitted(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	h.engine.update = func(dir string) error {
		conflicted := "<<<<<<< ours\nv1-local\n=======\nv2\n>>>>>>> template\n"
		if err := os.WriteFile(filepath.Join(dir, "setup.py"), []byte(conflicted), 0644); err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, "tox.ini.rej"), []byte("@@ -1 +1 @@\n"), 0644); err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(dir, "README.md"), []byte("clean change\n"), 0644)
	}

	var reports []*models.UpdateOutcome
	for range 2 {
		reports = append(reports, h.exec.Execute(context.Background(), entry()))
	}

	for i, out := range reports {
		if out.Status != models.StatusConflict {
			t.Fatalf("run %d: status = %s (%v)", i, out.Status, out.Error)
		}
		if got := strings.Join(out.Diff.Files, ","); got != "setup.py,tox.ini" {
			t.Errorf("run %d: conflict files = %s", i, got)
		}
		if out.Attempts != 1 {
			t.Errorf("run %d: conflicts must not be retried, attempts = %d", i, out.Attempts)
		}
		if out.PRReference != "" {
			t.Errorf("run %d: conflict must not carry a PR", i)
		}
	}
	for _, call := range h.git.Calls() {
		if call == "commit" || call == "push" {
			t.Errorf("conflict produced git %s", call)
		}
	}
}

func TestMergeFailure(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	h.engine.update = func(dir string) error {
		writeFile("half-written.txt", "partial")(dir)
		return &engine.Error{Command: []string{"cruft", "update"}, ExitCode: 1, Output: "Error: bad template variable"}
	}

	out := h.exec.Execute(context.Background(), entry())
	if out.Status != models.StatusFailed {
		t.Fatalf("status = %s", out.Status)
	}
	if out.Error.Type != models.ErrMergeFailed {
		t.Errorf("error type = %s", out.Error.Type)
	}
	if out.Attempts != 1 {
		t.Errorf("non-transient merge failures are not retried, attempts = %d", out.Attempts)
	}
}

func TestTransientEngineFailureRetried(t *testing.T) {
	h := newHarness(t, models.ModeDryRun, models.PreserveNever)
	failures := 2
	h.engine.update = func(dir string) error {
		if failures > 0 {
			failures--
			return &engine.Error{Command: []string{"cruft", "update"}, ExitCode: 128, Transient: true}
		}
		return writeFile("setup.py", "v2\n")(dir)
	}

	out := h.exec.Execute(context.Background(), entry())
	if out.Status != models.StatusApplied {
		t.Fatalf("status = %s (%v)", out.Status, out.Error)
	}
	if out.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", out.Attempts)
	}
	if stats := h.workspaces.Stats(); stats.Acquired != 3 || stats.Open != 0 {
		t.Errorf("each attempt should use a fresh workspace: %+v", stats)
	}
}

func TestWorkspaceFailures(t *testing.T) {
	tests := []struct {
		name         string
		kind         gitclient.FailureKind
		wantType     models.ErrorType
		wantAttempts int
	}{
		{"not found", gitclient.FailureNotFound, models.ErrWorkspaceNotFound, 1},
		{"network", gitclient.FailureNetwork, models.ErrWorkspaceNetwork, 3},
		{"auth", gitclient.FailureAuth, models.ErrWorkspaceAuth, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, models.ModeApply, models.PreserveNever)
			h.git.CloneErr = func(string) error {
				return &gitclient.Error{Args: []string{"clone"}, Kind: tt.kind}
			}

			out := h.exec.Execute(context.Background(), entry())
			if out.Status != models.StatusFailed || out.Error.Type != tt.wantType {
				t.Errorf("outcome = %s/%v, want failed/%s", out.Status, out.Error, tt.wantType)
			}
			if out.Attempts != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", out.Attempts, tt.wantAttempts)
			}
		})
	}
}

func TestProbeFailure(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	delete(h.git.Heads, templateURL)

	out := h.exec.Execute(context.Background(), entry())
	if out.Status != models.StatusFailed || out.Error.Type != models.ErrProbeFailed {
		t.Errorf("outcome = %s/%v, want failed/probe_failed", out.Status, out.Error)
	}
	if out.Drift != models.DriftProbeError {
		t.Errorf("drift = %s", out.Drift)
	}
	assertReleased(t, h)
}

func TestPreserveOnFailure(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveOnFailure)
	h.engine.update = func(string) error {
		return &engine.Error{Command: []string{"cruft", "update"}, ExitCode: 2}
	}

	out := h.exec.Execute(context.Background(), entry())
	if out.WorkspacePath == "" {
		t.Fatal("failed workspace should be preserved")
	}
	if _, err := os.Stat(out.WorkspacePath); err != nil {
		t.Errorf("preserved workspace missing: %v", err)
	}

	h.engine.update = writeFile("setup.py", "v2\n")
	h.exec.Mode = models.ModeDryRun
	ok := h.exec.Execute(context.Background(), entry())
	if ok.WorkspacePath != "" {
		t.Error("successful workspace should not be preserved under on_failure")
	}
}

func TestCancelledBeforeStart(t *testing.T) {
	h := newHarness(t, models.ModeApply, models.PreserveNever)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.exec.Execute(ctx, entry())
	if out.Status != models.StatusFailed || out.Error.Type != models.ErrCancelled {
		t.Errorf("outcome = %s/%v, want failed/cancelled", out.Status, out.Error)
	}
	if !errors.Is(ctx.Err(), context.Canceled) {
		t.Fatal("context should be cancelled")
	}
}
