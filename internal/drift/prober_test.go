package drift

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/gitclient/gitfake"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/retry"
	"github.com/spachava753/templatesync/internal/workspace"
)

const templateURL = "https://github.com/example/template.git"

var fastRetry = retry.Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2}

func newWorkspace(t *testing.T, linkage string) *workspace.Workspace {
	t.Helper()
	dir := t.TempDir()
	if linkage != "" {
		if err := os.WriteFile(filepath.Join(dir, LinkageFile), []byte(linkage), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return &workspace.Workspace{
		Entry: models.RepositoryEntry{Name: "svc", TemplateRef: templateURL, HostSlug: "example/svc"},
		Path:  dir,
	}
}

func TestProbe(t *testing.T) {
	const upstream = "1111111aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	tests := []struct {
		name       string
		linkage    string
		wantStatus models.DriftStatus
		wantErr    bool
	}{
		{
			name:       "up to date",
			linkage:    `{"template": "` + templateURL + `", "commit": "` + upstream + `"}`,
			wantStatus: models.DriftUpToDate,
		},
		{
			name:       "up to date with abbreviated commit",
			linkage:    `{"template": "` + templateURL + `", "commit": "1111111"}`,
			wantStatus: models.DriftUpToDate,
		},
		{
			name:       "needs update",
			linkage:    `{"template": "` + templateURL + `", "commit": "2222222bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}`,
			wantStatus: models.DriftNeedsUpdate,
		},
		{
			name:       "unlinked",
			wantStatus: models.DriftUnlinked,
		},
		{
			name:       "malformed linkage",
			linkage:    `{"template": `,
			wantStatus: models.DriftProbeError,
			wantErr:    true,
		},
		{
			name:       "missing commit",
			linkage:    `{"template": "` + templateURL + `"}`,
			wantStatus: models.DriftProbeError,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			git := gitfake.New()
			git.Heads[templateURL] = upstream
			ws := newWorkspace(t, tt.linkage)

			res, err := NewProber(git, fastRetry).Probe(context.Background(), ws)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if res.Status != tt.wantStatus {
				t.Errorf("status = %s, want %s", res.Status, tt.wantStatus)
			}
			if tt.wantStatus == models.DriftNeedsUpdate && res.UpstreamCommit != upstream {
				t.Errorf("upstream = %s, want %s", res.UpstreamCommit, upstream)
			}
		})
	}
}

func TestProbeFollowsCheckout(t *testing.T) {
	git := gitfake.New()
	git.Heads[templateURL] = "aaaaaaa"
	git.Heads[templateURL+"@v2"] = "bbbbbbb"

	ws := newWorkspace(t, `{"template": "`+templateURL+`", "commit": "bbbbbbb", "checkout": "v2"}`)
	res, err := NewProber(git, fastRetry).Probe(context.Background(), ws)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Ref != "v2" || res.Status != models.DriftUpToDate {
		t.Errorf("expected up to date on v2, got %+v", res)
	}
}

func TestProbeRetriesTransientFailures(t *testing.T) {
	git := gitfake.New()
	git.Heads[templateURL] = "abcdef0"
	failures := 2
	git.RemoteHeadErr = func(string, string) error {
		if failures > 0 {
			failures--
			return &gitclient.Error{Kind: gitclient.FailureNetwork, Stderr: "Could not resolve host"}
		}
		return nil
	}

	ws := newWorkspace(t, `{"template": "`+templateURL+`", "commit": "1234567"}`)
	res, err := NewProber(git, fastRetry).Probe(context.Background(), ws)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", res.Attempts)
	}
	if res.Status != models.DriftNeedsUpdate {
		t.Errorf("status = %s", res.Status)
	}
}

func TestProbeMissingTemplate(t *testing.T) {
	git := gitfake.New()
	ws := newWorkspace(t, `{"template": "https://github.com/example/gone.git", "commit": "1234567"}`)

	res, err := NewProber(git, fastRetry).Probe(context.Background(), ws)
	var probeErr *ProbeError
	if !errors.As(err, &probeErr) {
		t.Fatalf("expected *ProbeError, got %v", err)
	}
	if res.Status != models.DriftProbeError {
		t.Errorf("status = %s", res.Status)
	}
	if res.Attempts != 1 {
		t.Errorf("not-found must not be retried, got %d attempts", res.Attempts)
	}
}

func TestProbeDoesNotMutate(t *testing.T) {
	git := gitfake.New()
	git.Heads[templateURL] = "abcdef0"
	ws := newWorkspace(t, `{"template": "`+templateURL+`", "commit": "1234567"}`)

	if _, err := NewProber(git, fastRetry).Probe(context.Background(), ws); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	for _, call := range git.Calls() {
		if call != "ls-remote" {
			t.Errorf("probe issued mutating git call %q", call)
		}
	}
}

func TestSameCommit(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"abcdef0123", "abcdef0123", true},
		{"abcdef0", "abcdef0123456", true},
		{"abcdef0123456", "abcdef0", true},
		{"abc", "abcdef0", false},
		{"abcdef1", "abcdef0123", false},
		{"", "", false},
	}
	for _, tt := range tests {
		if got := SameCommit(tt.a, tt.b); got != tt.want {
			t.Errorf("SameCommit(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
