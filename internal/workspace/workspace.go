package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/models"
)

// DefaultCloneURL is the clone URL format for a host slug.
const DefaultCloneURL = "https://github.com/%s.git"

// Workspace is an exclusively owned working copy of one repository.
type Workspace struct {
	Entry models.RepositoryEntry
	Path  string

	// Reused is true when Path is the entry's LocalPath rather than a clone.
	Reused bool

	originalRef string
	failed      bool
	preserved   bool
	released    bool
}

// MarkFailed records that processing ended in failure, which matters to
// the on_failure preserve policy.
func (w *Workspace) MarkFailed() {
	w.failed = true
}

// Preserved reports whether Release left the workspace on disk for
// inspection. Reused local paths are never reported as preserved.
func (w *Workspace) Preserved() bool {
	return w.preserved
}

// Options configures a Manager.
type Options struct {
	// BaseDir holds clones. A private temporary directory is created
	// when empty and removed by Close.
	BaseDir string

	// Preserve decides whether clones survive Release.
	Preserve models.PreservePolicy

	// CloneURL is a fmt format receiving the host slug.
	CloneURL string
}

// Stats describes workspace usage over the life of a Manager.
type Stats struct {
	Open     int
	PeakOpen int
	Acquired int
}

// Manager hands out workspaces and reclaims them.
type Manager struct {
	git      gitclient.Client
	baseDir  string
	ownsBase bool
	preserve models.PreservePolicy
	cloneURL string

	mu    sync.Mutex
	stats Stats
}

// NewManager creates a workspace manager backed by git.
func NewManager(git gitclient.Client, opts Options) (*Manager, error) {
	m := &Manager{
		git:      git,
		baseDir:  opts.BaseDir,
		preserve: opts.Preserve,
		cloneURL: opts.CloneURL,
	}
	if m.preserve == "" {
		m.preserve = models.PreserveNever
	}
	if !m.preserve.Valid() {
		return nil, fmt.Errorf("invalid preserve policy %q", m.preserve)
	}
	if m.cloneURL == "" {
		m.cloneURL = DefaultCloneURL
	}

	if m.baseDir == "" {
		dir, err := os.MkdirTemp("", "templatesync-")
		if err != nil {
			return nil, fmt.Errorf("creating workspace base dir: %w", err)
		}
		m.baseDir = dir
		m.ownsBase = true
	} else if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating workspace base dir: %w", err)
	}

	return m, nil
}

// BaseDir returns the directory clones are placed in.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// Acquire prepares a workspace for entry. An existing LocalPath is reused
// in place; otherwise the repository is shallow-cloned into the base dir.
func (m *Manager) Acquire(ctx context.Context, entry models.RepositoryEntry) (*Workspace, error) {
	var (
		ws  *Workspace
		err error
	)
	if entry.LocalPath != "" && isDir(entry.LocalPath) {
		ws, err = m.reuse(ctx, entry)
	} else {
		ws, err = m.clone(ctx, entry)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.stats.Open++
	m.stats.Acquired++
	m.stats.PeakOpen = max(m.stats.PeakOpen, m.stats.Open)
	m.mu.Unlock()

	return ws, nil
}

func (m *Manager) reuse(ctx context.Context, entry models.RepositoryEntry) (*Workspace, error) {
	ref, err := m.git.CurrentBranch(ctx, entry.LocalPath)
	if err != nil {
		return nil, wrapGitError(entry, "inspecting local path", err)
	}

	status, err := m.git.Status(ctx, entry.LocalPath)
	if err != nil {
		return nil, wrapGitError(entry, "inspecting local path", err)
	}
	if len(status) > 0 {
		return nil, &WorkspaceError{
			Repository: entry.Name,
			Kind:       KindDirty,
			Err:        fmt.Errorf("local path %s has %d uncommitted changes", entry.LocalPath, len(status)),
		}
	}

	slog.Debug("reusing local checkout", "repo", entry.Name, "path", entry.LocalPath, "ref", ref)
	return &Workspace{
		Entry:       entry,
		Path:        entry.LocalPath,
		Reused:      true,
		originalRef: ref,
	}, nil
}

func (m *Manager) clone(ctx context.Context, entry models.RepositoryEntry) (*Workspace, error) {
	dir, err := os.MkdirTemp(m.baseDir, dirName(entry.Name)+"-")
	if err != nil {
		return nil, &WorkspaceError{Repository: entry.Name, Kind: KindOther, Err: err}
	}

	url := fmt.Sprintf(m.cloneURL, entry.HostSlug)
	slog.Debug("cloning repository (shallow)", "repo", entry.Name, "url", url, "dest", dir)

	if err := m.git.Clone(ctx, url, dir); err != nil {
		os.RemoveAll(dir)
		return nil, wrapGitError(entry, "cloning "+entry.HostSlug, err)
	}

	return &Workspace{Entry: entry, Path: dir}, nil
}

// Release returns the workspace. Clones are deleted unless the preserve
// policy keeps them; reused local paths are reset to the ref they were on
// at acquisition with every uncommitted change discarded. Cleanup runs on a
// fresh context so it completes after cancellation.
func (m *Manager) Release(ws *Workspace) error {
	if ws == nil || ws.released {
		return nil
	}
	ws.released = true

	defer func() {
		m.mu.Lock()
		m.stats.Open--
		m.mu.Unlock()
	}()

	ctx := context.Background()

	if ws.Reused {
		discardErr := m.git.Discard(ctx, ws.Path)
		checkoutErr := m.git.Checkout(ctx, ws.Path, ws.originalRef)
		if err := errors.Join(discardErr, checkoutErr); err != nil {
			return fmt.Errorf("restoring %s: %w", ws.Path, err)
		}
		return nil
	}

	if m.keep(ws) {
		ws.preserved = true
		slog.Info("preserving workspace", "repo", ws.Entry.Name, "path", ws.Path)
		return nil
	}

	if err := os.RemoveAll(ws.Path); err != nil {
		return fmt.Errorf("removing workspace %s: %w", ws.Path, err)
	}
	return nil
}

func (m *Manager) keep(ws *Workspace) bool {
	switch m.preserve {
	case models.PreserveAlways:
		return true
	case models.PreserveOnFailure:
		return ws.failed
	}
	return false
}

// Stats returns a snapshot of workspace usage.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close removes the base directory when the manager created it and no
// preserved workspace remains inside.
func (m *Manager) Close() error {
	if !m.ownsBase {
		return nil
	}
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	return os.Remove(m.baseDir)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func dirName(name string) string {
	return unsafeChars.ReplaceAllString(name, "_")
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// File returns the path of name inside the workspace.
func (w *Workspace) File(name string) string {
	return filepath.Join(w.Path, name)
}
