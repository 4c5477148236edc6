package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestUpdateWritesInWorkspace(t *testing.T) {
	requireShell(t)
	dir := t.TempDir()

	eng := NewCommand([]string{"sh", "-c", "echo updated > setup.cfg"}, nil)
	if err := eng.Update(context.Background(), dir); err != nil {
		t.Fatalf("Update: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "setup.cfg"))
	if err != nil || strings.TrimSpace(string(data)) != "updated" {
		t.Errorf("update did not run in the workspace: %q, %v", data, err)
	}
}

func TestUpdateFailure(t *testing.T) {
	requireShell(t)

	tests := []struct {
		name          string
		script        string
		wantTransient bool
	}{
		{"merge error", "echo 'Error: invalid template variable' >&2; exit 1", false},
		{"network error", "echo 'fatal: unable to access https://github.com/x/t.git/: Could not resolve host: github.com' >&2; exit 128", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := NewCommand([]string{"sh", "-c", tt.script}, nil)
			err := eng.Update(context.Background(), t.TempDir())

			var eerr *Error
			if !errors.As(err, &eerr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if eerr.ExitCode == 0 {
				t.Error("exit code should be recorded")
			}
			if IsTransient(err) != tt.wantTransient {
				t.Errorf("transient = %v, want %v", IsTransient(err), tt.wantTransient)
			}
		})
	}
}

func TestUpdateMissingBinary(t *testing.T) {
	eng := NewCommand([]string{"templatesync-no-such-binary"}, nil)
	err := eng.Update(context.Background(), t.TempDir())
	var eerr *Error
	if !errors.As(err, &eerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if eerr.Transient {
		t.Error("a missing binary is not transient")
	}
}

func TestDiff(t *testing.T) {
	requireShell(t)

	eng := NewCommand(nil, []string{"sh", "-c", "printf 'diff --git a/x b/x\\n+new\\n'"})
	out, err := eng.Diff(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if !strings.Contains(out, "+new") {
		t.Errorf("unexpected diff %q", out)
	}

	empty, err := NewCommand(nil, nil).Diff(context.Background(), t.TempDir())
	if err != nil || empty != "" {
		t.Errorf("no diff command should yield empty diff, got %q, %v", empty, err)
	}
}

func TestErrorMessageUsesLastLine(t *testing.T) {
	err := &Error{Command: []string{"cruft", "update"}, ExitCode: 1, Output: "Cloning...\nError: conflict in setup.py\n"}
	if got := err.Error(); got != "cruft update exited with code 1: Error: conflict in setup.py" {
		t.Errorf("unexpected message %q", got)
	}
}
