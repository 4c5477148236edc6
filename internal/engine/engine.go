package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/spachava753/templatesync/internal/gitclient"
)

// maxOutput bounds how much command output is kept for error messages.
const maxOutput = 4096

// Engine applies template changes to a working tree. It is opaque to the
// orchestrator: success, failure and whatever it leaves on disk are all
// the executor gets to look at.
type Engine interface {
	// Diff describes what an update would change, before it runs.
	Diff(ctx context.Context, dir string) (string, error)

	// Update merges the latest template into dir.
	Update(ctx context.Context, dir string) error
}

// Error is a failed engine invocation.
type Error struct {
	Command  []string
	ExitCode int
	Output   string

	// Transient is set when the output points at a network or auth
	// problem fetching the template, which a retry may get past.
	Transient bool
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Output)
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	return fmt.Sprintf("%s exited with code %d: %s", strings.Join(e.Command, " "), e.ExitCode, msg)
}

// IsTransient reports whether err is a transient engine failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Transient
}

// Command runs external commands, cruft by default.
type Command struct {
	UpdateArgs []string
	DiffArgs   []string
	Env        []string
}

// NewCommand creates an engine from the configured command lines.
func NewCommand(update, diff []string) *Command {
	return &Command{
		UpdateArgs: update,
		DiffArgs:   diff,
		Env:        []string{"GIT_TERMINAL_PROMPT=0"},
	}
}

func (c *Command) Diff(ctx context.Context, dir string) (string, error) {
	if len(c.DiffArgs) == 0 {
		return "", nil
	}
	out, err := c.run(ctx, dir, c.DiffArgs)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (c *Command) Update(ctx context.Context, dir string) error {
	if len(c.UpdateArgs) == 0 {
		return fmt.Errorf("no update command configured")
	}
	_, err := c.run(ctx, dir, c.UpdateArgs)
	return err
}

func (c *Command) run(ctx context.Context, dir string, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), c.Env...)
	// Keep the update non-interactive
	cmd.Stdin = strings.NewReader("")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running engine", "dir", dir, "args", args)

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	if ctx.Err() != nil {
		return "", fmt.Errorf("%s: %w", args[0], ctx.Err())
	}

	output := tail(stderr.String()+stdout.String(), maxOutput)
	eerr := &Error{Command: args, ExitCode: -1, Output: output}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		eerr.ExitCode = exitErr.ExitCode()
	} else {
		eerr.Output = err.Error()
	}

	switch gitclient.Classify(output) {
	case gitclient.FailureNetwork, gitclient.FailureAuth:
		eerr.Transient = true
	}
	return "", eerr
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
