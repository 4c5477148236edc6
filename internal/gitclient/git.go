package gitclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Client is the subset of git the orchestrator needs. Implementations must
// be safe for concurrent use on distinct directories.
type Client interface {
	// Clone makes a shallow clone of url into dir.
	Clone(ctx context.Context, url, dir string) error

	// RemoteHead resolves ref (a branch or tag name, or "" for HEAD) on a
	// remote repository without cloning it.
	RemoteHead(ctx context.Context, url, ref string) (string, error)

	// CurrentBranch returns the checked-out branch, or the commit SHA when detached.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// Status lists changed, untracked and unmerged paths.
	Status(ctx context.Context, dir string) ([]StatusEntry, error)

	// StageAll stages every change including untracked files.
	StageAll(ctx context.Context, dir string) error

	// Diff returns the staged diff against HEAD.
	Diff(ctx context.Context, dir string) (string, error)

	// Discard drops all uncommitted changes, staged or not, and untracked files.
	Discard(ctx context.Context, dir string) error

	// Checkout switches to an existing ref.
	Checkout(ctx context.Context, dir, ref string) error

	// CheckoutBranch creates or resets branch at the current HEAD and switches to it.
	CheckoutBranch(ctx context.Context, dir, branch string) error

	// Commit records all staged changes.
	Commit(ctx context.Context, dir, message string, author Signature) error

	// RevParse resolves a revision expression to a SHA.
	RevParse(ctx context.Context, dir, rev string) (string, error)

	// WriteTree returns the tree SHA of the index without committing it.
	WriteTree(ctx context.Context, dir string) (string, error)

	// RemoteBranchTree returns the tree SHA of branch on origin, and false
	// when the branch does not exist there.
	RemoteBranchTree(ctx context.Context, dir, branch string) (string, bool, error)

	// Push force-pushes branch to origin.
	Push(ctx context.Context, dir, branch string) error
}

// Signature identifies a commit author.
type Signature struct {
	Name  string
	Email string
}

// StatusEntry is one line of `git status --porcelain`.
type StatusEntry struct {
	Code string // two-letter XY status
	Path string
}

// Unmerged reports whether the entry is an unresolved merge conflict.
func (s StatusEntry) Unmerged() bool {
	switch s.Code {
	case "DD", "AU", "UD", "UA", "DU", "AA", "UU":
		return true
	}
	return false
}

// Exec implements Client by running the git binary.
type Exec struct {
	// Binary is the git executable, "git" when empty.
	Binary string
	// Config is passed as -c key=value to every invocation.
	Config []string
	// Env is appended to the process environment.
	Env []string
}

// NewExec creates a git client. When token is non-empty, HTTPS requests to
// github.com carry it as a basic-auth header, so it never appears in URLs
// or error messages.
func NewExec(token string) *Exec {
	e := &Exec{
		Env: []string{"GIT_TERMINAL_PROMPT=0"},
	}
	if token != "" {
		e.Config = append(e.Config, "http.https://github.com/.extraheader=AUTHORIZATION: basic "+basicAuth("x-access-token", token))
	}
	return e
}

func (e *Exec) Clone(ctx context.Context, url, dir string) error {
	_, err := e.run(ctx, "", "clone", "--depth", "1", "--no-tags", url, dir)
	return err
}

func (e *Exec) RemoteHead(ctx context.Context, url, ref string) (string, error) {
	if ref == "" {
		ref = "HEAD"
	}
	out, err := e.run(ctx, "", "ls-remote", url, ref, "refs/heads/"+ref, "refs/tags/"+ref)
	if err != nil {
		return "", err
	}
	sha := parseLsRemote(out, ref)
	if sha == "" {
		return "", &Error{
			Args:   []string{"ls-remote", url, ref},
			Kind:   FailureNotFound,
			Stderr: fmt.Sprintf("ref %q not found", ref),
		}
	}
	return sha, nil
}

// parseLsRemote picks the best match for ref: HEAD, then branch, then
// peeled tag, then tag.
func parseLsRemote(out, ref string) string {
	found := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		found[fields[1]] = fields[0]
	}
	for _, name := range []string{ref, "refs/heads/" + ref, "refs/tags/" + ref + "^{}", "refs/tags/" + ref} {
		if sha, ok := found[name]; ok {
			return sha
		}
	}
	return ""
}

func (e *Exec) CurrentBranch(ctx context.Context, dir string) (string, error) {
	out, err := e.run(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	branch := strings.TrimSpace(out)
	if branch == "HEAD" {
		return e.RevParse(ctx, dir, "HEAD")
	}
	return branch, nil
}

func (e *Exec) Status(ctx context.Context, dir string) ([]StatusEntry, error) {
	out, err := e.run(ctx, dir, "status", "--porcelain", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parseStatus(out), nil
}

func parseStatus(out string) []StatusEntry {
	var entries []StatusEntry
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames are reported as "old -> new"
		if _, after, ok := strings.Cut(path, " -> "); ok {
			path = after
		}
		entries = append(entries, StatusEntry{Code: line[:2], Path: strings.Trim(path, `"`)})
	}
	return entries
}

func (e *Exec) StageAll(ctx context.Context, dir string) error {
	_, err := e.run(ctx, dir, "add", "-A")
	return err
}

func (e *Exec) Diff(ctx context.Context, dir string) (string, error) {
	return e.run(ctx, dir, "diff", "--cached", "--no-color", "HEAD")
}

func (e *Exec) Discard(ctx context.Context, dir string) error {
	if _, err := e.run(ctx, dir, "reset", "--hard", "--quiet", "HEAD"); err != nil {
		return err
	}
	_, err := e.run(ctx, dir, "clean", "-fdq")
	return err
}

func (e *Exec) Checkout(ctx context.Context, dir, ref string) error {
	_, err := e.run(ctx, dir, "checkout", "--quiet", ref)
	return err
}

func (e *Exec) CheckoutBranch(ctx context.Context, dir, branch string) error {
	_, err := e.run(ctx, dir, "checkout", "--quiet", "-B", branch)
	return err
}

func (e *Exec) Commit(ctx context.Context, dir, message string, author Signature) error {
	_, err := e.run(ctx, dir,
		"-c", "user.name="+author.Name,
		"-c", "user.email="+author.Email,
		"commit", "--quiet", "--no-verify", "-m", message)
	return err
}

func (e *Exec) RevParse(ctx context.Context, dir, rev string) (string, error) {
	out, err := e.run(ctx, dir, "rev-parse", "--verify", rev)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *Exec) WriteTree(ctx context.Context, dir string) (string, error) {
	out, err := e.run(ctx, dir, "write-tree")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (e *Exec) RemoteBranchTree(ctx context.Context, dir, branch string) (string, bool, error) {
	out, err := e.run(ctx, dir, "ls-remote", "--heads", "origin", "refs/heads/"+branch)
	if err != nil {
		return "", false, err
	}
	if strings.TrimSpace(out) == "" {
		return "", false, nil
	}
	if _, err := e.run(ctx, dir, "fetch", "--quiet", "--depth", "1", "origin", "refs/heads/"+branch); err != nil {
		return "", false, err
	}
	tree, err := e.RevParse(ctx, dir, "FETCH_HEAD^{tree}")
	if err != nil {
		return "", false, err
	}
	return tree, true, nil
}

func (e *Exec) Push(ctx context.Context, dir, branch string) error {
	_, err := e.run(ctx, dir, "push", "--quiet", "--force", "origin", "refs/heads/"+branch+":refs/heads/"+branch)
	return err
}

// run executes git with args in dir and returns stdout.
func (e *Exec) run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := e.Binary
	if bin == "" {
		bin = "git"
	}

	full := make([]string, 0, len(e.Config)*2+len(args))
	for _, c := range e.Config {
		full = append(full, "-c", c)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, bin, full...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), e.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("running git", "dir", dir, "args", args)

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("git %s: %w", subcommand(args), ctx.Err())
		}
		gerr := &Error{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			gerr.Kind = Classify(gerr.Stderr)
		} else {
			gerr.Kind = FailureOther
		}
		return "", gerr
	}

	return stdout.String(), nil
}
