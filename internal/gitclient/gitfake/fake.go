// Package gitfake provides an in-memory gitclient.Client for tests. Working
// trees live on the real filesystem so that code which writes files into a
// workspace behaves as it would against git; history and remotes are kept
// in memory.
package gitfake

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spachava753/templatesync/internal/gitclient"
)

// Client is a fake git. The zero value is not usable; call New.
type Client struct {
	mu sync.Mutex

	// Remotes maps a clone URL to the files a fresh clone contains.
	Remotes map[string]map[string]string

	// Heads maps "url@ref" (or "url" for any ref) to the commit RemoteHead
	// resolves.
	Heads map[string]string

	// Optional failure hooks.
	CloneErr      func(url string) error
	RemoteHeadErr func(url, ref string) error
	PushErr       func(dir, branch string) error

	repos  map[string]*repo
	pushed map[string]map[string]string // origin -> branch -> tree
	calls  []string
}

type repo struct {
	origin   string
	branch   string
	head     map[string]string
	messages []string
}

// New creates an empty fake.
func New() *Client {
	return &Client{
		Remotes: make(map[string]map[string]string),
		Heads:   make(map[string]string),
		repos:   make(map[string]*repo),
		pushed:  make(map[string]map[string]string),
	}
}

var _ gitclient.Client = (*Client)(nil)

func notFound(args ...string) error {
	return &gitclient.Error{Args: args, Kind: gitclient.FailureNotFound, Stderr: "not found"}
}

func (c *Client) record(call string) {
	c.calls = append(c.calls, call)
}

// Calls returns the git subcommands invoked so far.
func (c *Client) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// Commits returns the commit messages recorded in dir since it was cloned.
func (c *Client) Commits(dir string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.repos[dir]; ok {
		return append([]string(nil), r.messages...)
	}
	return nil
}

// Pushed returns the tree pushed to branch on origin.
func (c *Client) Pushed(origin, branch string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tree, ok := c.pushed[origin][branch]
	return tree, ok
}

// SetRemoteBranch pretends branch already exists on origin with tree.
func (c *Client) SetRemoteBranch(origin, branch, tree string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pushed[origin] == nil {
		c.pushed[origin] = make(map[string]string)
	}
	c.pushed[origin][branch] = tree
}

// TreeOf returns the tree id the fake assigns to a set of files.
func TreeOf(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	h := sha1.New()
	for _, p := range paths {
		fmt.Fprintf(h, "%s\x00%s\x00", p, files[p])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Client) Clone(ctx context.Context, url, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("clone")

	if c.CloneErr != nil {
		if err := c.CloneErr(url); err != nil {
			return err
		}
	}
	files, ok := c.Remotes[url]
	if !ok {
		return notFound("clone", url)
	}
	if err := writeFiles(dir, files); err != nil {
		return err
	}
	c.repos[dir] = &repo{origin: url, branch: "main", head: maps.Clone(files)}
	return nil
}

func (c *Client) RemoteHead(ctx context.Context, url, ref string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("ls-remote")

	if c.RemoteHeadErr != nil {
		if err := c.RemoteHeadErr(url, ref); err != nil {
			return "", err
		}
	}
	if sha, ok := c.Heads[url+"@"+ref]; ok {
		return sha, nil
	}
	if sha, ok := c.Heads[url]; ok {
		return sha, nil
	}
	return "", notFound("ls-remote", url, ref)
}

// repoFor returns the state of dir, adopting an unknown directory as a
// checkout of main with its current contents committed.
func (c *Client) repoFor(dir string) (*repo, error) {
	if r, ok := c.repos[dir]; ok {
		return r, nil
	}
	files, err := readFiles(dir)
	if err != nil {
		return nil, err
	}
	r := &repo{branch: "main", head: files}
	c.repos[dir] = r
	return r, nil
}

func (c *Client) CurrentBranch(ctx context.Context, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("rev-parse")

	r, err := c.repoFor(dir)
	if err != nil {
		return "", err
	}
	return r.branch, nil
}

func (c *Client) Status(ctx context.Context, dir string) ([]gitclient.StatusEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("status")

	r, err := c.repoFor(dir)
	if err != nil {
		return nil, err
	}
	return r.status(dir)
}

func (r *repo) status(dir string) ([]gitclient.StatusEntry, error) {
	work, err := readFiles(dir)
	if err != nil {
		return nil, err
	}
	var entries []gitclient.StatusEntry
	for p, content := range work {
		old, ok := r.head[p]
		switch {
		case !ok:
			entries = append(entries, gitclient.StatusEntry{Code: "??", Path: p})
		case old != content:
			entries = append(entries, gitclient.StatusEntry{Code: " M", Path: p})
		}
	}
	for p := range r.head {
		if _, ok := work[p]; !ok {
			entries = append(entries, gitclient.StatusEntry{Code: " D", Path: p})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (c *Client) StageAll(ctx context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("add")
	_, err := c.repoFor(dir)
	return err
}

func (c *Client) Diff(ctx context.Context, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("diff")

	r, err := c.repoFor(dir)
	if err != nil {
		return "", err
	}
	entries, err := r.status(dir)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", e.Path, e.Path)
		content, _ := os.ReadFile(filepath.Join(dir, e.Path))
		for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
			if line != "" {
				b.WriteString("+" + line + "\n")
			}
		}
	}
	return b.String(), nil
}

func (c *Client) Discard(ctx context.Context, dir string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("reset")

	r, err := c.repoFor(dir)
	if err != nil {
		return err
	}
	work, err := readFiles(dir)
	if err != nil {
		return err
	}
	for p := range work {
		if _, ok := r.head[p]; !ok {
			if err := os.Remove(filepath.Join(dir, p)); err != nil {
				return err
			}
		}
	}
	return writeFiles(dir, r.head)
}

func (c *Client) Checkout(ctx context.Context, dir, ref string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("checkout")

	r, err := c.repoFor(dir)
	if err != nil {
		return err
	}
	r.branch = ref
	return nil
}

func (c *Client) CheckoutBranch(ctx context.Context, dir, branch string) error {
	return c.Checkout(ctx, dir, branch)
}

func (c *Client) Commit(ctx context.Context, dir, message string, author gitclient.Signature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("commit")

	r, err := c.repoFor(dir)
	if err != nil {
		return err
	}
	entries, err := r.status(dir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return &gitclient.Error{Args: []string{"commit"}, Kind: gitclient.FailureOther, Stderr: "nothing to commit, working tree clean"}
	}
	work, err := readFiles(dir)
	if err != nil {
		return err
	}
	r.head = work
	r.messages = append(r.messages, message)
	return nil
}

func (c *Client) RevParse(ctx context.Context, dir, rev string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("rev-parse")

	r, err := c.repoFor(dir)
	if err != nil {
		return "", err
	}
	tree := TreeOf(r.head)
	switch rev {
	case "HEAD^{tree}":
		return tree, nil
	case "HEAD":
		return fmt.Sprintf("%x", sha1.Sum([]byte(fmt.Sprint(tree, len(r.messages))))), nil
	}
	return "", notFound("rev-parse", rev)
}

// WriteTree returns the tree of the working files, which the fake treats as
// fully staged.
func (c *Client) WriteTree(ctx context.Context, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("write-tree")

	if _, err := c.repoFor(dir); err != nil {
		return "", err
	}
	work, err := readFiles(dir)
	if err != nil {
		return "", err
	}
	return TreeOf(work), nil
}

func (c *Client) RemoteBranchTree(ctx context.Context, dir, branch string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("ls-remote")

	r, err := c.repoFor(dir)
	if err != nil {
		return "", false, err
	}
	tree, ok := c.pushed[r.origin][branch]
	return tree, ok, nil
}

func (c *Client) Push(ctx context.Context, dir, branch string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("push")

	if c.PushErr != nil {
		if err := c.PushErr(dir, branch); err != nil {
			return err
		}
	}
	r, err := c.repoFor(dir)
	if err != nil {
		return err
	}
	if c.pushed[r.origin] == nil {
		c.pushed[r.origin] = make(map[string]string)
	}
	c.pushed[r.origin][branch] = TreeOf(r.head)
	return nil
}

func readFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func writeFiles(dir string, files map[string]string) error {
	for p, content := range files {
		full := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			return err
		}
	}
	return nil
}
