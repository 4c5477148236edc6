// Package hostfake provides an in-memory hosting.Client for tests.
package hostfake

import (
	"context"
	"fmt"
	"sync"

	"github.com/spachava753/templatesync/internal/hosting"
)

// Client records pull requests in memory.
type Client struct {
	mu sync.Mutex

	// Consumers maps a template URL to the slugs code search returns.
	Consumers map[string][]string

	// EnsureErr, when set, is consulted before every EnsurePullRequest.
	EnsureErr func(spec hosting.PullRequestSpec) error

	prs     map[string]*hosting.PullRequest // owner/repo:branch
	next    int
	created int
	updated int
}

// New creates an empty fake.
func New() *Client {
	return &Client{
		Consumers: make(map[string][]string),
		prs:       make(map[string]*hosting.PullRequest),
		next:      1,
	}
}

var _ hosting.Client = (*Client)(nil)

func key(owner, repo, branch string) string {
	return owner + "/" + repo + ":" + branch
}

func (c *Client) FindOpenPullRequest(ctx context.Context, owner, repo, branch string) (*hosting.PullRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pr, ok := c.prs[key(owner, repo, branch)]; ok {
		found := *pr
		found.Created = false
		return &found, nil
	}
	return nil, nil
}

func (c *Client) EnsurePullRequest(ctx context.Context, spec hosting.PullRequestSpec) (*hosting.PullRequest, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.EnsureErr != nil {
		if err := c.EnsureErr(spec); err != nil {
			return nil, err
		}
	}

	k := key(spec.Owner, spec.Repo, spec.Branch)
	if pr, ok := c.prs[k]; ok {
		c.updated++
		updated := *pr
		updated.Created = false
		return &updated, nil
	}

	pr := &hosting.PullRequest{
		Number:  c.next,
		URL:     fmt.Sprintf("https://github.com/%s/%s/pull/%d", spec.Owner, spec.Repo, c.next),
		Branch:  spec.Branch,
		Base:    "main",
		Created: true,
	}
	c.next++
	c.created++
	c.prs[k] = pr
	return pr, nil
}

func (c *Client) SearchTemplateConsumers(ctx context.Context, templateURL string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.Consumers[templateURL]...), nil
}

// Close simulates a pull request being closed or merged on the host.
func (c *Client) Close(owner, repo, branch string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.prs, key(owner, repo, branch))
}

// Counts returns how many pull requests were created and updated.
func (c *Client) Counts() (created, updated int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.created, c.updated
}
