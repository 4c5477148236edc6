package hosting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/go-github/v55/github"
	"golang.org/x/oauth2"
)

// maxSearchPages bounds code search pagination.
const maxSearchPages = 10

// GitHub implements Client using the GitHub REST API.
type GitHub struct {
	client      *github.Client
	rateLimiter RateLimiter
}

var _ Client = (*GitHub)(nil)

// NewGitHub creates a GitHub client. apiURL overrides the API endpoint for
// GitHub Enterprise; an empty token makes unauthenticated calls.
func NewGitHub(token, apiURL string, limiter RateLimiter) (*GitHub, error) {
	httpClient := http.DefaultClient
	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	}
	client := github.NewClient(httpClient)

	if apiURL != "" {
		u, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("parsing API URL: %w", err)
		}
		if !strings.HasSuffix(u.Path, "/") {
			u.Path += "/"
		}
		client.BaseURL = u
	}

	if limiter == nil {
		limiter = NewRateLimiter(DefaultLimiterOptions)
	}

	return &GitHub{
		client:      client,
		rateLimiter: limiter,
	}, nil
}

func (g *GitHub) FindOpenPullRequest(ctx context.Context, owner, repo, branch string) (*PullRequest, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	opts := &github.PullRequestListOptions{
		State:       "open",
		Head:        owner + ":" + branch,
		ListOptions: github.ListOptions{PerPage: 10},
	}
	prs, resp, err := g.client.PullRequests.List(ctx, owner, repo, opts)
	g.updateRateLimitFromResponse(resp)
	if err != nil {
		return nil, wrapError("listing pull requests for "+owner+"/"+repo, resp, err)
	}

	for _, pr := range prs {
		if pr.GetHead().GetRef() == branch {
			return toPullRequest(pr, false), nil
		}
	}
	return nil, nil
}

func (g *GitHub) EnsurePullRequest(ctx context.Context, spec PullRequestSpec) (*PullRequest, error) {
	existing, err := g.FindOpenPullRequest(ctx, spec.Owner, spec.Repo, spec.Branch)
	if err != nil {
		return nil, err
	}

	if existing != nil {
		if err := g.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		pr, resp, err := g.client.PullRequests.Edit(ctx, spec.Owner, spec.Repo, existing.Number, &github.PullRequest{
			Title: github.String(spec.Title),
			Body:  github.String(spec.Body),
		})
		g.updateRateLimitFromResponse(resp)
		if err != nil {
			return nil, wrapError(fmt.Sprintf("updating pull request #%d", existing.Number), resp, err)
		}
		slog.Debug("updated pull request", "repo", spec.Owner+"/"+spec.Repo, "number", pr.GetNumber())
		return toPullRequest(pr, false), nil
	}

	base := spec.Base
	if base == "" {
		base, err = g.defaultBranch(ctx, spec.Owner, spec.Repo)
		if err != nil {
			return nil, err
		}
	}

	if err := g.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	pr, resp, err := g.client.PullRequests.Create(ctx, spec.Owner, spec.Repo, &github.NewPullRequest{
		Title:               github.String(spec.Title),
		Head:                github.String(spec.Branch),
		Base:                github.String(base),
		Body:                github.String(spec.Body),
		MaintainerCanModify: github.Bool(true),
	})
	g.updateRateLimitFromResponse(resp)
	if err != nil {
		return nil, wrapError("creating pull request for "+spec.Owner+"/"+spec.Repo, resp, err)
	}
	slog.Debug("created pull request", "repo", spec.Owner+"/"+spec.Repo, "number", pr.GetNumber())
	return toPullRequest(pr, true), nil
}

func (g *GitHub) defaultBranch(ctx context.Context, owner, repo string) (string, error) {
	if err := g.rateLimiter.Wait(ctx); err != nil {
		return "", err
	}
	r, resp, err := g.client.Repositories.Get(ctx, owner, repo)
	g.updateRateLimitFromResponse(resp)
	if err != nil {
		return "", wrapError("getting repository "+owner+"/"+repo, resp, err)
	}
	if b := r.GetDefaultBranch(); b != "" {
		return b, nil
	}
	return "main", nil
}

func (g *GitHub) SearchTemplateConsumers(ctx context.Context, templateURL string) ([]string, error) {
	query := fmt.Sprintf("%q filename:.cruft.json", strings.TrimSuffix(templateURL, ".git"))
	opts := &github.SearchOptions{ListOptions: github.ListOptions{PerPage: 100}}

	seen := make(map[string]bool)
	for page := 0; page < maxSearchPages; page++ {
		if err := g.rateLimiter.Wait(ctx); err != nil {
			return nil, err
		}
		result, resp, err := g.client.Search.Code(ctx, query, opts)
		g.updateRateLimitFromResponse(resp)
		if err != nil {
			return nil, wrapError("searching code", resp, err)
		}

		for _, cr := range result.CodeResults {
			if name := cr.GetRepository().GetFullName(); name != "" {
				seen[name] = true
			}
		}

		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	slugs := make([]string, 0, len(seen))
	for s := range seen {
		slugs = append(slugs, s)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// updateRateLimitFromResponse updates the rate limiter from API response
func (g *GitHub) updateRateLimitFromResponse(resp *github.Response) {
	if resp != nil && resp.Rate.Limit > 0 {
		g.rateLimiter.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}

func toPullRequest(pr *github.PullRequest, created bool) *PullRequest {
	return &PullRequest{
		Number:  pr.GetNumber(),
		URL:     pr.GetHTMLURL(),
		Branch:  pr.GetHead().GetRef(),
		Base:    pr.GetBase().GetRef(),
		Created: created,
	}
}

func wrapError(op string, resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return &Error{Op: op, StatusCode: http.StatusTooManyRequests, Err: errors.Join(ErrRateLimited, err)}
	}
	herr := &Error{Op: op, Err: err}
	if resp != nil {
		herr.StatusCode = resp.StatusCode
	}
	return herr
}
