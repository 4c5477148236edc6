package publisher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/spachava753/templatesync/internal/drift"
	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/hosting"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/retry"
	"github.com/spachava753/templatesync/internal/workspace"
)

// PRData is the data available to the pull request title and body templates.
type PRData struct {
	Repository   string
	TemplateName string
	TemplateURL  string
	OldCommit    string
	NewCommit    string
	Branch       string
	Changes      string
	Files        []string
}

// Publisher commits an applied update and opens or updates its pull request.
type Publisher struct {
	git      gitclient.Client
	host     hosting.Client
	settings models.Settings
	policy   retry.Policy
	title    *template.Template
	body     *template.Template
}

// New creates a publisher. Push and pull request calls are retried once.
func New(git gitclient.Client, host hosting.Client, settings models.Settings) (*Publisher, error) {
	title, err := template.New("title").Option("missingkey=error").Parse(settings.PRTitleTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing pr_title_template: %w", err)
	}
	body, err := template.New("body").Option("missingkey=error").Parse(settings.PRBodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing pr_body_template: %w", err)
	}
	return &Publisher{
		git:      git,
		host:     host,
		settings: settings,
		policy:   retry.Once,
		title:    title,
		body:     body,
	}, nil
}

// BranchName is the deterministic branch for an update of entry to
// upstream, so reruns for the same template commit reuse the branch.
func BranchName(prefix string, entry models.RepositoryEntry, upstream string) string {
	if entry.BranchPrefix != "" {
		prefix = entry.BranchPrefix
	}
	return fmt.Sprintf("%s/%s-%s", strings.TrimSuffix(prefix, "/"), entry.Name, drift.Short(upstream))
}

// CommitMessage is the deterministic commit message for an update.
func CommitMessage(templateName, templateURL, oldCommit, newCommit string) string {
	if templateName == "" {
		templateName = templateURL
	}
	return fmt.Sprintf("chore(template): update from %s\n\nTemplate: %s\nCommit: %s -> %s\n",
		templateName, templateURL, drift.Short(oldCommit), drift.Short(newCommit))
}

// Publish turns an applied outcome into a published one. On success the
// outcome is Published with its PR reference; if an identical branch with
// an open pull request already exists it is Skipped(already_published);
// otherwise it is PublishFailed with the cause.
func (p *Publisher) Publish(ctx context.Context, ws *workspace.Workspace, outcome *models.UpdateOutcome, templateURL string) {
	entry := ws.Entry
	log := slog.With("repo", entry.Name)

	data := PRData{
		Repository:   entry.HostSlug,
		TemplateName: entry.TemplateName,
		TemplateURL:  templateURL,
		OldCommit:    outcome.RecordedCommit,
		NewCommit:    outcome.UpstreamCommit,
		Branch:       BranchName(p.settings.BranchPrefix, entry, outcome.UpstreamCommit),
		Changes:      outcome.Diff.Excerpt,
		Files:        outcome.Diff.Files,
	}
	outcome.Branch = data.Branch

	title, body, err := p.render(data)
	if err != nil {
		outcome.Fail(models.StatusPublishFailed, models.ErrPublishFailed, err.Error())
		return
	}

	// The tree is compared with the remote before any branch or commit is
	// made, so a skip leaves the checkout as it was.
	tree, err := p.stage(ctx, ws.Path)
	if err != nil {
		outcome.Fail(models.StatusPublishFailed, models.ErrPublishFailed, err.Error())
		return
	}
	published, err := p.alreadyPublished(ctx, ws.Path, entry, data.Branch, tree)
	if err != nil {
		p.fail(outcome, err)
		return
	}
	if published {
		log.Info("identical update already open", "branch", data.Branch)
		outcome.Skip(models.SkipAlreadyPublished)
		return
	}

	author := gitclient.Signature{Name: p.settings.CommitAuthorName, Email: p.settings.CommitAuthorEmail}
	if err := p.commit(ctx, ws.Path, data, author); err != nil {
		outcome.Fail(models.StatusPublishFailed, models.ErrPublishFailed, err.Error())
		return
	}

	_, err = p.policy.Do(ctx, pushRetryable, func(ctx context.Context) error {
		return p.git.Push(ctx, ws.Path, data.Branch)
	})
	if err != nil {
		p.fail(outcome, fmt.Errorf("pushing %s: %w", data.Branch, err))
		return
	}

	var pr *hosting.PullRequest
	_, err = p.policy.Do(ctx, hosting.Retryable, func(ctx context.Context) error {
		var err error
		pr, err = p.host.EnsurePullRequest(ctx, hosting.PullRequestSpec{
			Owner:  entry.Owner(),
			Repo:   entry.Repo(),
			Branch: data.Branch,
			Title:  title,
			Body:   body,
		})
		return err
	})
	if err != nil {
		p.fail(outcome, err)
		return
	}

	outcome.Status = models.StatusPublished
	outcome.PRReference = pr.URL
	if outcome.PRReference == "" {
		outcome.PRReference = fmt.Sprintf("%s#%d", entry.HostSlug, pr.Number)
	}
	log.Info("published update", "pr", outcome.PRReference, "created", pr.Created)
}

func (p *Publisher) render(data PRData) (string, string, error) {
	var title, body bytes.Buffer
	if err := p.title.Execute(&title, data); err != nil {
		return "", "", fmt.Errorf("rendering pull request title: %w", err)
	}
	if err := p.body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("rendering pull request body: %w", err)
	}
	return strings.TrimSpace(title.String()), body.String(), nil
}

// stage stages the update and returns the tree it would commit.
func (p *Publisher) stage(ctx context.Context, dir string) (string, error) {
	if err := p.git.StageAll(ctx, dir); err != nil {
		return "", fmt.Errorf("staging changes: %w", err)
	}
	tree, err := p.git.WriteTree(ctx, dir)
	if err != nil {
		return "", fmt.Errorf("resolving tree: %w", err)
	}
	return tree, nil
}

// commit creates the update branch at HEAD and commits the staged changes.
func (p *Publisher) commit(ctx context.Context, dir string, data PRData, author gitclient.Signature) error {
	if err := p.git.CheckoutBranch(ctx, dir, data.Branch); err != nil {
		return fmt.Errorf("creating branch %s: %w", data.Branch, err)
	}
	msg := CommitMessage(data.TemplateName, data.TemplateURL, data.OldCommit, data.NewCommit)
	if err := p.git.Commit(ctx, dir, msg, author); err != nil {
		return fmt.Errorf("committing update: %w", err)
	}
	return nil
}

// alreadyPublished reports whether the remote branch holds exactly tree
// and a pull request for it is still open.
func (p *Publisher) alreadyPublished(ctx context.Context, dir string, entry models.RepositoryEntry, branch, tree string) (bool, error) {
	var (
		remoteTree string
		exists     bool
	)
	_, err := p.policy.Do(ctx, pushRetryable, func(ctx context.Context) error {
		var err error
		remoteTree, exists, err = p.git.RemoteBranchTree(ctx, dir, branch)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("inspecting remote branch %s: %w", branch, err)
	}
	if !exists || remoteTree != tree {
		return false, nil
	}

	var pr *hosting.PullRequest
	_, err = p.policy.Do(ctx, hosting.Retryable, func(ctx context.Context) error {
		var err error
		pr, err = p.host.FindOpenPullRequest(ctx, entry.Owner(), entry.Repo(), branch)
		return err
	})
	if err != nil {
		return false, err
	}
	return pr != nil, nil
}

func (p *Publisher) fail(outcome *models.UpdateOutcome, err error) {
	typ := models.ErrPublishFailed
	if hosting.IsRateLimited(err) {
		typ = models.ErrRateLimited
	}
	outcome.Fail(models.StatusPublishFailed, typ, err.Error())
}

func pushRetryable(err error) bool {
	switch gitclient.KindOf(err) {
	case gitclient.FailureNetwork, gitclient.FailureAuth:
		return true
	}
	return false
}
