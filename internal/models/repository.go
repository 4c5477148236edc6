package models

import "strings"

// RepositoryEntry is one tracked repository from the registry.
type RepositoryEntry struct {
	Name         string `json:"name"`
	TemplateName string `json:"template_name,omitempty"` // alias from the templates table, if one was used
	TemplateRef  string `json:"template"`
	HostSlug     string `json:"github"`
	AutoUpdate   bool   `json:"auto_update"`
	LocalPath    string `json:"local_path,omitempty"`
	BranchPrefix string `json:"branch_prefix,omitempty"`
}

// Owner returns the owner part of the host slug.
func (e RepositoryEntry) Owner() string {
	owner, _ := splitSlug(e.HostSlug)
	return owner
}

// Repo returns the repository part of the host slug.
func (e RepositoryEntry) Repo() string {
	_, repo := splitSlug(e.HostSlug)
	return repo
}

func splitSlug(slug string) (string, string) {
	owner, repo, _ := strings.Cut(slug, "/")
	return owner, repo
}

// Settings holds registry-wide options shared by every repository.
type Settings struct {
	BranchPrefix      string      `yaml:"branch_prefix" toml:"branch_prefix" json:"branch_prefix"`
	PRTitleTemplate   string      `yaml:"pr_title_template" toml:"pr_title_template" json:"pr_title_template"`
	PRBodyTemplate    string      `yaml:"pr_body_template" toml:"pr_body_template" json:"pr_body_template"`
	CommitAuthorName  string      `yaml:"commit_author_name" toml:"commit_author_name" json:"commit_author_name"`
	CommitAuthorEmail string      `yaml:"commit_author_email" toml:"commit_author_email" json:"commit_author_email"`
	UpdateCommand     []string    `yaml:"update_command,omitempty" toml:"update_command,omitempty" json:"update_command,omitempty"`
	DiffCommand       []string    `yaml:"diff_command,omitempty" toml:"diff_command,omitempty" json:"diff_command,omitempty"`
	Concurrency       int         `yaml:"concurrency" toml:"concurrency" json:"concurrency"`
	Retry             RetryConfig `yaml:"retry,omitempty" toml:"retry,omitempty" json:"retry,omitempty"`
}
