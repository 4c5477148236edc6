package config

import (
	"fmt"

	"github.com/spachava753/templatesync/internal/models"
)

const (
	DefaultBranchPrefix = "cruft/template-update"
	DefaultConcurrency  = 4
)

const defaultPRBody = `Automated update from the project template.

- Template: {{.TemplateURL}}
- Commits: ` + "`{{.OldCommit}}` → `{{.NewCommit}}`" + `

<details>
<summary>Changes</summary>

` + "```diff\n{{.Changes}}\n```" + `

</details>
`

// DefaultSettings returns Settings with default values.
func DefaultSettings() models.Settings {
	return models.Settings{
		BranchPrefix:      DefaultBranchPrefix,
		PRTitleTemplate:   "chore: update from template {{.TemplateName}}",
		PRBodyTemplate:    defaultPRBody,
		CommitAuthorName:  "templatesync",
		CommitAuthorEmail: "templatesync@users.noreply.github.com",
		UpdateCommand:     []string{"cruft", "update", "--skip-apply-ask", "-y"},
		DiffCommand:       []string{"cruft", "diff"},
		Concurrency:       DefaultConcurrency,
		Retry: models.RetryConfig{
			MaxAttempts:    4,
			InitialDelayMs: 1000,
			MaxDelayMs:     30000,
			Multiplier:     2.0,
		},
	}
}

// ApplyDefaults fills zero-valued fields of s from DefaultSettings.
func ApplyDefaults(s *models.Settings) {
	def := DefaultSettings()

	if s.BranchPrefix == "" {
		s.BranchPrefix = def.BranchPrefix
	}
	if s.PRTitleTemplate == "" {
		s.PRTitleTemplate = def.PRTitleTemplate
	}
	if s.PRBodyTemplate == "" {
		s.PRBodyTemplate = def.PRBodyTemplate
	}
	if s.CommitAuthorName == "" {
		s.CommitAuthorName = def.CommitAuthorName
	}
	if s.CommitAuthorEmail == "" {
		s.CommitAuthorEmail = def.CommitAuthorEmail
	}
	if len(s.UpdateCommand) == 0 {
		s.UpdateCommand = def.UpdateCommand
	}
	if len(s.DiffCommand) == 0 {
		s.DiffCommand = def.DiffCommand
	}
	if s.Concurrency == 0 {
		s.Concurrency = def.Concurrency
	}
	if s.Retry.MaxAttempts == 0 {
		s.Retry.MaxAttempts = def.Retry.MaxAttempts
	}
	if s.Retry.InitialDelayMs == 0 {
		s.Retry.InitialDelayMs = def.Retry.InitialDelayMs
	}
	if s.Retry.MaxDelayMs == 0 {
		s.Retry.MaxDelayMs = def.Retry.MaxDelayMs
	}
	if s.Retry.Multiplier == 0 {
		s.Retry.Multiplier = def.Retry.Multiplier
	}
}

// ValidateSettings checks settings values that have no sensible fallback.
func ValidateSettings(s models.Settings) error {
	if s.Concurrency < 0 {
		return fmt.Errorf("settings.concurrency: must be positive, got %d", s.Concurrency)
	}
	if s.Retry.MaxAttempts < 0 {
		return fmt.Errorf("settings.retry.max_attempts: must be positive, got %d", s.Retry.MaxAttempts)
	}
	if s.Retry.Multiplier < 1 && s.Retry.Multiplier != 0 {
		return fmt.Errorf("settings.retry.multiplier: must be >= 1, got %g", s.Retry.Multiplier)
	}
	return nil
}
