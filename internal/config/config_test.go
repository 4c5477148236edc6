package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spachava753/templatesync/internal/config"
	"github.com/spachava753/templatesync/internal/models"
)

func TestApplyDefaults(t *testing.T) {
	s := models.Settings{
		BranchPrefix: "template/sync",
		Retry:        models.RetryConfig{MaxAttempts: 5},
	}
	config.ApplyDefaults(&s)

	if s.BranchPrefix != "template/sync" {
		t.Errorf("expected branch prefix to be kept, got %s", s.BranchPrefix)
	}
	if s.Retry.MaxAttempts != 5 {
		t.Errorf("expected max attempts 5, got %d", s.Retry.MaxAttempts)
	}
	if s.Retry.InitialDelayMs != 1000 {
		t.Errorf("expected initial delay 1000, got %d", s.Retry.InitialDelayMs)
	}
	if s.Retry.Multiplier != 2.0 {
		t.Errorf("expected multiplier 2.0, got %f", s.Retry.Multiplier)
	}
	if s.Concurrency != config.DefaultConcurrency {
		t.Errorf("expected concurrency %d, got %d", config.DefaultConcurrency, s.Concurrency)
	}
	if len(s.UpdateCommand) == 0 || s.UpdateCommand[0] != "cruft" {
		t.Errorf("expected cruft update command, got %v", s.UpdateCommand)
	}
}

func TestDefaultRetryBudget(t *testing.T) {
	var s models.Settings
	config.ApplyDefaults(&s)

	// One initial attempt followed by three retries.
	if s.Retry.MaxAttempts != 4 {
		t.Errorf("expected 4 attempts by default, got %d", s.Retry.MaxAttempts)
	}
	if s.Retry.MaxDelayMs != 30000 {
		t.Errorf("expected max delay 30000, got %d", s.Retry.MaxDelayMs)
	}
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(s *models.Settings)
		wantErr bool
	}{
		{name: "defaults", mutate: func(s *models.Settings) {}},
		{name: "negative concurrency", mutate: func(s *models.Settings) { s.Concurrency = -1 }, wantErr: true},
		{name: "negative attempts", mutate: func(s *models.Settings) { s.Retry.MaxAttempts = -2 }, wantErr: true},
		{name: "shrinking backoff", mutate: func(s *models.Settings) { s.Retry.Multiplier = 0.5 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := config.DefaultSettings()
			tt.mutate(&s)
			err := config.ValidateSettings(s)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSettings() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvFromFile(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	t.Setenv("TEMPLATESYNC_WEBHOOK_URL", "")
	os.Unsetenv("GITHUB_TOKEN")
	os.Unsetenv("TEMPLATESYNC_WEBHOOK_URL")

	envFile := filepath.Join(t.TempDir(), ".env")
	data := "GITHUB_TOKEN=from-file\nTEMPLATESYNC_WEBHOOK_URL=https://hooks.example.com/x\n"
	if err := os.WriteFile(envFile, []byte(data), 0644); err != nil {
		t.Fatalf("writing env file: %v", err)
	}

	// t.Setenv restores the original values after the test
	env := config.LoadEnv(envFile)

	if env.GitHubToken != "from-file" {
		t.Errorf("expected token from file, got %q", env.GitHubToken)
	}
	if env.WebhookURL != "https://hooks.example.com/x" {
		t.Errorf("expected webhook url from file, got %q", env.WebhookURL)
	}
}

func TestEnvValidate(t *testing.T) {
	empty := config.Env{}

	if err := empty.Validate(models.ModeDryRun, false); err != nil {
		t.Errorf("dry-run without token should be allowed, got %v", err)
	}
	if err := empty.Validate(models.ModeApply, false); err == nil {
		t.Error("apply without token should fail")
	}
	if err := empty.Validate(models.ModeDryRun, true); err == nil {
		t.Error("scan without token should fail")
	}

	withToken := config.Env{GitHubToken: "t"}
	if err := withToken.Validate(models.ModeApply, true); err != nil {
		t.Errorf("apply with token should pass, got %v", err)
	}
}
