package config

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/spachava753/templatesync/internal/models"
)

// Env holds configuration read from the process environment.
type Env struct {
	GitHubToken  string
	GitHubAPIURL string
	WebhookURL   string
}

// LoadEnv reads the environment, loading a .env file first if one exists.
// Variables already set in the process take precedence over the file.
func LoadEnv(files ...string) Env {
	// Ignore error if no .env file exists
	_ = godotenv.Load(files...)

	return Env{
		GitHubToken:  getEnv("GITHUB_TOKEN", os.Getenv("GH_TOKEN")),
		GitHubAPIURL: getEnv("GITHUB_API_URL", ""),
		WebhookURL:   getEnv("TEMPLATESYNC_WEBHOOK_URL", ""),
	}
}

// getEnv returns the value of an environment variable or a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// RequireToken reports whether the mode needs hosting credentials.
func RequireToken(mode models.RunMode, scan bool) bool {
	return scan || mode == models.ModeApply
}

// Validate checks that the environment satisfies the run's preconditions.
func (e Env) Validate(mode models.RunMode, scan bool) error {
	if RequireToken(mode, scan) && e.GitHubToken == "" {
		return &EnvError{Key: "GITHUB_TOKEN", Message: "required for --apply and --scan"}
	}
	return nil
}

// EnvError represents a missing or invalid environment variable.
type EnvError struct {
	Key     string
	Message string
}

func (e *EnvError) Error() string {
	return e.Key + ": " + e.Message
}
