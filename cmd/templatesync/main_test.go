package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/spachava753/templatesync/internal/config"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/registry"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"failed repositories", errRunFailed, exitFailure},
		{"registry", &registry.ConfigError{Source: "r.yaml", Problems: []string{"bad"}}, exitConfig},
		{"wrapped registry", fmt.Errorf("loading: %w", &registry.ConfigError{}), exitConfig},
		{"flags", &usageError{err: errors.New("unknown flag")}, exitConfig},
		{"environment", &config.EnvError{Key: "GITHUB_TOKEN", Message: "required"}, exitConfig},
		{"other", errors.New("disk full"), exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRunOptions(t *testing.T) {
	reset := func() {
		dryRun, applyMode = false, false
		keepPolicy = string(models.PreserveNever)
		concurrency = 0
		only = nil
	}

	reset()
	opts, err := runOptions()
	if err != nil {
		t.Fatalf("runOptions: %v", err)
	}
	if opts.Mode != models.ModeApply || opts.Preserve != models.PreserveNever {
		t.Errorf("defaults = %+v", opts)
	}

	reset()
	applyMode, keepPolicy, concurrency, only = true, "on_failure", 3, []string{"svc"}
	opts, err = runOptions()
	if err != nil {
		t.Fatalf("runOptions: %v", err)
	}
	if opts.Mode != models.ModeApply || opts.Preserve != models.PreserveOnFailure || opts.Concurrency != 3 || len(opts.Only) != 1 {
		t.Errorf("options = %+v", opts)
	}

	invalid := []func(){
		func() { dryRun, applyMode = true, true },
		func() { keepPolicy = "sometimes" },
		func() { concurrency = -1 },
	}
	for i, set := range invalid {
		reset()
		set()
		_, err := runOptions()
		if exitCode(err) != exitConfig {
			t.Errorf("case %d: expected a usage error, got %v", i, err)
		}
	}
	reset()
}

func TestRootScanFlag(t *testing.T) {
	flag := rootCmd.Flags().Lookup("scan")
	if flag == nil || !flag.Hidden {
		t.Fatalf("expected a hidden --scan flag, got %+v", flag)
	}

	t.Setenv("GITHUB_TOKEN", "")
	t.Setenv("GH_TOKEN", "")
	dir := t.TempDir()
	envFile = filepath.Join(dir, "missing.env")
	registryPath = filepath.Join(dir, "missing.yaml")
	rootCmd.SetContext(context.Background())
	t.Cleanup(func() { scanMode, dryRun, applyMode = false, false, false })

	// A dry run needs no token, so it gets as far as loading the registry.
	scanMode, dryRun, applyMode = false, true, false
	err := runRoot(rootCmd, nil)
	var envErr *config.EnvError
	if err == nil || errors.As(err, &envErr) {
		t.Errorf("dry run: expected a registry error, got %v", err)
	}

	// Scanning always talks to the host and requires a token.
	scanMode = true
	err = runRoot(rootCmd, nil)
	if !errors.As(err, &envErr) {
		t.Errorf("scan: expected a missing token error, got %v", err)
	}

	scanMode, dryRun, applyMode = true, false, true
	if err := runRoot(rootCmd, nil); exitCode(err) != exitConfig {
		t.Errorf("scan with --apply: expected a usage error, got %v", err)
	}
}
