package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/spachava753/templatesync/internal/config"
	"github.com/spachava753/templatesync/internal/drift"
	"github.com/spachava753/templatesync/internal/engine"
	"github.com/spachava753/templatesync/internal/executor"
	"github.com/spachava753/templatesync/internal/gitclient"
	"github.com/spachava753/templatesync/internal/history"
	"github.com/spachava753/templatesync/internal/hosting"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/notify"
	"github.com/spachava753/templatesync/internal/publisher"
	"github.com/spachava753/templatesync/internal/registry"
	"github.com/spachava753/templatesync/internal/report"
	"github.com/spachava753/templatesync/internal/retry"
	"github.com/spachava753/templatesync/internal/runner"
	"github.com/spachava753/templatesync/internal/workspace"
)

// postRunTimeout bounds report delivery after the run, which must work
// even when the run context was cancelled.
const postRunTimeout = 30 * time.Second

func runOptions() (models.RunOptions, error) {
	if dryRun && applyMode {
		return models.RunOptions{}, &usageError{err: errors.New("--dry-run and --apply are mutually exclusive")}
	}
	mode := models.ModeApply
	if dryRun {
		mode = models.ModeDryRun
	}
	keep := models.PreservePolicy(keepPolicy)
	if !keep.Valid() {
		return models.RunOptions{}, &usageError{err: fmt.Errorf("--keep: invalid policy %q (want never, always or on_failure)", keepPolicy)}
	}
	if concurrency < 0 {
		return models.RunOptions{}, &usageError{err: fmt.Errorf("--concurrency: must be positive, got %d", concurrency)}
	}
	return models.RunOptions{
		Mode:        mode,
		Concurrency: concurrency,
		Preserve:    keep,
		Only:        only,
	}, nil
}

func newHostingClient(env config.Env) (*hosting.GitHub, error) {
	return hosting.NewGitHub(env.GitHubToken, env.GitHubAPIURL, hosting.NewRateLimiter(hosting.DefaultLimiterOptions))
}

func runRoot(cmd *cobra.Command, args []string) error {
	if !scanMode {
		return runRun(cmd, args)
	}
	if applyMode {
		return &usageError{err: errors.New("--scan is read-only and cannot be combined with --apply")}
	}
	return runScan(cmd, args)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts, err := runOptions()
	if err != nil {
		return err
	}
	env := config.LoadEnv(envFile)
	if err := env.Validate(opts.Mode, false); err != nil {
		return err
	}

	reg, err := registry.Load(ctx, registryPath)
	if err != nil {
		return err
	}
	settings := reg.Settings()
	slog.Debug("registry loaded", "source", registryPath, "repositories", reg.Len())

	git := gitclient.NewExec(env.GitHubToken)
	workspaces, err := workspace.NewManager(git, workspace.Options{BaseDir: workDir, Preserve: opts.Preserve})
	if err != nil {
		return err
	}
	defer workspaces.Close()

	host, err := newHostingClient(env)
	if err != nil {
		return &usageError{err: err}
	}
	pub, err := publisher.New(git, host, settings)
	if err != nil {
		return err
	}

	policy := retry.FromConfig(settings.Retry)
	r := &runner.Runner{
		Executor: &executor.Executor{
			Workspaces: workspaces,
			Prober:     drift.NewProber(git, policy),
			Engine:     engine.NewCommand(settings.UpdateCommand, settings.DiffCommand),
			Git:        git,
			Publisher:  pub,
			Mode:       opts.Mode,
			Retry:      policy,
		},
		Options: opts,
	}

	rep, err := r.Run(ctx, reg)
	if err != nil {
		return err
	}

	report.WriteTable(cmd.OutOrStdout(), rep)
	deliver(rep, env)

	if rep.HasFailures() {
		return errRunFailed
	}
	return nil
}

// deliver writes the report file, records history and posts the webhook.
// Failures are logged and never change the exit code.
func deliver(rep *models.RunReport, env config.Env) {
	ctx, cancel := context.WithTimeout(context.Background(), postRunTimeout)
	defer cancel()

	if reportPath != "" {
		if err := report.WriteFile(reportPath, rep); err != nil {
			slog.Error("failed to write report", "path", reportPath, "error", err)
		} else {
			slog.Info("report written", "path", reportPath)
		}
	}

	if historyPath != "" {
		if err := saveHistory(ctx, historyPath, rep); err != nil {
			slog.Error("failed to record run history", "path", historyPath, "error", err)
		}
	}

	if env.WebhookURL != "" {
		if err := notify.NewWebhook(env.WebhookURL).Notify(ctx, rep); err != nil {
			slog.Error("failed to send webhook notification", "error", err)
		}
	}
}

func saveHistory(ctx context.Context, path string, rep *models.RunReport) error {
	store, err := history.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.SaveReport(ctx, rep)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	env := config.LoadEnv(envFile)
	if err := env.Validate(models.ModeDryRun, true); err != nil {
		return err
	}
	reg, err := registry.Load(ctx, registryPath)
	if err != nil {
		return err
	}
	host, err := newHostingClient(env)
	if err != nil {
		return &usageError{err: err}
	}

	untracked, err := runner.Scan(ctx, reg, host)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(untracked) == 0 {
		fmt.Fprintf(out, "No untracked repositories found for %d template(s).\n", len(reg.Templates()))
		return nil
	}
	fmt.Fprintf(out, "%d repositories use a registered template but are not in the registry:\n", len(untracked))
	for _, slug := range untracked {
		fmt.Fprintf(out, "  %s\n", slug)
	}
	fmt.Fprintln(out, "Review them and add the ones that should be tracked to the registry.")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if historyLimit <= 0 {
		return &usageError{err: fmt.Errorf("--limit: must be positive, got %d", historyLimit)}
	}

	store, err := history.Open(ctx, historyPath)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	if historyRun != "" {
		run, ok, err := store.Run(ctx, historyRun)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no run recorded with id %q", historyRun)
		}
		outcomes, err := store.Outcomes(ctx, historyRun)
		if err != nil {
			return err
		}
		report.WriteTable(out, &models.RunReport{
			RunID:       run.RunID,
			Mode:        run.Mode,
			Concurrency: run.Concurrency,
			Cancelled:   run.Cancelled,
			StartedAt:   run.StartedAt,
			EndedAt:     run.EndedAt,
			Counts:      run.Counts,
			Outcomes:    outcomes,
		})
		return nil
	}

	runs, err := store.LastRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded.")
		return nil
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"Run", "Mode", "Started", "Duration", "Repos", "Published", "Conflicts", "Failed", "Cancelled"})
	for _, r := range runs {
		failed := r.Counts[models.StatusFailed] + r.Counts[models.StatusPublishFailed]
		table.Append([]string{
			r.RunID,
			string(r.Mode),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.EndedAt.Sub(r.StartedAt).Round(time.Second).String(),
			strconv.Itoa(r.Total()),
			strconv.Itoa(r.Counts[models.StatusPublished]),
			strconv.Itoa(r.Counts[models.StatusConflict]),
			strconv.Itoa(failed),
			strconv.FormatBool(r.Cancelled),
		})
	}
	table.Render()
	return nil
}
