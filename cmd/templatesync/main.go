package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spachava753/templatesync/internal/config"
	"github.com/spachava753/templatesync/internal/models"
	"github.com/spachava753/templatesync/internal/registry"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitConfig  = 2
)

var (
	registryPath string
	envFile      string
	verbose      bool

	applyMode   bool
	dryRun      bool
	reportPath  string
	concurrency int
	keepPolicy  string
	historyPath string
	workDir     string
	only        []string

	historyLimit int
	historyRun   string

	scanMode bool
)

// errRunFailed signals a completed run with failed repositories. The
// report has already been printed, so main only sets the exit code.
var errRunFailed = errors.New("one or more repositories failed")

// usageError marks invalid flags or environment; nothing was processed.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

var rootCmd = &cobra.Command{
	Use:   "templatesync",
	Short: "Keep template-generated repositories in sync with their template",
	Long: `templatesync checks every repository in a registry for drift from the
cookiecutter template it was generated from, merges template updates with
cruft, and opens or updates one pull request per repository unless
--dry-run is given.

Without a subcommand it behaves like "templatesync run".`,
	Args:              cobra.NoArgs,
	PersistentPreRunE: setup,
	RunE:              runRoot,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check and update every registered repository",
	Long: `Run processes the registry with a bounded pool of workers. By default
template updates are merged, committed, pushed and proposed as pull
requests. With --dry-run updates are merged locally and only reported.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find repositories using a registered template that are not in the registry",
	Long: `Scan searches GitHub for .cruft.json files referencing each template the
registry uses and lists repositories the registry does not track. Results
are advisory; the registry is never modified.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent runs recorded with --history",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

func addRunFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&dryRun, "dry-run", false, "merge updates locally without pushing")
	f.BoolVar(&applyMode, "apply", false, "commit, push and open pull requests (default)")
	f.StringVar(&reportPath, "report", "", "write a report to this path (.json for JSON, markdown otherwise)")
	f.IntVar(&concurrency, "concurrency", 0, "number of parallel workers (default from registry settings)")
	f.StringVar(&keepPolicy, "keep", string(models.PreserveNever), "keep workspaces: never, always or on_failure")
	f.StringVar(&historyPath, "history", "", "record the run in this SQLite database")
	f.StringVar(&workDir, "workdir", "", "directory for clones (default a temporary directory)")
	f.StringSliceVar(&only, "only", nil, "process only the named repositories")
}

func init() {
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "cruft_registry.yaml", "registry file path or http(s) URL")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded when present")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	addRunFlags(rootCmd)
	addRunFlags(runCmd)

	// Same as the scan subcommand.
	rootCmd.Flags().BoolVar(&scanMode, "scan", false, "list untracked template consumers instead of updating")
	rootCmd.Flags().MarkHidden("scan")

	historyCmd.Flags().StringVar(&historyPath, "history", "", "SQLite database written by run --history")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 10, "number of runs to list")
	historyCmd.Flags().StringVar(&historyRun, "run", "", "show the outcomes of one run")
	historyCmd.MarkFlagRequired("history")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(historyCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	return nil
}

func main() {
	// Setup context with manual signal handling
	ctx, cancel := context.WithCancel(context.Background())

	// Listen for interrupt signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, finishing in-flight repositories...", "signal", sig)
		cancel()
	}()

	err := rootCmd.ExecuteContext(ctx)

	signal.Stop(sigChan)
	cancel()

	code := exitCode(err)
	if err != nil && !errors.Is(err, errRunFailed) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	var ue *usageError
	var ee *config.EnvError
	switch {
	case err == nil:
		return exitOK
	case registry.IsConfigError(err), errors.As(err, &ue), errors.As(err, &ee):
		return exitConfig
	default:
		return exitFailure
	}
}
