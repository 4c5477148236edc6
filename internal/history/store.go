package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/spachava753/templatesync/internal/models"
)

// Store persists run reports in a SQLite database.
type Store struct {
	db *sql.DB
}

// RunSummary is one stored run.
type RunSummary struct {
	RunID       string
	Mode        models.RunMode
	Concurrency int
	Cancelled   bool
	StartedAt   time.Time
	EndedAt     time.Time
	Counts      map[models.UpdateStatus]int
}

// Total returns the number of repositories in the run.
func (s RunSummary) Total() int {
	n := 0
	for _, c := range s.Counts {
		n += c
	}
	return n
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		concurrency INTEGER NOT NULL,
		cancelled INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		ended_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);

	CREATE TABLE IF NOT EXISTS outcomes (
		run_id TEXT NOT NULL REFERENCES runs(id),
		name TEXT NOT NULL,
		github TEXT NOT NULL,
		status TEXT NOT NULL,
		skip_reason TEXT NOT NULL DEFAULT '',
		error_type TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		recorded_commit TEXT NOT NULL DEFAULT '',
		upstream_commit TEXT NOT NULL DEFAULT '',
		pr_reference TEXT NOT NULL DEFAULT '',
		files TEXT NOT NULL DEFAULT '[]',
		attempts INTEGER NOT NULL,
		PRIMARY KEY (run_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_outcomes_name ON outcomes(name);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveReport stores the run and all of its outcomes. Saving the same run
// again replaces it.
func (s *Store) SaveReport(ctx context.Context, r *models.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	cancelled := 0
	if r.Cancelled {
		cancelled = 1
	}
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs (id, mode, concurrency, cancelled, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.RunID, string(r.Mode), r.Concurrency, cancelled, r.StartedAt.UTC(), r.EndedAt.UTC())
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM outcomes WHERE run_id = ?`, r.RunID); err != nil {
		return fmt.Errorf("clearing outcomes: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO outcomes (run_id, name, github, status, skip_reason, error_type, error_message,
			recorded_commit, upstream_commit, pr_reference, files, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, o := range r.Outcomes {
		files, err := json.Marshal(o.Diff.Files)
		if err != nil {
			return err
		}
		if o.Diff.Files == nil {
			files = []byte("[]")
		}
		var errType, errMsg string
		if o.Error != nil {
			errType, errMsg = string(o.Error.Type), o.Error.Message
		}
		_, err = stmt.ExecContext(ctx,
			r.RunID,
			o.Name,
			o.HostSlug,
			string(o.Status),
			string(o.SkipReason),
			errType,
			errMsg,
			o.RecordedCommit,
			o.UpstreamCommit,
			o.PRReference,
			string(files),
			o.Attempts,
		)
		if err != nil {
			return fmt.Errorf("saving outcome %s: %w", o.Name, err)
		}
	}

	return tx.Commit()
}

// LastRuns returns the n most recent runs, newest first.
func (s *Store) LastRuns(ctx context.Context, n int) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, concurrency, cancelled, started_at, ended_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunSummary
	index := make(map[string]int)
	for rows.Next() {
		var r RunSummary
		var mode string
		var cancelled int
		if err := rows.Scan(&r.RunID, &mode, &r.Concurrency, &cancelled, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		r.Mode = models.RunMode(mode)
		r.Cancelled = cancelled == 1
		r.Counts = make(map[models.UpdateStatus]int)
		index[r.RunID] = len(runs)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for id, i := range index {
		counts, err := s.counts(ctx, id)
		if err != nil {
			return nil, err
		}
		runs[i].Counts = counts
	}
	return runs, nil
}

// Run returns one stored run. ok is false when no run has the id.
func (s *Store) Run(ctx context.Context, runID string) (run RunSummary, ok bool, err error) {
	var mode string
	var cancelled int
	err = s.db.QueryRowContext(ctx, `
		SELECT id, mode, concurrency, cancelled, started_at, ended_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(&run.RunID, &mode, &run.Concurrency, &cancelled, &run.StartedAt, &run.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return RunSummary{}, false, nil
	}
	if err != nil {
		return RunSummary{}, false, err
	}
	run.Mode = models.RunMode(mode)
	run.Cancelled = cancelled == 1
	run.Counts, err = s.counts(ctx, runID)
	if err != nil {
		return RunSummary{}, false, err
	}
	return run, true, nil
}

func (s *Store) counts(ctx context.Context, runID string) (map[models.UpdateStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM outcomes WHERE run_id = ? GROUP BY status
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[models.UpdateStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[models.UpdateStatus(status)] = n
	}
	return counts, rows.Err()
}

// Outcomes returns the stored outcomes of a run, sorted by name.
func (s *Store) Outcomes(ctx context.Context, runID string) ([]models.UpdateOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, github, status, skip_reason, error_type, error_message,
			recorded_commit, upstream_commit, pr_reference, files, attempts
		FROM outcomes
		WHERE run_id = ?
		ORDER BY name
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.UpdateOutcome
	for rows.Next() {
		var o models.UpdateOutcome
		var status, skip, errType, errMsg, files string
		err := rows.Scan(&o.Name, &o.HostSlug, &status, &skip, &errType, &errMsg,
			&o.RecordedCommit, &o.UpstreamCommit, &o.PRReference, &files, &o.Attempts)
		if err != nil {
			return nil, err
		}
		o.Status = models.UpdateStatus(status)
		o.SkipReason = models.SkipReason(skip)
		if errType != "" {
			o.Error = &models.OutcomeError{Type: models.ErrorType(errType), Message: errMsg}
		}
		if err := json.Unmarshal([]byte(files), &o.Diff.Files); err == nil {
			o.Diff.FilesChanged = len(o.Diff.Files)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
