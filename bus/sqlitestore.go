package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	checkflow "github.com/petal-labs/checkflow"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStoreConfig configures the SQLite run store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string (a file path, or ":memory:").
	DSN string

	// RetentionAge deletes runs older than this duration (0 = no pruning).
	RetentionAge time.Duration

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteRunStore persists runs to a SQLite database. It satisfies the
// RunStore interface and supports WAL mode for concurrent read access and a
// background pruner goroutine.
type SQLiteRunStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteRunStore opens (or creates) a SQLite run store.
func NewSQLiteRunStore(cfg SQLiteStoreConfig) (*SQLiteRunStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: enable foreign keys: %w", err)
	}

	// Create schema.
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s := &SQLiteRunStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	if cfg.RetentionAge > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}

	return s, nil
}

// SaveRun stores a run and its step results in one transaction.
func (s *SQLiteRunStore) SaveRun(ctx context.Context, result checkflow.RunResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, pipeline, exit_code, fatal_step, started_ns, elapsed_ns)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		result.RunID,
		result.Pipeline,
		result.ExitCode,
		result.FatalStepID,
		result.Started.UTC().UnixNano(),
		int64(result.Elapsed),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert run: %w", err)
	}

	for i, step := range result.Steps {
		argsJSON, err := json.Marshal(step.Args)
		if err != nil {
			return fmt.Errorf("sqlitestore: marshal args: %w", err)
		}
		errText := ""
		if step.Err != nil {
			errText = step.Err.Error()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO step_results (run_id, position, step_id, tool, args, policy, exit_code, error, output_tail, started_ns, duration_ns)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.RunID,
			i,
			step.StepID,
			step.Tool,
			string(argsJSON),
			string(step.Policy),
			step.ExitCode,
			errText,
			step.OutputTail,
			step.Started.UTC().UnixNano(),
			int64(step.Duration),
		)
		if err != nil {
			return fmt.Errorf("sqlitestore: insert step %s: %w", step.StepID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs, newest first, without step details.
func (s *SQLiteRunStore) ListRuns(ctx context.Context, limit int) ([]checkflow.RunResult, error) {
	query := `SELECT run_id, pipeline, exit_code, fatal_step, started_ns, elapsed_ns
	           FROM runs ORDER BY started_ns DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list runs: %w", err)
	}
	defer rows.Close()

	var runs []checkflow.RunResult
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one run with its step results.
func (s *SQLiteRunStore) GetRun(ctx context.Context, runID string) (checkflow.RunResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, pipeline, exit_code, fatal_step, started_ns, elapsed_ns
		   FROM runs WHERE run_id = ?`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return checkflow.RunResult{}, ErrRunNotFound
	}
	if err != nil {
		return checkflow.RunResult{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT step_id, tool, args, policy, exit_code, error, output_tail, started_ns, duration_ns
		   FROM step_results WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return checkflow.RunResult{}, fmt.Errorf("sqlitestore: get steps: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			step       checkflow.StepResult
			argsJSON   string
			policy     string
			errText    string
			startedNS  int64
			durationNS int64
		)
		if err := rows.Scan(&step.StepID, &step.Tool, &argsJSON, &policy,
			&step.ExitCode, &errText, &step.OutputTail, &startedNS, &durationNS); err != nil {
			return checkflow.RunResult{}, fmt.Errorf("sqlitestore: scan step: %w", err)
		}
		if err := json.Unmarshal([]byte(argsJSON), &step.Args); err != nil {
			return checkflow.RunResult{}, fmt.Errorf("sqlitestore: unmarshal args: %w", err)
		}
		step.Policy = checkflow.FailurePolicy(policy)
		if errText != "" {
			step.Err = errors.New(errText)
		}
		step.Started = time.Unix(0, startedNS).UTC()
		step.Duration = time.Duration(durationNS)
		run.Steps = append(run.Steps, step)
	}
	return run, rows.Err()
}

// Close stops the pruner and closes the database.
func (s *SQLiteRunStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (checkflow.RunResult, error) {
	var (
		run       checkflow.RunResult
		startedNS int64
		elapsedNS int64
	)
	if err := row.Scan(&run.RunID, &run.Pipeline, &run.ExitCode,
		&run.FatalStepID, &startedNS, &elapsedNS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return run, err
		}
		return run, fmt.Errorf("sqlitestore: scan run: %w", err)
	}
	run.Started = time.Unix(0, startedNS).UTC()
	run.Elapsed = time.Duration(elapsedNS)
	return run, nil
}

func (s *SQLiteRunStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.pruneOnce()
		}
	}
}

func (s *SQLiteRunStore) pruneOnce() {
	cutoff := time.Now().Add(-s.cfg.RetentionAge).UnixNano()
	// Step results go with their runs via ON DELETE CASCADE.
	_, _ = s.db.Exec(`DELETE FROM runs WHERE started_ns < ?`, cutoff)
}

var _ RunStore = (*SQLiteRunStore)(nil)
