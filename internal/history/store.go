// Package history keeps a record of every batch: the rows that were asked
// for, the results that came back and how the run ended.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("history: run not found")

// Status is the lifecycle state of a recorded run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
	StatusFailed    Status = "failed"
)

// Row is one input row of a run and its result, if one was read.
type Row struct {
	Index         int    `json:"index"`
	Depth         string `json:"depth"`
	SurfaceWeight string `json:"surface_weight"`
	Result        string `json:"result,omitempty"`
	HasResult     bool   `json:"has_result"`
}

// Run is a recorded batch.
type Run struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Driver      string     `json:"driver"`
	Status      Status     `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	RowCount    int        `json:"row_count"`
	ResultCount int        `json:"result_count"`
	Rows        []Row      `json:"rows,omitempty"`
}

// NewRun describes a batch about to start.
type NewRun struct {
	Source string
	Driver string
	Rows   []Row
}

// Store persists runs in SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history: db path cannot be empty")
	}
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("history: create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	// One writer at a time; the batch goroutine and the bridge share this handle.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		driver TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		row_count INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT
	);

	CREATE TABLE IF NOT EXISTS run_rows (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		row_index INTEGER NOT NULL,
		depth TEXT NOT NULL,
		surface_weight TEXT NOT NULL,
		result TEXT,
		PRIMARY KEY (run_id, row_index)
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun records a new running batch with its input rows and returns its id.
func (s *Store) StartRun(ctx context.Context, run NewRun) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, source, driver, status, row_count, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, run.Source, run.Driver, string(StatusRunning), len(run.Rows), formatTime(s.now()))
	if err != nil {
		return "", fmt.Errorf("history: insert run: %w", err)
	}
	for i, row := range run.Rows {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_rows (run_id, row_index, depth, surface_weight) VALUES (?, ?, ?, ?)`,
			id, i, row.Depth, row.SurfaceWeight); err != nil {
			return "", fmt.Errorf("history: insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("history: commit: %w", err)
	}
	return id, nil
}

// RecordResult stores the settled output for row index of run id.
func (s *Store) RecordResult(ctx context.Context, id string, index int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE run_rows SET result = ? WHERE run_id = ? AND row_index = ?`, value, id, index)
	if err != nil {
		return fmt.Errorf("history: record result: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("history: record result %s[%d]: %w", id, index, ErrNotFound)
	}
	return nil
}

// FinishRun marks run id as ended with status. runErr may be nil.
func (s *Store) FinishRun(ctx context.Context, id string, status Status, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	message := ""
	if runErr != nil {
		message = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), message, formatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const runColumns = `r.id, r.source, r.driver, r.status, r.error, r.row_count, r.started_at, r.finished_at,
	(SELECT COUNT(*) FROM run_rows rr WHERE rr.run_id = r.id AND rr.result IS NOT NULL)`

// ListRuns returns the most recent runs first, without their rows. A limit
// of zero or less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs r ORDER BY r.started_at DESC, r.rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns run id with its rows in input order.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs r WHERE r.id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, depth, surface_weight, result FROM run_rows WHERE run_id = ? ORDER BY row_index`, id)
	if err != nil {
		return Run{}, fmt.Errorf("history: load rows: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r Row
		var result sql.NullString
		if err := rows.Scan(&r.Index, &r.Depth, &r.SurfaceWeight, &result); err != nil {
			return Run{}, fmt.Errorf("history: scan row: %w", err)
		}
		r.Result = result.String
		r.HasResult = result.Valid
		run.Rows = append(run.Rows, r)
	}
	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run      Run
		status   string
		started  string
		finished sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Source, &run.Driver, &status, &run.Error, &run.RowCount, &started, &finished, &run.ResultCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("history: scan run: %w", err)
	}
	run.Status = Status(status)
	var err error
	if run.StartedAt, err = parseTime(started); err != nil {
		return Run{}, err
	}
	if finished.Valid && finished.String != "" {
		at, err := parseTime(finished.String)
		if err != nil {
			return Run{}, err
		}
		run.FinishedAt = &at
	}
	return run, nil
}

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("history: parse time %q: %w", value, err)
	}
	return t, nil
}
