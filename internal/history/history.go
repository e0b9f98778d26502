// Package history keeps a local SQLite log of export runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Outcome values stored with a run.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// Record is one export run.
type Record struct {
	ID         int64
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time
	Outcome    string
	LoginState string
	LoggedIn   bool
	Challenged bool
	Artifact   string
	Size       int64
	DateRange  string
	ErrorKind  string
	Error      string
}

// Duration returns how long the run took.
func (r Record) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Store records runs.
type Store interface {
	Append(ctx context.Context, r Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	LastSuccess(ctx context.Context) (*Record, error)
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (and creates if needed) the history database at path.
// Use ":memory:" for an in-memory database.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		login_state TEXT NOT NULL,
		logged_in INTEGER NOT NULL,
		challenged INTEGER NOT NULL,
		artifact TEXT,
		size INTEGER NOT NULL DEFAULT 0,
		date_range TEXT,
		error_kind TEXT,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Append adds a run.
func (s *SQLiteStore) Append(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, finished_at, outcome, login_state, logged_in, challenged,
			artifact, size, date_range, error_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.StartedAt.UnixMilli(), r.FinishedAt.UnixMilli(), r.Outcome, r.LoginState,
		r.LoggedIn, r.Challenged, r.Artifact, r.Size, r.DateRange, r.ErrorKind, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

const selectRuns = `SELECT id, run_id, started_at, finished_at, outcome, login_state, logged_in, challenged,
	artifact, size, date_range, error_kind, error FROM runs`

// Recent returns up to limit runs, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+" ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// LastSuccess returns the newest successful run, or nil when there is none.
func (s *SQLiteStore) LastSuccess(ctx context.Context) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, selectRuns+" WHERE outcome = ? ORDER BY id DESC LIMIT 1", OutcomeSuccess)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs, err := scanRuns(rows)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func scanRuns(rows *sql.Rows) ([]Record, error) {
	var runs []Record
	for rows.Next() {
		var (
			r                    Record
			started, finished    int64
			artifact, dateRange  sql.NullString
			errorKind, errorText sql.NullString
		)
		err := rows.Scan(&r.ID, &r.RunID, &started, &finished, &r.Outcome, &r.LoginState,
			&r.LoggedIn, &r.Challenged, &artifact, &r.Size, &dateRange, &errorKind, &errorText)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started)
		r.FinishedAt = time.UnixMilli(finished)
		r.Artifact = artifact.String
		r.DateRange = dateRange.String
		r.ErrorKind = errorKind.String
		r.Error = errorText.String
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return runs, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Nop discards runs. It stands in when history is disabled.
type Nop struct{}

func (Nop) Append(context.Context, Record) error          { return nil }
func (Nop) Recent(context.Context, int) ([]Record, error) { return nil, nil }
func (Nop) LastSuccess(context.Context) (*Record, error)  { return nil, nil }
func (Nop) Close() error                                  { return nil }
