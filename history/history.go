// Package history keeps an operational log of crawl runs in SQLite: when a
// crawl ran, what it was asked for, and how it ended. Crawled content is
// never stored.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ErrRunNotFound is returned by Get for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// Run modes.
const (
	ModeLinks    = "links"
	ModeArticles = "articles"
)

// Run is one crawl invocation.
type Run struct {
	RunID      uuid.UUID `json:"run_id"`
	Mode       string    `json:"mode"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	MaxPages   int       `json:"max_pages"`
	DelaySec   float64   `json:"delay_sec"`
	Pages      int       `json:"pages"` // listing pages fetched
	Links      int       `json:"links"` // links returned or selected
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Partial    bool      `json:"partial"`
	Error      *string   `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Store persists runs using SQLite.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the run database at dsn.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the runs table if it doesn't exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		mode TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		max_pages INTEGER NOT NULL,
		delay_sec REAL NOT NULL,
		pages INTEGER NOT NULL DEFAULT 0,
		links INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		partial INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores a finished run. A zero RunID is replaced with a new one.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.RunID == uuid.Nil {
		run.RunID = uuid.New()
	}

	query := `
		INSERT INTO runs (
			run_id, mode, started_at, finished_at, max_pages, delay_sec,
			pages, links, succeeded, failed, partial, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.RunID.String(),
		run.Mode,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.MaxPages,
		run.DelaySec,
		run.Pages,
		run.Links,
		run.Succeeded,
		run.Failed,
		run.Partial,
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get retrieves a run by ID.
func (s *Store) Get(ctx context.Context, runID uuid.UUID) (*Run, error) {
	query := selectRuns + " WHERE run_id = ?"

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, most recent first. A limit of zero or less
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	query := selectRuns + " ORDER BY started_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// Prune deletes all but the keep most recent runs and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	query := `
		DELETE FROM runs WHERE run_id NOT IN (
			SELECT run_id FROM runs ORDER BY started_at DESC LIMIT ?
		)
	`
	result, err := s.db.ExecContext(ctx, query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

const selectRuns = `
	SELECT run_id, mode, started_at, finished_at, max_pages, delay_sec,
	       pages, links, succeeded, failed, partial, error
	FROM runs`

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var run Run
	var runIDStr, startedAtStr, finishedAtStr string
	var errMsg sql.NullString

	err := row.Scan(
		&runIDStr, &run.Mode, &startedAtStr, &finishedAtStr,
		&run.MaxPages, &run.DelaySec, &run.Pages, &run.Links,
		&run.Succeeded, &run.Failed, &run.Partial, &errMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan run: %w", err)
	}

	run.RunID, err = uuid.Parse(runIDStr)
	if err != nil {
		return nil, fmt.Errorf("invalid run_id %q: %w", runIDStr, err)
	}
	run.StartedAt = parseTime(startedAtStr)
	run.FinishedAt = parseTime(finishedAtStr)
	if errMsg.Valid {
		run.Error = &errMsg.String
	}
	return &run, nil
}

// timeLayout is fixed-width so stored timestamps sort chronologically as
// text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339, s)
	}
	return t
}
