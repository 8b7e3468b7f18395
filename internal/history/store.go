// Package history persists finished conversion jobs to SQLite so past
// runs survive process restarts and can be listed from the CLI.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"converto/internal/job"
)

// Store manages the conversion ledger backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Entry is one finished job as read back from the ledger.
type Entry struct {
	JobID      string
	Category   string
	InputName  string
	TargetExt  string
	State      string
	Error      string
	OutputPath string
	Backend    string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// AttemptRow is one backend attempt belonging to a ledger entry.
type AttemptRow struct {
	JobID   string
	Seq     int
	Backend string
	Outcome string
	Error   string
}

// Open initializes or connects to the history database at path and
// applies the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history: database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) applySchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id TEXT PRIMARY KEY,
            category TEXT NOT NULL,
            input_name TEXT NOT NULL,
            input_ext TEXT NOT NULL,
            target_ext TEXT NOT NULL,
            state TEXT NOT NULL,
            error TEXT,
            output_path TEXT,
            created_at TEXT NOT NULL,
            finished_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS attempts (
            job_id TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
            seq INTEGER NOT NULL,
            backend TEXT NOT NULL,
            outcome TEXT NOT NULL,
            error TEXT,
            started_at TEXT,
            ended_at TEXT,
            PRIMARY KEY (job_id, seq)
        )`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("history: apply schema: %w", err)
		}
	}
	return nil
}

// Record writes a terminal job snapshot and its attempts. Recording the
// same job twice replaces the earlier row.
func (s *Store) Record(snap job.Snapshot) error {
	if !snap.State.IsTerminal() {
		return fmt.Errorf("history: job %s is not terminal", snap.ID)
	}

	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history: begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO jobs (
            id, category, input_name, input_ext, target_ext,
            state, error, output_path, created_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		string(snap.Category),
		snap.Input.Filename,
		snap.Input.Ext,
		snap.TargetExt,
		string(snap.State),
		nullableString(snap.Error),
		nullableString(snap.OutputPath),
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
		snap.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("history: insert job %s: %w", snap.ID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM attempts WHERE job_id = ?`, snap.ID); err != nil {
		return fmt.Errorf("history: clear attempts for %s: %w", snap.ID, err)
	}
	for i, attempt := range snap.Attempts {
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO attempts (
                job_id, seq, backend, outcome, error, started_at, ended_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.ID,
			i,
			attempt.Backend,
			string(attempt.Outcome),
			nullableString(attempt.Error),
			attempt.StartedAt.UTC().Format(time.RFC3339Nano),
			attempt.EndedAt.UTC().Format(time.RFC3339Nano),
		)
		if err != nil {
			return fmt.Errorf("history: insert attempt %d for %s: %w", i, snap.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit job %s: %w", snap.ID, err)
	}
	return nil
}

// Recent returns the most recently finished jobs, newest first. The
// Backend field carries the backend of the last recorded attempt.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT j.id, j.category, j.input_name, j.target_ext, j.state,
                COALESCE(j.error, ''), COALESCE(j.output_path, ''),
                COALESCE((SELECT a.backend FROM attempts a
                          WHERE a.job_id = j.id ORDER BY a.seq DESC LIMIT 1), ''),
                j.created_at, j.finished_at
         FROM jobs j
         ORDER BY j.finished_at DESC
         LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query recent: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt, finishedAt string
		if err := rows.Scan(
			&e.JobID, &e.Category, &e.InputName, &e.TargetExt, &e.State,
			&e.Error, &e.OutputPath, &e.Backend, &createdAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("history: scan entry: %w", err)
		}
		e.CreatedAt = parseTimestamp(createdAt)
		e.FinishedAt = parseTimestamp(finishedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate entries: %w", err)
	}
	return entries, nil
}

// Attempts returns the recorded attempts for one job in order.
func (s *Store) Attempts(ctx context.Context, jobID string) ([]AttemptRow, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT job_id, seq, backend, outcome, COALESCE(error, '')
         FROM attempts WHERE job_id = ? ORDER BY seq`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []AttemptRow
	for rows.Next() {
		var a AttemptRow
		if err := rows.Scan(&a.JobID, &a.Seq, &a.Backend, &a.Outcome, &a.Error); err != nil {
			return nil, fmt.Errorf("history: scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate attempts: %w", err)
	}
	return attempts, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimestamp(value string) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}
