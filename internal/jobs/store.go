package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cdflabs/stt-api/internal/types"
)

// OpenDB opens the SQLite database shared by the job store and the pending
// queue, applying WAL journal mode and a busy timeout so the API handlers
// and the worker can write concurrently.
func OpenDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Serialize through one connection: SQLite allows a single writer and
	// a deferred transaction that upgrades to a write can fail with BUSY
	// instead of waiting out the busy timeout.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	return db, nil
}

// Store persists job records in SQLite, one row per job id.
type Store struct {
	db *sql.DB
}

// NewStore creates the jobs table if needed and returns a store handle.
func NewStore(db *sql.DB) (*Store, error) {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS jobs (
		id           TEXT PRIMARY KEY,
		status       TEXT NOT NULL,
		progress     INTEGER NOT NULL DEFAULT 0,
		request_name TEXT NOT NULL DEFAULT '',
		audio_path   TEXT NOT NULL DEFAULT '',
		options      TEXT NOT NULL DEFAULT '{}',
		created_at   INTEGER NOT NULL,
		started_at   INTEGER,
		completed_at INTEGER,
		result       TEXT,
		error        TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);
	`

	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("create jobs table: %w", err)
	}

	return &Store{db: db}, nil
}

// Create inserts a new job record. Returns ErrDuplicateID if the id is taken.
func (s *Store) Create(ctx context.Context, job *Job) error {
	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, progress, request_name, audio_path, options, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.Progress, job.RequestName, job.AudioPath,
		string(optionsJSON), job.CreatedAt.UnixMilli(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get retrieves a job record by id. Returns ErrNotFound for unknown ids.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, progress, request_name, audio_path, options,
		       created_at, started_at, completed_at, result, error
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// Update applies mutate to the job record inside a transaction so the
// read-modify-write is atomic per record. Returns the record as persisted.
func (s *Store) Update(ctx context.Context, id string, mutate func(*Job)) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, status, progress, request_name, audio_path, options,
		       created_at, started_at, completed_at, result, error
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	mutate(job)

	optionsJSON, err := json.Marshal(job.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	var resultJSON sql.NullString
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, request_name = ?, audio_path = ?,
		       options = ?, started_at = ?, completed_at = ?, result = ?, error = ?
		WHERE id = ?`,
		job.Status, job.Progress, job.RequestName, job.AudioPath,
		string(optionsJSON), nullMilli(job.StartedAt), nullMilli(job.CompletedAt),
		resultJSON, job.Error, job.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Store) List(ctx context.Context, status string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, status, progress, request_name, audio_path, options,
		       created_at, started_at, completed_at, result, error
		FROM jobs`
	args := []any{}
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var list []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, job)
	}
	return list, rows.Err()
}

// DeleteOlderThan removes terminal jobs whose completion is older than age.
// Retention policy only; in-flight jobs are never touched.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := time.Now().Add(-age).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		StatusCompleted, StatusFailed, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return res.RowsAffected()
}

// Ping verifies the store is reachable with a round trip.
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job                  Job
		optionsJSON          string
		createdAt            int64
		startedAt, completed sql.NullInt64
		resultJSON           sql.NullString
	)

	err := row.Scan(&job.ID, &job.Status, &job.Progress, &job.RequestName,
		&job.AudioPath, &optionsJSON, &createdAt, &startedAt, &completed,
		&resultJSON, &job.Error)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal([]byte(optionsJSON), &job.Options); err != nil {
		return nil, fmt.Errorf("parse options: %w", err)
	}
	job.CreatedAt = time.UnixMilli(createdAt)
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64)
		job.StartedAt = &t
	}
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		job.CompletedAt = &t
	}
	if resultJSON.Valid {
		var result types.TranscriptionResult
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("parse result: %w", err)
		}
		job.Result = &result
	}

	return &job, nil
}

func nullMilli(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}
