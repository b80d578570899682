// Package queue implements the durable pending queue and the worker loop
// that drains it. The queue holds only job ids; job state lives in the
// record store.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrEmpty is returned by Pop when no entry became available within the wait.
var ErrEmpty = errors.New("queue is empty")

// PendingQueue is an ordered, durable list of job ids awaiting processing,
// backed by the same SQLite database as the record store. Pop removes the
// oldest entry atomically, so concurrent consumers never receive the same id.
type PendingQueue struct {
	db           *sql.DB
	pollInterval time.Duration
}

// NewPendingQueue creates the pending table if needed and returns a handle.
// pollInterval bounds how often a blocked Pop re-checks for entries.
func NewPendingQueue(db *sql.DB, pollInterval time.Duration) (*PendingQueue, error) {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS pending_jobs (
			seq        INTEGER PRIMARY KEY AUTOINCREMENT,
			job_id     TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("create pending_jobs table: %w", err)
	}

	return &PendingQueue{db: db, pollInterval: pollInterval}, nil
}

// Push appends a job id to the queue.
func (q *PendingQueue) Push(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO pending_jobs (job_id, created_at) VALUES (?, ?)`,
		id, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", id, err)
	}
	return nil
}

// Pop removes and returns the oldest pending id, blocking up to wait.
// Returns ErrEmpty on timeout and the context error on cancellation.
func (q *PendingQueue) Pop(ctx context.Context, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	for {
		id, err := q.popOne(ctx)
		if err != nil {
			return "", err
		}
		if id != "" {
			return id, nil
		}
		if time.Now().After(deadline) {
			return "", ErrEmpty
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(q.pollInterval):
		}
	}
}

// popOne atomically deletes and returns the oldest entry, or "" when none.
func (q *PendingQueue) popOne(ctx context.Context) (string, error) {
	row := q.db.QueryRowContext(ctx, `
		DELETE FROM pending_jobs
		WHERE seq = (SELECT seq FROM pending_jobs ORDER BY seq ASC LIMIT 1)
		RETURNING job_id`,
	)

	var id string
	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue: %w", err)
	}
	return id, nil
}

// Len returns the number of ids currently pending.
func (q *PendingQueue) Len(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_jobs`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}
