// Package postgres implements the persistence interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/phrazzld/taskrelay/internal/domain"
	"github.com/phrazzld/taskrelay/internal/store"
)

// ResultStore archives task outcomes in the task_results table. It is the
// durable record of final state; the queues only hold records in flight.
type ResultStore struct {
	db store.DBTX
}

// NewResultStore creates a ResultStore on the given database handle.
func NewResultStore(db store.DBTX) *ResultStore {
	return &ResultStore{db: db}
}

// SaveResult persists one delivery outcome. A task retried several times
// produces several rows; the latest row is the task's final state.
func (s *ResultStore) SaveResult(ctx context.Context, r *domain.Result) error {
	query := `
		INSERT INTO task_results (task_id, status, output, error_message, worker_id, attempt, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		r.TaskID,
		r.Status,
		r.Output,
		r.Error,
		r.WorkerID,
		r.Attempt,
		r.StartedAt,
		r.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result for task %s: %w", r.TaskID, err)
	}
	return nil
}

// GetResult returns the most recent outcome recorded for a task, or
// store.ErrNotFound when the task has none.
func (s *ResultStore) GetResult(ctx context.Context, taskID uuid.UUID) (*domain.Result, error) {
	query := `
		SELECT task_id, status, output, error_message, worker_id, attempt, started_at, finished_at
		FROM task_results
		WHERE task_id = $1
		ORDER BY finished_at DESC
		LIMIT 1
	`
	r, err := scanResult(s.db.QueryRowContext(ctx, query, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", taskID, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result for task %s: %w", taskID, err)
	}
	return r, nil
}

// RecentResults returns up to limit outcomes, newest first.
func (s *ResultStore) RecentResults(ctx context.Context, limit int) ([]*domain.Result, error) {
	query := `
		SELECT task_id, status, output, error_message, worker_id, attempt, started_at, finished_at
		FROM task_results
		ORDER BY finished_at DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent results: %w", err)
	}
	defer rows.Close()

	var results []*domain.Result
	for rows.Next() {
		r, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}
	return results, nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*domain.Result, error) {
	var r domain.Result
	var output, errMsg sql.NullString
	if err := row.Scan(
		&r.TaskID,
		&r.Status,
		&output,
		&errMsg,
		&r.WorkerID,
		&r.Attempt,
		&r.StartedAt,
		&r.FinishedAt,
	); err != nil {
		return nil, err
	}
	r.Output = output.String
	r.Error = errMsg.String
	return &r, nil
}
