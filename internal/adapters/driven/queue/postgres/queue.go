package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.TaskQueue = (*Queue)(nil)

// pollInterval is how often an empty queue is re-checked while a dequeue waits.
const pollInterval = 500 * time.Millisecond

const taskColumns = `id, type, payload, status, priority, attempts, max_attempts,
	COALESCE(error, ''), created_at, updated_at, started_at, completed_at, scheduled_for`

// Queue implements TaskQueue on the tasks table with FOR UPDATE SKIP LOCKED.
// It is used when Redis is not configured. The table is created by the
// document store schema.
type Queue struct {
	db *sql.DB
}

// NewQueue creates a Postgres-backed task queue.
func NewQueue(db *sql.DB) *Queue {
	return &Queue{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		task                   domain.Task
		payload                []byte
		startedAt, completedAt sql.NullTime
	)
	err := row.Scan(&task.ID, &task.Type, &payload, &task.Status, &task.Priority,
		&task.Attempts, &task.MaxAttempts, &task.Error, &task.CreatedAt, &task.UpdatedAt,
		&startedAt, &completedAt, &task.ScheduledFor)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &task.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload of task %s: %w", task.ID, err)
		}
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	return &task, nil
}

// Enqueue inserts a pending task.
func (q *Queue) Enqueue(ctx context.Context, task *domain.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, type, payload, status, priority, attempts, max_attempts,
			created_at, updated_at, scheduled_for)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, task.ID, task.Type, payload, domain.TaskStatusPending, task.Priority, task.Attempts,
		task.MaxAttempts, task.CreatedAt, task.UpdatedAt, task.ScheduledFor)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// DequeueWithTimeout claims the next due task, polling until timeout
// seconds have elapsed.
func (q *Queue) DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error) {
	deadline := time.Now().Add(time.Duration(timeout) * time.Second)
	for {
		task, err := q.claim(ctx)
		if err != nil || task != nil {
			return task, err
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(min(wait, pollInterval)):
		}
	}
}

// claim moves the highest-priority due task to processing in one statement.
func (q *Queue) claim(ctx context.Context) (*domain.Task, error) {
	now := time.Now()
	row := q.db.QueryRowContext(ctx, `
		UPDATE tasks
		SET status = $1, started_at = $2, updated_at = $2, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $3 AND scheduled_for <= $2
			ORDER BY priority DESC, created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns,
		domain.TaskStatusProcessing, now, domain.TaskStatusPending)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// Ack marks a task completed.
func (q *Queue) Ack(ctx context.Context, taskID string) error {
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, completed_at = $2, updated_at = $2, error = NULL
		WHERE id = $3
	`, domain.TaskStatusCompleted, now, taskID)
	if err != nil {
		return fmt.Errorf("ack task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return nil
}

// Nack reschedules a task with exponential backoff, or fails it once its
// attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, taskID string, reason string) error {
	task, err := q.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	if task.CanRetry() {
		task.Retry(reason)
		_, err = q.db.ExecContext(ctx, `
			UPDATE tasks SET status = $1, error = $2, updated_at = $3, scheduled_for = $4
			WHERE id = $5
		`, task.Status, task.Error, task.UpdatedAt, task.ScheduledFor, taskID)
	} else {
		task.MarkFailed(reason)
		_, err = q.db.ExecContext(ctx, `
			UPDATE tasks SET status = $1, error = $2, updated_at = $3
			WHERE id = $4
		`, task.Status, task.Error, task.UpdatedAt, taskID)
	}
	if err != nil {
		return fmt.Errorf("nack task: %w", err)
	}
	return nil
}

// GetTask returns nil, nil for unknown ids.
func (q *Queue) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := scanTask(q.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, taskID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Stats counts tasks by status.
func (q *Queue) Stats(ctx context.Context) (*driven.QueueStats, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	defer rows.Close()

	stats := &driven.QueueStats{}
	for rows.Next() {
		var (
			status domain.TaskStatus
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch status {
		case domain.TaskStatusPending:
			stats.PendingCount = count
		case domain.TaskStatusProcessing:
			stats.ProcessingCount = count
		case domain.TaskStatusCompleted:
			stats.CompletedCount = count
		case domain.TaskStatusFailed:
			stats.FailedCount = count
		}
	}
	return stats, rows.Err()
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.db.PingContext(ctx)
}

// Close is a no-op; the pool belongs to the caller.
func (q *Queue) Close() error {
	return nil
}
