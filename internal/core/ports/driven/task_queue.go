package driven

import (
	"context"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// TaskQueue carries install and run tasks from the API to workers.
// Implementations use Redis streams (preferred) or Postgres (fallback).
type TaskQueue interface {
	// Enqueue adds a task. Tasks scheduled in the future are held until due.
	Enqueue(ctx context.Context, task *domain.Task) error

	// DequeueWithTimeout retrieves the next available task, waiting up to timeout seconds.
	// Returns nil, nil if timeout is reached with no tasks available.
	DequeueWithTimeout(ctx context.Context, timeout int) (*domain.Task, error)

	// Ack marks a task completed.
	Ack(ctx context.Context, taskID string) error

	// Nack marks a task failed; it is retried with backoff while attempts remain.
	Nack(ctx context.Context, taskID string, reason string) error

	// GetTask retrieves a task by ID. Returns nil, nil if unknown.
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)

	// Stats returns queue statistics.
	Stats(ctx context.Context) (*QueueStats, error)

	// Ping checks if the queue backend is healthy.
	Ping(ctx context.Context) error

	// Close cleans up resources.
	Close() error
}

// QueueStats contains queue statistics
type QueueStats struct {
	PendingCount    int64 `json:"pending_count"`
	ProcessingCount int64 `json:"processing_count"`
	CompletedCount  int64 `json:"completed_count"`
	FailedCount     int64 `json:"failed_count"`
}
