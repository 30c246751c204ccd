package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
	"github.com/custodia-labs/collect-core/internal/core/services"
)

// TaskHandler executes one dequeued task.
type TaskHandler interface {
	HandleTask(ctx context.Context, task *domain.Task) error
}

var _ TaskHandler = (*services.JobRunner)(nil)

// Worker pulls konnector install and run tasks off the queue and hands them
// to a TaskHandler, one goroutine per slot.
type Worker struct {
	taskQueue driven.TaskQueue
	handler   TaskHandler
	scheduler *services.Scheduler
	logger    *slog.Logger
	clock     clockwork.Clock

	concurrency    int
	dequeueTimeout int // seconds
	errorBackoff   time.Duration

	processed atomic.Int64
	failed    atomic.Int64

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	doneCh  chan struct{}
}

// WorkerConfig holds configuration for the worker.
type WorkerConfig struct {
	TaskQueue driven.TaskQueue
	Handler   TaskHandler

	// Scheduler is optional; it shares the worker's lifetime
	Scheduler *services.Scheduler

	Logger *slog.Logger
	Clock  clockwork.Clock

	Concurrency    int
	DequeueTimeout int // seconds

	// ErrorBackoff is the pause after a failed dequeue (default 1s)
	ErrorBackoff time.Duration
}

// NewWorker creates a new task worker.
func NewWorker(cfg WorkerConfig) *Worker {
	w := &Worker{
		taskQueue:      cfg.TaskQueue,
		handler:        cfg.Handler,
		scheduler:      cfg.Scheduler,
		logger:         cfg.Logger,
		clock:          cfg.Clock,
		concurrency:    max(cfg.Concurrency, 1),
		dequeueTimeout: cfg.DequeueTimeout,
		errorBackoff:   cfg.ErrorBackoff,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.clock == nil {
		w.clock = clockwork.NewRealClock()
	}
	if w.dequeueTimeout <= 0 {
		w.dequeueTimeout = 5
	}
	if w.errorBackoff <= 0 {
		w.errorBackoff = time.Second
	}
	return w
}

// Start launches the slots and returns immediately. The worker runs until
// Stop is called or ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.doneCh = make(chan struct{})

	w.logger.Info("worker starting",
		"concurrency", w.concurrency,
		"dequeue_timeout", w.dequeueTimeout,
	)

	if w.scheduler != nil {
		if err := w.scheduler.Start(runCtx); err != nil {
			w.logger.Error("failed to start scheduler", "error", err)
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	for slot := range w.concurrency {
		g.Go(func() error {
			w.processLoop(gctx, w.logger.With("worker_id", slot))
			return nil
		})
	}

	done := w.doneCh
	go func() {
		_ = g.Wait()
		close(done)
	}()
	return nil
}

// Stop cancels the slots and waits for in-flight tasks.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.cancel()
	done := w.doneCh
	w.mu.Unlock()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}
	<-done

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("worker stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
}

// Wait blocks until every slot has returned.
func (w *Worker) Wait() {
	w.mu.RLock()
	done := w.doneCh
	w.mu.RUnlock()
	if done != nil {
		<-done
	}
}

func (w *Worker) processLoop(ctx context.Context, logger *slog.Logger) {
	logger.Debug("worker slot started")
	defer logger.Debug("worker slot exited")

	for ctx.Err() == nil {
		task, err := w.taskQueue.DequeueWithTimeout(ctx, w.dequeueTimeout)
		switch {
		case err != nil && ctx.Err() != nil:
			return
		case errors.Is(err, context.DeadlineExceeded):
			continue
		case err != nil:
			logger.Error("failed to dequeue task", "error", err)
			select {
			case <-ctx.Done():
			case <-w.clock.After(w.errorBackoff):
			}
			continue
		case task == nil:
			continue
		}

		w.processTask(ctx, task, logger)
	}
}

// processTask runs one task and settles it on the queue. Handler errors and
// panics nack the task; the queue decides whether it is retried.
func (w *Worker) processTask(ctx context.Context, task *domain.Task, logger *slog.Logger) {
	logger = logger.With("task_id", task.ID, "task_type", task.Type, "attempt", task.Attempts)
	logger.Info("processing task")

	start := w.clock.Now()
	err := w.handle(ctx, task)
	elapsed := w.clock.Since(start)

	if err != nil {
		w.failed.Add(1)
		logger.Error("task failed", "duration", elapsed, "error", err)
		if nackErr := w.taskQueue.Nack(ctx, task.ID, err.Error()); nackErr != nil {
			logger.Error("failed to nack task", "nack_error", nackErr)
		}
		return
	}

	w.processed.Add(1)
	logger.Info("task completed", "duration", elapsed)
	if ackErr := w.taskQueue.Ack(ctx, task.ID); ackErr != nil {
		logger.Error("failed to ack task", "ack_error", ackErr)
	}
}

func (w *Worker) handle(ctx context.Context, task *domain.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	return w.handler.HandleTask(ctx, task)
}

// Health reports whether the worker runs and its queue is reachable.
type Health struct {
	Running     bool   `json:"running"`
	QueueHealth bool   `json:"queue_health"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
	Error       string `json:"error,omitempty"`
}

// Health returns the health status of the worker.
func (w *Worker) Health(ctx context.Context) Health {
	w.mu.RLock()
	running := w.running
	w.mu.RUnlock()

	health := Health{
		Running:   running,
		Processed: w.processed.Load(),
		Failed:    w.failed.Load(),
	}
	if err := w.taskQueue.Ping(ctx); err != nil {
		health.Error = err.Error()
	} else {
		health.QueueHealth = true
	}
	return health
}
