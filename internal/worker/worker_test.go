package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven/mocks"
	"github.com/custodia-labs/collect-core/internal/core/ports/driving"
	"github.com/custodia-labs/collect-core/internal/core/services"
)

// mockHandler records handled tasks and fails the ones listed in failing.
type mockHandler struct {
	mu      sync.Mutex
	handled []string
	failing map[string]error
}

func (m *mockHandler) HandleTask(ctx context.Context, task *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handled = append(m.handled, task.ID)
	return m.failing[task.ID]
}

func (m *mockHandler) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handled)
}

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(WorkerConfig{TaskQueue: mocks.NewMockTaskQueue()})

	if w.concurrency != 1 {
		t.Errorf("expected default concurrency 1, got %d", w.concurrency)
	}
	if w.dequeueTimeout != 5 {
		t.Errorf("expected default dequeue timeout 5, got %d", w.dequeueTimeout)
	}
	if w.logger == nil {
		t.Error("expected default logger")
	}
}

func TestWorker_StartStop(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	w := NewWorker(WorkerConfig{
		TaskQueue:      queue,
		Handler:        &mockHandler{},
		Concurrency:    2,
		DequeueTimeout: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	if !w.Health(ctx).Running {
		t.Error("expected worker to be running")
	}
	if err := w.Start(ctx); err != nil {
		t.Errorf("second start should be a no-op: %v", err)
	}

	w.Stop()
	if w.Health(ctx).Running {
		t.Error("expected worker to be stopped")
	}
	w.Stop()
}

func TestWorker_Health_QueueError(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	queue.PingFn = func() error { return errors.New("connection refused") }
	w := NewWorker(WorkerConfig{TaskQueue: queue})

	health := w.Health(context.Background())
	if health.QueueHealth {
		t.Error("expected queue to be unhealthy")
	}
	if health.Error != "connection refused" {
		t.Errorf("unexpected error %q", health.Error)
	}
}

func TestWorker_AcksAndNacks(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	ok := domain.NewRunKonnectorTask("job-1", 0)
	failing := domain.NewRunKonnectorTask("job-2", 0)
	handler := &mockHandler{failing: map[string]error{failing.ID: errors.New("boom")}}

	ctx := context.Background()
	_ = queue.Enqueue(ctx, ok)
	_ = queue.Enqueue(ctx, failing)

	w := NewWorker(WorkerConfig{TaskQueue: queue, Handler: handler, Logger: slog.Default()})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	if !queue.WaitForAcks(2, time.Second) {
		t.Fatal("tasks were not processed")
	}
	if got := queue.Acked(); len(got) != 1 || got[0] != ok.ID {
		t.Errorf("expected %s acked, got %v", ok.ID, got)
	}
	if got := queue.Nacked(); len(got) != 1 || got[0] != failing.ID {
		t.Errorf("expected %s nacked, got %v", failing.ID, got)
	}

	// run tasks do not retry
	task, _ := queue.GetTask(ctx, failing.ID)
	if task.Status != domain.TaskStatusFailed {
		t.Errorf("expected failed status, got %s", task.Status)
	}
}

func TestWorker_ContextCancellation(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	handler := &mockHandler{}
	w := NewWorker(WorkerConfig{TaskQueue: queue, Handler: handler})

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
	if handler.count() != 0 {
		t.Errorf("expected no task handled, got %d", handler.count())
	}
}

// panickyHandler panics on every task.
type panickyHandler struct{}

func (panickyHandler) HandleTask(ctx context.Context, task *domain.Task) error {
	panic("nil konnector")
}

func TestWorker_PanicIsNacked(t *testing.T) {
	queue := mocks.NewMockTaskQueue()
	task := domain.NewRunKonnectorTask("job-1", 0)
	_ = queue.Enqueue(context.Background(), task)

	w := NewWorker(WorkerConfig{TaskQueue: queue, Handler: panickyHandler{}})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	if !queue.WaitForAcks(1, time.Second) {
		t.Fatal("panicking task was not settled")
	}
	if got := queue.Nacked(); len(got) != 1 || got[0] != task.ID {
		t.Errorf("expected %s nacked, got %v", task.ID, got)
	}
	if h := w.Health(context.Background()); h.Failed != 1 || h.Processed != 0 {
		t.Errorf("unexpected counters %+v", h)
	}
}

func TestWorker_DequeueErrorBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	queue := mocks.NewMockTaskQueue()
	var calls atomic.Int32
	queue.DequeueFn = func() (*domain.Task, error) {
		calls.Add(1)
		return nil, errors.New("redis: connection reset")
	}

	w := NewWorker(WorkerConfig{TaskQueue: queue, Handler: &mockHandler{}, Clock: clock, ErrorBackoff: time.Minute})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	clock.BlockUntil(1)
	if got := calls.Load(); got != 1 {
		t.Fatalf("expected one dequeue before the backoff, got %d", got)
	}

	clock.Advance(time.Minute)
	deadline := time.Now().Add(time.Second)
	for calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := calls.Load(); got < 2 {
		t.Errorf("expected a retry after the backoff, got %d calls", got)
	}
}

// TestWorker_ConnectAccountEndToEnd runs a full connection against the
// self-hosted backend, with the worker installing and running the konnector.
func TestWorker_ConnectAccountEndToEnd(t *testing.T) {
	stack := mocks.NewMockStack()
	queue := mocks.NewMockTaskQueue()
	executor := &mocks.MockExecutor{}
	source := "git://example.com/fake-bank.git"
	stack.Manifests[source] = &domain.Manifest{Slug: "fake-bank", Name: "Fake Bank", Version: "1.0.0"}

	backend := services.NewBackend(services.BackendConfig{Documents: stack.Docs, TaskQueue: queue})
	gw := services.NewGateway(services.GatewayConfig{
		Documents:    stack.Docs,
		Jobs:         backend,
		Installer:    backend,
		Files:        backend,
		Permissions:  backend,
		Manifests:    stack,
		PollInterval: 5 * time.Millisecond,
	})
	store := services.NewCollectStore(services.CollectConfig{
		Gateway: gw,
		Catalogue: mocks.NewMockCatalogue([]string{"banking"}, &domain.Konnector{
			Slug:     "fake-bank",
			Name:     "Fake Bank",
			Category: "banking",
			Source:   source,
		}),
		InstallTimeout: 5 * time.Second,
		JobTimeout:     5 * time.Second,
	})
	runner := services.NewJobRunner(services.JobRunnerConfig{
		Documents: stack.Docs,
		Manifests: stack,
		Executor:  executor,
	})

	ctx := context.Background()
	w := NewWorker(WorkerConfig{TaskQueue: queue, Handler: runner, Concurrency: 2})
	if err := w.Start(ctx); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	defer w.Stop()

	account := &domain.Account{Auth: map[string]string{domain.AuthLogin: "bob", domain.AuthPassword: "secret"}}
	conn, err := store.ConnectAccount(ctx, store.KonnectorBySlug("fake-bank"), account, "/Administrative/Fake Bank", driving.WithoutEnqueue())
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if conn.Job == nil || conn.Job.State != domain.JobDone {
		t.Fatalf("expected a done job, got %+v", conn.Job)
	}
	if conn.Permission.SaveFolderID() != conn.Folder.ID {
		t.Errorf("expected permission on %s, got %s", conn.Folder.ID, conn.Permission.SaveFolderID())
	}
	if status := store.ConnectionStatus("fake-bank"); status != domain.StatusConnected {
		t.Errorf("expected connected, got %q", status)
	}
	if len(executor.Executed()) != 1 {
		t.Errorf("expected one execution, got %d", len(executor.Executed()))
	}
	if k := store.InstalledKonnector("fake-bank"); k == nil || k.Version != "1.0.0" {
		t.Errorf("expected installed konnector at 1.0.0, got %+v", k)
	}
}
