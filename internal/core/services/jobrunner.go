package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
	"github.com/custodia-labs/collect-core/internal/metrics"
)

// DefaultJobTimeout bounds konnector executions whose job sets no timeout.
const DefaultJobTimeout = 5 * time.Minute

// JobRunnerConfig holds the dependencies of the job runner.
type JobRunnerConfig struct {
	Documents driven.DocumentClient
	Manifests driven.ManifestSource
	Executor  driven.KonnectorExecutor
	Metrics   *metrics.Metrics
	Clock     clockwork.Clock
	Logger    *slog.Logger

	// Timeout applies to jobs without their own timeout (default: 5m)
	Timeout time.Duration
}

// JobRunner executes the tasks produced by the backend: konnector
// installations and konnector jobs.
type JobRunner struct {
	docs      driven.DocumentClient
	manifests driven.ManifestSource
	executor  driven.KonnectorExecutor
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	logger    *slog.Logger
	timeout   time.Duration
}

// NewJobRunner creates a job runner.
func NewJobRunner(cfg JobRunnerConfig) *JobRunner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return &JobRunner{
		docs:      cfg.Documents,
		manifests: cfg.Manifests,
		executor:  cfg.Executor,
		metrics:   cfg.Metrics,
		clock:     clock,
		logger:    logger,
		timeout:   timeout,
	}
}

// HandleTask runs one task. A returned error means the task itself could not
// be processed and may be retried; konnector failures are recorded in the
// job and result documents instead.
func (r *JobRunner) HandleTask(ctx context.Context, task *domain.Task) error {
	start := r.clock.Now()
	var err error
	switch task.Type {
	case domain.TaskTypeInstallKonnector:
		err = r.installKonnector(ctx, task)
	case domain.TaskTypeRunKonnector:
		err = r.runKonnector(ctx, task)
	default:
		err = fmt.Errorf("unknown task type: %s", task.Type)
	}
	r.metrics.RecordTask(string(task.Type), r.clock.Since(start), err)
	return err
}

func (r *JobRunner) installKonnector(ctx context.Context, task *domain.Task) error {
	id := task.Get("konnector_id")
	if id == "" {
		return domain.MissingParam("installKonnector", "konnector_id")
	}
	source := task.Get("source")

	manifest, fetchErr := r.manifests.Fetch(ctx, source)
	if fetchErr != nil && task.CanRetry() {
		return &domain.ManifestFetchError{Source: source, Err: fetchErr}
	}

	k, err := mutateDocument(ctx, r.docs, domain.DoctypeKonnectors, id, func(k *domain.Konnector) error {
		if fetchErr != nil {
			k.State = domain.KonnectorErrored
			k.Error = fetchErr.Error()
			return nil
		}
		manifest.ApplyTo(k)
		k.Source = source
		k.State = domain.KonnectorReady
		k.Error = ""
		return nil
	})
	if err != nil {
		return fmt.Errorf("update konnector %s: %w", id, err)
	}

	if k.State == domain.KonnectorErrored {
		r.logger.Warn("konnector installation failed", "slug", k.Slug, "error", k.Error)
		return nil
	}
	r.logger.Info("konnector installed", "slug", k.Slug, "version", k.Version)
	return nil
}

func (r *JobRunner) runKonnector(ctx context.Context, task *domain.Task) error {
	jobID := task.Get("job_id")
	if jobID == "" {
		return domain.MissingParam("runKonnector", "job_id")
	}

	doc, err := r.docs.Get(ctx, domain.DoctypeJobs, jobID)
	if err != nil {
		return fmt.Errorf("get job %s: %w", jobID, err)
	}
	queued, err := domain.DecodeAs[domain.Job](doc)
	if err != nil {
		return err
	}
	if queued.State != domain.JobQueued {
		r.logger.Info("skipping job not queued", "job_id", jobID, "state", queued.State)
		return nil
	}

	job, err := mutateDocument(ctx, r.docs, domain.DoctypeJobs, jobID, func(j *domain.Job) error {
		j.MarkRunning(r.clock.Now())
		return nil
	})
	if err != nil {
		return fmt.Errorf("start job %s: %w", jobID, err)
	}
	r.updateTrigger(ctx, job, nil)

	timeout := r.timeout
	if job.Options != nil && job.Options.Timeout > 0 {
		timeout = job.Options.Timeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	execErr := r.executor.Execute(execCtx, job)
	cancel()

	var errMsg string
	if execErr != nil {
		errMsg = execErr.Error()
		if errors.Is(execErr, context.DeadlineExceeded) {
			errMsg = domain.ErrTimeout.Error()
		}
	}

	finished, err := mutateDocument(ctx, r.docs, domain.DoctypeJobs, jobID, func(j *domain.Job) error {
		j.Finish(r.clock.Now(), errMsg)
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish job %s: %w", jobID, err)
	}

	if err := r.saveResult(ctx, finished); err != nil {
		r.logger.Warn("failed to save konnector result", "slug", finished.KonnectorSlug(), "error", err)
	}
	r.updateTrigger(ctx, finished, finished.FinishedAt)

	if execErr != nil {
		r.logger.Warn("konnector job errored", "job_id", jobID, "slug", finished.KonnectorSlug(), "error", errMsg)
	} else {
		r.logger.Info("konnector job done", "job_id", jobID, "slug", finished.KonnectorSlug())
	}
	return nil
}

// saveResult upserts the konnector result of a finished job.
func (r *JobRunner) saveResult(ctx context.Context, job *domain.Job) error {
	slug := job.KonnectorSlug()
	apply := func(res *domain.KonnectorResult) error {
		res.Account = job.Message.Account
		res.LastExecution = job.FinishedAt
		if job.State == domain.JobErrored {
			res.State = domain.ResultErrored
			res.Error = job.Error
			return nil
		}
		res.State = domain.ResultConnected
		res.Error = ""
		res.LastSuccess = job.FinishedAt
		return nil
	}

	_, err := mutateDocument(ctx, r.docs, domain.DoctypeKonnectorResults, slug, apply)
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	fresh := &domain.KonnectorResult{}
	fresh.ID = slug
	_ = apply(fresh)
	_, err = r.docs.Create(ctx, domain.DoctypeKonnectorResults, fresh)
	return err
}

// updateTrigger mirrors the job state into its trigger's current state.
func (r *JobRunner) updateTrigger(ctx context.Context, job *domain.Job, finishedAt *time.Time) {
	if job.TriggerID == "" {
		return
	}
	_, err := mutateDocument(ctx, r.docs, domain.DoctypeTriggers, job.TriggerID, func(t *domain.Trigger) error {
		if t.CurrentState == nil {
			t.CurrentState = &domain.TriggerState{}
		}
		t.CurrentState.Status = job.State
		t.CurrentState.LastError = job.Error
		t.CurrentState.LastExecution = job.StartedAt
		if finishedAt != nil && job.State == domain.JobDone {
			t.CurrentState.LastSuccess = finishedAt
		}
		return nil
	})
	if err != nil {
		r.logger.Warn("failed to update trigger state", "trigger_id", job.TriggerID, "error", err)
	}
}
