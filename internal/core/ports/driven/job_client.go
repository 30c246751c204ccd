package driven

import (
	"context"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// JobClient queues konnector executions.
type JobClient interface {
	// QueueKonnector creates a queued konnector job and schedules its execution.
	QueueKonnector(ctx context.Context, req *domain.JobRequest) (*domain.Job, error)

	// LaunchTrigger queues an immediate execution of a trigger.
	LaunchTrigger(ctx context.Context, trigger *domain.Trigger) (*domain.Job, error)
}

// KonnectorInstaller requests konnector installation.
type KonnectorInstaller interface {
	// Install registers the konnector and starts installing it from source.
	// The returned konnector is usually in the installing state.
	Install(ctx context.Context, slug, source string) (*domain.Konnector, error)
}

// ManifestSource retrieves konnector manifests.
type ManifestSource interface {
	// Fetch returns the manifest published at source.
	Fetch(ctx context.Context, source string) (*domain.Manifest, error)
}

// KonnectorExecutor runs a konnector for an account.
type KonnectorExecutor interface {
	// Execute runs the konnector to completion. A non-nil error marks the job errored.
	Execute(ctx context.Context, job *domain.Job) error
}
