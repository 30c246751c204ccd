package driving

import (
	"context"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/connections"
	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// ConnectOptions control how long ConnectAccount and RunAccount block.
type ConnectOptions struct {
	// DisableEnqueue makes the call wait for the whole workflow
	DisableEnqueue bool

	// EnqueueAfter bounds the wait. Zero or negative returns immediately
	// unless the workflow already finished.
	EnqueueAfter time.Duration
}

// ConnectOption configures a single call.
type ConnectOption func(*ConnectOptions)

// WithoutEnqueue waits for the workflow to settle.
func WithoutEnqueue() ConnectOption {
	return func(o *ConnectOptions) { o.DisableEnqueue = true }
}

// EnqueueAfter overrides the enqueue delay.
func EnqueueAfter(d time.Duration) ConnectOption {
	return func(o *ConnectOptions) { o.EnqueueAfter = d }
}

// CollectService manages konnector connections for the UI.
type CollectService interface {
	// Workflows
	ConnectAccount(ctx context.Context, k *domain.Konnector, account *domain.Account, folderPath string, opts ...ConnectOption) (*domain.Connection, error)
	RunAccount(ctx context.Context, k *domain.Konnector, account *domain.Account, opts ...ConnectOption) (job *domain.Job, enqueued bool, err error)

	// Catalogue
	Find() []*domain.Konnector
	FindConnected() []*domain.Konnector
	FindByCategory(category string) []*domain.Konnector
	FindByDataType(dataType string) []*domain.Konnector
	Categories() []string
	KonnectorBySlug(slug string) *domain.Konnector
	FetchKonnectorInfos(ctx context.Context, slug string) (*domain.Konnector, error)

	// Accounts
	UpdateAccount(ctx context.Context, k *domain.Konnector, account *domain.Account, values domain.AccountValues) (*domain.Account, error)
	UpdateFolderPath(ctx context.Context, k *domain.Konnector, account *domain.Account, values domain.AccountValues) (*domain.Account, error)
	DeleteAccounts(ctx context.Context, k *domain.Konnector) error

	// Connections
	DeleteConnection(ctx context.Context, trigger *domain.Trigger) error
	LaunchTriggerAndQueue(ctx context.Context, trigger *domain.Trigger, delay time.Duration) (*domain.Job, error)
	ListConnections(slug string) []connections.Connection
	Queue() []connections.QueueItem
	PurgeQueue()
	ConfiguredKonnectors() []string

	// Status
	ConnectionStatus(slug string) domain.ConnectionStatus
	ConnectionError(slug string) string
	IsConnectionStatusRunning(slug string) bool
	KonnectorHasAccount(slug string) bool
	KonnectorResult(slug string) *domain.KonnectorResult
}
