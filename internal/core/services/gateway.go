package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/poll"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

// Job queue options used for konnector runs.
const (
	konnectorJobPriority     = 10
	konnectorJobMaxExecCount = 1
)

// GatewayConfig holds the remote clients used by the gateway.
type GatewayConfig struct {
	Documents   driven.DocumentClient
	Jobs        driven.JobClient
	Installer   driven.KonnectorInstaller
	Files       driven.FileService
	Permissions driven.PermissionService
	Manifests   driven.ManifestSource
	Logger      *slog.Logger

	// Clock drives readiness polling (default: real clock)
	Clock clockwork.Clock

	// PollInterval is the delay between readiness checks (default: 1s)
	PollInterval time.Duration
}

// Gateway translates connection intents into remote calls.
// It validates its inputs but holds no state.
type Gateway struct {
	docs         driven.DocumentClient
	jobs         driven.JobClient
	installer    driven.KonnectorInstaller
	files        driven.FileService
	permissions  driven.PermissionService
	manifests    driven.ManifestSource
	logger       *slog.Logger
	clock        clockwork.Clock
	pollInterval time.Duration
}

// NewGateway creates a gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = poll.DefaultInterval
	}
	return &Gateway{
		docs:         cfg.Documents,
		jobs:         cfg.Jobs,
		installer:    cfg.Installer,
		files:        cfg.Files,
		permissions:  cfg.Permissions,
		manifests:    cfg.Manifests,
		logger:       logger,
		clock:        clock,
		pollInterval: interval,
	}
}

// Accounts

// CreateAccount stores a new account for the konnector slug.
func (g *Gateway) CreateAccount(ctx context.Context, slug string, auth map[string]string, folderID string) (*domain.Account, error) {
	if slug == "" {
		return nil, domain.MissingParam("CreateAccount", "slug")
	}
	if len(auth) == 0 {
		return nil, domain.MissingParam("CreateAccount", "auth")
	}
	account := &domain.Account{AccountType: slug, Auth: auth, FolderID: folderID}
	doc, err := g.docs.Create(ctx, domain.DoctypeAccounts, account)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return domain.DecodeAs[domain.Account](doc)
}

// UpdateAccount persists updated over previous. The revision of previous is
// sent along so concurrent edits fail with a ConflictError.
func (g *Gateway) UpdateAccount(ctx context.Context, previous, updated *domain.Account) (*domain.Account, error) {
	if previous == nil || previous.ID == "" {
		return nil, domain.MissingParam("UpdateAccount", "previous._id")
	}
	if previous.Rev == "" {
		return nil, domain.MissingParam("UpdateAccount", "previous._rev")
	}
	if updated == nil {
		return nil, domain.MissingParam("UpdateAccount", "updated")
	}
	body := updated.Clone()
	body.DocMeta = domain.DocMeta{ID: previous.ID, Rev: previous.Rev}
	if body.AccountType == "" {
		body.AccountType = previous.AccountType
	}
	doc, err := g.docs.Update(ctx, domain.DoctypeAccounts, previous.ID, previous.Rev, body)
	if err != nil {
		return nil, fmt.Errorf("update account %s: %w", previous.ID, err)
	}
	return domain.DecodeAs[domain.Account](doc)
}

// DeleteAccount removes an account.
func (g *Gateway) DeleteAccount(ctx context.Context, account *domain.Account) error {
	if account == nil || account.ID == "" {
		return domain.MissingParam("DeleteAccount", "account._id")
	}
	if err := g.docs.Delete(ctx, domain.DoctypeAccounts, account.ID, account.Rev); err != nil {
		return fmt.Errorf("delete account %s: %w", account.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (g *Gateway) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	if id == "" {
		return nil, domain.MissingParam("GetAccount", "id")
	}
	doc, err := g.docs.Get(ctx, domain.DoctypeAccounts, id)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAs[domain.Account](doc)
}

// ListAccounts returns every account.
func (g *Gateway) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	docs, err := g.docs.Query(ctx, domain.DoctypeAccounts, nil)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return domain.DecodeAll[domain.Account](docs)
}

// Konnectors

// FindKonnectorBySlug returns the installed konnector, or nil if there is none.
func (g *Gateway) FindKonnectorBySlug(ctx context.Context, slug string) (*domain.Konnector, error) {
	if slug == "" {
		return nil, domain.MissingParam("FindKonnectorBySlug", "slug")
	}
	docs, err := g.docs.Query(ctx, domain.DoctypeKonnectors, driven.Selector{"slug": slug})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("find konnector %s: %w", slug, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return domain.DecodeAs[domain.Konnector](docs[0])
}

// ListInstalledKonnectors returns every installed konnector.
func (g *Gateway) ListInstalledKonnectors(ctx context.Context) ([]*domain.Konnector, error) {
	docs, err := g.docs.Query(ctx, domain.DoctypeKonnectors, nil)
	if err != nil {
		return nil, fmt.Errorf("list konnectors: %w", err)
	}
	return domain.DecodeAll[domain.Konnector](docs)
}

// InstallKonnector installs k unless a konnector with the same slug already
// exists, then waits until it is ready.
func (g *Gateway) InstallKonnector(ctx context.Context, k *domain.Konnector, timeout time.Duration) (*domain.Konnector, error) {
	if k == nil || k.Slug == "" {
		return nil, domain.MissingParam("InstallKonnector", "slug")
	}
	if k.Source == "" {
		return nil, domain.MissingParam("InstallKonnector", "source")
	}

	installed, err := g.FindKonnectorBySlug(ctx, k.Slug)
	if err != nil {
		return nil, err
	}
	if installed == nil {
		installed, err = g.installer.Install(ctx, k.Slug, k.Source)
		if err != nil {
			return nil, fmt.Errorf("install konnector %s: %w", k.Slug, err)
		}
		g.logger.Info("konnector installation requested", "slug", k.Slug, "source", k.Source)
	}
	switch installed.State {
	case domain.KonnectorReady:
		return installed, nil
	case domain.KonnectorErrored:
		return nil, fmt.Errorf("install konnector %s: %w: %s", k.Slug, domain.ErrKonnectorErrored, installed.Error)
	}

	id := installed.ID
	return poll.Until(ctx, poll.Config{
		Clock:    g.clock,
		Interval: g.pollInterval,
		Timeout:  timeout,
		Kind:     domain.TimeoutInstall,
		Subject:  k.Slug,
	}, func(ctx context.Context) (*domain.Konnector, bool, error) {
		doc, err := g.docs.Get(ctx, domain.DoctypeKonnectors, id)
		if err != nil {
			return nil, false, fmt.Errorf("check konnector %s: %w", k.Slug, err)
		}
		current, err := domain.DecodeAs[domain.Konnector](doc)
		if err != nil {
			return nil, false, err
		}
		switch current.State {
		case domain.KonnectorReady:
			return current, true, nil
		case domain.KonnectorErrored:
			return nil, false, fmt.Errorf("install konnector %s: %w: %s", k.Slug, domain.ErrKonnectorErrored, current.Error)
		}
		return nil, false, nil
	})
}

// AddAccountToKonnector returns a copy of k with account attached.
func (g *Gateway) AddAccountToKonnector(k *domain.Konnector, account *domain.Account) (*domain.Konnector, error) {
	if k == nil {
		return nil, domain.MissingParam("AddAccountToKonnector", "konnector")
	}
	if account == nil || account.ID == "" {
		return nil, domain.MissingParam("AddAccountToKonnector", "account._id")
	}
	out := k.Clone()
	if i := out.AccountIndex(account.ID); i >= 0 {
		out.Accounts[i] = account.Clone()
	} else {
		out.Accounts = append(out.Accounts, account.Clone())
	}
	return out, nil
}

// FetchManifest retrieves the manifest published at source.
// Failures are returned as *domain.ManifestFetchError.
func (g *Gateway) FetchManifest(ctx context.Context, source string) (*domain.Manifest, error) {
	if source == "" {
		return nil, domain.MissingParam("FetchManifest", "source")
	}
	m, err := g.manifests.Fetch(ctx, source)
	if err != nil {
		return nil, &domain.ManifestFetchError{Source: source, Err: err}
	}
	return m, nil
}

// ListKonnectorResults returns the latest outcome of every konnector.
func (g *Gateway) ListKonnectorResults(ctx context.Context) ([]*domain.KonnectorResult, error) {
	docs, err := g.docs.Query(ctx, domain.DoctypeKonnectorResults, nil)
	if err != nil {
		return nil, fmt.Errorf("list konnector results: %w", err)
	}
	return domain.DecodeAll[domain.KonnectorResult](docs)
}

// Folders and permissions

// CreateDirectoryByPath creates a folder and its parents.
func (g *Gateway) CreateDirectoryByPath(ctx context.Context, path string) (*domain.Folder, error) {
	if path == "" {
		return nil, domain.MissingParam("CreateDirectoryByPath", "path")
	}
	folder, err := g.files.CreateDirectoryByPath(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("create directory %s: %w", path, err)
	}
	return folder, nil
}

// UpdateFolder renames or moves a folder.
func (g *Gateway) UpdateFolder(ctx context.Context, id string, attrs driven.FolderAttributes) (*domain.Folder, error) {
	if id == "" {
		return nil, domain.MissingParam("UpdateFolder", "id")
	}
	folder, err := g.files.UpdateAttributesByID(ctx, id, attrs)
	if err != nil {
		return nil, fmt.Errorf("update folder %s: %w", id, err)
	}
	return folder, nil
}

// SetFolderPermission grants k write access to folderID. An empty folderID
// clears the permission.
func (g *Gateway) SetFolderPermission(ctx context.Context, k *domain.Konnector, folderID string) (*domain.Permission, error) {
	if k == nil || k.Slug == "" {
		return nil, domain.MissingParam("SetFolderPermission", "slug")
	}
	perm, err := g.permissions.PatchSaveFolder(ctx, k.Slug, folderID)
	if err != nil {
		return nil, fmt.Errorf("patch %s permission: %w", k.Slug, err)
	}
	return perm, nil
}

func konnectorReference(k *domain.Konnector) domain.Reference {
	return domain.Reference{Type: domain.DoctypeKonnectors, ID: k.ID}
}

// AddReferencedFolder records that folderID is referenced by k.
func (g *Gateway) AddReferencedFolder(ctx context.Context, k *domain.Konnector, folderID string) error {
	if k == nil || k.ID == "" {
		return domain.MissingParam("AddReferencedFolder", "konnector._id")
	}
	if folderID == "" {
		return domain.MissingParam("AddReferencedFolder", "folderId")
	}
	if err := g.files.AddReferencedBy(ctx, folderID, konnectorReference(k)); err != nil {
		return fmt.Errorf("reference folder %s: %w", folderID, err)
	}
	return nil
}

// UnlinkFolder removes the reference from folderID to k, then clears k's
// folder permission.
func (g *Gateway) UnlinkFolder(ctx context.Context, k *domain.Konnector, folderID string) error {
	if k == nil || k.ID == "" {
		return domain.MissingParam("UnlinkFolder", "konnector._id")
	}
	if folderID == "" {
		return domain.MissingParam("UnlinkFolder", "folderId")
	}
	if err := g.files.RemoveReferencedBy(ctx, folderID, konnectorReference(k)); err != nil {
		return fmt.Errorf("unreference folder %s: %w", folderID, err)
	}
	_, err := g.SetFolderPermission(ctx, k, "")
	return err
}

// Jobs and triggers

// RunWorker queues a konnector run and waits for it to finish.
// trigger may be nil for runs outside any schedule.
func (g *Gateway) RunWorker(ctx context.Context, k *domain.Konnector, account *domain.Account, trigger *domain.Trigger, timeout time.Duration) (*domain.Job, error) {
	if k == nil || k.Slug == "" {
		return nil, domain.MissingParam("RunWorker", "slug")
	}
	if account == nil || account.ID == "" {
		return nil, domain.MissingParam("RunWorker", "account._id")
	}

	req := &domain.JobRequest{
		Konnector:    k.Slug,
		Account:      account.ID,
		FolderToSave: account.FolderID,
		Priority:     konnectorJobPriority,
		Timeout:      timeout,
		MaxExecCount: konnectorJobMaxExecCount,
	}
	if trigger != nil {
		req.TriggerID = trigger.ID
	}
	queued, err := g.jobs.QueueKonnector(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("queue %s job: %w", k.Slug, err)
	}
	return g.waitForJob(ctx, queued, timeout)
}

func (g *Gateway) waitForJob(ctx context.Context, queued *domain.Job, timeout time.Duration) (*domain.Job, error) {
	check := func(job *domain.Job) (*domain.Job, bool, error) {
		switch job.State {
		case domain.JobDone:
			return job, true, nil
		case domain.JobErrored:
			return job, false, &domain.JobError{JobID: job.ID, Message: job.Error}
		}
		return nil, false, nil
	}
	if job, done, err := check(queued); done || err != nil {
		return job, err
	}

	return poll.Until(ctx, poll.Config{
		Clock:    g.clock,
		Interval: g.pollInterval,
		Timeout:  timeout,
		Kind:     domain.TimeoutJob,
		Subject:  queued.ID,
	}, func(ctx context.Context) (*domain.Job, bool, error) {
		doc, err := g.docs.Get(ctx, domain.DoctypeJobs, queued.ID)
		if err != nil {
			return nil, false, fmt.Errorf("check job %s: %w", queued.ID, err)
		}
		job, err := domain.DecodeAs[domain.Job](doc)
		if err != nil {
			return nil, false, err
		}
		return check(job)
	})
}

// ListUnfinishedJobs returns konnector jobs still queued or running that
// were queued after since.
func (g *Gateway) ListUnfinishedJobs(ctx context.Context, since time.Time) ([]*domain.Job, error) {
	docs, err := g.docs.Query(ctx, domain.DoctypeJobs, driven.Selector{"worker": domain.WorkerKonnector})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := domain.DecodeAll[domain.Job](docs)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(jobs, func(j *domain.Job) bool {
		return !j.State.IsActive() || j.QueuedAt.Before(since)
	}), nil
}

// CreateTrigger schedules recurring runs of k for account.
func (g *Gateway) CreateTrigger(ctx context.Context, k *domain.Konnector, account *domain.Account, folder *domain.Folder, schedule domain.Schedule) (*domain.Trigger, error) {
	if k == nil || k.Slug == "" {
		return nil, domain.MissingParam("CreateTrigger", "slug")
	}
	if account == nil || account.ID == "" {
		return nil, domain.MissingParam("CreateTrigger", "account._id")
	}
	folderID := account.FolderID
	if folder != nil {
		folderID = folder.ID
	}
	trigger := domain.NewKonnectorTrigger(k.Slug, account.ID, folderID, schedule)
	doc, err := g.docs.Create(ctx, domain.DoctypeTriggers, trigger)
	if err != nil {
		return nil, fmt.Errorf("create trigger: %w", err)
	}
	return domain.DecodeAs[domain.Trigger](doc)
}

// DeleteTrigger removes a trigger.
func (g *Gateway) DeleteTrigger(ctx context.Context, trigger *domain.Trigger) error {
	if trigger == nil || trigger.ID == "" {
		return domain.MissingParam("DeleteTrigger", "trigger._id")
	}
	if err := g.docs.Delete(ctx, domain.DoctypeTriggers, trigger.ID, trigger.Rev); err != nil {
		return fmt.Errorf("delete trigger %s: %w", trigger.ID, err)
	}
	return nil
}

// LaunchTrigger queues an immediate run of trigger.
func (g *Gateway) LaunchTrigger(ctx context.Context, trigger *domain.Trigger) (*domain.Job, error) {
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	job, err := g.jobs.LaunchTrigger(ctx, trigger)
	if err != nil {
		return nil, fmt.Errorf("launch trigger %s: %w", trigger.ID, err)
	}
	return job, nil
}

// FindTrigger returns the trigger bound to (slug, accountID), or nil.
func (g *Gateway) FindTrigger(ctx context.Context, slug, accountID string) (*domain.Trigger, error) {
	docs, err := g.docs.Query(ctx, domain.DoctypeTriggers, driven.Selector{
		"message.konnector": slug,
		"message.account":   accountID,
	})
	if err != nil {
		return nil, fmt.Errorf("find trigger: %w", err)
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return domain.DecodeAs[domain.Trigger](docs[0])
}

// GetTrigger retrieves a trigger by id.
func (g *Gateway) GetTrigger(ctx context.Context, id string) (*domain.Trigger, error) {
	if id == "" {
		return nil, domain.MissingParam("GetTrigger", "id")
	}
	doc, err := g.docs.Get(ctx, domain.DoctypeTriggers, id)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAs[domain.Trigger](doc)
}

// ListKonnectorTriggers returns every konnector trigger.
func (g *Gateway) ListKonnectorTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	docs, err := g.docs.Query(ctx, domain.DoctypeTriggers, driven.Selector{"worker": domain.WorkerKonnector})
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	return domain.DecodeAll[domain.Trigger](docs)
}

// Subscribe forwards realtime events for doctype.
func (g *Gateway) Subscribe(ctx context.Context, doctype string) (<-chan domain.DocumentEvent, error) {
	return g.docs.Subscribe(ctx, doctype)
}
