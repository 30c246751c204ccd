package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var (
	_ driven.JobClient          = (*Backend)(nil)
	_ driven.KonnectorInstaller = (*Backend)(nil)
	_ driven.FileService        = (*Backend)(nil)
	_ driven.PermissionService  = (*Backend)(nil)
)

// maxConflictRetries bounds read-modify-write loops on revision conflicts.
const maxConflictRetries = 3

// BackendConfig holds the dependencies of the self-hosted backend.
type BackendConfig struct {
	Documents driven.DocumentClient
	TaskQueue driven.TaskQueue
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

// Backend implements the job, installation, file and permission APIs on top
// of the document store. Work that takes time is handed to workers through
// the task queue.
type Backend struct {
	docs   driven.DocumentClient
	queue  driven.TaskQueue
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewBackend creates a backend.
func NewBackend(cfg BackendConfig) *Backend {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Backend{
		docs:   cfg.Documents,
		queue:  cfg.TaskQueue,
		clock:  clock,
		logger: logger,
	}
}

// mutateDocument reads a document, applies mutate and writes it back,
// retrying when another writer got there first.
func mutateDocument[T any](ctx context.Context, docs driven.DocumentClient, doctype, id string, mutate func(*T) error) (*T, error) {
	var lastErr error
	for range maxConflictRetries {
		doc, err := docs.Get(ctx, doctype, id)
		if err != nil {
			return nil, err
		}
		v, err := domain.DecodeAs[T](doc)
		if err != nil {
			return nil, err
		}
		if err := mutate(v); err != nil {
			return nil, err
		}
		updated, err := docs.Update(ctx, doctype, id, doc.Rev, v)
		if errors.Is(err, domain.ErrConflict) {
			lastErr = err
			continue
		}
		if err != nil {
			return nil, err
		}
		return domain.DecodeAs[T](updated)
	}
	return nil, lastErr
}

// Jobs

// QueueKonnector stores a queued job and schedules its execution.
func (b *Backend) QueueKonnector(ctx context.Context, req *domain.JobRequest) (*domain.Job, error) {
	if req == nil || req.Konnector == "" {
		return nil, domain.MissingParam("QueueKonnector", "konnector")
	}
	if req.Account == "" {
		return nil, domain.MissingParam("QueueKonnector", "account")
	}

	job := &domain.Job{
		Worker:    domain.WorkerKonnector,
		State:     domain.JobQueued,
		TriggerID: req.TriggerID,
		Message: &domain.TriggerMessage{
			Konnector:    req.Konnector,
			Account:      req.Account,
			FolderToSave: req.FolderToSave,
		},
		Options: &domain.JobOptions{
			Priority:     req.Priority,
			Timeout:      req.Timeout,
			MaxExecCount: req.MaxExecCount,
		},
		QueuedAt: b.clock.Now(),
	}
	doc, err := b.docs.Create(ctx, domain.DoctypeJobs, job)
	if err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	created, err := domain.DecodeAs[domain.Job](doc)
	if err != nil {
		return nil, err
	}

	task := domain.NewRunKonnectorTask(created.ID, req.Priority)
	if err := b.queue.Enqueue(ctx, task); err != nil {
		// the job would otherwise stay queued forever
		if _, ferr := mutateDocument(ctx, b.docs, domain.DoctypeJobs, created.ID, func(j *domain.Job) error {
			j.Finish(b.clock.Now(), "enqueue failed")
			return nil
		}); ferr != nil {
			b.logger.Warn("failed to mark job errored", "job_id", created.ID, "error", ferr)
		}
		return nil, fmt.Errorf("enqueue job %s: %w", created.ID, err)
	}

	b.logger.Info("konnector job queued",
		"job_id", created.ID,
		"task_id", task.ID,
		"slug", req.Konnector,
		"trigger_id", req.TriggerID,
	)
	return created, nil
}

// LaunchTrigger queues an immediate execution of trigger.
func (b *Backend) LaunchTrigger(ctx context.Context, trigger *domain.Trigger) (*domain.Job, error) {
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	return b.QueueKonnector(ctx, &domain.JobRequest{
		Konnector:    trigger.Message.Konnector,
		Account:      trigger.Message.Account,
		FolderToSave: trigger.Message.FolderToSave,
		TriggerID:    trigger.ID,
		Priority:     konnectorJobPriority,
		MaxExecCount: konnectorJobMaxExecCount,
	})
}

// Installation

// KonnectorDocID returns the document id of an installed konnector.
func KonnectorDocID(slug string) string {
	return domain.DoctypeKonnectors + "/" + slug
}

// Install registers the konnector in the installing state and schedules the
// installation. Konnectors already installed are returned unchanged; errored
// ones are installed again.
func (b *Backend) Install(ctx context.Context, slug, source string) (*domain.Konnector, error) {
	if slug == "" {
		return nil, domain.MissingParam("Install", "slug")
	}
	if source == "" {
		return nil, domain.MissingParam("Install", "source")
	}

	id := KonnectorDocID(slug)
	var k *domain.Konnector
	doc, err := b.docs.Get(ctx, domain.DoctypeKonnectors, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		fresh := &domain.Konnector{Slug: slug, Source: source, State: domain.KonnectorInstalling}
		fresh.ID = id
		doc, err = b.docs.Create(ctx, domain.DoctypeKonnectors, fresh)
		if err != nil {
			return nil, fmt.Errorf("create konnector %s: %w", slug, err)
		}
		if k, err = domain.DecodeAs[domain.Konnector](doc); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("get konnector %s: %w", slug, err)
	default:
		existing, err := domain.DecodeAs[domain.Konnector](doc)
		if err != nil {
			return nil, err
		}
		if existing.State != domain.KonnectorErrored {
			return existing, nil
		}
		k, err = mutateDocument(ctx, b.docs, domain.DoctypeKonnectors, id, func(k *domain.Konnector) error {
			k.Source = source
			k.State = domain.KonnectorInstalling
			k.Error = ""
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reinstall konnector %s: %w", slug, err)
		}
	}

	task := domain.NewInstallKonnectorTask(id, slug, source)
	if err := b.queue.Enqueue(ctx, task); err != nil {
		return nil, fmt.Errorf("enqueue install %s: %w", slug, err)
	}
	b.logger.Info("konnector install queued", "slug", slug, "task_id", task.ID)
	return k, nil
}

// Files

// CreateDirectoryByPath creates the directory and its missing parents.
// Existing directories are reused.
func (b *Backend) CreateDirectoryByPath(ctx context.Context, p string) (*domain.Folder, error) {
	clean := path.Clean("/" + p)
	if clean == "/" {
		return nil, fmt.Errorf("%w: cannot create the root directory", domain.ErrInvalidInput)
	}

	var parent *domain.Folder
	current := ""
	for _, name := range strings.Split(strings.TrimPrefix(clean, "/"), "/") {
		current += "/" + name
		docs, err := b.docs.Query(ctx, domain.DoctypeFiles, driven.Selector{"path": current})
		if err != nil {
			return nil, err
		}
		if len(docs) > 0 {
			if parent, err = domain.DecodeAs[domain.Folder](docs[0]); err != nil {
				return nil, err
			}
			continue
		}
		folder := &domain.Folder{Name: name, Path: current}
		if parent != nil {
			folder.DirID = parent.ID
		}
		doc, err := b.docs.Create(ctx, domain.DoctypeFiles, folder)
		if err != nil {
			return nil, err
		}
		if parent, err = domain.DecodeAs[domain.Folder](doc); err != nil {
			return nil, err
		}
	}
	return parent, nil
}

// UpdateAttributesByID renames or moves a folder.
func (b *Backend) UpdateAttributesByID(ctx context.Context, id string, attrs driven.FolderAttributes) (*domain.Folder, error) {
	return mutateDocument(ctx, b.docs, domain.DoctypeFiles, id, func(f *domain.Folder) error {
		if attrs.Name != "" {
			f.Name = attrs.Name
		}
		if attrs.Path != "" {
			f.Path = path.Clean("/" + attrs.Path)
		}
		return nil
	})
}

// AddReferencedBy records that ref points to the folder.
func (b *Backend) AddReferencedBy(ctx context.Context, folderID string, ref domain.Reference) error {
	_, err := mutateDocument(ctx, b.docs, domain.DoctypeFiles, folderID, func(f *domain.Folder) error {
		if !slices.Contains(f.ReferencedBy, ref) {
			f.ReferencedBy = append(f.ReferencedBy, ref)
		}
		return nil
	})
	return err
}

// RemoveReferencedBy drops ref from the folder.
func (b *Backend) RemoveReferencedBy(ctx context.Context, folderID string, ref domain.Reference) error {
	_, err := mutateDocument(ctx, b.docs, domain.DoctypeFiles, folderID, func(f *domain.Folder) error {
		f.ReferencedBy = slices.DeleteFunc(f.ReferencedBy, func(r domain.Reference) bool { return r == ref })
		return nil
	})
	return err
}

// Permissions

// PermissionDocID returns the id of a konnector permission set.
func PermissionDocID(slug string) string {
	return "konnector-" + slug
}

// PatchSaveFolder grants the konnector write access to folderID, or clears
// the grant when folderID is empty.
func (b *Backend) PatchSaveFolder(ctx context.Context, slug, folderID string) (*domain.Permission, error) {
	if slug == "" {
		return nil, domain.MissingParam("PatchSaveFolder", "slug")
	}
	patch := func(p *domain.Permission) error {
		if p.Permissions == nil {
			p.Permissions = map[string]domain.PermissionRule{}
		}
		if folderID == "" {
			delete(p.Permissions, domain.PermissionSaveFolder)
			return nil
		}
		p.Permissions[domain.PermissionSaveFolder] = domain.PermissionRule{
			Type:   domain.DoctypeFiles,
			Values: []string{folderID},
			Verbs:  []string{"GET", "PATCH", "POST"},
		}
		return nil
	}

	id := PermissionDocID(slug)
	perm, err := mutateDocument(ctx, b.docs, domain.DoctypePermissions, id, patch)
	if !errors.Is(err, domain.ErrNotFound) {
		return perm, err
	}

	fresh := &domain.Permission{SourceID: KonnectorDocID(slug)}
	fresh.ID = id
	_ = patch(fresh)
	doc, err := b.docs.Create(ctx, domain.DoctypePermissions, fresh)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAs[domain.Permission](doc)
}
