package mocks

import (
	"context"
	"fmt"
	"path"
	"slices"
	"sync"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var (
	_ driven.JobClient          = (*MockStack)(nil)
	_ driven.KonnectorInstaller = (*MockStack)(nil)
	_ driven.FileService        = (*MockStack)(nil)
	_ driven.PermissionService  = (*MockStack)(nil)
	_ driven.ManifestSource     = (*MockStack)(nil)
)

// MockStack simulates the cozy stack services on top of a MockDocumentClient.
// Installed konnectors become ready and queued jobs finish synchronously unless
// a hook says otherwise.
type MockStack struct {
	Docs *MockDocumentClient

	mu          sync.Mutex
	calls       map[string]int
	permissions map[string]*domain.Permission
	Manifests   map[string]*domain.Manifest

	// InstallState is the state of freshly installed konnectors (default ready)
	InstallState domain.KonnectorState

	// JobOutcome decides how a queued job ends. Defaults to done.
	// Returning an empty state leaves the job queued.
	JobOutcome func(job *domain.Job) (domain.JobState, string)

	// JobGate, when set, blocks QueueKonnector until it is closed
	JobGate chan struct{}

	// Optional failure hooks
	CreateDirectoryFn func(path string) error
	PatchPermissionFn func(slug, folderID string) error
	RemoveReferenceFn func(folderID string) error
	InstallFn         func(slug, source string) error
	QueueKonnectorFn  func(req *domain.JobRequest) error
	FetchManifestFn   func(source string) error
}

// NewMockStack creates a stack with an empty document store.
func NewMockStack() *MockStack {
	return &MockStack{
		Docs:        NewMockDocumentClient(),
		calls:       make(map[string]int),
		permissions: make(map[string]*domain.Permission),
		Manifests:   make(map[string]*domain.Manifest),
	}
}

// Calls returns how often a stack method was invoked.
func (s *MockStack) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

func (s *MockStack) count(method string) {
	s.mu.Lock()
	s.calls[method]++
	s.mu.Unlock()
}

// Permission returns the recorded permission of a konnector.
func (s *MockStack) Permission(slug string) *domain.Permission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permissions[slug]
}

// SeedKonnector stores an installed konnector document.
func (s *MockStack) SeedKonnector(k *domain.Konnector) *domain.Konnector {
	id := k.ID
	if id == "" {
		id = domain.DoctypeKonnectors + "/" + k.Slug
	}
	doc := s.Docs.Put(domain.DoctypeKonnectors, id, k)
	out, _ := domain.DecodeAs[domain.Konnector](doc)
	return out
}

func (s *MockStack) Install(ctx context.Context, slug, source string) (*domain.Konnector, error) {
	s.count("Install")
	if s.InstallFn != nil {
		if err := s.InstallFn(slug, source); err != nil {
			return nil, err
		}
	}
	state := s.InstallState
	if state == "" {
		state = domain.KonnectorReady
	}
	k := &domain.Konnector{Slug: slug, Source: source, State: state}
	k.ID = domain.DoctypeKonnectors + "/" + slug
	doc, err := s.Docs.Create(ctx, domain.DoctypeKonnectors, k)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAs[domain.Konnector](doc)
}

func (s *MockStack) QueueKonnector(ctx context.Context, req *domain.JobRequest) (*domain.Job, error) {
	s.count("QueueKonnector")
	if s.QueueKonnectorFn != nil {
		if err := s.QueueKonnectorFn(req); err != nil {
			return nil, err
		}
	}
	if s.JobGate != nil {
		select {
		case <-s.JobGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	job := &domain.Job{
		Worker:    domain.WorkerKonnector,
		State:     domain.JobQueued,
		TriggerID: req.TriggerID,
		Message:   &domain.TriggerMessage{Konnector: req.Konnector, Account: req.Account, FolderToSave: req.FolderToSave},
		Options:   &domain.JobOptions{Priority: req.Priority, Timeout: req.Timeout, MaxExecCount: req.MaxExecCount},
		QueuedAt:  time.Now(),
	}
	doc, err := s.Docs.Create(ctx, domain.DoctypeJobs, job)
	if err != nil {
		return nil, err
	}
	job.SetMeta(doc.ID, doc.Rev, doc.Doctype)

	state, errMsg := domain.JobDone, ""
	if s.JobOutcome != nil {
		state, errMsg = s.JobOutcome(job)
	}
	if state == "" {
		return job, nil
	}
	now := time.Now()
	job.StartedAt = &now
	job.State = state
	job.Error = errMsg
	doc, err = s.Docs.Update(ctx, domain.DoctypeJobs, job.ID, job.Rev, job)
	if err != nil {
		return nil, err
	}
	job.SetMeta(doc.ID, doc.Rev, doc.Doctype)
	return job, nil
}

func (s *MockStack) LaunchTrigger(ctx context.Context, trigger *domain.Trigger) (*domain.Job, error) {
	s.count("LaunchTrigger")
	if trigger.Message == nil {
		return nil, domain.MissingParam("LaunchTrigger", "message")
	}
	return s.QueueKonnector(ctx, &domain.JobRequest{
		Konnector:    trigger.Message.Konnector,
		Account:      trigger.Message.Account,
		FolderToSave: trigger.Message.FolderToSave,
		TriggerID:    trigger.ID,
	})
}

func (s *MockStack) CreateDirectoryByPath(ctx context.Context, p string) (*domain.Folder, error) {
	s.count("CreateDirectoryByPath")
	if s.CreateDirectoryFn != nil {
		if err := s.CreateDirectoryFn(p); err != nil {
			return nil, err
		}
	}
	folder := &domain.Folder{Name: path.Base(p), Path: p}
	doc, err := s.Docs.Create(ctx, domain.DoctypeFiles, folder)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAs[domain.Folder](doc)
}

func (s *MockStack) UpdateAttributesByID(ctx context.Context, id string, attrs driven.FolderAttributes) (*domain.Folder, error) {
	s.count("UpdateAttributesByID")
	return s.updateFolder(ctx, id, func(f *domain.Folder) {
		if attrs.Name != "" {
			f.Name = attrs.Name
		}
		if attrs.Path != "" {
			f.Path = attrs.Path
		}
	})
}

func (s *MockStack) AddReferencedBy(ctx context.Context, folderID string, ref domain.Reference) error {
	s.count("AddReferencedBy")
	_, err := s.updateFolder(ctx, folderID, func(f *domain.Folder) {
		if !slices.Contains(f.ReferencedBy, ref) {
			f.ReferencedBy = append(f.ReferencedBy, ref)
		}
	})
	return err
}

func (s *MockStack) RemoveReferencedBy(ctx context.Context, folderID string, ref domain.Reference) error {
	s.count("RemoveReferencedBy")
	if s.RemoveReferenceFn != nil {
		if err := s.RemoveReferenceFn(folderID); err != nil {
			return err
		}
	}
	_, err := s.updateFolder(ctx, folderID, func(f *domain.Folder) {
		f.ReferencedBy = slices.DeleteFunc(f.ReferencedBy, func(r domain.Reference) bool { return r == ref })
	})
	return err
}

func (s *MockStack) updateFolder(ctx context.Context, id string, patch func(*domain.Folder)) (*domain.Folder, error) {
	doc, err := s.Docs.Get(ctx, domain.DoctypeFiles, id)
	if err != nil {
		return nil, err
	}
	folder, err := domain.DecodeAs[domain.Folder](doc)
	if err != nil {
		return nil, err
	}
	patch(folder)
	doc, err = s.Docs.Update(ctx, domain.DoctypeFiles, id, doc.Rev, folder)
	if err != nil {
		return nil, err
	}
	return domain.DecodeAs[domain.Folder](doc)
}

func (s *MockStack) PatchSaveFolder(ctx context.Context, slug, folderID string) (*domain.Permission, error) {
	s.count("PatchSaveFolder")
	if s.PatchPermissionFn != nil {
		if err := s.PatchPermissionFn(slug, folderID); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	perm := &domain.Permission{SourceID: domain.DoctypeKonnectors + "/" + slug, Permissions: map[string]domain.PermissionRule{}}
	if folderID != "" {
		perm.Permissions[domain.PermissionSaveFolder] = domain.PermissionRule{Type: domain.DoctypeFiles, Values: []string{folderID}}
	}
	perm.ID = "perm-" + slug
	s.permissions[slug] = perm
	return perm, nil
}

func (s *MockStack) Fetch(ctx context.Context, source string) (*domain.Manifest, error) {
	s.count("Fetch")
	if s.FetchManifestFn != nil {
		if err := s.FetchManifestFn(source); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Manifests[source]
	if !ok {
		return nil, fmt.Errorf("manifest %s: %w", source, domain.ErrNotFound)
	}
	return m, nil
}
