package services

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/collect-core/internal/core/connections"
	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
	"github.com/custodia-labs/collect-core/internal/core/ports/driving"
	"github.com/custodia-labs/collect-core/internal/metrics"
)

// Workflow names used in logs and metrics.
const (
	opConnect = "connect"
	opRun     = "run"
)

// workflow carries the outputs of each connect or run step.
// Fields written by steps are only read by later steps and by settle,
// which all run on the chain goroutine.
type workflow struct {
	op         string
	slug       string
	konnector  *domain.Konnector
	account    *domain.Account
	folderPath string

	folder      *domain.Folder
	permission  *domain.Permission
	job         *domain.Job
	placeholder *domain.Job
	attached    *domain.Konnector

	mu       sync.Mutex
	trigger  *domain.Trigger
	enqueued bool
}

func (w *workflow) currentTrigger() *domain.Trigger {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.trigger
}

// step is one named unit of a workflow.
type step struct {
	name string
	run  func(ctx context.Context, w *workflow) error
}

// connectSteps returns the ordered connect workflow.
func (s *CollectStore) connectSteps() []step {
	return []step{
		{"folder", s.createFolder},
		{"account", s.saveAccount},
		{"start", s.startRun},
		{"install", s.installKonnector},
		{"attach", s.attachAccount},
		{"permission", s.grantFolder},
		{"trigger", s.createTrigger},
		{"run", s.runWorker},
	}
}

func (s *CollectStore) runSteps() []step {
	return []step{
		{"start", s.startRun},
		{"trigger", s.findTrigger},
		{"run", s.runWorker},
	}
}

// ConnectAccount provisions the folder, account, konnector, permission and
// trigger of a new connection, then runs the konnector once.
//
// It returns when the workflow settles or, unless enqueue is disabled, when
// the enqueue delay elapses first. In that case the returned connection is
// marked Enqueued and the workflow keeps running in the background, detached
// from ctx cancellation. Steps already done are not rolled back on failure.
func (s *CollectStore) ConnectAccount(ctx context.Context, k *domain.Konnector, account *domain.Account, folderPath string, opts ...driving.ConnectOption) (*domain.Connection, error) {
	if k == nil || k.Slug == "" {
		return nil, domain.MissingParam("ConnectAccount", "konnector.slug")
	}
	if account == nil {
		return nil, domain.MissingParam("ConnectAccount", "account")
	}

	w := &workflow{
		op:         opConnect,
		slug:       k.Slug,
		konnector:  k.Clone(),
		account:    account.Clone(),
		folderPath: folderPath,
	}
	snapshot := &domain.Connection{Konnector: k.Clone(), Account: account.Clone()}

	conn, enqueued, err := raceEnqueue(s.clock, buildConnectOptions(s.enqueueAfter, opts), func() (*domain.Connection, error) {
		return s.execute(context.WithoutCancel(ctx), w, s.connectSteps())
	})
	if enqueued {
		s.markEnqueued(w)
		snapshot.Trigger = w.currentTrigger()
		snapshot.Enqueued = true
		return snapshot, nil
	}
	return conn, err
}

// RunAccount runs the konnector once for an existing account, with the same
// enqueue behaviour as ConnectAccount. The job is nil when enqueued.
func (s *CollectStore) RunAccount(ctx context.Context, k *domain.Konnector, account *domain.Account, opts ...driving.ConnectOption) (*domain.Job, bool, error) {
	if k == nil || k.Slug == "" {
		return nil, false, domain.MissingParam("RunAccount", "konnector.slug")
	}
	if account == nil || account.ID == "" {
		return nil, false, domain.MissingParam("RunAccount", "account._id")
	}

	w := &workflow{op: opRun, slug: k.Slug, konnector: k.Clone(), account: account.Clone()}
	conn, enqueued, err := raceEnqueue(s.clock, buildConnectOptions(s.enqueueAfter, opts), func() (*domain.Connection, error) {
		return s.execute(context.WithoutCancel(ctx), w, s.runSteps())
	})
	if enqueued {
		s.markEnqueued(w)
		return nil, true, nil
	}
	if conn == nil {
		return nil, false, err
	}
	return conn.Job, false, err
}

// execute runs steps in order and settles the workflow.
func (s *CollectStore) execute(ctx context.Context, w *workflow, steps []step) (*domain.Connection, error) {
	var err error
	for _, st := range steps {
		start := s.clock.Now()
		err = st.run(ctx, w)
		s.metrics.RecordStep(st.name, s.clock.Since(start), err)
		if err != nil {
			s.logger.Error("connection step failed",
				"operation", w.op, "slug", w.slug, "step", st.name, "error", err)
			err = fmt.Errorf("%s %s: %s: %w", w.op, w.slug, st.name, err)
			break
		}
	}
	s.settle(w, err)

	conn := &domain.Connection{
		Konnector:  w.konnector,
		Account:    w.account,
		Folder:     w.folder,
		Permission: w.permission,
		Trigger:    w.currentTrigger(),
		Job:        w.job,
	}
	if w.attached != nil {
		conn.Konnector = w.attached
	}
	if err != nil {
		conn.Error = err.Error()
	}
	return conn, err
}

// Steps

func (s *CollectStore) createFolder(ctx context.Context, w *workflow) error {
	if w.folderPath == "" {
		return nil
	}
	folder, err := s.gateway.CreateDirectoryByPath(ctx, w.folderPath)
	if err != nil {
		return err
	}
	w.folder = folder
	return nil
}

// saveAccount creates the account, or updates it with the new folder when it
// already exists remotely (OAuth accounts, retries).
func (s *CollectStore) saveAccount(ctx context.Context, w *workflow) error {
	folderID := w.account.FolderID
	if w.folder != nil {
		folderID = w.folder.ID
	}

	existing := w.account
	if existing.ID == "" {
		existing = s.findAccountByLogin(w.slug, w.account.Login())
	}
	if existing == nil || existing.ID == "" {
		created, err := s.gateway.CreateAccount(ctx, w.slug, w.account.Auth, folderID)
		if err != nil {
			return err
		}
		w.account = created
		return nil
	}

	previous := existing
	if previous.Rev == "" {
		current, err := s.gateway.GetAccount(ctx, previous.ID)
		if err != nil {
			return err
		}
		previous = current
	}
	updated := previous.Clone()
	if len(w.account.Auth) > 0 {
		updated.Auth = w.account.Auth
	}
	// a retry without a folder path keeps the folder already linked
	if folderID != "" {
		updated.FolderID = folderID
	}
	saved, err := s.gateway.UpdateAccount(ctx, previous, updated)
	if err != nil {
		return err
	}
	w.account = saved
	return nil
}

func (s *CollectStore) findAccountByLogin(slug, login string) *domain.Account {
	if login == "" {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := s.konnectors[slug]
	if k == nil {
		return nil
	}
	for _, a := range k.Accounts {
		if a.Login() == login {
			return a.Clone()
		}
	}
	return nil
}

// startRun marks the konnector as running until a real job supersedes the
// placeholder. The account is cached from here on so a retry finds it.
func (s *CollectStore) startRun(_ context.Context, w *workflow) error {
	w.placeholder = &domain.Job{
		Worker:   domain.WorkerKonnector,
		State:    domain.JobQueued,
		Message:  &domain.TriggerMessage{Konnector: w.slug, Account: w.account.ID},
		QueuedAt: s.clock.Now(),
	}
	s.mu.Lock()
	s.unfinished[w.slug] = w.placeholder
	s.attachAccountLocked(w.slug, w.account)
	s.mu.Unlock()
	s.notify(w.slug)
	return nil
}

func (s *CollectStore) installKonnector(ctx context.Context, w *workflow) error {
	installed, err := s.gateway.InstallKonnector(ctx, w.konnector, s.installTimeout)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.installed[w.slug] = installed.Clone()
	s.mu.Unlock()
	return nil
}

// attachAccount adds the account to the konnector with its known accounts.
func (s *CollectStore) attachAccount(_ context.Context, w *workflow) error {
	s.mu.RLock()
	base := s.installed[w.slug].Clone()
	if base == nil {
		base = w.konnector.Clone()
	}
	if known := s.konnectors[w.slug]; known != nil {
		base.Accounts = known.Clone().Accounts
	}
	s.mu.RUnlock()

	attached, err := s.gateway.AddAccountToKonnector(base, w.account)
	if err != nil {
		return err
	}
	w.attached = attached
	return nil
}

func (s *CollectStore) grantFolder(ctx context.Context, w *workflow) error {
	if w.folder == nil {
		return nil
	}
	perm, err := s.gateway.SetFolderPermission(ctx, w.attached, w.folder.ID)
	if err != nil {
		return err
	}
	w.permission = perm
	return s.gateway.AddReferencedFolder(ctx, w.attached, w.folder.ID)
}

// createTrigger reuses the trigger of the account when one exists, otherwise
// schedules a weekly run at a random time within the konnector's window.
func (s *CollectStore) createTrigger(ctx context.Context, w *workflow) error {
	trigger, err := s.gateway.FindTrigger(ctx, w.slug, w.account.ID)
	if err != nil {
		return err
	}
	if trigger == nil {
		interval := w.konnector.TimeInterval
		if len(interval) != 2 {
			interval = s.defaultInterval
		}
		schedule := domain.WeeklySchedule(s.clock.Now().Weekday(), interval, s.intn)
		trigger, err = s.gateway.CreateTrigger(ctx, w.attached, w.account, w.folder, schedule)
		if err != nil {
			return err
		}
		s.logger.Info("trigger created", "slug", w.slug, "trigger_id", trigger.ID, "cron", trigger.Arguments)
	}
	folderID := ""
	if w.folder != nil {
		folderID = w.folder.ID
	}
	s.dispatch(connections.CreateConnection(trigger, folderID))
	s.setTrigger(w, trigger)
	return nil
}

func (s *CollectStore) findTrigger(ctx context.Context, w *workflow) error {
	trigger, err := s.gateway.FindTrigger(ctx, w.slug, w.account.ID)
	if err != nil {
		return err
	}
	if trigger != nil {
		s.setTrigger(w, trigger)
	}
	return nil
}

func (s *CollectStore) runWorker(ctx context.Context, w *workflow) error {
	job, err := s.gateway.RunWorker(ctx, w.konnector, w.account, w.currentTrigger(), s.jobTimeout)
	w.job = job
	return err
}

// Enqueue coordination

// setTrigger records the workflow trigger and marks it running. If the
// enqueue timer already fired, the deferred enqueue is dispatched here.
func (s *CollectStore) setTrigger(w *workflow, t *domain.Trigger) {
	w.mu.Lock()
	w.trigger = t
	pending := w.enqueued
	w.mu.Unlock()

	s.dispatch(connections.UpdateRunningStatus(t, true))
	if pending {
		s.dispatch(connections.EnqueueConnection(t))
	}
}

// markEnqueued flags the workflow as handed off to the queue. The enqueue
// action needs a trigger, so it is deferred to setTrigger when none exists yet.
func (s *CollectStore) markEnqueued(w *workflow) {
	w.mu.Lock()
	w.enqueued = true
	t := w.trigger
	w.mu.Unlock()

	s.metrics.RecordWorkflow(w.op, metrics.OutcomeEnqueued)
	s.logger.Info("connection enqueued", "operation", w.op, "slug", w.slug)
	if t != nil {
		s.dispatch(connections.EnqueueConnection(t))
	}
}

// settle records the workflow outcome in the caches and the reducer.
func (s *CollectStore) settle(w *workflow, err error) {
	now := s.clock.Now()
	result := &domain.KonnectorResult{State: domain.ResultConnected, LastExecution: &now}
	result.ID = w.slug
	if w.account != nil {
		result.Account = w.account.ID
	}
	if err != nil {
		result.State = domain.ResultErrored
		result.Error = rootMessage(err)
	} else {
		result.LastSuccess = &now
	}

	s.mu.Lock()
	if cur := s.unfinished[w.slug]; cur != nil && (cur == w.placeholder || (w.job != nil && cur.ID == w.job.ID)) {
		delete(s.unfinished, w.slug)
	}
	s.results[w.slug] = result
	if w.attached != nil {
		s.mergeKonnectorLocked(w.attached)
	}
	s.mu.Unlock()

	if t := w.currentTrigger(); t != nil {
		s.dispatch(connections.UpdateRunningStatus(t, false))
		if err != nil {
			s.dispatch(connections.UpdateError(t, errors.New(result.Error)))
		} else {
			if w.job != nil {
				s.dispatch(connections.ReceiveNewDocument(w.job))
			}
			s.dispatch(connections.EnqueueConnection(t))
		}
	}

	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeError
	}
	s.metrics.RecordWorkflow(w.op, outcome)
	s.metrics.RecordResult(string(result.State))
	s.notify(w.slug)

	if err == nil {
		s.logger.Info("connection workflow finished", "operation", w.op, "slug", w.slug)
	}
}

// rootMessage returns the job error message when err carries one.
func rootMessage(err error) string {
	var jobErr *domain.JobError
	if errors.As(err, &jobErr) && jobErr.Message != "" {
		return jobErr.Message
	}
	return err.Error()
}

// Accounts

// UpdateAccount patches the credentials and folder path of an account of k
// and replaces the cached copy. The account must be attached to k.
func (s *CollectStore) UpdateAccount(ctx context.Context, k *domain.Konnector, account *domain.Account, values domain.AccountValues) (*domain.Account, error) {
	if k == nil || k.Slug == "" {
		return nil, domain.MissingParam("UpdateAccount", "konnector.slug")
	}
	if account == nil || account.ID == "" {
		return nil, domain.MissingParam("UpdateAccount", "account._id")
	}

	s.mu.RLock()
	var previous *domain.Account
	if cached := s.konnectors[k.Slug]; cached != nil {
		if i := cached.AccountIndex(account.ID); i >= 0 {
			previous = cached.Accounts[i].Clone()
		}
	}
	s.mu.RUnlock()
	if previous == nil {
		return nil, fmt.Errorf("account %s of %s: %w", account.ID, k.Slug, domain.ErrNotFound)
	}
	if account.Rev != "" {
		previous = account.Clone()
	}

	updated := previous.Clone()
	values.ApplyTo(updated)
	saved, err := s.gateway.UpdateAccount(ctx, previous, updated)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.attachAccountLocked(k.Slug, saved)
	s.mu.Unlock()
	return saved, nil
}

// UpdateFolderPath moves the account folder to values.FolderPath, then
// updates the account.
func (s *CollectStore) UpdateFolderPath(ctx context.Context, k *domain.Konnector, account *domain.Account, values domain.AccountValues) (*domain.Account, error) {
	if account == nil || account.FolderID == "" {
		return nil, domain.MissingParam("UpdateFolderPath", "account.folderId")
	}
	if values.FolderPath == "" {
		return nil, domain.MissingParam("UpdateFolderPath", "folderPath")
	}
	if _, err := s.gateway.UpdateFolder(ctx, account.FolderID, driven.FolderAttributes{
		Name: path.Base(values.FolderPath),
		Path: values.FolderPath,
	}); err != nil {
		return nil, err
	}
	return s.UpdateAccount(ctx, k, account, values)
}

// DeleteAccounts deletes every account of k concurrently, with its trigger
// and folder link. All deletions are attempted; the first error is returned.
func (s *CollectStore) DeleteAccounts(ctx context.Context, k *domain.Konnector) error {
	if k == nil || k.Slug == "" {
		return domain.MissingParam("DeleteAccounts", "konnector.slug")
	}

	s.mu.RLock()
	var accounts []*domain.Account
	if cached := s.konnectors[k.Slug]; cached != nil {
		accounts = cached.Clone().Accounts
	}
	linked := s.installed[k.Slug].Clone()
	s.mu.RUnlock()
	if len(accounts) == 0 {
		accounts = k.Clone().Accounts
	}
	if linked == nil {
		linked = k.Clone()
	}

	// plain Group: one failure must not cancel the other deletions
	var g errgroup.Group
	for _, account := range accounts {
		g.Go(func() error {
			return s.deleteAccount(ctx, linked, account)
		})
	}
	err := g.Wait()
	s.notify(k.Slug)
	return err
}

func (s *CollectStore) deleteAccount(ctx context.Context, k *domain.Konnector, account *domain.Account) error {
	if err := s.gateway.DeleteAccount(ctx, account); err != nil {
		return err
	}

	trigger, err := s.gateway.FindTrigger(ctx, k.Slug, account.ID)
	if err != nil {
		return err
	}
	if trigger != nil {
		if err := s.gateway.DeleteTrigger(ctx, trigger); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		s.dispatch(connections.ConnectionDeleted(trigger))
	}

	s.mu.Lock()
	s.detachAccountLocked(k.Slug, account.ID)
	s.mu.Unlock()

	if account.FolderID != "" {
		return s.gateway.UnlinkFolder(ctx, k, account.FolderID)
	}
	return nil
}

// DeleteConnection removes the trigger and its account. The connection is
// marked deleting until the removal completes.
func (s *CollectStore) DeleteConnection(ctx context.Context, trigger *domain.Trigger) error {
	if err := trigger.Validate(); err != nil {
		return err
	}
	slug := trigger.KonnectorSlug()
	s.dispatch(connections.DeleteConnection(trigger))

	if err := s.gateway.DeleteTrigger(ctx, trigger); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.dispatch(connections.UpdateError(trigger, err))
		return err
	}

	account, err := s.gateway.GetAccount(ctx, trigger.AccountID())
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return err
	default:
		if err := s.gateway.DeleteAccount(ctx, account); err != nil {
			return err
		}
		if account.FolderID != "" {
			if k := s.InstalledKonnector(slug); k != nil {
				if err := s.gateway.UnlinkFolder(ctx, k, account.FolderID); err != nil {
					s.logger.Warn("failed to unlink folder", "slug", slug, "folder_id", account.FolderID, "error", err)
				}
			}
		}
	}

	s.mu.Lock()
	s.detachAccountLocked(slug, trigger.AccountID())
	s.mu.Unlock()

	s.dispatch(connections.ConnectionDeleted(trigger))
	s.notify(slug)
	return nil
}

// LaunchTriggerAndQueue queues an immediate run of trigger. If the run is
// still going after delay, the connection is shown in the queue.
func (s *CollectStore) LaunchTriggerAndQueue(ctx context.Context, trigger *domain.Trigger, delay time.Duration) (*domain.Job, error) {
	if err := trigger.Validate(); err != nil {
		return nil, err
	}
	slug := trigger.KonnectorSlug()
	if err := s.dispatch(connections.LaunchTrigger(trigger)); err != nil {
		return nil, err
	}

	job, err := s.gateway.LaunchTrigger(ctx, trigger)
	if err != nil {
		s.dispatch(connections.UpdateError(trigger, err))
		return nil, err
	}
	s.mu.Lock()
	s.unfinished[slug] = job
	s.mu.Unlock()
	s.notify(slug)

	if delay <= 0 {
		delay = s.enqueueAfter
	}
	timer := s.clock.NewTimer(delay)
	go func() {
		defer timer.Stop()
		<-timer.Chan()
		if connections.IsConnectionRunning(s.conns.State(), trigger) {
			s.dispatch(connections.EnqueueConnection(trigger))
		}
	}()
	return job, nil
}
