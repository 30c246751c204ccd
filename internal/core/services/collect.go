package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/collect-core/internal/core/connections"
	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/poll"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
	"github.com/custodia-labs/collect-core/internal/core/ports/driving"
	"github.com/custodia-labs/collect-core/internal/metrics"
)

// Ensure CollectStore implements CollectService
var _ driving.CollectService = (*CollectStore)(nil)

// CategoryAll selects every konnector in FindByCategory.
const CategoryAll = "all"

// CollectConfig holds configuration for the collect store.
type CollectConfig struct {
	Gateway     *Gateway
	Connections *connections.Store
	Catalogue   driven.Catalogue
	Metrics     *metrics.Metrics
	Logger      *slog.Logger

	// Clock drives enqueue timers (default: real clock)
	Clock clockwork.Clock

	// Intn picks the trigger schedule jitter (default: rand.IntN)
	Intn func(n int) int

	// Exclude hides konnectors from the catalogue
	Exclude []string

	// Debug exposes the debug konnector
	Debug bool

	// DefaultTriggerTimeInterval applies to konnectors without their own window
	DefaultTriggerTimeInterval []int

	InstallTimeout time.Duration
	JobTimeout     time.Duration
	EnqueueAfter   time.Duration
}

// CollectStore orchestrates konnector connections. It owns the caches of
// installed konnectors, results and unfinished jobs, all keyed by slug.
type CollectStore struct {
	gateway   *Gateway
	conns     *connections.Store
	catalogue driven.Catalogue
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     clockwork.Clock
	intn      func(n int) int

	exclude         []string
	debug           bool
	defaultInterval []int
	installTimeout  time.Duration
	jobTimeout      time.Duration
	enqueueAfter    time.Duration

	mu         sync.RWMutex
	konnectors map[string]*domain.Konnector
	categories []string
	installed  map[string]*domain.Konnector
	results    map[string]*domain.KonnectorResult
	unfinished map[string]*domain.Job
	listeners  map[string]map[ListenerID]StatusListener
	nextID     ListenerID
}

// StatusListener observes the connection status of one konnector.
// Listeners run outside the store lock and must not call back into the
// store's mutating operations.
type StatusListener func(slug string, status domain.ConnectionStatus)

// ListenerID identifies a registered StatusListener.
type ListenerID uint64

// NewCollectStore creates a collect store and loads the catalogue.
func NewCollectStore(cfg CollectConfig) *CollectStore {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	intn := cfg.Intn
	if intn == nil {
		intn = rand.IntN
	}
	conns := cfg.Connections
	if conns == nil {
		conns = connections.NewStore(logger)
	}
	interval := cfg.DefaultTriggerTimeInterval
	if len(interval) != 2 {
		interval = domain.DefaultTriggerTimeInterval
	}
	installTimeout := cfg.InstallTimeout
	if installTimeout <= 0 {
		installTimeout = poll.DefaultTimeout
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = poll.DefaultTimeout
	}
	enqueueAfter := cfg.EnqueueAfter
	if enqueueAfter <= 0 {
		enqueueAfter = DefaultEnqueueAfter
	}

	s := &CollectStore{
		gateway:         cfg.Gateway,
		conns:           conns,
		catalogue:       cfg.Catalogue,
		metrics:         cfg.Metrics,
		logger:          logger,
		clock:           clock,
		intn:            intn,
		exclude:         cfg.Exclude,
		debug:           cfg.Debug,
		defaultInterval: interval,
		installTimeout:  installTimeout,
		jobTimeout:      jobTimeout,
		enqueueAfter:    enqueueAfter,
		konnectors:      make(map[string]*domain.Konnector),
		installed:       make(map[string]*domain.Konnector),
		results:         make(map[string]*domain.KonnectorResult),
		unfinished:      make(map[string]*domain.Job),
		listeners:       make(map[string]map[ListenerID]StatusListener),
	}
	s.ReloadCatalogue()
	return s
}

// Connections returns the reducer store fed by this collect store.
func (s *CollectStore) Connections() *connections.Store {
	return s.conns
}

// ReloadCatalogue merges the catalogue into the known konnectors. Runtime
// data (accounts, install state) of already known konnectors is kept.
func (s *CollectStore) ReloadCatalogue() {
	if s.catalogue == nil {
		return
	}
	konnectors := s.catalogue.Konnectors()
	categories := s.catalogue.Categories()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.categories = categories
	for _, k := range konnectors {
		if slices.Contains(s.exclude, k.Slug) {
			continue
		}
		if k.Slug == domain.DebugKonnectorSlug && !s.debug {
			continue
		}
		k.SanitizeCategory(categories)
		if cur, ok := s.konnectors[k.Slug]; ok {
			k.Merge(&domain.Konnector{DocMeta: cur.DocMeta, State: cur.State, Error: cur.Error, Accounts: cur.Accounts, Version: cur.Version, AvailableVersion: cur.AvailableVersion})
		}
		s.konnectors[k.Slug] = k
	}
}

// Catalogue queries

// Find returns every known konnector sorted by name.
func (s *CollectStore) Find() []*domain.Konnector {
	return s.filter(func(*domain.Konnector) bool { return true })
}

// FindConnected returns konnectors having at least one account.
func (s *CollectStore) FindConnected() []*domain.Konnector {
	return s.filter((*domain.Konnector).HasAccounts)
}

// FindByCategory returns the konnectors of category. An empty, unknown or
// "all" category returns everything.
func (s *CollectStore) FindByCategory(category string) []*domain.Konnector {
	s.mu.RLock()
	known := slices.Contains(s.categories, category)
	s.mu.RUnlock()
	if category == "" || category == CategoryAll || !known {
		return s.Find()
	}
	return s.filter(func(k *domain.Konnector) bool { return k.Category == category })
}

// FindByDataType returns the konnectors declaring dataType.
func (s *CollectStore) FindByDataType(dataType string) []*domain.Konnector {
	return s.filter(func(k *domain.Konnector) bool { return slices.Contains(k.DataTypes, dataType) })
}

// Categories returns the known categories.
func (s *CollectStore) Categories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.categories)
}

func (s *CollectStore) filter(keep func(*domain.Konnector) bool) []*domain.Konnector {
	s.mu.RLock()
	out := make([]*domain.Konnector, 0, len(s.konnectors))
	for _, k := range s.konnectors {
		if keep(k) {
			out = append(out, k.Clone())
		}
	}
	s.mu.RUnlock()
	domain.SortKonnectorsByName(out)
	return out
}

// KonnectorBySlug returns a copy of the konnector, or nil.
func (s *CollectStore) KonnectorBySlug(slug string) *domain.Konnector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.konnectors[slug].Clone()
}

// InstalledKonnector returns a copy of the installed konnector, or nil.
func (s *CollectStore) InstalledKonnector(slug string) *domain.Konnector {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.installed[slug].Clone()
}

// KonnectorResult returns the latest result of slug, or nil.
func (s *CollectStore) KonnectorResult(slug string) *domain.KonnectorResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r := s.results[slug]; r != nil {
		c := *r
		return &c
	}
	return nil
}

// UpdateKonnector merges k into the cached konnector of the same slug,
// inserting it when unknown.
func (s *CollectStore) UpdateKonnector(k *domain.Konnector) *domain.Konnector {
	if k == nil || k.Slug == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeKonnectorLocked(k).Clone()
}

func (s *CollectStore) mergeKonnectorLocked(k *domain.Konnector) *domain.Konnector {
	src := k.Clone()
	cur, ok := s.konnectors[k.Slug]
	if !ok {
		s.konnectors[k.Slug] = src
		return src
	}
	cur.Merge(src)
	return cur
}

func (s *CollectStore) attachAccountLocked(slug string, account *domain.Account) {
	k, ok := s.konnectors[slug]
	if !ok {
		k = &domain.Konnector{Slug: slug}
		s.konnectors[slug] = k
	}
	if i := k.AccountIndex(account.ID); i >= 0 {
		k.Accounts[i] = account.Clone()
		return
	}
	k.Accounts = append(k.Accounts, account.Clone())
}

func (s *CollectStore) detachAccountLocked(slug, accountID string) {
	k, ok := s.konnectors[slug]
	if !ok {
		return
	}
	k.Accounts = slices.DeleteFunc(k.Accounts, func(a *domain.Account) bool { return a.ID == accountID })
}

func (s *CollectStore) accountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, k := range s.konnectors {
		ids = append(ids, k.AccountIDs()...)
	}
	return ids
}

// Status

// ConnectionStatus derives the status of slug from the caches: install
// error, pending install, missing accounts, unfinished job, then last result.
func (s *CollectStore) ConnectionStatus(slug string) domain.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.statusLocked(slug)
}

func (s *CollectStore) statusLocked(slug string) domain.ConnectionStatus {
	if installed := s.installed[slug]; installed != nil {
		if installed.Error != "" || installed.State == domain.KonnectorErrored {
			return domain.StatusErrored
		}
		if installed.State != domain.KonnectorInstalled && installed.State != domain.KonnectorReady {
			return domain.StatusRunning
		}
	}
	k := s.konnectors[slug]
	if k == nil || !k.HasAccounts() {
		return domain.StatusNone
	}
	if s.unfinished[slug] != nil {
		return domain.StatusRunning
	}
	if r := s.results[slug]; r != nil {
		if r.State == domain.ResultErrored {
			return domain.StatusErrored
		}
		return domain.StatusConnected
	}
	return domain.StatusNone
}

// IsConnectionStatusRunning reports whether slug has a workflow or job in progress.
func (s *CollectStore) IsConnectionStatusRunning(slug string) bool {
	return s.ConnectionStatus(slug) == domain.StatusRunning
}

// ConnectionError returns the install error or the last run error of slug.
func (s *CollectStore) ConnectionError(slug string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if installed := s.installed[slug]; installed != nil && installed.Error != "" {
		return installed.Error
	}
	if r := s.results[slug]; r != nil {
		return r.Error
	}
	return ""
}

// KonnectorHasAccount reports whether slug has at least one account.
func (s *CollectStore) KonnectorHasAccount(slug string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k := s.konnectors[slug]
	return k != nil && k.HasAccounts()
}

// Listeners

// AddConnectionStatusListener registers l for status changes of slug.
func (s *CollectStore) AddConnectionStatusListener(slug string, l StatusListener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	if s.listeners[slug] == nil {
		s.listeners[slug] = make(map[ListenerID]StatusListener)
	}
	s.listeners[slug][s.nextID] = l
	return s.nextID
}

// RemoveConnectionStatusListener unregisters a listener. Unknown ids are ignored.
func (s *CollectStore) RemoveConnectionStatusListener(slug string, id ListenerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners[slug], id)
	if len(s.listeners[slug]) == 0 {
		delete(s.listeners, slug)
	}
}

func (s *CollectStore) notify(slug string) {
	s.mu.RLock()
	status := s.statusLocked(slug)
	ls := make([]StatusListener, 0, len(s.listeners[slug]))
	for _, l := range s.listeners[slug] {
		ls = append(ls, l)
	}
	s.mu.RUnlock()

	for _, l := range ls {
		l(slug, status)
	}
}

// dispatch applies a to the connections store. Rejected actions are logged
// by the store and counted here.
func (s *CollectStore) dispatch(a connections.Action) error {
	err := s.conns.Dispatch(a)
	if err != nil {
		s.metrics.RecordRejectedAction(string(a.Type))
	}
	return err
}

// Reducer projections

// Queue lists the enqueued connections with their catalogue label and icon.
func (s *CollectStore) Queue() []connections.QueueItem {
	return connections.Queue(s.conns.State(), s.KonnectorBySlug)
}

// PurgeQueue clears the queue.
func (s *CollectStore) PurgeQueue() {
	s.dispatch(connections.PurgeQueue())
}

// ConfiguredKonnectors returns the slugs with an active connection.
func (s *CollectStore) ConfiguredKonnectors() []string {
	return connections.ConfiguredKonnectors(s.conns.State(), s.accountIDs())
}

// ListConnections returns the per-trigger projection, optionally for one slug.
func (s *CollectStore) ListConnections(slug string) []connections.Connection {
	return connections.Connections(s.conns.State(), slug)
}

// Loading

// FetchInitialData loads accounts, installed konnectors, results, unfinished
// jobs queued after since and triggers, then seeds the reducer.
func (s *CollectStore) FetchInitialData(ctx context.Context, since time.Time) error {
	var (
		accounts  []*domain.Account
		installed []*domain.Konnector
		results   []*domain.KonnectorResult
		jobs      []*domain.Job
		triggers  []*domain.Trigger
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		accounts, err = s.gateway.ListAccounts(gctx)
		return err
	})
	g.Go(func() (err error) {
		installed, err = s.gateway.ListInstalledKonnectors(gctx)
		return err
	})
	g.Go(func() (err error) {
		results, err = s.gateway.ListKonnectorResults(gctx)
		return err
	})
	g.Go(func() (err error) {
		jobs, err = s.gateway.ListUnfinishedJobs(gctx, since)
		return err
	})
	g.Go(func() (err error) {
		triggers, err = s.gateway.ListKonnectorTriggers(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("fetch initial data: %w", err)
	}

	s.mu.Lock()
	bySlug := make(map[string][]*domain.Account)
	for _, a := range accounts {
		bySlug[a.AccountType] = append(bySlug[a.AccountType], a)
	}
	for slug, k := range s.konnectors {
		k.Accounts = bySlug[slug]
	}
	for _, k := range installed {
		if slices.Contains(s.exclude, k.Slug) {
			continue
		}
		s.installed[k.Slug] = k
		s.mergeKonnectorLocked(&domain.Konnector{Slug: k.Slug, DocMeta: k.DocMeta, State: k.State, Error: k.Error, Version: k.Version, AvailableVersion: k.AvailableVersion})
	}
	for _, r := range results {
		s.results[r.Slug()] = r
	}
	for _, j := range jobs {
		slug := j.KonnectorSlug()
		if cur := s.unfinished[slug]; cur == nil || j.QueuedAt.After(cur.QueuedAt) {
			s.unfinished[slug] = j
		}
	}
	s.mu.Unlock()

	docs := make([]any, 0, len(triggers)+len(jobs))
	for _, t := range triggers {
		docs = append(docs, t)
	}
	for _, j := range jobs {
		docs = append(docs, j)
	}
	s.dispatch(connections.ReceiveData(docs...))

	s.logger.Info("collect data loaded",
		"accounts", len(accounts),
		"installed", len(installed),
		"results", len(results),
		"unfinished_jobs", len(jobs),
		"triggers", len(triggers))
	return nil
}

// InitializeRealtime subscribes to job, konnector, result and trigger events
// and folds them into the caches and the reducer until ctx is done.
func (s *CollectStore) InitializeRealtime(ctx context.Context) error {
	handlers := map[string]func(domain.DocumentEvent){
		domain.DoctypeJobs:             s.onJobEvent,
		domain.DoctypeKonnectors:       s.onKonnectorEvent,
		domain.DoctypeKonnectorResults: s.onResultEvent,
		domain.DoctypeTriggers:         s.onTriggerEvent,
	}
	for doctype, handle := range handlers {
		events, err := s.gateway.Subscribe(ctx, doctype)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", doctype, err)
		}
		go func() {
			for ev := range events {
				handle(ev)
			}
		}()
	}
	return nil
}

func (s *CollectStore) onJobEvent(ev domain.DocumentEvent) {
	job, err := domain.DecodeAs[domain.Job](ev.Document)
	if err != nil || !job.IsKonnectorJob() {
		return
	}
	slug := job.KonnectorSlug()

	s.mu.Lock()
	cur := s.unfinished[slug]
	switch {
	case ev.Kind != domain.EventDeleted && job.State.IsActive():
		s.unfinished[slug] = job
	case cur != nil && cur.ID == job.ID:
		delete(s.unfinished, slug)
	}
	s.mu.Unlock()

	s.dispatch(connections.ReceiveNewDocument(job))
	s.notify(slug)
}

func (s *CollectStore) onKonnectorEvent(ev domain.DocumentEvent) {
	k, err := domain.DecodeAs[domain.Konnector](ev.Document)
	if err != nil || k.Slug == "" {
		return
	}
	s.mu.Lock()
	if ev.Kind == domain.EventDeleted {
		delete(s.installed, k.Slug)
	} else {
		s.installed[k.Slug] = k
		s.mergeKonnectorLocked(&domain.Konnector{Slug: k.Slug, DocMeta: k.DocMeta, State: k.State, Error: k.Error, Version: k.Version, AvailableVersion: k.AvailableVersion})
	}
	s.mu.Unlock()
	s.notify(k.Slug)
}

func (s *CollectStore) onResultEvent(ev domain.DocumentEvent) {
	r, err := domain.DecodeAs[domain.KonnectorResult](ev.Document)
	if err != nil || r.Slug() == "" {
		return
	}
	s.mu.Lock()
	if ev.Kind == domain.EventDeleted {
		delete(s.results, r.Slug())
	} else {
		s.results[r.Slug()] = r
	}
	s.mu.Unlock()
	s.notify(r.Slug())
}

func (s *CollectStore) onTriggerEvent(ev domain.DocumentEvent) {
	t, err := domain.DecodeAs[domain.Trigger](ev.Document)
	if err != nil || t.WorkerType != domain.WorkerKonnector {
		return
	}
	if ev.Kind == domain.EventDeleted {
		if t.Validate() == nil {
			s.dispatch(connections.ConnectionDeleted(t))
		}
		return
	}
	s.dispatch(connections.ReceiveNewDocument(t))
}

// FetchKonnectorInfos returns the installed or catalogue konnector enriched
// with its manifest. A manifest failure falls back to the cached data.
func (s *CollectStore) FetchKonnectorInfos(ctx context.Context, slug string) (*domain.Konnector, error) {
	s.mu.RLock()
	k := s.installed[slug]
	if k == nil {
		k = s.konnectors[slug]
	}
	k = k.Clone()
	s.mu.RUnlock()
	if k == nil {
		return nil, fmt.Errorf("konnector %s: %w", slug, domain.ErrNotFound)
	}

	if k.Source != "" {
		m, err := s.gateway.FetchManifest(ctx, k.Source)
		switch {
		case err == nil:
			m.ApplyTo(k)
		case errors.Is(err, domain.ErrManifestUnavailable):
			s.logger.Warn("manifest unavailable, using cached konnector", "slug", slug, "error", err)
		default:
			return nil, err
		}
	}
	merged := s.UpdateKonnector(k)
	k.Accounts = merged.Accounts
	return k, nil
}
