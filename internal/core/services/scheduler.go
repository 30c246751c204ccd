package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

// schedulerLockName is the distributed lock guarding trigger launches.
const schedulerLockName = "scheduler"

// Scheduler launches konnector triggers when their cron schedule is due.
// It runs on worker nodes.
//
// For multi-worker deployments, configure a DistributedLock to prevent
// the same trigger from being launched by several instances.
type Scheduler struct {
	gateway *Gateway
	lock    driven.DistributedLock
	logger  *slog.Logger
	clock   clockwork.Clock

	mu        sync.RWMutex
	running   bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	interval  time.Duration
	lastCheck time.Time

	lockTTL      time.Duration
	lockRequired bool
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	Gateway      *Gateway
	Lock         driven.DistributedLock // Optional: distributed lock for multi-instance coordination
	Logger       *slog.Logger
	Clock        clockwork.Clock
	PollInterval time.Duration // How often to look for due triggers (default: 30s)
	LockTTL      time.Duration // TTL for the distributed lock (default: 60s)
	LockRequired bool          // If true, skip a cycle when the lock cannot be acquired
}

// NewScheduler creates a new scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	interval := cfg.PollInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	lockTTL := cfg.LockTTL
	if lockTTL == 0 {
		lockTTL = 2 * interval
	}

	// a configured lock is always required
	lockRequired := cfg.LockRequired || cfg.Lock != nil

	return &Scheduler{
		gateway:      cfg.Gateway,
		lock:         cfg.Lock,
		logger:       logger,
		clock:        clock,
		interval:     interval,
		lastCheck:    clock.Now(),
		lockTTL:      lockTTL,
		lockRequired: lockRequired,
	}
}

// Start begins the scheduler loop.
// It runs until Stop is called or context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("scheduler starting", "poll_interval", s.interval)

	go s.run(ctx)

	return nil
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler context cancelled")
			return
		case <-s.stopCh:
			return
		case <-ticker.Chan():
			s.CheckAndLaunch(ctx)
		}
	}
}

// CheckAndLaunch launches every konnector trigger whose schedule fired since
// the previous check. It returns the jobs queued.
func (s *Scheduler) CheckAndLaunch(ctx context.Context) []*domain.Job {
	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx, schedulerLockName, s.lockTTL)
		if err != nil {
			s.logger.Warn("failed to acquire scheduler lock", "error", err)
			if s.lockRequired {
				return nil
			}
		} else if !acquired {
			s.logger.Debug("scheduler lock held by another instance, skipping cycle")
			return nil
		} else {
			defer func() {
				if err := s.lock.Release(ctx, schedulerLockName); err != nil {
					s.logger.Warn("failed to release scheduler lock", "error", err)
				}
			}()
		}
	}

	now := s.clock.Now()
	s.mu.Lock()
	since := s.lastCheck
	s.lastCheck = now
	s.mu.Unlock()

	triggers, err := s.gateway.ListKonnectorTriggers(ctx)
	if err != nil {
		s.logger.Error("failed to list triggers", "error", err)
		return nil
	}

	var jobs []*domain.Job
	for _, trigger := range triggers {
		if trigger.TriggerType != domain.TriggerTypeCron {
			continue
		}
		next, err := trigger.NextRun(since)
		if err != nil {
			s.logger.Warn("invalid trigger schedule", "trigger_id", trigger.ID, "error", err)
			continue
		}
		if next.After(now) {
			continue
		}
		if trigger.CurrentState != nil && trigger.CurrentState.Status.IsActive() {
			s.logger.Debug("trigger still running, skipping", "trigger_id", trigger.ID)
			continue
		}

		job, err := s.gateway.LaunchTrigger(ctx, trigger)
		if err != nil {
			s.logger.Error("failed to launch trigger", "trigger_id", trigger.ID, "error", err)
			continue
		}
		s.logger.Info("launched scheduled trigger",
			"trigger_id", trigger.ID,
			"slug", trigger.KonnectorSlug(),
			"job_id", job.ID,
		)
		jobs = append(jobs, job)
	}
	return jobs
}

// TriggerNow immediately launches a trigger, ignoring its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, triggerID string) (*domain.Job, error) {
	trigger, err := s.gateway.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	job, err := s.gateway.LaunchTrigger(ctx, trigger)
	if err != nil {
		return nil, err
	}
	s.logger.Info("manually launched trigger", "trigger_id", trigger.ID, "job_id", job.ID)
	return job, nil
}
