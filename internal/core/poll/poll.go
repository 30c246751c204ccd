// Package poll waits for remote resources to reach a terminal state.
package poll

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultInterval = time.Second
	DefaultTimeout  = 120 * time.Second
)

// Predicate reports whether the awaited condition holds.
// A non-nil error aborts polling immediately.
type Predicate[T any] func(ctx context.Context) (value T, done bool, err error)

// Config controls a polling loop.
type Config struct {
	Clock    clockwork.Clock
	Interval time.Duration
	Timeout  time.Duration

	// Kind and Subject label the TimeoutError
	Kind    domain.TimeoutKind
	Subject string
}

func (c Config) withDefaults() Config {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Kind == "" {
		c.Kind = domain.TimeoutPoll
	}
	return c
}

// Until evaluates fn every interval and returns the first value reported done.
// The first evaluation happens one interval after the call. When timeout elapses
// first it returns a *domain.TimeoutError. Timers are stopped on every return path.
func Until[T any](ctx context.Context, cfg Config, fn Predicate[T]) (T, error) {
	var zero T
	cfg = cfg.withDefaults()

	ticker := cfg.Clock.NewTicker(cfg.Interval)
	defer ticker.Stop()
	timer := cfg.Clock.NewTimer(cfg.Timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-timer.Chan():
			return zero, &domain.TimeoutError{Kind: cfg.Kind, Subject: cfg.Subject, After: cfg.Timeout}
		case <-ticker.Chan():
			v, done, err := fn(ctx)
			if err != nil {
				return zero, err
			}
			if done {
				return v, nil
			}
		}
	}
}
