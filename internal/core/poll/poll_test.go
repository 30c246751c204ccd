package poll

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

type result struct {
	value string
	err   error
}

func runUntil(ctx context.Context, cfg Config, fn Predicate[string]) <-chan result {
	out := make(chan result, 1)
	go func() {
		v, err := Until(ctx, cfg, fn)
		out <- result{v, err}
	}()
	return out
}

// assertNoTimers waits until the fake clock has no registered timers.
func assertNoTimers(t *testing.T, clock *clockwork.FakeClock) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		clock.BlockUntil(0)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers still pending after Until returned")
	}
}

func waitResult(t *testing.T, ch <-chan result) result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Until did not return")
		return result{}
	}
}

func TestUntil_ReturnsFirstDoneValue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	calls := make(chan int, 10)
	var n int32

	out := runUntil(context.Background(), Config{Clock: clock, Interval: time.Second, Timeout: time.Minute},
		func(ctx context.Context) (string, bool, error) {
			c := atomic.AddInt32(&n, 1)
			calls <- int(c)
			if c == 3 {
				return "ready", true, nil
			}
			return "", false, nil
		})

	for i := 1; i <= 3; i++ {
		clock.BlockUntil(2)
		clock.Advance(time.Second)
		require.Equal(t, i, <-calls)
	}

	r := waitResult(t, out)
	require.NoError(t, r.err)
	assert.Equal(t, "ready", r.value)
	assertNoTimers(t, clock)
}

func TestUntil_TimesOut(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var n int32

	out := runUntil(context.Background(), Config{
		Clock:    clock,
		Interval: time.Second,
		Timeout:  3 * time.Second,
		Kind:     domain.TimeoutInstall,
		Subject:  "fake-bank",
	}, func(ctx context.Context) (string, bool, error) {
		atomic.AddInt32(&n, 1)
		return "", false, nil
	})

	clock.BlockUntil(2)
	for i := 0; i < 4; i++ {
		clock.Advance(time.Second)
	}

	r := waitResult(t, out)
	require.Error(t, r.err)
	assert.ErrorIs(t, r.err, domain.ErrTimeout)
	assert.True(t, domain.IsInstallTimeout(r.err))
	assert.Contains(t, r.err.Error(), "fake-bank")
	assertNoTimers(t, clock)
}

func TestUntil_PredicateErrorStopsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := errors.New("boom")
	var n int32

	out := runUntil(context.Background(), Config{Clock: clock, Interval: time.Second, Timeout: time.Minute},
		func(ctx context.Context) (string, bool, error) {
			atomic.AddInt32(&n, 1)
			return "", false, boom
		})

	clock.BlockUntil(2)
	clock.Advance(time.Second)

	r := waitResult(t, out)
	assert.ErrorIs(t, r.err, boom)
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
	assertNoTimers(t, clock)
}

func TestUntil_ContextCancelled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())

	out := runUntil(ctx, Config{Clock: clock, Interval: time.Second, Timeout: time.Minute},
		func(ctx context.Context) (string, bool, error) {
			return "", false, nil
		})

	clock.BlockUntil(2)
	cancel()

	r := waitResult(t, out)
	assert.ErrorIs(t, r.err, context.Canceled)
	assertNoTimers(t, clock)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultInterval, cfg.Interval)
	assert.Equal(t, DefaultTimeout, cfg.Timeout)
	assert.Equal(t, domain.TimeoutPoll, cfg.Kind)
	assert.NotNil(t, cfg.Clock)
}
