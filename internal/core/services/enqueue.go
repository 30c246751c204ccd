package services

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/ports/driving"
)

// DefaultEnqueueAfter is how long connect and run calls wait before handing
// the workflow off to the background queue.
const DefaultEnqueueAfter = 7 * time.Second

func buildConnectOptions(def time.Duration, opts []driving.ConnectOption) driving.ConnectOptions {
	o := driving.ConnectOptions{EnqueueAfter: def}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type chainResult[T any] struct {
	value T
	err   error
}

// raceEnqueue runs chain in its own goroutine and returns its result, or
// enqueued=true once after elapses first. The chain is never interrupted.
// Exactly one branch produces the return value.
func raceEnqueue[T any](clock clockwork.Clock, opts driving.ConnectOptions, chain func() (T, error)) (value T, enqueued bool, err error) {
	done := make(chan chainResult[T], 1)
	go func() {
		v, err := chain()
		done <- chainResult[T]{v, err}
	}()

	if opts.DisableEnqueue {
		r := <-done
		return r.value, false, r.err
	}

	if opts.EnqueueAfter <= 0 {
		select {
		case r := <-done:
			return r.value, false, r.err
		default:
			return value, true, nil
		}
	}

	timer := clock.NewTimer(opts.EnqueueAfter)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.value, false, r.err
	case <-timer.Chan():
		return value, true, nil
	}
}
