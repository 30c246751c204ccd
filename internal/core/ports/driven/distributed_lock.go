package driven

import (
	"context"
	"time"
)

// DistributedLock elects one replica for work that must not run twice,
// such as the trigger scheduler tick.
type DistributedLock interface {
	// Acquire takes name for ttl. It returns false, not an error, when
	// another replica holds it. Re-acquiring a lock this replica already
	// holds succeeds and refreshes the lease.
	Acquire(ctx context.Context, name string, ttl time.Duration) (acquired bool, err error)

	// Release drops name if this replica holds it; otherwise it is a no-op.
	Release(ctx context.Context, name string) error

	// Extend pushes the lease of a held lock. Advisory-lock backends hold
	// the lock for the session and treat it as a liveness check.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
