package redis

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

const lockPrefix = "collect:lock:"

// Lock implements DistributedLock with owner-tagged keys and a TTL.
// Acquiring a lock already held by the same owner refreshes its TTL, so a
// scheduler that overruns a tick keeps its lock.
type Lock struct {
	client  redis.UniversalClient
	ownerID string
}

// NewLock creates a lock owned by this process.
func NewLock(client redis.UniversalClient) *Lock {
	host, _ := os.Hostname()
	return &Lock{
		client:  client,
		ownerID: fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString()),
	}
}

// KEYS[1] lock key, ARGV[1] owner, ARGV[2] ttl in ms
var acquireScript = redis.NewScript(`
	local owner = redis.call("get", KEYS[1])
	if owner == ARGV[1] then
		redis.call("pexpire", KEYS[1], ARGV[2])
		return 1
	end
	if owner then
		return 0
	end
	redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
`)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Acquire takes name for ttl. It returns false when another owner holds it.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return n == 1, nil
}

// Release deletes the lock if this owner holds it.
func (l *Lock) Release(ctx context.Context, name string) error {
	if err := releaseScript.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend refreshes the TTL of a lock held by this owner.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{lockPrefix + name}, l.ownerID, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("lock %s not held by %s", name, l.ownerID)
	}
	return nil
}

func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// OwnerID identifies this process in lock values.
func (l *Lock) OwnerID() string {
	return l.ownerID
}
