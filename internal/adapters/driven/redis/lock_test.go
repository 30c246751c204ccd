package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLock_OwnersAreUnique(t *testing.T) {
	_, client := setupTestRedis(t)
	if NewLock(client).OwnerID() == NewLock(client).OwnerID() {
		t.Error("expected unique owner ids")
	}
}

func TestLock_ExclusiveAcrossOwners(t *testing.T) {
	_, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	ok, err := a.Acquire(ctx, "scheduler", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx, "scheduler", 10*time.Second)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Error("second owner acquired a held lock")
	}

	// release by a non-owner is ignored
	if err := b.Release(ctx, "scheduler"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.Acquire(ctx, "scheduler", time.Second); ok {
		t.Error("lock was released by a non-owner")
	}

	if err := a.Release(ctx, "scheduler"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, _ := b.Acquire(ctx, "scheduler", time.Second); !ok {
		t.Error("expected lock to be free after release")
	}
}

func TestLock_ReacquireRefreshesTTL(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	l := NewLock(client)

	if ok, _ := l.Acquire(ctx, "scheduler", 2*time.Second); !ok {
		t.Fatal("acquire failed")
	}
	mr.FastForward(1500 * time.Millisecond)
	if ok, _ := l.Acquire(ctx, "scheduler", 2*time.Second); !ok {
		t.Fatal("owner could not re-acquire its lock")
	}
	mr.FastForward(1500 * time.Millisecond)
	if !mr.Exists(lockPrefix + "scheduler") {
		t.Error("lock expired despite refresh")
	}
}

func TestLock_Expires(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	a.Acquire(ctx, "scheduler", time.Second)
	mr.FastForward(2 * time.Second)

	if ok, _ := b.Acquire(ctx, "scheduler", time.Second); !ok {
		t.Error("expected expired lock to be acquirable")
	}
}

func TestLock_Extend(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	a, b := NewLock(client), NewLock(client)

	a.Acquire(ctx, "scheduler", time.Second)
	if err := a.Extend(ctx, "scheduler", time.Minute); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if ttl := mr.TTL(lockPrefix + "scheduler"); ttl < 30*time.Second {
		t.Errorf("ttl = %v, want about a minute", ttl)
	}
	if err := b.Extend(ctx, "scheduler", time.Minute); err == nil {
		t.Error("expected error extending a lock held by another owner")
	}
}

func TestLock_Ping(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	l := NewLock(client)
	if err := l.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mr.Close()
	if err := l.Ping(context.Background()); err == nil {
		t.Error("expected ping error after shutdown")
	}
}
