package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*MockDistributedLock)(nil)

const (
	selfOwner     = "self"
	externalOwner = "external"
)

// MockDistributedLock keeps leases in memory. Like the Redis lock it is
// reentrant for its own owner; SetLockHeld simulates another replica.
type MockDistributedLock struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	leases map[string]lease
	grants map[string]int

	AcquireFn func(name string, ttl time.Duration) (bool, error)
	PingFn    func() error
}

type lease struct {
	owner  string
	expiry time.Time
}

// NewMockDistributedLock creates a lock driven by the real clock.
func NewMockDistributedLock() *MockDistributedLock {
	return NewMockDistributedLockWithClock(clockwork.NewRealClock())
}

// NewMockDistributedLockWithClock creates a lock whose leases expire on clock.
func NewMockDistributedLockWithClock(clock clockwork.Clock) *MockDistributedLock {
	return &MockDistributedLock{
		clock:  clock,
		leases: make(map[string]lease),
		grants: make(map[string]int),
	}
}

func (m *MockDistributedLock) live(name string) (lease, bool) {
	l, ok := m.leases[name]
	if !ok || !m.clock.Now().Before(l.expiry) {
		return lease{}, false
	}
	return l, true
}

func (m *MockDistributedLock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	if m.AcquireFn != nil {
		return m.AcquireFn(name, ttl)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.live(name); ok && l.owner != selfOwner {
		return false, nil
	}
	m.leases[name] = lease{owner: selfOwner, expiry: m.clock.Now().Add(ttl)}
	m.grants[name]++
	return true, nil
}

func (m *MockDistributedLock) Release(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[name]; ok && l.owner == selfOwner {
		delete(m.leases, name)
	}
	return nil
}

func (m *MockDistributedLock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.live(name)
	if !ok || l.owner != selfOwner {
		return fmt.Errorf("lock %s not held", name)
	}
	l.expiry = m.clock.Now().Add(ttl)
	m.leases[name] = l
	return nil
}

func (m *MockDistributedLock) Ping(ctx context.Context) error {
	if m.PingFn != nil {
		return m.PingFn()
	}
	return nil
}

// IsHeld reports whether any owner holds a live lease on name.
func (m *MockDistributedLock) IsHeld(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live(name)
	return ok
}

// Grants counts successful acquisitions of name.
func (m *MockDistributedLock) Grants(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grants[name]
}

// SetLockHeld makes another replica hold name for ttl.
func (m *MockDistributedLock) SetLockHeld(name string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leases[name] = lease{owner: externalOwner, expiry: m.clock.Now().Add(ttl)}
}
