package mocks

import (
	"context"
	"sync"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.KonnectorExecutor = (*MockExecutor)(nil)

// MockExecutor records executed jobs. ExecuteFn decides the outcome;
// by default every run succeeds.
type MockExecutor struct {
	mu   sync.Mutex
	jobs []*domain.Job

	ExecuteFn func(ctx context.Context, job *domain.Job) error
}

func (m *MockExecutor) Execute(ctx context.Context, job *domain.Job) error {
	m.mu.Lock()
	m.jobs = append(m.jobs, job)
	m.mu.Unlock()
	if m.ExecuteFn != nil {
		return m.ExecuteFn(ctx, job)
	}
	return nil
}

// Executed returns the jobs passed to Execute.
func (m *MockExecutor) Executed() []*domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Job(nil), m.jobs...)
}
