package mocks

import (
	"slices"
	"sync"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.Catalogue = (*MockCatalogue)(nil)

// MockCatalogue is a fixed konnector catalogue.
type MockCatalogue struct {
	mu         sync.RWMutex
	konnectors []*domain.Konnector
	categories []string
}

// NewMockCatalogue creates a catalogue holding konnectors.
func NewMockCatalogue(categories []string, konnectors ...*domain.Konnector) *MockCatalogue {
	return &MockCatalogue{konnectors: konnectors, categories: categories}
}

// Set replaces the catalogue content.
func (c *MockCatalogue) Set(konnectors ...*domain.Konnector) {
	c.mu.Lock()
	c.konnectors = konnectors
	c.mu.Unlock()
}

func (c *MockCatalogue) Konnectors() []*domain.Konnector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*domain.Konnector, len(c.konnectors))
	for i, k := range c.konnectors {
		out[i] = k.Clone()
	}
	return out
}

func (c *MockCatalogue) Categories() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.categories)
}
