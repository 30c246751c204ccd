package driven

import "github.com/custodia-labs/collect-core/internal/core/domain"

// Catalogue lists the konnectors a user may connect.
type Catalogue interface {
	// Konnectors returns copies of the declared konnectors.
	Konnectors() []*domain.Konnector

	// Categories returns the known category names.
	Categories() []string
}
