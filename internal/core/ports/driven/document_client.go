package driven

import (
	"context"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// Selector filters documents by field equality.
// Keys are top-level body fields; nested fields use dot notation ("message.konnector").
type Selector map[string]any

// DocumentClient is the remote document API: typed collections with CRUD,
// query-by-filter and push subscriptions.
type DocumentClient interface {
	// Create stores a new document and returns it with its assigned id and revision.
	// If the body carries an _id, that id is used.
	Create(ctx context.Context, doctype string, body any) (*domain.Document, error)

	// Get retrieves a document by id. Returns domain.ErrNotFound if absent.
	Get(ctx context.Context, doctype, id string) (*domain.Document, error)

	// Update replaces a document. rev must match the stored revision,
	// otherwise a *domain.ConflictError is returned.
	Update(ctx context.Context, doctype, id, rev string, body any) (*domain.Document, error)

	// Delete removes a document at the given revision.
	Delete(ctx context.Context, doctype, id, rev string) error

	// Query returns the documents matching every selector entry.
	Query(ctx context.Context, doctype string, selector Selector) ([]*domain.Document, error)

	// Subscribe delivers create/update/delete events for a doctype until ctx is done.
	Subscribe(ctx context.Context, doctype string) (<-chan domain.DocumentEvent, error)
}
