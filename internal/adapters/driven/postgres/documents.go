package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.DocumentClient = (*DocumentStore)(nil)

// secretField is the account body field stored encrypted.
const secretField = "auth"

// metaFields are carried by columns, never by the JSON body.
var metaFields = []string{"_id", "_rev", "_type"}

// DocumentStore implements driven.DocumentClient on a single JSONB table.
// Every write publishes a realtime event in the same transaction.
type DocumentStore struct {
	db        *DB
	secrets   *SecretEncryptor
	events    *Notifier
	clockFunc func() time.Time
}

// DocumentStoreConfig configures a DocumentStore.
type DocumentStoreConfig struct {
	// Secrets encrypts account credentials at rest. Optional.
	Secrets *SecretEncryptor

	// Events serves Subscribe. Optional; without it Subscribe fails.
	Events *Notifier
}

// NewDocumentStore creates a new DocumentStore
func NewDocumentStore(db *DB, cfg DocumentStoreConfig) *DocumentStore {
	return &DocumentStore{
		db:        db,
		secrets:   cfg.Secrets,
		events:    cfg.Events,
		clockFunc: time.Now,
	}
}

// nextRev returns the revision following rev, as "<generation>-<random>".
func nextRev(rev string) string {
	var gen int
	if i := strings.IndexByte(rev, '-'); i > 0 {
		_, _ = fmt.Sscanf(rev[:i], "%d", &gen)
	}
	return fmt.Sprintf("%d-%s", gen+1, strings.ReplaceAll(uuid.NewString(), "-", "")[:16])
}

// splitBody separates a document body into its id, the stored JSON and the
// secret part to encrypt.
func splitBody(doctype string, body any) (id string, stored []byte, secret json.RawMessage, err error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return "", nil, nil, fmt.Errorf("marshal %s: %w", doctype, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", nil, nil, fmt.Errorf("%w: %s body must be an object", domain.ErrInvalidInput, doctype)
	}
	if v, ok := fields["_id"]; ok {
		_ = json.Unmarshal(v, &id)
	}
	for _, f := range metaFields {
		delete(fields, f)
	}
	if doctype == domain.DoctypeAccounts {
		secret = fields[secretField]
		delete(fields, secretField)
	}
	stored, err = json.Marshal(fields)
	return id, stored, secret, err
}

// selectorJSON turns a dot-path selector into a JSONB containment document:
// {"message.konnector": "x"} becomes {"message": {"konnector": "x"}}.
func selectorJSON(selector driven.Selector) ([]byte, error) {
	root := map[string]any{}
	for path, want := range selector {
		parts := strings.Split(path, ".")
		node := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		node[parts[len(parts)-1]] = want
	}
	return json.Marshal(root)
}

func (s *DocumentStore) sealSecret(doctype, id string, secret json.RawMessage) ([]byte, json.RawMessage, error) {
	if len(secret) == 0 {
		return nil, nil, nil
	}
	if s.secrets == nil {
		// stored in clear when no key is configured
		return nil, secret, nil
	}
	blob, err := s.secrets.Seal(doctype, id, secret)
	if err != nil {
		return nil, nil, fmt.Errorf("encrypt %s secret: %w", doctype, err)
	}
	return blob, nil, nil
}

// assemble rebuilds the public body from stored columns.
func (s *DocumentStore) assemble(doctype, id, rev string, body []byte, secret []byte, updatedAt time.Time) (*domain.Document, error) {
	doc := &domain.Document{ID: id, Rev: rev, Doctype: doctype, Body: body, UpdatedAt: updatedAt}
	if len(secret) == 0 {
		return doc, nil
	}
	if s.secrets == nil {
		return nil, fmt.Errorf("%s %s: encrypted secret but no key configured", doctype, id)
	}
	clear, err := s.secrets.Open(doctype, id, secret)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", doctype, id, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	fields[secretField] = json.RawMessage(clear)
	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	doc.Body = merged
	return doc, nil
}

// withClearSecret puts a plaintext secret back in the body of an event or result.
func withClearSecret(body []byte, secret json.RawMessage) []byte {
	if len(secret) == 0 {
		return body
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body
	}
	fields[secretField] = secret
	merged, err := json.Marshal(fields)
	if err != nil {
		return body
	}
	return merged
}

// Create stores a new document. Bodies carrying an _id keep it.
func (s *DocumentStore) Create(ctx context.Context, doctype string, body any) (*domain.Document, error) {
	id, stored, secret, err := splitBody(doctype, body)
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	blob, clearSecret, err := s.sealSecret(doctype, id, secret)
	if err != nil {
		return nil, err
	}
	stored = withClearSecret(stored, clearSecret)

	now := s.clockFunc().UTC()
	doc := &domain.Document{ID: id, Rev: nextRev(""), Doctype: doctype, Body: stored, UpdatedAt: now}
	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO documents (doctype, id, rev, body, secret, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
			ON CONFLICT (doctype, id) DO NOTHING
		`, doctype, id, doc.Rev, stored, blob, now)
		if err != nil {
			return fmt.Errorf("insert %s: %w", doctype, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s %s: %w", doctype, id, domain.ErrAlreadyExists)
		}
		return publish(ctx, tx, domain.EventCreated, doc)
	})
	if err != nil {
		return nil, err
	}
	doc.Body = withClearSecret(doc.Body, secret)
	return doc, nil
}

// Get retrieves a document by id.
func (s *DocumentStore) Get(ctx context.Context, doctype, id string) (*domain.Document, error) {
	var (
		rev       string
		body      []byte
		secret    []byte
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT rev, body, secret, updated_at
		FROM documents
		WHERE doctype = $1 AND id = $2
	`, doctype, id).Scan(&rev, &body, &secret, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", doctype, id, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", doctype, id, err)
	}
	return s.assemble(doctype, id, rev, body, secret, updatedAt)
}

// currentRev reports why a revision-checked write matched no row.
func currentRev(ctx context.Context, tx *sql.Tx, doctype, id, rev string) error {
	var actual string
	err := tx.QueryRowContext(ctx, `SELECT rev FROM documents WHERE doctype = $1 AND id = $2`, doctype, id).Scan(&actual)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", doctype, id, domain.ErrNotFound)
	}
	if err != nil {
		return err
	}
	return &domain.ConflictError{DocID: id, ExpectedRev: rev, ActualRev: actual}
}

// Update replaces a document if rev is still current.
func (s *DocumentStore) Update(ctx context.Context, doctype, id, rev string, body any) (*domain.Document, error) {
	_, stored, secret, err := splitBody(doctype, body)
	if err != nil {
		return nil, err
	}
	blob, clearSecret, err := s.sealSecret(doctype, id, secret)
	if err != nil {
		return nil, err
	}
	stored = withClearSecret(stored, clearSecret)

	now := s.clockFunc().UTC()
	doc := &domain.Document{ID: id, Rev: nextRev(rev), Doctype: doctype, Body: stored, UpdatedAt: now}
	err = s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE documents
			SET rev = $1, body = $2, secret = $3, updated_at = $4
			WHERE doctype = $5 AND id = $6 AND rev = $7
		`, doc.Rev, stored, blob, now, doctype, id, rev)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", doctype, id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return currentRev(ctx, tx, doctype, id, rev)
		}
		return publish(ctx, tx, domain.EventUpdated, doc)
	})
	if err != nil {
		return nil, err
	}
	doc.Body = withClearSecret(doc.Body, secret)
	return doc, nil
}

// Delete removes a document. An empty rev deletes unconditionally.
func (s *DocumentStore) Delete(ctx context.Context, doctype, id, rev string) error {
	return s.db.Transaction(ctx, func(tx *sql.Tx) error {
		var (
			oldRev string
			body   []byte
		)
		err := tx.QueryRowContext(ctx, `
			DELETE FROM documents
			WHERE doctype = $1 AND id = $2 AND ($3::text = '' OR rev = $3)
			RETURNING rev, body
		`, doctype, id, rev).Scan(&oldRev, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return currentRev(ctx, tx, doctype, id, rev)
		}
		if err != nil {
			return fmt.Errorf("delete %s %s: %w", doctype, id, err)
		}
		doc := &domain.Document{ID: id, Rev: oldRev, Doctype: doctype, Body: body, UpdatedAt: s.clockFunc().UTC()}
		return publish(ctx, tx, domain.EventDeleted, doc)
	})
}

// Query returns the documents whose body contains every selector entry,
// ordered by id.
func (s *DocumentStore) Query(ctx context.Context, doctype string, selector driven.Selector) ([]*domain.Document, error) {
	filter, err := selectorJSON(selector)
	if err != nil {
		return nil, fmt.Errorf("%w: selector: %v", domain.ErrInvalidInput, err)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rev, body, secret, updated_at
		FROM documents
		WHERE doctype = $1 AND body @> $2::jsonb
		ORDER BY id
	`, doctype, filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", doctype, err)
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		var (
			id, rev   string
			body      []byte
			secret    []byte
			updatedAt time.Time
		)
		if err := rows.Scan(&id, &rev, &body, &secret, &updatedAt); err != nil {
			return nil, err
		}
		doc, err := s.assemble(doctype, id, rev, body, secret, updatedAt)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Subscribe streams changes of doctype until ctx is done.
func (s *DocumentStore) Subscribe(ctx context.Context, doctype string) (<-chan domain.DocumentEvent, error) {
	if s.events == nil {
		return nil, fmt.Errorf("subscribe %s: %w", doctype, domain.ErrServiceUnavailable)
	}
	return s.events.Subscribe(ctx, doctype)
}
