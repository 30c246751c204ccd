package mocks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/collect-core/internal/core/domain"
	"github.com/custodia-labs/collect-core/internal/core/ports/driven"
)

var _ driven.DocumentClient = (*MockDocumentClient)(nil)

// MockDocumentClient is an in-memory DocumentClient with realtime fan-out.
type MockDocumentClient struct {
	mu          sync.RWMutex
	docs        map[string]map[string]*domain.Document // doctype -> id -> doc
	subscribers map[string][]chan domain.DocumentEvent
	calls       map[string]int

	// Optional hooks, called before the in-memory behaviour
	CreateFn func(doctype string, body any) error
	UpdateFn func(doctype, id string) error
	DeleteFn func(doctype, id string) error
	QueryFn  func(doctype string, selector driven.Selector) error
}

// NewMockDocumentClient creates an empty document client.
func NewMockDocumentClient() *MockDocumentClient {
	return &MockDocumentClient{
		docs:        make(map[string]map[string]*domain.Document),
		subscribers: make(map[string][]chan domain.DocumentEvent),
		calls:       make(map[string]int),
	}
}

// Calls returns how often a method was invoked with a doctype, keyed "Method:doctype".
func (m *MockDocumentClient) Calls(method, doctype string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[method+":"+doctype]
}

func (m *MockDocumentClient) count(method, doctype string) {
	m.calls[method+":"+doctype]++
}

func nextRev(rev string) string {
	var n int
	_, _ = fmt.Sscanf(rev, "%d-", &n)
	return fmt.Sprintf("%d-%s", n+1, uuid.NewString()[:8])
}

func (m *MockDocumentClient) Create(ctx context.Context, doctype string, body any) (*domain.Document, error) {
	m.mu.Lock()
	m.count("Create", doctype)
	m.mu.Unlock()
	if m.CreateFn != nil {
		if err := m.CreateFn(doctype, body); err != nil {
			return nil, err
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	var meta domain.DocMeta
	_ = json.Unmarshal(raw, &meta)
	id := meta.ID
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	if _, exists := m.docs[doctype][id]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", doctype, id, domain.ErrAlreadyExists)
	}
	doc := &domain.Document{ID: id, Rev: nextRev(""), Doctype: doctype, Body: raw, UpdatedAt: time.Now()}
	m.put(doc)
	m.mu.Unlock()

	m.publish(domain.EventCreated, doc)
	return clone(doc), nil
}

// Put stores a document as-is, for seeding tests. Realtime subscribers are notified.
func (m *MockDocumentClient) Put(doctype, id string, body any) *domain.Document {
	raw, _ := json.Marshal(body)
	m.mu.Lock()
	rev := ""
	if old, ok := m.docs[doctype][id]; ok {
		rev = old.Rev
	}
	doc := &domain.Document{ID: id, Rev: nextRev(rev), Doctype: doctype, Body: raw, UpdatedAt: time.Now()}
	m.put(doc)
	m.mu.Unlock()

	kind := domain.EventUpdated
	if rev == "" {
		kind = domain.EventCreated
	}
	m.publish(kind, doc)
	return clone(doc)
}

func (m *MockDocumentClient) put(doc *domain.Document) {
	if m.docs[doc.Doctype] == nil {
		m.docs[doc.Doctype] = make(map[string]*domain.Document)
	}
	m.docs[doc.Doctype][doc.ID] = doc
}

func (m *MockDocumentClient) Get(ctx context.Context, doctype, id string) (*domain.Document, error) {
	m.mu.Lock()
	m.count("Get", doctype)
	doc, ok := m.docs[doctype][id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", doctype, id, domain.ErrNotFound)
	}
	return clone(doc), nil
}

func (m *MockDocumentClient) Update(ctx context.Context, doctype, id, rev string, body any) (*domain.Document, error) {
	m.mu.Lock()
	m.count("Update", doctype)
	m.mu.Unlock()
	if m.UpdateFn != nil {
		if err := m.UpdateFn(doctype, id); err != nil {
			return nil, err
		}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	current, ok := m.docs[doctype][id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%s %s: %w", doctype, id, domain.ErrNotFound)
	}
	if rev != current.Rev {
		m.mu.Unlock()
		return nil, &domain.ConflictError{DocID: id, ExpectedRev: rev, ActualRev: current.Rev}
	}
	doc := &domain.Document{ID: id, Rev: nextRev(rev), Doctype: doctype, Body: raw, UpdatedAt: time.Now()}
	m.put(doc)
	m.mu.Unlock()

	m.publish(domain.EventUpdated, doc)
	return clone(doc), nil
}

func (m *MockDocumentClient) Delete(ctx context.Context, doctype, id, rev string) error {
	m.mu.Lock()
	m.count("Delete", doctype)
	m.mu.Unlock()
	if m.DeleteFn != nil {
		if err := m.DeleteFn(doctype, id); err != nil {
			return err
		}
	}

	m.mu.Lock()
	current, ok := m.docs[doctype][id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%s %s: %w", doctype, id, domain.ErrNotFound)
	}
	if rev != "" && rev != current.Rev {
		m.mu.Unlock()
		return &domain.ConflictError{DocID: id, ExpectedRev: rev, ActualRev: current.Rev}
	}
	delete(m.docs[doctype], id)
	m.mu.Unlock()

	m.publish(domain.EventDeleted, current)
	return nil
}

func (m *MockDocumentClient) Query(ctx context.Context, doctype string, selector driven.Selector) ([]*domain.Document, error) {
	m.mu.Lock()
	m.count("Query", doctype)
	m.mu.Unlock()
	if m.QueryFn != nil {
		if err := m.QueryFn(doctype, selector); err != nil {
			return nil, err
		}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Document
	for _, doc := range m.docs[doctype] {
		if Matches(doc, selector) {
			out = append(out, clone(doc))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MockDocumentClient) Subscribe(ctx context.Context, doctype string) (<-chan domain.DocumentEvent, error) {
	ch := make(chan domain.DocumentEvent, 64)
	m.mu.Lock()
	m.subscribers[doctype] = append(m.subscribers[doctype], ch)
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		subs := m.subscribers[doctype]
		for i, c := range subs {
			if c == ch {
				m.subscribers[doctype] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

func (m *MockDocumentClient) publish(kind domain.EventKind, doc *domain.Document) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ch := range m.subscribers[doc.Doctype] {
		select {
		case ch <- domain.DocumentEvent{Kind: kind, Document: clone(doc)}:
		default:
		}
	}
}

// All returns every stored document of a doctype, ordered by id.
func (m *MockDocumentClient) All(doctype string) []*domain.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Document, 0, len(m.docs[doctype]))
	for _, doc := range m.docs[doctype] {
		out = append(out, clone(doc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func clone(d *domain.Document) *domain.Document {
	c := *d
	c.Body = bytes.Clone(d.Body)
	return &c
}

// Matches reports whether doc satisfies every selector entry.
func Matches(doc *domain.Document, selector driven.Selector) bool {
	if len(selector) == 0 {
		return true
	}
	var body map[string]any
	if err := json.Unmarshal(doc.Body, &body); err != nil {
		return false
	}
	for path, want := range selector {
		var got any = body
		for _, part := range strings.Split(path, ".") {
			obj, ok := got.(map[string]any)
			if !ok {
				return false
			}
			got = obj[part]
		}
		gotJSON, _ := json.Marshal(got)
		wantJSON, _ := json.Marshal(want)
		if !bytes.Equal(gotJSON, wantJSON) {
			return false
		}
	}
	return true
}
