package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// DocumentsChannel is the NOTIFY channel carrying document changes.
const DocumentsChannel = "collect_documents"

// maxNotifyPayload keeps payloads under the 8000 byte NOTIFY limit.
const maxNotifyPayload = 7900

// notification is the NOTIFY payload. Large bodies are left out and
// fetched by the listener.
type notification struct {
	Kind     domain.EventKind `json:"event"`
	Document *domain.Document `json:"doc"`
	Partial  bool             `json:"partial,omitempty"`
}

// publish sends a change notification. It is delivered when tx commits.
func publish(ctx context.Context, tx *sql.Tx, kind domain.EventKind, doc *domain.Document) error {
	payload, err := json.Marshal(notification{Kind: kind, Document: doc})
	if err != nil {
		return err
	}
	if len(payload) > maxNotifyPayload {
		stripped := *doc
		stripped.Body = nil
		if payload, err = json.Marshal(notification{Kind: kind, Document: &stripped, Partial: true}); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, DocumentsChannel, string(payload)); err != nil {
		return fmt.Errorf("notify %s: %w", doc.Doctype, err)
	}
	return nil
}

// Notifier fans out document notifications to per-doctype subscribers.
type Notifier struct {
	listener *pq.Listener
	fetch    func(ctx context.Context, doctype, id string) (*domain.Document, error)
	logger   *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]map[chan domain.DocumentEvent]struct{}
	done        chan struct{}
	closeOnce   sync.Once
}

// NewNotifier opens a dedicated LISTEN connection. Run must be called to
// start delivering events.
func NewNotifier(db *DB, logger *slog.Logger) (*Notifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		logger:      logger,
		subscribers: make(map[string]map[chan domain.DocumentEvent]struct{}),
		done:        make(chan struct{}),
	}
	n.listener = pq.NewListener(db.url, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventDisconnected:
			n.logger.Warn("realtime listener disconnected", "error", err)
		case pq.ListenerEventReconnected:
			n.logger.Info("realtime listener reconnected")
		case pq.ListenerEventConnectionAttemptFailed:
			n.logger.Warn("realtime listener connection failed", "error", err)
		}
	})
	if err := n.listener.Listen(DocumentsChannel); err != nil {
		n.listener.Close()
		return nil, fmt.Errorf("listen %s: %w", DocumentsChannel, err)
	}
	return n, nil
}

// AttachStore lets the notifier fetch bodies left out of large notifications.
func (n *Notifier) AttachStore(s *DocumentStore) {
	n.fetch = s.Get
}

// Run delivers notifications until ctx is done or Close is called.
func (n *Notifier) Run(ctx context.Context) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case <-ping.C:
			go func() {
				if err := n.listener.Ping(); err != nil {
					n.logger.Warn("realtime listener ping failed", "error", err)
				}
			}()
		case note := <-n.listener.Notify:
			// nil after a reconnect; changes made meanwhile are lost
			if note == nil {
				continue
			}
			n.handle(ctx, note.Extra)
		}
	}
}

func (n *Notifier) handle(ctx context.Context, payload string) {
	var note notification
	if err := json.Unmarshal([]byte(payload), &note); err != nil || note.Document == nil {
		n.logger.Warn("invalid realtime payload", "error", err)
		return
	}
	if note.Partial && note.Kind != domain.EventDeleted && n.fetch != nil {
		full, err := n.fetch(ctx, note.Document.Doctype, note.Document.ID)
		if err != nil {
			n.logger.Warn("failed to fetch notified document",
				"doctype", note.Document.Doctype, "id", note.Document.ID, "error", err)
			return
		}
		note.Document = full
	}
	n.Deliver(domain.DocumentEvent{Kind: note.Kind, Document: note.Document})
}

// Deliver sends ev to the subscribers of its doctype. Slow subscribers
// miss events rather than block the others.
func (n *Notifier) Deliver(ev domain.DocumentEvent) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for ch := range n.subscribers[ev.Document.Doctype] {
		select {
		case ch <- ev:
		default:
			n.logger.Warn("realtime subscriber lagging, event dropped",
				"doctype", ev.Document.Doctype, "id", ev.Document.ID)
		}
	}
}

// Subscribe registers a subscriber for doctype. The channel is closed
// when ctx is done.
func (n *Notifier) Subscribe(ctx context.Context, doctype string) (<-chan domain.DocumentEvent, error) {
	ch := make(chan domain.DocumentEvent, 64)
	n.mu.Lock()
	if n.subscribers[doctype] == nil {
		n.subscribers[doctype] = make(map[chan domain.DocumentEvent]struct{})
	}
	n.subscribers[doctype][ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-n.done:
		}
		n.mu.Lock()
		delete(n.subscribers[doctype], ch)
		n.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

// Close stops delivery and closes the LISTEN connection.
func (n *Notifier) Close() error {
	var err error
	n.closeOnce.Do(func() {
		close(n.done)
		if n.listener != nil {
			err = n.listener.Close()
		}
	})
	return err
}
