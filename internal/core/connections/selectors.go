package connections

import (
	"slices"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// QueueStatus is the state shown by the queue widget.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueOngoing QueueStatus = "ongoing"
	QueueDone    QueueStatus = "done"
	QueueError   QueueStatus = "error"
)

// QueueItem is one enqueued connection.
type QueueItem struct {
	Slug      string      `json:"slug"`
	TriggerID string      `json:"triggerId"`
	Label     string      `json:"label"`
	Status    QueueStatus `json:"status"`
	Icon      string      `json:"icon,omitempty"`
}

// Connection is a flattened view of one trigger's state.
type Connection struct {
	Slug      string `json:"slug"`
	TriggerID string `json:"triggerId"`
	TriggerState
	Projection domain.ConnectionStatus `json:"status"`
}

// KonnectorLookup resolves catalogue konnectors by slug.
type KonnectorLookup func(slug string) *domain.Konnector

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Status projects a single trigger state.
func (ts TriggerState) Status() domain.ConnectionStatus {
	switch {
	case ts.IsDeleting:
		return domain.StatusDeleting
	case ts.IsRunning:
		return domain.StatusRunning
	case ts.IsConnected:
		return domain.StatusConnected
	case ts.HasError:
		return domain.StatusErrored
	case ts.IsEnqueued:
		return domain.StatusEnqueued
	}
	return domain.StatusNone
}

// ConnectionStatus returns the status of the first trigger of slug whose
// account is in accountIDs. Triggers are visited in id order.
func ConnectionStatus(s State, slug string, accountIDs []string) domain.ConnectionStatus {
	triggers := s[slug].Triggers
	for _, id := range sortedKeys(triggers) {
		ts := triggers[id]
		if !slices.Contains(accountIDs, ts.Account) {
			continue
		}
		if status := ts.Status(); status != domain.StatusNone && status != domain.StatusEnqueued {
			return status
		}
		return domain.StatusErrored
	}
	return domain.StatusNone
}

// KonnectorConnectedAccount returns the account of the first connected
// trigger of slug, falling back to the first known account.
func KonnectorConnectedAccount(s State, slug string) string {
	triggers := s[slug].Triggers
	var fallback string
	for _, id := range sortedKeys(triggers) {
		ts := triggers[id]
		if ts.IsConnected && ts.Account != "" {
			return ts.Account
		}
		if fallback == "" {
			fallback = ts.Account
		}
	}
	return fallback
}

func lookup(s State, t *domain.Trigger) (TriggerState, bool) {
	if t == nil {
		return TriggerState{}, false
	}
	ts, ok := s[t.KonnectorSlug()].Triggers[t.ID]
	return ts, ok
}

// ConnectionError returns the last error recorded for trigger.
func ConnectionError(s State, t *domain.Trigger) string {
	ts, _ := lookup(s, t)
	return ts.Error
}

// TriggerAccount returns the account bound to trigger.
func TriggerAccount(s State, t *domain.Trigger) string {
	if ts, ok := lookup(s, t); ok && ts.Account != "" {
		return ts.Account
	}
	return t.AccountID()
}

// TriggerLastExecution returns when trigger last ran.
func TriggerLastExecution(s State, t *domain.Trigger) *time.Time {
	if ts, ok := lookup(s, t); ok && ts.LastExecution != nil {
		return ts.LastExecution
	}
	if t != nil && t.CurrentState != nil {
		return t.CurrentState.LastExecution
	}
	return nil
}

func IsConnectionConnected(s State, t *domain.Trigger) bool {
	ts, _ := lookup(s, t)
	return ts.IsConnected
}

func IsConnectionDeleting(s State, t *domain.Trigger) bool {
	ts, _ := lookup(s, t)
	return ts.IsDeleting
}

func IsConnectionEnqueued(s State, t *domain.Trigger) bool {
	ts, _ := lookup(s, t)
	return ts.IsEnqueued
}

func IsConnectionRunning(s State, t *domain.Trigger) bool {
	ts, _ := lookup(s, t)
	return ts.IsRunning
}

func queueStatus(ts TriggerState) QueueStatus {
	switch {
	case ts.IsRunning:
		return QueueOngoing
	case ts.HasError:
		return QueueError
	case ts.IsConnected:
		return QueueDone
	}
	return QueuePending
}

// Queue lists enqueued connections ordered by slug then trigger id.
func Queue(s State, konnectors KonnectorLookup) []QueueItem {
	items := []QueueItem{}
	for _, slug := range sortedKeys(s) {
		triggers := s[slug].Triggers
		var k *domain.Konnector
		if konnectors != nil {
			k = konnectors(slug)
		}
		for _, id := range sortedKeys(triggers) {
			ts := triggers[id]
			if !ts.IsEnqueued {
				continue
			}
			item := QueueItem{Slug: slug, TriggerID: id, Label: slug, Status: queueStatus(ts)}
			if k != nil {
				item.Label = k.Name
				item.Icon = k.Icon
			}
			items = append(items, item)
		}
	}
	return items
}

// ConfiguredKonnectors returns the slugs having at least one non-idle
// connection bound to one of accountIDs.
func ConfiguredKonnectors(s State, accountIDs []string) []string {
	var slugs []string
	for _, slug := range sortedKeys(s) {
		for _, ts := range s[slug].Triggers {
			if !slices.Contains(accountIDs, ts.Account) {
				continue
			}
			if ts.IsConnected || ts.IsRunning || ts.IsEnqueued || ts.HasError {
				slugs = append(slugs, slug)
				break
			}
		}
	}
	return slugs
}

// ConnectionsStatuses returns the status of each slug, in order.
func ConnectionsStatuses(s State, slugs []string, accountIDs []string) []domain.ConnectionStatus {
	out := make([]domain.ConnectionStatus, len(slugs))
	for i, slug := range slugs {
		out[i] = ConnectionStatus(s, slug, accountIDs)
	}
	return out
}

// Connections flattens the state, optionally restricted to one konnector.
func Connections(s State, slug string) []Connection {
	var out []Connection
	for _, sl := range sortedKeys(s) {
		if slug != "" && sl != slug {
			continue
		}
		triggers := s[sl].Triggers
		for _, id := range sortedKeys(triggers) {
			ts := triggers[id]
			out = append(out, Connection{Slug: sl, TriggerID: id, TriggerState: ts, Projection: ts.Status()})
		}
	}
	return out
}

// TriggerIDFor returns the trigger bound to (slug, accountID), if any.
func TriggerIDFor(s State, slug, accountID string) string {
	triggers := s[slug].Triggers
	for _, id := range sortedKeys(triggers) {
		if triggers[id].Account == accountID {
			return id
		}
	}
	return ""
}
