package connections

import (
	"fmt"
	"maps"
	"time"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// TriggerState is the status of one connection, keyed by trigger id.
type TriggerState struct {
	Account       string     `json:"account,omitempty"`
	Error         string     `json:"error,omitempty"`
	HasError      bool       `json:"hasError"`
	IsRunning     bool       `json:"isRunning"`
	IsConnected   bool       `json:"isConnected"`
	IsEnqueued    bool       `json:"isEnqueued"`
	IsDeleting    bool       `json:"isDeleting"`
	LastExecution *time.Time `json:"lastExecution,omitempty"`
}

// KonnectorState groups the connections of one konnector.
type KonnectorState struct {
	Triggers map[string]TriggerState `json:"triggers"`
}

// State maps konnector slugs to their connections.
// A State is never mutated once returned by Reduce.
type State map[string]KonnectorState

// Reduce applies a to state and returns the new state. Actions that reference a
// trigger without an id, konnector or account fail with domain.ErrMalformedAction
// and leave state untouched. Unknown action types are ignored.
func Reduce(state State, a Action) (State, error) {
	if state == nil {
		state = State{}
	}

	switch a.Type {
	case ActionCreateConnection, ActionConnectionDeleted, ActionDeleteConnection,
		ActionEnqueueConnection, ActionLaunchTrigger, ActionUpdateRunningStatus, ActionUpdateError:
		if err := a.Trigger.Validate(); err != nil {
			return state, fmt.Errorf("%s: %w", a.Type, err)
		}
		return reduceTrigger(state, a), nil

	case ActionReceiveData, ActionReceiveNewDocument:
		next := state
		copied := false
		for _, raw := range a.Documents {
			obs, ok := observe(raw)
			if !ok {
				continue
			}
			if !copied {
				next = maps.Clone(state)
				copied = true
			}
			next.apply(obs)
		}
		return next, nil

	case ActionPurgeQueue:
		next := make(State, len(state))
		for slug, ks := range state {
			triggers := make(map[string]TriggerState, len(ks.Triggers))
			for id, ts := range ks.Triggers {
				ts.IsEnqueued = false
				triggers[id] = ts
			}
			next[slug] = KonnectorState{Triggers: triggers}
		}
		return next, nil
	}

	return state, nil
}

func reduceTrigger(state State, a Action) State {
	slug := a.Trigger.KonnectorSlug()
	id := a.Trigger.ID

	next := maps.Clone(state)
	triggers := maps.Clone(next[slug].Triggers)
	if triggers == nil {
		triggers = map[string]TriggerState{}
	}
	ts := triggers[id]

	switch a.Type {
	case ActionConnectionDeleted:
		delete(triggers, id)
		next[slug] = KonnectorState{Triggers: triggers}
		return next
	case ActionCreateConnection:
		ts.Account = a.Trigger.AccountID()
	case ActionDeleteConnection:
		ts.IsDeleting = true
	case ActionEnqueueConnection:
		ts.IsEnqueued = true
	case ActionLaunchTrigger:
		ts.Account = a.Trigger.AccountID()
		ts.IsRunning = true
	case ActionUpdateRunningStatus:
		ts.IsRunning = a.IsRunning
	case ActionUpdateError:
		ts.Error = a.Error
		ts.HasError = a.Error != ""
		if ts.HasError {
			ts.IsConnected = false
			ts.IsRunning = false
		}
	}

	triggers[id] = ts
	next[slug] = KonnectorState{Triggers: triggers}
	return next
}

// observation is the status-relevant part of a trigger or job document.
type observation struct {
	slug          string
	triggerID     string
	account       string
	status        domain.JobState
	err           string
	lastExecution *time.Time
}

func observe(raw any) (observation, bool) {
	switch doc := raw.(type) {
	case *domain.Document:
		if doc == nil {
			return observation{}, false
		}
		switch doc.Doctype {
		case domain.DoctypeTriggers:
			t, err := domain.DecodeAs[domain.Trigger](doc)
			if err != nil {
				return observation{}, false
			}
			return observe(t)
		case domain.DoctypeJobs:
			j, err := domain.DecodeAs[domain.Job](doc)
			if err != nil {
				return observation{}, false
			}
			return observe(j)
		}
	case *domain.Trigger:
		if doc == nil || doc.KonnectorSlug() == "" || doc.ID == "" || doc.CurrentState == nil {
			return observation{}, false
		}
		if doc.CurrentState.Status == "" {
			return observation{}, false
		}
		return observation{
			slug:          doc.KonnectorSlug(),
			triggerID:     doc.ID,
			account:       doc.AccountID(),
			status:        doc.CurrentState.Status,
			err:           doc.CurrentState.LastError,
			lastExecution: doc.CurrentState.LastExecution,
		}, true
	case *domain.Job:
		if !doc.IsKonnectorJob() || doc.KonnectorSlug() == "" || doc.TriggerID == "" || doc.State == "" {
			return observation{}, false
		}
		return observation{
			slug:          doc.KonnectorSlug(),
			triggerID:     doc.TriggerID,
			status:        doc.State,
			err:           doc.Error,
			lastExecution: doc.StartedAt,
		}, true
	}
	return observation{}, false
}

// apply mutates s in place; s must already be a private copy.
func (s State) apply(o observation) {
	triggers := maps.Clone(s[o.slug].Triggers)
	if triggers == nil {
		triggers = map[string]TriggerState{}
	}
	ts := triggers[o.triggerID]
	if o.account != "" {
		ts.Account = o.account
	}
	ts.Error = o.err
	ts.HasError = o.err != "" || o.status == domain.JobErrored
	ts.IsRunning = o.status.IsActive()
	ts.IsConnected = o.err == "" && o.status == domain.JobDone
	if o.lastExecution != nil {
		ts.LastExecution = o.lastExecution
	}
	triggers[o.triggerID] = ts
	s[o.slug] = KonnectorState{Triggers: triggers}
}
