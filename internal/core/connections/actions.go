// Package connections folds trigger and job activity into a per-konnector
// connection status projection.
package connections

import "github.com/custodia-labs/collect-core/internal/core/domain"

// ActionType names a state transition. Values are shared with UI clients.
type ActionType string

const (
	ActionCreateConnection    ActionType = "CREATE_CONNECTION"
	ActionConnectionDeleted   ActionType = "CONNECTION_DELETED"
	ActionDeleteConnection    ActionType = "DELETE_CONNECTION"
	ActionEnqueueConnection   ActionType = "ENQUEUE_CONNECTION"
	ActionLaunchTrigger       ActionType = "LAUNCH_TRIGGER"
	ActionPurgeQueue          ActionType = "PURGE_QUEUE"
	ActionReceiveData         ActionType = "RECEIVE_DATA"
	ActionReceiveNewDocument  ActionType = "RECEIVE_NEW_DOCUMENT"
	ActionUpdateRunningStatus ActionType = "UPDATE_CONNECTION_RUNNING_STATUS"
	ActionUpdateError         ActionType = "UPDATE_CONNECTION_ERROR"
)

// Action is a state transition request.
type Action struct {
	Type    ActionType      `json:"type"`
	Trigger *domain.Trigger `json:"trigger,omitempty"`

	// FolderID accompanies CREATE_CONNECTION
	FolderID string `json:"folder,omitempty"`

	// IsRunning accompanies UPDATE_CONNECTION_RUNNING_STATUS
	IsRunning bool `json:"isRunning,omitempty"`

	// Error accompanies UPDATE_CONNECTION_ERROR
	Error string `json:"error,omitempty"`

	// Documents accompanies RECEIVE_DATA and RECEIVE_NEW_DOCUMENT.
	// Elements are *domain.Document, *domain.Trigger or *domain.Job;
	// anything else is ignored.
	Documents []any `json:"documents,omitempty"`
}

// CreateConnection records a new connection for trigger.
func CreateConnection(trigger *domain.Trigger, folderID string) Action {
	return Action{Type: ActionCreateConnection, Trigger: trigger, FolderID: folderID}
}

// DeleteConnection marks trigger as being deleted.
func DeleteConnection(trigger *domain.Trigger) Action {
	return Action{Type: ActionDeleteConnection, Trigger: trigger}
}

// ConnectionDeleted removes trigger from the state.
func ConnectionDeleted(trigger *domain.Trigger) Action {
	return Action{Type: ActionConnectionDeleted, Trigger: trigger}
}

// EnqueueConnection shows trigger in the queue.
func EnqueueConnection(trigger *domain.Trigger) Action {
	return Action{Type: ActionEnqueueConnection, Trigger: trigger}
}

// LaunchTrigger marks trigger as running.
func LaunchTrigger(trigger *domain.Trigger) Action {
	return Action{Type: ActionLaunchTrigger, Trigger: trigger}
}

// PurgeQueue empties the queue.
func PurgeQueue() Action {
	return Action{Type: ActionPurgeQueue}
}

// UpdateRunningStatus sets whether trigger is running.
func UpdateRunningStatus(trigger *domain.Trigger, running bool) Action {
	return Action{Type: ActionUpdateRunningStatus, Trigger: trigger, IsRunning: running}
}

// UpdateError records the failure of trigger's last run.
func UpdateError(trigger *domain.Trigger, err error) Action {
	a := Action{Type: ActionUpdateError, Trigger: trigger}
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// ReceiveData folds a queried batch of documents.
func ReceiveData(docs ...any) Action {
	return Action{Type: ActionReceiveData, Documents: docs}
}

// ReceiveNewDocument folds documents pushed by realtime.
func ReceiveNewDocument(docs ...any) Action {
	return Action{Type: ActionReceiveNewDocument, Documents: docs}
}
