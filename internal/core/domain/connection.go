package domain

// Folder is a directory in the user's storage.
type Folder struct {
	DocMeta

	Name         string      `json:"name"`
	Path         string      `json:"path"`
	DirID        string      `json:"dir_id,omitempty"`
	ReferencedBy []Reference `json:"referenced_by,omitempty"`
}

// Reference links a file to another document.
type Reference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PermissionSaveFolder is the scope name granting a konnector write access to its folder.
const PermissionSaveFolder = "saveFolder"

// PermissionRule grants access to a set of documents.
type PermissionRule struct {
	Type   string   `json:"type"`
	Values []string `json:"values,omitempty"`
	Verbs  []string `json:"verbs,omitempty"`
}

// Permission is the permission set of a konnector.
type Permission struct {
	DocMeta

	SourceID    string                    `json:"source_id"`
	Permissions map[string]PermissionRule `json:"permissions"`
}

// SaveFolderID returns the folder granted through saveFolder, if any.
func (p *Permission) SaveFolderID() string {
	if p == nil {
		return ""
	}
	rule, ok := p.Permissions[PermissionSaveFolder]
	if !ok || len(rule.Values) == 0 {
		return ""
	}
	return rule.Values[0]
}

// ConnectionStatus is the status of a konnector connection.
type ConnectionStatus string

const (
	StatusNone      ConnectionStatus = ""
	StatusConnected ConnectionStatus = "connected"
	StatusRunning   ConnectionStatus = "running"
	StatusErrored   ConnectionStatus = "errored"
	StatusEnqueued  ConnectionStatus = "enqueued"
	StatusDeleting  ConnectionStatus = "deleting"
)

// Connection accumulates what the connect workflow provisioned.
type Connection struct {
	Konnector  *Konnector  `json:"konnector"`
	Account    *Account    `json:"account,omitempty"`
	Folder     *Folder     `json:"folder,omitempty"`
	Permission *Permission `json:"permission,omitempty"`
	Trigger    *Trigger    `json:"trigger,omitempty"`
	Job        *Job        `json:"job,omitempty"`

	// Enqueued is set when the call returned before the workflow finished
	Enqueued bool `json:"enqueued"`

	// Error holds the message of the failure, if any
	Error string `json:"error,omitempty"`
}
