package driven

import (
	"context"

	"github.com/custodia-labs/collect-core/internal/core/domain"
)

// FileService provisions folders in the user's storage.
type FileService interface {
	// CreateDirectoryByPath creates the directory and its missing parents.
	CreateDirectoryByPath(ctx context.Context, path string) (*domain.Folder, error)

	// UpdateAttributesByID renames or moves a file or folder.
	UpdateAttributesByID(ctx context.Context, id string, attrs FolderAttributes) (*domain.Folder, error)

	// AddReferencedBy records that doc references the folder.
	AddReferencedBy(ctx context.Context, folderID string, ref domain.Reference) error

	// RemoveReferencedBy drops a reference from the folder.
	RemoveReferencedBy(ctx context.Context, folderID string, ref domain.Reference) error
}

// FolderAttributes are the mutable attributes of a folder.
type FolderAttributes struct {
	Name string `json:"name,omitempty"`
	Path string `json:"path,omitempty"`
}

// PermissionService manages konnector permission sets.
type PermissionService interface {
	// PatchSaveFolder grants the konnector write access to folderID.
	// An empty folderID clears the saveFolder scope.
	PatchSaveFolder(ctx context.Context, konnectorSlug, folderID string) (*domain.Permission, error)
}
