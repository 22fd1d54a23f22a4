package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/model"
)

// FolderRepository provides access to folders. Structural checks (no cycles,
// no children on delete) are evaluated and acted on inside one transaction.
type FolderRepository interface {
	// Create inserts a new folder.
	Create(ctx context.Context, f *model.Folder) error

	// Get returns a folder by id.
	Get(ctx context.Context, id uuid.UUID) (*model.Folder, error)

	// ListByOwner returns the owner's folders ordered by path.
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Folder, error)

	// Rename updates the folder name and path.
	Rename(ctx context.Context, id uuid.UUID, name, path string) error

	// Move reparents the folder. Fails with ErrConflict when the new parent
	// is the folder itself or one of its descendants (cycle); the check and
	// the update run in the same transaction.
	Move(ctx context.Context, id uuid.UUID, newParent uuid.NullUUID, newPath string) error

	// DeleteEmpty deletes the folder only when it has no child folders and no
	// documents reference it, both verified transactionally with the delete.
	// Fails with ErrConflict otherwise.
	DeleteEmpty(ctx context.Context, id uuid.UUID) error
}

// RoleRepository resolves the roles held by a user.
type RoleRepository interface {
	// GetRolesForUser returns all roles assigned to the user.
	GetRolesForUser(ctx context.Context, userID uuid.UUID) ([]model.Role, error)
}
