// Package repository defines persistence interfaces implemented by the
// PostgreSQL layer and by test fakes.
package repository

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/model"
)

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	FolderID uuid.NullUUID
	Search   string // matches name, description, tags
	Status   model.DocumentStatus
}

// MetadataUpdate carries the mutable metadata fields. Nil pointers mean
// "leave unchanged".
type MetadataUpdate struct {
	Name        *string
	Description *string
	FolderID    *uuid.NullUUID
	Tags        *[]string
}

// DocumentRepository provides access to documents and their embedded access
// rules and share grants. Default projections exclude key material.
type DocumentRepository interface {
	// Create inserts a new document record including key material.
	Create(ctx context.Context, doc *model.Document) error

	// Get returns a document without its key/IV.
	Get(ctx context.Context, id uuid.UUID) (*model.Document, error)

	// GetWithKeys returns a document including its key/IV. Callers must
	// request key material explicitly; no other read path exposes it.
	GetWithKeys(ctx context.Context, id uuid.UUID) (*model.Document, error)

	// List returns documents the user owns or that are shared with them.
	List(ctx context.Context, userID uuid.UUID, f DocumentFilter) ([]model.Document, error)

	// UpdateMetadata applies a metadata edit, incrementing version by exactly
	// one. Fails with ErrConflict when baseVersion no longer matches.
	UpdateMetadata(ctx context.Context, id uuid.UUID, baseVersion int64, upd MetadataUpdate) (*model.Document, error)

	// Delete removes the document record.
	Delete(ctx context.Context, id uuid.UUID) error

	// SetStatus changes the lifecycle status (archive/restore).
	SetStatus(ctx context.Context, id uuid.UUID, status model.DocumentStatus) error

	// SetShareGrant adds or updates the grant for grant.UserID in place.
	SetShareGrant(ctx context.Context, docID uuid.UUID, grant model.ShareGrant) error

	// RemoveShareGrant removes the grant for the given user, if present.
	RemoveShareGrant(ctx context.Context, docID, userID uuid.UUID) error

	// SetAccessRules replaces the document's access rule list.
	SetAccessRules(ctx context.Context, docID uuid.UUID, rules []model.AccessRule) error

	// CountInFolder reports how many documents reference the folder.
	CountInFolder(ctx context.Context, folderID uuid.UUID) (int64, error)
}
