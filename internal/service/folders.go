package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/Youssef-f/Docsecure-backend/internal/audit"
	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
	"github.com/Youssef-f/Docsecure-backend/internal/repository"
)

// FolderService manages the folder tree. Folders form a forest per owner;
// structural invariants (no cycles, delete only when empty) are enforced
// transactionally by the repository.
type FolderService interface {
	// Create makes a folder, optionally under a parent the caller owns.
	Create(ctx context.Context, p model.Principal, name string, parentID uuid.NullUUID) (*model.Folder, error)
	// Get returns one folder the caller owns.
	Get(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Folder, error)
	// List returns the caller's folders ordered by path.
	List(ctx context.Context, p model.Principal) ([]model.Folder, error)
	// Rename changes a folder's name and recomputes its path.
	Rename(ctx context.Context, p model.Principal, id uuid.UUID, name string) (*model.Folder, error)
	// Move reparents a folder. Moving under itself or a descendant fails
	// with ErrConflict.
	Move(ctx context.Context, p model.Principal, id uuid.UUID, newParent uuid.NullUUID) (*model.Folder, error)
	// Delete removes an empty folder. A folder with children or documents
	// fails with ErrConflict.
	Delete(ctx context.Context, p model.Principal, id uuid.UUID) error
}

type FolderServiceImpl struct {
	folders repository.FolderRepository
	trail   *audit.Service
	log     *zap.Logger
	now     func() time.Time
}

// NewFolderService constructs the folder service.
func NewFolderService(folders repository.FolderRepository, trail *audit.Service, log *zap.Logger, now func() time.Time) *FolderServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &FolderServiceImpl{folders: folders, trail: trail, log: log, now: now}
}

// Create makes a folder. The path is the parent's path plus the name; root
// folders get "/<name>".
func (s *FolderServiceImpl) Create(ctx context.Context, p model.Principal, name string, parentID uuid.NullUUID) (*model.Folder, error) {
	if p.UserID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	if err := validFolderName(name); err != nil {
		return nil, err
	}
	parentPath := ""
	if parentID.Valid {
		parent, err := s.ownedFolder(ctx, p, parentID.UUID)
		if err != nil {
			return nil, err
		}
		parentPath = parent.Path
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	nowT := s.now()
	f := &model.Folder{
		ID:        id,
		Name:      name,
		Path:      parentPath + "/" + name,
		OwnerID:   p.UserID,
		ParentID:  parentID,
		Status:    model.StatusActive,
		CreatedAt: nowT,
		UpdatedAt: nowT,
	}
	if err := s.folders.Create(ctx, f); err != nil {
		return nil, err
	}
	s.audit(ctx, p, audit.ActionFolderCreate, nullID(id), audit.StatusSuccess,
		audit.Details{"name": audit.S(name), "path": audit.S(f.Path)})
	return f, nil
}

// Get returns one folder the caller owns.
func (s *FolderServiceImpl) Get(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Folder, error) {
	return s.ownedFolder(ctx, p, id)
}

// List returns the caller's folders.
func (s *FolderServiceImpl) List(ctx context.Context, p model.Principal) ([]model.Folder, error) {
	if p.UserID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	return s.folders.ListByOwner(ctx, p.UserID)
}

// Rename changes the folder's name, rebuilding its path from the parent.
func (s *FolderServiceImpl) Rename(ctx context.Context, p model.Principal, id uuid.UUID, name string) (*model.Folder, error) {
	if err := validFolderName(name); err != nil {
		return nil, err
	}
	f, err := s.ownedFolder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	newPath, err := s.childPath(ctx, p, f.ParentID, name)
	if err != nil {
		return nil, err
	}
	if err := s.folders.Rename(ctx, id, name, newPath); err != nil {
		return nil, err
	}
	s.audit(ctx, p, audit.ActionFolderEdit, nullID(id), audit.StatusSuccess,
		audit.Details{"name": audit.S(name), "path": audit.S(newPath)})
	f.Name, f.Path = name, newPath
	return f, nil
}

// Move reparents the folder.
func (s *FolderServiceImpl) Move(ctx context.Context, p model.Principal, id uuid.UUID, newParent uuid.NullUUID) (*model.Folder, error) {
	f, err := s.ownedFolder(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if newParent.Valid && newParent.UUID == id {
		return nil, fmt.Errorf("folder cannot be its own parent: %w", errs.ErrConflict)
	}
	newPath, err := s.childPath(ctx, p, newParent, f.Name)
	if err != nil {
		return nil, err
	}
	if err := s.folders.Move(ctx, id, newParent, newPath); err != nil {
		return nil, err
	}
	s.audit(ctx, p, audit.ActionFolderEdit, nullID(id), audit.StatusSuccess,
		audit.Details{"path": audit.S(newPath), "moved": audit.B(true)})
	f.ParentID, f.Path = newParent, newPath
	return f, nil
}

// Delete removes an empty folder.
func (s *FolderServiceImpl) Delete(ctx context.Context, p model.Principal, id uuid.UUID) error {
	f, err := s.ownedFolder(ctx, p, id)
	if err != nil {
		return err
	}
	if err := s.folders.DeleteEmpty(ctx, id); err != nil {
		return err
	}
	s.audit(ctx, p, audit.ActionFolderDelete, nullID(id), audit.StatusSuccess,
		audit.Details{"name": audit.S(f.Name)})
	return nil
}

// ownedFolder fetches a folder and hides its existence from non-owners.
func (s *FolderServiceImpl) ownedFolder(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Folder, error) {
	if p.UserID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	if id == uuid.Nil {
		return nil, errors.New("validation: empty id")
	}
	f, err := s.folders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if f.OwnerID != p.UserID {
		return nil, errs.ErrNotFound
	}
	return f, nil
}

func (s *FolderServiceImpl) childPath(ctx context.Context, p model.Principal, parentID uuid.NullUUID, name string) (string, error) {
	if !parentID.Valid {
		return "/" + name, nil
	}
	parent, err := s.ownedFolder(ctx, p, parentID.UUID)
	if err != nil {
		return "", err
	}
	return parent.Path + "/" + name, nil
}

func validFolderName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty folder name", errs.ErrValidation)
	}
	if strings.ContainsAny(name, "/\x00") {
		return fmt.Errorf("%w: folder name must not contain separators", errs.ErrValidation)
	}
	return nil
}

func (s *FolderServiceImpl) audit(ctx context.Context, p model.Principal, action audit.Action, rid uuid.NullUUID, status audit.Status, details audit.Details) {
	if s.trail == nil {
		return
	}
	s.trail.Record(ctx, audit.Entry{
		UserID:       p.UserID,
		Action:       action,
		ResourceType: audit.ResourceFolder,
		ResourceID:   rid,
		Status:       status,
		Details:      details,
		IPAddress:    p.IP,
	})
}
