package service

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/audit"
	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
	"github.com/Youssef-f/Docsecure-backend/internal/repository"
	"github.com/Youssef-f/Docsecure-backend/internal/storage"
)

/************ fake document repo ************/

type fakeDocRepo struct {
	mu        sync.Mutex
	docs      map[uuid.UUID]*model.Document
	createErr error
	updateErr error
}

var _ repository.DocumentRepository = (*fakeDocRepo)(nil)

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: map[uuid.UUID]*model.Document{}}
}

func (f *fakeDocRepo) put(d *model.Document) { f.docs[d.ID] = d }

func (f *fakeDocRepo) Create(_ context.Context, d *model.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *d
	f.docs[d.ID] = &cp
	return nil
}

func (f *fakeDocRepo) Get(_ context.Context, id uuid.UUID) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *d
	cp.Key, cp.IV = nil, nil
	return &cp, nil
}

func (f *fakeDocRepo) GetWithKeys(_ context.Context, id uuid.UUID) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocRepo) List(_ context.Context, userID uuid.UUID, flt repository.DocumentFilter) ([]model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := flt.Status
	if status == "" {
		status = model.StatusActive
	}
	var out []model.Document
	for _, d := range f.docs {
		if d.Status != status {
			continue
		}
		visible := d.OwnerID == userID
		if !visible {
			_, visible = d.GrantFor(userID)
		}
		if visible {
			cp := *d
			cp.Key, cp.IV = nil, nil
			out = append(out, cp)
		}
	}
	return out, nil
}

func (f *fakeDocRepo) UpdateMetadata(_ context.Context, id uuid.UUID, baseVersion int64, upd repository.MetadataUpdate) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	d, ok := f.docs[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	if d.Version != baseVersion {
		return nil, fmt.Errorf("version %d gone: %w", baseVersion, errs.ErrConflict)
	}
	if upd.Name != nil {
		d.Name = *upd.Name
	}
	if upd.Description != nil {
		d.Description = *upd.Description
	}
	if upd.FolderID != nil {
		d.FolderID = *upd.FolderID
	}
	if upd.Tags != nil {
		d.Tags = *upd.Tags
	}
	d.Version++
	cp := *d
	cp.Key, cp.IV = nil, nil
	return &cp, nil
}

func (f *fakeDocRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.docs[id]; !ok {
		return errs.ErrNotFound
	}
	delete(f.docs, id)
	return nil
}

func (f *fakeDocRepo) SetStatus(_ context.Context, id uuid.UUID, status model.DocumentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return errs.ErrNotFound
	}
	d.Status = status
	return nil
}

func (f *fakeDocRepo) SetShareGrant(_ context.Context, docID uuid.UUID, grant model.ShareGrant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return errs.ErrNotFound
	}
	for i := range d.SharedWith {
		if d.SharedWith[i].UserID == grant.UserID {
			d.SharedWith[i] = grant
			return nil
		}
	}
	d.SharedWith = append(d.SharedWith, grant)
	return nil
}

func (f *fakeDocRepo) RemoveShareGrant(_ context.Context, docID, userID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return errs.ErrNotFound
	}
	keep := d.SharedWith[:0]
	for _, g := range d.SharedWith {
		if g.UserID != userID {
			keep = append(keep, g)
		}
	}
	d.SharedWith = keep
	return nil
}

func (f *fakeDocRepo) SetAccessRules(_ context.Context, docID uuid.UUID, rules []model.AccessRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[docID]
	if !ok {
		return errs.ErrNotFound
	}
	d.AccessRules = append([]model.AccessRule(nil), rules...)
	return nil
}

func (f *fakeDocRepo) CountInFolder(_ context.Context, folderID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, d := range f.docs {
		if d.FolderID.Valid && d.FolderID.UUID == folderID {
			n++
		}
	}
	return n, nil
}

/************ fake role repo ************/

type fakeRoleRepo struct {
	roles map[uuid.UUID][]model.Role
}

var _ repository.RoleRepository = (*fakeRoleRepo)(nil)

func (f *fakeRoleRepo) GetRolesForUser(_ context.Context, userID uuid.UUID) ([]model.Role, error) {
	if f.roles == nil {
		return nil, nil
	}
	return f.roles[userID], nil
}

/************ fake content store ************/

type fakeContent struct {
	mu     sync.Mutex
	blobs  map[string][]byte
	seq    int
	putErr error
	getErr error
	delErr error
}

var _ storage.ContentStore = (*fakeContent)(nil)

func newFakeContent() *fakeContent { return &fakeContent{blobs: map[string][]byte{}} }

func (f *fakeContent) Put(_ context.Context, name string, r io.Reader, _ int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return "", f.putErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.seq++
	loc := fmt.Sprintf("blob-%d-%s", f.seq, name)
	f.blobs[loc] = b
	return loc, nil
}

func (f *fakeContent) Get(_ context.Context, locator string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	b, ok := f.blobs[locator]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

func (f *fakeContent) Delete(_ context.Context, locator string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delErr != nil {
		return f.delErr
	}
	delete(f.blobs, locator)
	return nil
}

/************ fake audit store ************/

type fakeAuditStore struct {
	mu        sync.Mutex
	entries   []audit.Entry
	insertErr error
}

var _ audit.Store = (*fakeAuditStore)(nil)

func (f *fakeAuditStore) Insert(_ context.Context, e *audit.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.entries = append(f.entries, *e)
	return nil
}

func (f *fakeAuditStore) Query(_ context.Context, flt audit.Filter) ([]audit.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []audit.Entry
	for _, e := range f.entries {
		if flt.Action != "" && e.Action != flt.Action {
			continue
		}
		if flt.Status != "" && e.Status != flt.Status {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeAuditStore) StatsByAction(_ context.Context, _, _ time.Time) ([]audit.ActionStats, error) {
	return nil, nil
}

func (f *fakeAuditStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keep := f.entries[:0]
	var removed int64
	for _, e := range f.entries {
		if e.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		keep = append(keep, e)
	}
	f.entries = keep
	return removed, nil
}

// last returns the most recent recorded entry for an action.
func (f *fakeAuditStore) last(action audit.Action) (audit.Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.entries) - 1; i >= 0; i-- {
		if f.entries[i].Action == action {
			return f.entries[i], true
		}
	}
	return audit.Entry{}, false
}
