// Package service implements the application operations over documents,
// folders, and share links: validation, access resolution, encryption
// orchestration, and audit recording.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/Youssef-f/Docsecure-backend/internal/access"
	"github.com/Youssef-f/Docsecure-backend/internal/audit"
	"github.com/Youssef-f/Docsecure-backend/internal/crypto"
	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
	"github.com/Youssef-f/Docsecure-backend/internal/repository"
	"github.com/Youssef-f/Docsecure-backend/internal/storage"
)

// MaxUploadSize is the per-document content cap.
const MaxUploadSize = 10 << 20 // 10 MiB

// allowedContentTypes is the closed set of accepted upload MIME types.
var allowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-powerpoint":                                     true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// UploadInput carries a new document's metadata and plaintext content.
type UploadInput struct {
	Name        string
	Description string
	ContentType string
	FolderID    uuid.NullUUID
	Tags        []string
	Content     []byte
}

// DocumentService defines the document lifecycle: encrypted upload, gated
// reads, versioned metadata edits, sharing, and deletion.
type DocumentService interface {
	// Upload encrypts content under a fresh key/IV pair, stores the
	// ciphertext, and creates the document record.
	Upload(ctx context.Context, p model.Principal, in UploadInput) (*model.Document, error)
	// GetMetadata returns document metadata when the principal has at least
	// view access; otherwise the document appears not to exist.
	GetMetadata(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Document, error)
	// ReadContent returns the decrypted content as an ephemeral reader.
	// Requires read access. Callers must Close the reader.
	ReadContent(ctx context.Context, p model.Principal, id uuid.UUID) (io.ReadCloser, *model.Document, error)
	// UpdateMetadata applies a metadata edit with optimistic concurrency.
	// Requires write access; version increments by exactly one.
	UpdateMetadata(ctx context.Context, p model.Principal, id uuid.UUID, baseVersion int64, upd repository.MetadataUpdate) (*model.Document, error)
	// Delete removes the document and its ciphertext. Owner only.
	Delete(ctx context.Context, p model.Principal, id uuid.UUID) error
	// Share adds or updates a per-user grant. Owner only.
	Share(ctx context.Context, p model.Principal, docID uuid.UUID, grant model.ShareGrant) error
	// Unshare removes a user's grant. Owner only.
	Unshare(ctx context.Context, p model.Principal, docID, userID uuid.UUID) error
	// SetAccessRules replaces the document's access rule list. Owner only.
	SetAccessRules(ctx context.Context, p model.Principal, docID uuid.UUID, rules []model.AccessRule) error
	// List returns documents the principal owns or that are shared with them.
	List(ctx context.Context, p model.Principal, f repository.DocumentFilter) ([]model.Document, error)
	// Archive moves the document out of active listings. Owner only.
	Archive(ctx context.Context, p model.Principal, id uuid.UUID) error
	// Restore returns an archived document to active. Owner only.
	Restore(ctx context.Context, p model.Principal, id uuid.UUID) error
}

type DocumentServiceImpl struct {
	docs     repository.DocumentRepository
	roles    repository.RoleRepository
	content  storage.ContentStore
	resolver *access.Resolver
	trail    *audit.Service
	log      *zap.Logger
	tmpDir   string
	now      func() time.Time
}

// NewDocumentService constructs the document service. A nil logger becomes a
// no-op logger, a nil clock time.Now, an empty tmpDir the OS default.
func NewDocumentService(
	docs repository.DocumentRepository,
	roles repository.RoleRepository,
	content storage.ContentStore,
	resolver *access.Resolver,
	trail *audit.Service,
	log *zap.Logger,
	tmpDir string,
	now func() time.Time,
) *DocumentServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &DocumentServiceImpl{
		docs: docs, roles: roles, content: content,
		resolver: resolver, trail: trail,
		log: log, tmpDir: tmpDir, now: now,
	}
}

// Upload validates, encrypts, stores, and records a new document. On any
// failure after ciphertext storage the stored blob is removed so no orphaned
// ciphertext survives a failed upload.
func (s *DocumentServiceImpl) Upload(ctx context.Context, p model.Principal, in UploadInput) (*model.Document, error) {
	if p.UserID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	if in.Name == "" {
		s.auditFail(ctx, p, audit.ActionDocumentUpload, uuid.NullUUID{}, "empty name")
		return nil, fmt.Errorf("%w: empty name", errs.ErrValidation)
	}
	if len(in.Content) == 0 {
		s.auditFail(ctx, p, audit.ActionDocumentUpload, uuid.NullUUID{}, "empty content")
		return nil, fmt.Errorf("%w: empty content", errs.ErrValidation)
	}
	if len(in.Content) > MaxUploadSize {
		s.audit(ctx, p, audit.ActionDocumentUpload, audit.ResourceDocument, uuid.NullUUID{}, audit.StatusFailure,
			audit.Details{"reason": audit.S("size limit"), "size": audit.I(int64(len(in.Content)))})
		return nil, fmt.Errorf("%w: content exceeds %d bytes", errs.ErrValidation, MaxUploadSize)
	}
	if !allowedContentTypes[in.ContentType] {
		s.audit(ctx, p, audit.ActionDocumentUpload, audit.ResourceDocument, uuid.NullUUID{}, audit.StatusFailure,
			audit.Details{"reason": audit.S("content type"), "content_type": audit.S(in.ContentType)})
		return nil, fmt.Errorf("%w: unsupported content type %q", errs.ErrValidation, in.ContentType)
	}

	ciphertext, key, iv, err := crypto.EncryptBytes(in.Content)
	if err != nil {
		s.auditFail(ctx, p, audit.ActionDocumentUpload, uuid.NullUUID{}, "encrypt")
		return nil, err
	}

	locator, err := s.content.Put(ctx, in.Name, bytes.NewReader(ciphertext), int64(len(ciphertext)))
	if err != nil {
		s.auditFail(ctx, p, audit.ActionDocumentUpload, uuid.NullUUID{}, "store ciphertext")
		return nil, fmt.Errorf("store ciphertext: %w", err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		s.discard(ctx, locator)
		s.auditFail(ctx, p, audit.ActionDocumentUpload, uuid.NullUUID{}, "id generation")
		return nil, err
	}
	nowT := s.now()
	doc := &model.Document{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		OwnerID:     p.UserID,
		FolderID:    in.FolderID,
		ContentPath: locator,
		ContentType: in.ContentType,
		Size:        int64(len(in.Content)),
		Tags:        in.Tags,
		Version:     1,
		Status:      model.StatusActive,
		Encrypted:   true,
		Key:         key,
		IV:          iv,
		CreatedAt:   nowT,
		UpdatedAt:   nowT,
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		s.discard(ctx, locator)
		s.auditFail(ctx, p, audit.ActionDocumentUpload, uuid.NullUUID{}, "persist")
		return nil, fmt.Errorf("create document: %w", err)
	}

	s.audit(ctx, p, audit.ActionDocumentUpload, audit.ResourceDocument, nullID(id), audit.StatusSuccess,
		audit.Details{"name": audit.S(in.Name), "size": audit.I(doc.Size), "content_type": audit.S(in.ContentType)})
	return doc, nil
}

// GetMetadata returns the document when the principal may view it. A denied
// principal gets the same ErrNotFound as for a missing document, so existence
// never leaks through the error.
func (s *DocumentServiceImpl) GetMetadata(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Document, error) {
	doc, err := s.fetchGated(ctx, p, id, access.ActionView)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, p, audit.ActionDocumentView, audit.ResourceDocument, nullID(id), audit.StatusSuccess, nil)
	return doc, nil
}

// ReadContent decrypts the document into an ephemeral reader. The plaintext
// copy is deleted when the reader is closed.
func (s *DocumentServiceImpl) ReadContent(ctx context.Context, p model.Principal, id uuid.UUID) (io.ReadCloser, *model.Document, error) {
	if _, err := s.fetchGated(ctx, p, id, access.ActionDownload); err != nil {
		s.audit(ctx, p, audit.ActionDocumentDownload, audit.ResourceDocument, nullID(id), audit.StatusFailure, nil)
		return nil, nil, err
	}
	doc, err := s.docs.GetWithKeys(ctx, id)
	if err != nil {
		s.auditFail(ctx, p, audit.ActionDocumentDownload, nullID(id), "load")
		return nil, nil, err
	}
	rc, err := s.decrypt(ctx, doc)
	if err != nil {
		s.audit(ctx, p, audit.ActionDocumentDownload, audit.ResourceDocument, nullID(id), audit.StatusFailure,
			audit.Details{"reason": audit.S("decrypt")})
		return nil, nil, err
	}
	s.audit(ctx, p, audit.ActionDocumentDownload, audit.ResourceDocument, nullID(id), audit.StatusSuccess,
		audit.Details{"name": audit.S(doc.Name)})
	doc.Key, doc.IV = nil, nil
	return rc, doc, nil
}

// UpdateMetadata applies a metadata edit for principals with write access.
// Concurrent edits against the same base version fail with ErrConflict.
func (s *DocumentServiceImpl) UpdateMetadata(ctx context.Context, p model.Principal, id uuid.UUID, baseVersion int64, upd repository.MetadataUpdate) (*model.Document, error) {
	if baseVersion < 1 {
		return nil, fmt.Errorf("%w: base version must be positive", errs.ErrValidation)
	}
	if upd.Name != nil && *upd.Name == "" {
		return nil, fmt.Errorf("%w: empty name", errs.ErrValidation)
	}
	if _, err := s.fetchGated(ctx, p, id, access.ActionEdit); err != nil {
		return nil, err
	}
	doc, err := s.docs.UpdateMetadata(ctx, id, baseVersion, upd)
	if err != nil {
		if errors.Is(err, errs.ErrConflict) {
			s.audit(ctx, p, audit.ActionDocumentEdit, audit.ResourceDocument, nullID(id), audit.StatusFailure,
				audit.Details{"reason": audit.S("version conflict"), "base_version": audit.I(baseVersion)})
		} else {
			s.auditFail(ctx, p, audit.ActionDocumentEdit, nullID(id), "persist")
		}
		return nil, err
	}
	s.audit(ctx, p, audit.ActionDocumentEdit, audit.ResourceDocument, nullID(id), audit.StatusSuccess,
		audit.Details{"version": audit.I(doc.Version)})
	return doc, nil
}

// Delete removes the record and then the ciphertext. Ciphertext removal is
// best-effort: the record deletion is the authoritative act, and a stranded
// blob is unreadable without the key that just went away.
func (s *DocumentServiceImpl) Delete(ctx context.Context, p model.Principal, id uuid.UUID) error {
	doc, err := s.ownerGated(ctx, p, id)
	if err != nil {
		return err
	}
	if err := s.docs.Delete(ctx, id); err != nil {
		s.auditFail(ctx, p, audit.ActionDocumentDelete, nullID(id), "persist")
		return err
	}
	details := audit.Details{"name": audit.S(doc.Name)}
	if err := s.content.Delete(ctx, doc.ContentPath); err != nil {
		s.log.Warn("ciphertext removal failed",
			zap.String("document_id", id.String()), zap.Error(err))
		details["ciphertext_removed"] = audit.B(false)
	}
	s.audit(ctx, p, audit.ActionDocumentDelete, audit.ResourceDocument, nullID(id), audit.StatusSuccess, details)
	return nil
}

// Share upserts the per-user grant. At most one grant per user exists;
// re-sharing replaces level and expiry in place.
func (s *DocumentServiceImpl) Share(ctx context.Context, p model.Principal, docID uuid.UUID, grant model.ShareGrant) error {
	if grant.UserID == uuid.Nil {
		return fmt.Errorf("%w: empty grantee", errs.ErrValidation)
	}
	if !grant.AccessType.Valid() || grant.AccessType == model.PermAdmin {
		return fmt.Errorf("%w: bad access type %q", errs.ErrValidation, grant.AccessType)
	}
	if grant.ExpiresAt != nil && !grant.ExpiresAt.After(s.now()) {
		return fmt.Errorf("%w: expiry must be in the future", errs.ErrValidation)
	}
	if _, err := s.ownerGated(ctx, p, docID); err != nil {
		return err
	}
	if err := s.docs.SetShareGrant(ctx, docID, grant); err != nil {
		s.auditFail(ctx, p, audit.ActionDocumentShare, nullID(docID), "persist")
		return err
	}
	s.audit(ctx, p, audit.ActionDocumentShare, audit.ResourceDocument, nullID(docID), audit.StatusSuccess,
		audit.Details{"grantee": audit.S(grant.UserID.String()), "access_type": audit.S(string(grant.AccessType))})
	return nil
}

// Unshare removes a user's grant if present. Removing an absent grant is not
// an error.
func (s *DocumentServiceImpl) Unshare(ctx context.Context, p model.Principal, docID, userID uuid.UUID) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: empty grantee", errs.ErrValidation)
	}
	if _, err := s.ownerGated(ctx, p, docID); err != nil {
		return err
	}
	if err := s.docs.RemoveShareGrant(ctx, docID, userID); err != nil {
		s.auditFail(ctx, p, audit.ActionDocumentUnshare, nullID(docID), "persist")
		return err
	}
	s.audit(ctx, p, audit.ActionDocumentUnshare, audit.ResourceDocument, nullID(docID), audit.StatusSuccess,
		audit.Details{"grantee": audit.S(userID.String())})
	return nil
}

// SetAccessRules replaces the rule list wholesale. Expired rules are accepted
// and simply never match; they are excluded at evaluation, not purged.
func (s *DocumentServiceImpl) SetAccessRules(ctx context.Context, p model.Principal, docID uuid.UUID, rules []model.AccessRule) error {
	for i, r := range rules {
		if r.Value == "" {
			return fmt.Errorf("%w: rule[%d] empty value", errs.ErrValidation, i)
		}
		if !r.Permission.Valid() {
			return fmt.Errorf("%w: rule[%d] bad permission %q", errs.ErrValidation, i, r.Permission)
		}
		switch r.Type {
		case model.PrincipalUser, model.PrincipalRole, model.PrincipalIP:
		default:
			return fmt.Errorf("%w: rule[%d] bad type %q", errs.ErrValidation, i, r.Type)
		}
	}
	if _, err := s.ownerGated(ctx, p, docID); err != nil {
		return err
	}
	if err := s.docs.SetAccessRules(ctx, docID, rules); err != nil {
		s.auditFail(ctx, p, audit.ActionAccessRulesUpdate, nullID(docID), "persist")
		return err
	}
	s.audit(ctx, p, audit.ActionAccessRulesUpdate, audit.ResourceDocument, nullID(docID), audit.StatusSuccess,
		audit.Details{"rule_count": audit.I(int64(len(rules)))})
	return nil
}

// List returns documents visible in listings for the principal.
func (s *DocumentServiceImpl) List(ctx context.Context, p model.Principal, f repository.DocumentFilter) ([]model.Document, error) {
	if p.UserID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	return s.docs.List(ctx, p.UserID, f)
}

// Archive moves the document to archived status.
func (s *DocumentServiceImpl) Archive(ctx context.Context, p model.Principal, id uuid.UUID) error {
	return s.setStatus(ctx, p, id, model.StatusArchived)
}

// Restore returns an archived document to active status.
func (s *DocumentServiceImpl) Restore(ctx context.Context, p model.Principal, id uuid.UUID) error {
	return s.setStatus(ctx, p, id, model.StatusActive)
}

func (s *DocumentServiceImpl) setStatus(ctx context.Context, p model.Principal, id uuid.UUID, status model.DocumentStatus) error {
	if _, err := s.ownerGated(ctx, p, id); err != nil {
		return err
	}
	if err := s.docs.SetStatus(ctx, id, status); err != nil {
		s.auditFail(ctx, p, audit.ActionDocumentEdit, nullID(id), "persist")
		return err
	}
	s.audit(ctx, p, audit.ActionDocumentEdit, audit.ResourceDocument, nullID(id), audit.StatusSuccess,
		audit.Details{"status": audit.S(string(status))})
	return nil
}

// fetchGated loads the document and resolves the action. A missing document
// and a denied one both come back as ErrNotFound when the principal cannot
// even view it; a visible document with insufficient level yields ErrDenied.
func (s *DocumentServiceImpl) fetchGated(ctx context.Context, p model.Principal, id uuid.UUID, act access.Action) (*model.Document, error) {
	if p.UserID == uuid.Nil && p.IP == "" {
		return nil, errors.New("validation: empty principal")
	}
	if id == uuid.Nil {
		return nil, errors.New("validation: empty id")
	}
	doc, err := s.docs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	roles, err := s.rolesFor(ctx, p)
	if err != nil {
		return nil, err
	}
	if !s.resolver.CanPerform(p, access.ActionView, doc, roles) {
		return nil, errs.ErrNotFound
	}
	if act != access.ActionView && !s.resolver.CanPerform(p, act, doc, roles) {
		return nil, errs.ErrDenied
	}
	return doc, nil
}

// ownerGated loads the document for operations reserved to the owner.
func (s *DocumentServiceImpl) ownerGated(ctx context.Context, p model.Principal, id uuid.UUID) (*model.Document, error) {
	doc, err := s.fetchGated(ctx, p, id, access.ActionView)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != p.UserID {
		return nil, errs.ErrDenied
	}
	return doc, nil
}

func (s *DocumentServiceImpl) rolesFor(ctx context.Context, p model.Principal) ([]model.Role, error) {
	if s.roles == nil || p.UserID == uuid.Nil {
		return nil, nil
	}
	return s.roles.GetRolesForUser(ctx, p.UserID)
}

func (s *DocumentServiceImpl) decrypt(ctx context.Context, doc *model.Document) (io.ReadCloser, error) {
	ciphertext, err := s.content.Get(ctx, doc.ContentPath)
	if err != nil {
		return nil, fmt.Errorf("load ciphertext: %w", err)
	}
	return crypto.OpenDecrypted(s.tmpDir, ciphertext, doc.Key, doc.IV)
}

// discard removes a stored ciphertext blob after a failed upload.
func (s *DocumentServiceImpl) discard(ctx context.Context, locator string) {
	if err := s.content.Delete(ctx, locator); err != nil {
		s.log.Warn("orphaned ciphertext cleanup failed",
			zap.String("locator", locator), zap.Error(err))
	}
}

// auditFail records a failure entry with the reason the operation stopped.
// Failures past validation still leave exactly one trail entry.
func (s *DocumentServiceImpl) auditFail(ctx context.Context, p model.Principal, action audit.Action, rid uuid.NullUUID, reason string) {
	s.audit(ctx, p, action, audit.ResourceDocument, rid, audit.StatusFailure,
		audit.Details{"reason": audit.S(reason)})
}

func (s *DocumentServiceImpl) audit(
	ctx context.Context, p model.Principal,
	action audit.Action, rt audit.ResourceType, rid uuid.NullUUID,
	status audit.Status, details audit.Details,
) {
	if s.trail == nil {
		return
	}
	s.trail.Record(ctx, audit.Entry{
		UserID:       p.UserID,
		Action:       action,
		ResourceType: rt,
		ResourceID:   rid,
		Status:       status,
		Details:      details,
		IPAddress:    p.IP,
	})
}

func nullID(id uuid.UUID) uuid.NullUUID { return uuid.NullUUID{UUID: id, Valid: true} }
