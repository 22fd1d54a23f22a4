package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/Youssef-f/Docsecure-backend/internal/audit"
	"github.com/Youssef-f/Docsecure-backend/internal/crypto"
	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/limiter"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
	"github.com/Youssef-f/Docsecure-backend/internal/repository"
	"github.com/Youssef-f/Docsecure-backend/internal/storage"
)

// tokenBytes is the entropy of a link token; tokens render as hex.
const tokenBytes = 32

// tokenRetries bounds the collision retry loop on token generation.
const tokenRetries = 5

// CreateLinkInput carries new link parameters. Expiry is mandatory; at least
// one of CanView/CanDownload must be set.
type CreateLinkInput struct {
	DocumentID   uuid.UUID
	ExpiresAt    time.Time
	Password     string // empty means no password
	MaxViews     *int
	MaxDownloads *int
	CanView      bool
	CanDownload  bool
}

// LinkRequest is one unauthenticated access attempt against a link.
type LinkRequest struct {
	Token     string
	Password  string
	IP        string
	UserAgent string
}

// LinkService manages token-addressed public access to single documents.
type LinkService interface {
	// Create issues a new link for a document. Owner only.
	Create(ctx context.Context, p model.Principal, in CreateLinkInput) (*model.SharedLink, error)
	// View validates the request as a view, consumes one view, and returns
	// the link plus document metadata.
	View(ctx context.Context, req LinkRequest) (*model.SharedLink, *model.Document, error)
	// Download validates the request as a download, consumes one download,
	// and returns the decrypted content. Callers must Close the reader.
	Download(ctx context.Context, req LinkRequest) (io.ReadCloser, *model.Document, error)
	// Deactivate turns a link off. Allowed for the document owner and the
	// link creator. Deactivation never deletes the link row.
	Deactivate(ctx context.Context, p model.Principal, token string) error
	// ListForDocument returns all links on a document, newest first. Owner only.
	ListForDocument(ctx context.Context, p model.Principal, docID uuid.UUID) ([]model.SharedLink, error)
}

type LinkServiceImpl struct {
	links    repository.SharedLinkRepository
	docs     repository.DocumentRepository
	content  storage.ContentStore
	trail    *audit.Service
	attempts limiter.Limiter
	log      *zap.Logger
	tmpDir   string
	now      func() time.Time
}

// NewLinkService constructs the link service. attempts may be nil to disable
// password attempt limiting (tests); nil logger and clock get defaults.
func NewLinkService(
	links repository.SharedLinkRepository,
	docs repository.DocumentRepository,
	content storage.ContentStore,
	trail *audit.Service,
	attempts limiter.Limiter,
	log *zap.Logger,
	tmpDir string,
	now func() time.Time,
) *LinkServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &LinkServiceImpl{
		links: links, docs: docs, content: content,
		trail: trail, attempts: attempts,
		log: log, tmpDir: tmpDir, now: now,
	}
}

// Create validates parameters, generates a globally unique token, and stores
// the link. Only the document owner may create links.
func (s *LinkServiceImpl) Create(ctx context.Context, p model.Principal, in CreateLinkInput) (*model.SharedLink, error) {
	if p.UserID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	if in.DocumentID == uuid.Nil {
		return nil, errors.New("validation: empty document id")
	}
	nowT := s.now()
	if !in.ExpiresAt.After(nowT) {
		return nil, fmt.Errorf("%w: expiry must be in the future", errs.ErrValidation)
	}
	if !in.CanView && !in.CanDownload {
		return nil, fmt.Errorf("%w: link must allow view or download", errs.ErrValidation)
	}
	if in.MaxViews != nil && *in.MaxViews < 1 {
		return nil, fmt.Errorf("%w: max views must be positive", errs.ErrValidation)
	}
	if in.MaxDownloads != nil && *in.MaxDownloads < 1 {
		return nil, fmt.Errorf("%w: max downloads must be positive", errs.ErrValidation)
	}

	doc, err := s.docs.Get(ctx, in.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != p.UserID {
		return nil, errs.ErrDenied
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	link := &model.SharedLink{
		ID:           id,
		DocumentID:   in.DocumentID,
		ExpiresAt:    in.ExpiresAt,
		MaxViews:     in.MaxViews,
		MaxDownloads: in.MaxDownloads,
		CanView:      in.CanView,
		CanDownload:  in.CanDownload,
		IsActive:     true,
		CreatedBy:    p.UserID,
		CreatedAt:    nowT,
	}
	if in.Password != "" {
		salt, err := crypto.RandBytes(crypto.SaltLen)
		if err != nil {
			return nil, err
		}
		link.PasswordSalt = salt
		link.PasswordHash = crypto.HashPassword([]byte(in.Password), salt)
	}

	// Token generation retries on the rare collision; uniqueness is still
	// enforced by the database constraint.
	for attempt := 0; ; attempt++ {
		raw, err := crypto.RandBytes(tokenBytes)
		if err != nil {
			return nil, err
		}
		link.Token = hex.EncodeToString(raw)
		taken, err := s.links.TokenExists(ctx, link.Token)
		if err != nil {
			return nil, err
		}
		if !taken {
			err = s.links.Create(ctx, link)
			if err == nil {
				break
			}
			if !errors.Is(err, errs.ErrAlreadyExists) {
				return nil, err
			}
		}
		if attempt >= tokenRetries {
			return nil, fmt.Errorf("link token generation: %w", errs.ErrConflict)
		}
	}

	s.auditLink(ctx, p.UserID, p.IP, "", audit.ActionLinkCreate, nullID(link.ID), audit.StatusSuccess,
		audit.Details{
			"document_id": audit.S(in.DocumentID.String()),
			"expires_at":  audit.S(in.ExpiresAt.UTC().Format(time.RFC3339)),
			"password":    audit.B(in.Password != ""),
		})
	return link, nil
}

// View consumes one view on the link.
func (s *LinkServiceImpl) View(ctx context.Context, req LinkRequest) (*model.SharedLink, *model.Document, error) {
	link, err := s.resolve(ctx, req, model.LinkView)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.docs.Get(ctx, link.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	return link, doc, nil
}

// Download consumes one download and returns the decrypted content.
func (s *LinkServiceImpl) Download(ctx context.Context, req LinkRequest) (io.ReadCloser, *model.Document, error) {
	link, err := s.resolve(ctx, req, model.LinkDownload)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.docs.GetWithKeys(ctx, link.DocumentID)
	if err != nil {
		return nil, nil, err
	}
	ciphertext, err := s.content.Get(ctx, doc.ContentPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load ciphertext: %w", err)
	}
	rc, err := crypto.OpenDecrypted(s.tmpDir, ciphertext, doc.Key, doc.IV)
	if err != nil {
		return nil, nil, err
	}
	doc.Key, doc.IV = nil, nil
	return rc, doc, nil
}

// resolve validates password and state, then atomically consumes quota. Each
// attempt, allowed or denied, leaves an audit entry.
func (s *LinkServiceImpl) resolve(ctx context.Context, req LinkRequest, act model.LinkAction) (*model.SharedLink, error) {
	if req.Token == "" {
		return nil, errors.New("validation: empty token")
	}
	link, err := s.links.GetByToken(ctx, req.Token)
	if err != nil {
		return nil, err
	}

	if len(link.PasswordHash) > 0 {
		if err := s.checkPassword(ctx, link, req); err != nil {
			s.auditAccess(ctx, req, link, act, audit.StatusFailure, "password")
			return nil, err
		}
	}

	acc := model.LinkAccess{
		At:        s.now(),
		IP:        req.IP,
		UserAgent: req.UserAgent,
		Action:    act,
	}
	updated, err := s.links.RecordAccess(ctx, req.Token, acc, acc.At)
	if err != nil {
		reason := "inactive"
		switch {
		case errors.Is(err, errs.ErrQuotaExceeded):
			reason = "quota"
		case errors.Is(err, errs.ErrDenied):
			reason = "capability"
		}
		s.auditAccess(ctx, req, link, act, audit.StatusFailure, reason)
		return nil, err
	}
	s.auditAccess(ctx, req, updated, act, audit.StatusSuccess, "")
	return updated, nil
}

// checkPassword verifies the supplied password under the attempt limiter.
// All refusals look alike to the caller.
func (s *LinkServiceImpl) checkPassword(ctx context.Context, link *model.SharedLink, req LinkRequest) error {
	ipHash := limiter.HashIP(req.IP)
	if s.attempts != nil {
		ok, retryAfter, err := s.attempts.Allow(ctx, link.Token, ipHash)
		if err != nil {
			return err
		}
		if !ok {
			s.log.Info("link password attempts blocked",
				zap.String("link_id", link.ID.String()),
				zap.Duration("retry_after", retryAfter))
			return errs.ErrDenied
		}
	}
	if !crypto.VerifyPassword([]byte(req.Password), link.PasswordSalt, link.PasswordHash) {
		if s.attempts != nil {
			if _, _, err := s.attempts.Failure(ctx, link.Token, ipHash); err != nil {
				s.log.Error("attempt limiter failure update", zap.Error(err))
			}
		}
		return errs.ErrDenied
	}
	if s.attempts != nil {
		if err := s.attempts.Success(ctx, link.Token, ipHash); err != nil {
			s.log.Error("attempt limiter reset", zap.Error(err))
		}
	}
	return nil
}

// Deactivate turns the link off without deleting it.
func (s *LinkServiceImpl) Deactivate(ctx context.Context, p model.Principal, token string) error {
	if p.UserID == uuid.Nil {
		return errors.New("validation: empty userID")
	}
	if token == "" {
		return errors.New("validation: empty token")
	}
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		return err
	}
	if link.CreatedBy != p.UserID {
		doc, err := s.docs.Get(ctx, link.DocumentID)
		if err != nil {
			return err
		}
		if doc.OwnerID != p.UserID {
			return errs.ErrDenied
		}
	}
	if err := s.links.Deactivate(ctx, token); err != nil {
		return err
	}
	s.auditLink(ctx, p.UserID, p.IP, "", audit.ActionLinkRevoke, nullID(link.ID), audit.StatusSuccess,
		audit.Details{"document_id": audit.S(link.DocumentID.String())})
	return nil
}

// ListForDocument returns the document's links for its owner.
func (s *LinkServiceImpl) ListForDocument(ctx context.Context, p model.Principal, docID uuid.UUID) ([]model.SharedLink, error) {
	if p.UserID == uuid.Nil {
		return nil, errors.New("validation: empty userID")
	}
	doc, err := s.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != p.UserID {
		return nil, errs.ErrDenied
	}
	return s.links.ListByDocument(ctx, docID)
}

func (s *LinkServiceImpl) auditAccess(ctx context.Context, req LinkRequest, link *model.SharedLink, act model.LinkAction, status audit.Status, reason string) {
	details := audit.Details{"action": audit.S(string(act))}
	if reason != "" {
		details["reason"] = audit.S(reason)
	}
	var rid uuid.NullUUID
	if link != nil {
		rid = nullID(link.ID)
		details["document_id"] = audit.S(link.DocumentID.String())
	}
	s.auditLink(ctx, uuid.Nil, req.IP, req.UserAgent, audit.ActionLinkAccess, rid, status, details)
}

func (s *LinkServiceImpl) auditLink(
	ctx context.Context, userID uuid.UUID, ip, ua string,
	action audit.Action, rid uuid.NullUUID, status audit.Status, details audit.Details,
) {
	if s.trail == nil {
		return
	}
	s.trail.Record(ctx, audit.Entry{
		UserID:       userID,
		Action:       action,
		ResourceType: audit.ResourceSharedLink,
		ResourceID:   rid,
		Status:       status,
		Details:      details,
		IPAddress:    ip,
		UserAgent:    ua,
	})
}
