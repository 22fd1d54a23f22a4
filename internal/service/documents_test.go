package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"

	"github.com/Youssef-f/Docsecure-backend/internal/access"
	"github.com/Youssef-f/Docsecure-backend/internal/audit"
	"github.com/Youssef-f/Docsecure-backend/internal/crypto"
	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
	"github.com/Youssef-f/Docsecure-backend/internal/repository"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type docFixture struct {
	svc     *DocumentServiceImpl
	docs    *fakeDocRepo
	content *fakeContent
	auditSt *fakeAuditStore
	roles   *fakeRoleRepo
}

func newDocFixture(t *testing.T) *docFixture {
	t.Helper()
	docs := newFakeDocRepo()
	content := newFakeContent()
	auditSt := &fakeAuditStore{}
	roles := &fakeRoleRepo{}
	svc := NewDocumentService(
		docs, roles, content,
		access.NewResolver(fixedClock),
		audit.NewService(auditSt, nil, fixedClock),
		nil, t.TempDir(), fixedClock,
	)
	return &docFixture{svc: svc, docs: docs, content: content, auditSt: auditSt, roles: roles}
}

func principal(id uuid.UUID) model.Principal {
	return model.Principal{UserID: id, IP: "203.0.113.7"}
}

func TestDocumentUpload_RoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := uuid.Must(uuid.NewV4())
	plaintext := []byte("quarterly report body")

	doc, err := fx.svc.Upload(ctx, principal(owner), UploadInput{
		Name:        "report.pdf",
		ContentType: "application/pdf",
		Content:     plaintext,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), doc.Version)
	require.Equal(t, model.StatusActive, doc.Status)
	require.Len(t, doc.Key, crypto.KeyLen)
	require.Len(t, doc.IV, crypto.IVLen)

	// Stored bytes are ciphertext, not the plaintext.
	blob, err := fx.content.Get(ctx, doc.ContentPath)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, blob)

	got, err := crypto.DecryptBytes(blob, doc.Key, doc.IV)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)

	e, ok := fx.auditSt.last(audit.ActionDocumentUpload)
	require.True(t, ok)
	require.Equal(t, audit.StatusSuccess, e.Status)
	require.Equal(t, owner, e.UserID)
}

func TestDocumentUpload_FreshKeyPerDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))

	a, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "a.png", ContentType: "image/png", Content: []byte("same bytes")})
	require.NoError(t, err)
	b, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "b.png", ContentType: "image/png", Content: []byte("same bytes")})
	require.NoError(t, err)
	require.NotEqual(t, a.Key, b.Key)
	require.NotEqual(t, a.IV, b.IV)
}

func TestDocumentUpload_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))

	_, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "x.bin", ContentType: "application/octet-stream", Content: []byte("x")})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = fx.svc.Upload(ctx, owner, UploadInput{Name: "big.pdf", ContentType: "application/pdf", Content: make([]byte, MaxUploadSize+1)})
	require.ErrorIs(t, err, errs.ErrValidation)

	_, err = fx.svc.Upload(ctx, owner, UploadInput{Name: "", ContentType: "application/pdf", Content: []byte("x")})
	require.ErrorIs(t, err, errs.ErrValidation)

	// Rejected uploads leave an audit trail of the refusal.
	e, ok := fx.auditSt.last(audit.ActionDocumentUpload)
	require.True(t, ok)
	require.Equal(t, audit.StatusFailure, e.Status)
}

func TestDocumentUpload_NoOrphanOnCreateFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	fx.docs.createErr = errors.New("db down")

	owner := uuid.Must(uuid.NewV4())
	_, err := fx.svc.Upload(ctx, principal(owner), UploadInput{
		Name: "doc.pdf", ContentType: "application/pdf", Content: []byte("x"),
	})
	require.Error(t, err)
	require.Empty(t, fx.content.blobs, "ciphertext must be removed when create fails")

	// The failed attempt still lands in the trail, with the stage it died at.
	e, ok := fx.auditSt.last(audit.ActionDocumentUpload)
	require.True(t, ok)
	require.Equal(t, audit.StatusFailure, e.Status)
	require.Equal(t, owner, e.UserID)
	require.Equal(t, audit.S("persist"), e.Details["reason"])
}

func TestDocumentUpload_StoreFailureAudited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	fx.content.putErr = errors.New("volume full")

	_, err := fx.svc.Upload(ctx, principal(uuid.Must(uuid.NewV4())), UploadInput{
		Name: "doc.pdf", ContentType: "application/pdf", Content: []byte("x"),
	})
	require.Error(t, err)

	e, ok := fx.auditSt.last(audit.ActionDocumentUpload)
	require.True(t, ok)
	require.Equal(t, audit.StatusFailure, e.Status)
	require.Equal(t, audit.S("store ciphertext"), e.Details["reason"])
}

func TestGetMetadata_HidesExistenceFromStrangers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	stranger := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	_, err = fx.svc.GetMetadata(ctx, stranger, doc.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	missing := uuid.Must(uuid.NewV4())
	_, err2 := fx.svc.GetMetadata(ctx, stranger, missing)
	require.ErrorIs(t, err2, errs.ErrNotFound)
}

func TestReadContent_SharedReadGrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	reader := principal(uuid.Must(uuid.NewV4()))
	plaintext := []byte("shared body")

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: plaintext})
	require.NoError(t, err)
	require.NoError(t, fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: reader.UserID, AccessType: model.PermRead}))

	rc, meta, err := fx.svc.ReadContent(ctx, reader, doc.ID)
	require.NoError(t, err)
	defer rc.Close()
	require.Nil(t, meta.Key)
	require.Nil(t, meta.IV)
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.True(t, bytes.Equal(plaintext, got))

	e, ok := fx.auditSt.last(audit.ActionDocumentDownload)
	require.True(t, ok)
	require.Equal(t, audit.StatusSuccess, e.Status)
	require.Equal(t, reader.UserID, e.UserID)
}

func TestReadContent_ViewGrantInsufficient(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	viewer := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: viewer.UserID, AccessType: model.PermView}))

	// Visible but below the required level: denied, not hidden.
	_, _, err = fx.svc.ReadContent(ctx, viewer, doc.ID)
	require.ErrorIs(t, err, errs.ErrDenied)

	_, err = fx.svc.GetMetadata(ctx, viewer, doc.ID)
	require.NoError(t, err)
}

func TestUpdateMetadata_VersionSemantics(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	name := "renamed.pdf"
	upd, err := fx.svc.UpdateMetadata(ctx, owner, doc.ID, 1, repository.MetadataUpdate{Name: &name})
	require.NoError(t, err)
	require.Equal(t, int64(2), upd.Version)

	// A second writer still holding base version 1 must conflict.
	_, err = fx.svc.UpdateMetadata(ctx, owner, doc.ID, 1, repository.MetadataUpdate{Name: &name})
	require.ErrorIs(t, err, errs.ErrConflict)

	e, ok := fx.auditSt.last(audit.ActionDocumentEdit)
	require.True(t, ok)
	require.Equal(t, audit.StatusFailure, e.Status)
}

func TestUpdateMetadata_RepoFailureAudited(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	fx.docs.updateErr = errors.New("db down")
	name := "renamed.pdf"
	_, err = fx.svc.UpdateMetadata(ctx, owner, doc.ID, 1, repository.MetadataUpdate{Name: &name})
	require.Error(t, err)
	require.NotErrorIs(t, err, errs.ErrConflict)

	e, ok := fx.auditSt.last(audit.ActionDocumentEdit)
	require.True(t, ok)
	require.Equal(t, audit.StatusFailure, e.Status)
	require.Equal(t, audit.S("persist"), e.Details["reason"])
}

func TestUpdateMetadata_WriteGrantAllowed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	editor := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: editor.UserID, AccessType: model.PermWrite}))

	desc := "updated by editor"
	upd, err := fx.svc.UpdateMetadata(ctx, editor, doc.ID, 1, repository.MetadataUpdate{Description: &desc})
	require.NoError(t, err)
	require.Equal(t, int64(2), upd.Version)
}

func TestDelete_OwnerOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	editor := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)
	require.NoError(t, fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: editor.UserID, AccessType: model.PermWrite}))

	require.ErrorIs(t, fx.svc.Delete(ctx, editor, doc.ID), errs.ErrDenied)

	require.NoError(t, fx.svc.Delete(ctx, owner, doc.ID))
	require.Empty(t, fx.content.blobs, "ciphertext removed with the document")
	_, err = fx.svc.GetMetadata(ctx, owner, doc.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestDelete_SurvivesCiphertextRemovalFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	fx.content.delErr = errors.New("store down")
	require.NoError(t, fx.svc.Delete(ctx, owner, doc.ID))

	e, ok := fx.auditSt.last(audit.ActionDocumentDelete)
	require.True(t, ok)
	require.Equal(t, audit.StatusSuccess, e.Status)
	require.Equal(t, audit.B(false), e.Details["ciphertext_removed"])
}

func TestShare_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	other := uuid.Must(uuid.NewV4())

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	err = fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: other, AccessType: model.PermAdmin})
	require.ErrorIs(t, err, errs.ErrValidation)

	past := testNow.Add(-time.Hour)
	err = fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: other, AccessType: model.PermRead, ExpiresAt: &past})
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestShare_UpsertsSingleGrant(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	other := uuid.Must(uuid.NewV4())

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: other, AccessType: model.PermView}))
	require.NoError(t, fx.svc.Share(ctx, owner, doc.ID, model.ShareGrant{UserID: other, AccessType: model.PermWrite}))

	stored, err := fx.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.SharedWith, 1)
	require.Equal(t, model.PermWrite, stored.SharedWith[0].AccessType)

	require.NoError(t, fx.svc.Unshare(ctx, owner, doc.ID, other))
	stored, err = fx.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Empty(t, stored.SharedWith)
}

func TestSetAccessRules_ExpiredRuleExcludedNotPurged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))
	guest := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	past := testNow.Add(-time.Minute)
	rules := []model.AccessRule{
		{Type: model.PrincipalUser, Value: guest.UserID.String(), Permission: model.PermRead, ExpiresAt: &past},
	}
	require.NoError(t, fx.svc.SetAccessRules(ctx, owner, doc.ID, rules))

	// The expired rule no longer grants anything.
	_, err = fx.svc.GetMetadata(ctx, guest, doc.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)

	// But it is still stored; expiry excludes, it never purges.
	stored, err := fx.docs.Get(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, stored.AccessRules, 1)
}

func TestSetAccessRules_RoleAndIPRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	rules := []model.AccessRule{
		{Type: model.PrincipalRole, Value: "auditors", Permission: model.PermView},
		{Type: model.PrincipalIP, Value: "10.0.0.0/8", Permission: model.PermRead},
	}
	require.NoError(t, fx.svc.SetAccessRules(ctx, owner, doc.ID, rules))

	auditor := model.Principal{UserID: uuid.Must(uuid.NewV4()), Roles: []string{"auditors"}, IP: "203.0.113.9"}
	_, err = fx.svc.GetMetadata(ctx, auditor, doc.ID)
	require.NoError(t, err)

	insider := model.Principal{UserID: uuid.Must(uuid.NewV4()), IP: "10.1.2.3"}
	rc, _, err := fx.svc.ReadContent(ctx, insider, doc.ID)
	require.NoError(t, err)
	rc.Close()

	outsider := model.Principal{UserID: uuid.Must(uuid.NewV4()), IP: "192.0.2.1"}
	_, err = fx.svc.GetMetadata(ctx, outsider, doc.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestArchive_RemovesFromActiveListing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	owner := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)

	require.NoError(t, fx.svc.Archive(ctx, owner, doc.ID))
	active, err := fx.svc.List(ctx, owner, repository.DocumentFilter{})
	require.NoError(t, err)
	require.Empty(t, active)

	archived, err := fx.svc.List(ctx, owner, repository.DocumentFilter{Status: model.StatusArchived})
	require.NoError(t, err)
	require.Len(t, archived, 1)

	require.NoError(t, fx.svc.Restore(ctx, owner, doc.ID))
	active, err = fx.svc.List(ctx, owner, repository.DocumentFilter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
}

func TestAuditFailureNeverBreaksOperation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	fx := newDocFixture(t)
	fx.auditSt.insertErr = errors.New("audit store down")
	owner := principal(uuid.Must(uuid.NewV4()))

	doc, err := fx.svc.Upload(ctx, owner, UploadInput{Name: "d.pdf", ContentType: "application/pdf", Content: []byte("x")})
	require.NoError(t, err)
	require.NotNil(t, doc)
}
