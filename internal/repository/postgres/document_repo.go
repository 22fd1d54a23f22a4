package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
	"github.com/Youssef-f/Docsecure-backend/internal/repository"
)

// DocumentRepo implements DocumentRepository using PostgreSQL. Access rules
// and share grants live in jsonb columns on the document row, so their
// lifetime matches the document's.
type DocumentRepo struct{ db *DB }

// NewDocumentRepo constructs a document repository.
func NewDocumentRepo(db *DB) *DocumentRepo { return &DocumentRepo{db: db} }

const docColumns = `id, name, description, content_path, content_type, size_bytes,
owner_id, folder_id, tags, version, status, encrypted, access_rules, shared_with,
created_at, updated_at`

const docColumnsWithKeys = `id, name, description, content_path, content_type, size_bytes,
owner_id, folder_id, tags, version, status, encrypted, enc_key, enc_iv, access_rules, shared_with,
created_at, updated_at`

// Create inserts a new document row including key material.
func (r *DocumentRepo) Create(ctx context.Context, d *model.Document) error {
	rules, err := json.Marshal(rulesOrEmpty(d.AccessRules))
	if err != nil {
		return err
	}
	grants, err := json.Marshal(grantsOrEmpty(d.SharedWith))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO documents
  (id, name, description, content_path, content_type, size_bytes, owner_id,
   folder_id, tags, version, status, encrypted, enc_key, enc_iv, access_rules, shared_with)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`
	_, err = r.db.Pool.Exec(ctx, q,
		d.ID, d.Name, d.Description, d.ContentPath, d.ContentType, d.Size,
		d.OwnerID, d.FolderID, d.Tags, d.Version, d.Status, d.Encrypted,
		d.Key, d.IV, rules, grants)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Get returns a document without its key material.
func (r *DocumentRepo) Get(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	q := `SELECT ` + docColumns + ` FROM documents WHERE id=$1`
	return scanDoc(r.db.Pool.QueryRow(ctx, q, id), false)
}

// GetWithKeys returns a document including key/IV.
func (r *DocumentRepo) GetWithKeys(ctx context.Context, id uuid.UUID) (*model.Document, error) {
	q := `SELECT ` + docColumnsWithKeys + ` FROM documents WHERE id=$1`
	return scanDoc(r.db.Pool.QueryRow(ctx, q, id), true)
}

// List returns documents the user owns or that are shared with them.
func (r *DocumentRepo) List(ctx context.Context, userID uuid.UUID, f repository.DocumentFilter) ([]model.Document, error) {
	sharedProbe, err := json.Marshal([]map[string]string{{"user_id": userID.String()}})
	if err != nil {
		return nil, err
	}
	status := f.Status
	if status == "" {
		status = model.StatusActive
	}

	q := `SELECT ` + docColumns + ` FROM documents
WHERE (owner_id=$1 OR shared_with @> $2::jsonb) AND status=$3`
	args := []any{userID, sharedProbe, status}
	if f.FolderID.Valid {
		args = append(args, f.FolderID.UUID)
		q += fmt.Sprintf(` AND folder_id=$%d`, len(args))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		n := len(args)
		q += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d OR EXISTS (
  SELECT 1 FROM unnest(tags) t WHERE t ILIKE $%d))`, n, n, n)
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Document
	for rows.Next() {
		d, err := scanDocRow(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// UpdateMetadata applies a metadata edit under a row lock. Version increments
// by exactly one; a base version mismatch fails with ErrConflict and no change.
func (r *DocumentRepo) UpdateMetadata(
	ctx context.Context, id uuid.UUID, baseVersion int64, upd repository.MetadataUpdate,
) (doc *model.Document, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer finishTx(ctx, tx, &err)

	q := `SELECT ` + docColumnsWithKeys + ` FROM documents WHERE id=$1 FOR UPDATE`
	doc, err = scanDoc(tx.QueryRow(ctx, q, id), true)
	if err != nil {
		return nil, err
	}
	if doc.Version != baseVersion {
		return nil, fmt.Errorf("document %s: %w", id, errs.ErrConflict)
	}

	if upd.Name != nil {
		doc.Name = *upd.Name
	}
	if upd.Description != nil {
		doc.Description = *upd.Description
	}
	if upd.FolderID != nil {
		doc.FolderID = *upd.FolderID
	}
	if upd.Tags != nil {
		doc.Tags = *upd.Tags
	}
	doc.Version++

	const u = `
UPDATE documents
SET name=$2, description=$3, folder_id=$4, tags=$5, version=$6, updated_at=now()
WHERE id=$1`
	if _, err = tx.Exec(ctx, u, id, doc.Name, doc.Description, doc.FolderID, doc.Tags, doc.Version); err != nil {
		return nil, err
	}
	return doc, nil
}

// Delete removes the document row.
func (r *DocumentRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM documents WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetStatus changes the lifecycle status.
func (r *DocumentRepo) SetStatus(ctx context.Context, id uuid.UUID, status model.DocumentStatus) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE documents SET status=$2, updated_at=now() WHERE id=$1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetShareGrant upserts the grant for grant.UserID under a row lock, so two
// concurrent shares of the same document cannot lose each other's change.
func (r *DocumentRepo) SetShareGrant(ctx context.Context, docID uuid.UUID, grant model.ShareGrant) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	grants, err := lockGrants(ctx, tx, docID)
	if err != nil {
		return err
	}

	replaced := false
	for i := range grants {
		if grants[i].UserID == grant.UserID {
			grants[i] = grant
			replaced = true
			break
		}
	}
	if !replaced {
		grants = append(grants, grant)
	}
	return writeGrants(ctx, tx, docID, grants)
}

// RemoveShareGrant removes the per-user grant, if present.
func (r *DocumentRepo) RemoveShareGrant(ctx context.Context, docID, userID uuid.UUID) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	grants, err := lockGrants(ctx, tx, docID)
	if err != nil {
		return err
	}

	kept := grants[:0]
	for _, g := range grants {
		if g.UserID != userID {
			kept = append(kept, g)
		}
	}
	return writeGrants(ctx, tx, docID, kept)
}

// SetAccessRules replaces the rule list.
func (r *DocumentRepo) SetAccessRules(ctx context.Context, docID uuid.UUID, rules []model.AccessRule) error {
	b, err := json.Marshal(rulesOrEmpty(rules))
	if err != nil {
		return err
	}
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE documents SET access_rules=$2, updated_at=now() WHERE id=$1`, docID, b)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// CountInFolder reports how many documents reference the folder.
func (r *DocumentRepo) CountInFolder(ctx context.Context, folderID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE folder_id=$1`, folderID).Scan(&n)
	return n, err
}

func lockGrants(ctx context.Context, tx pgx.Tx, docID uuid.UUID) ([]model.ShareGrant, error) {
	var raw []byte
	err := tx.QueryRow(ctx,
		`SELECT shared_with FROM documents WHERE id=$1 FOR UPDATE`, docID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	var grants []model.ShareGrant
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &grants); err != nil {
			return nil, err
		}
	}
	return grants, nil
}

func writeGrants(ctx context.Context, tx pgx.Tx, docID uuid.UUID, grants []model.ShareGrant) error {
	b, err := json.Marshal(grantsOrEmpty(grants))
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE documents SET shared_with=$2, updated_at=now() WHERE id=$1`, docID, b)
	return err
}

func rulesOrEmpty(rules []model.AccessRule) []model.AccessRule {
	if rules == nil {
		return []model.AccessRule{}
	}
	return rules
}

func grantsOrEmpty(grants []model.ShareGrant) []model.ShareGrant {
	if grants == nil {
		return []model.ShareGrant{}
	}
	return grants
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDoc(row pgx.Row, withKeys bool) (*model.Document, error) {
	d, err := scanDocRow(row, withKeys)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return d, nil
}

func scanDocRow(row rowScanner, withKeys bool) (*model.Document, error) {
	var (
		d      model.Document
		rules  []byte
		grants []byte
	)
	dest := []any{
		&d.ID, &d.Name, &d.Description, &d.ContentPath, &d.ContentType, &d.Size,
		&d.OwnerID, &d.FolderID, &d.Tags, &d.Version, &d.Status, &d.Encrypted,
	}
	if withKeys {
		dest = append(dest, &d.Key, &d.IV)
	}
	dest = append(dest, &rules, &grants, &d.CreatedAt, &d.UpdatedAt)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &d.AccessRules); err != nil {
			return nil, err
		}
	}
	if len(grants) > 0 {
		if err := json.Unmarshal(grants, &d.SharedWith); err != nil {
			return nil, err
		}
	}
	return &d, nil
}
