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
)

// FolderRepo implements FolderRepository using PostgreSQL.
type FolderRepo struct{ db *DB }

// NewFolderRepo constructs a folder repository.
func NewFolderRepo(db *DB) *FolderRepo { return &FolderRepo{db: db} }

const folderColumns = `id, name, path, owner_id, parent_id, status, access_rules, shared_with, created_at, updated_at`

// Create inserts a new folder row.
func (r *FolderRepo) Create(ctx context.Context, f *model.Folder) error {
	rules, err := json.Marshal(rulesOrEmpty(f.AccessRules))
	if err != nil {
		return err
	}
	grants, err := json.Marshal(grantsOrEmpty(f.SharedWith))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO folders (id, name, path, owner_id, parent_id, status, access_rules, shared_with)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err = r.db.Pool.Exec(ctx, q, f.ID, f.Name, f.Path, f.OwnerID, f.ParentID, f.Status, rules, grants)
	if isUniqueViolation(err) {
		return errs.ErrConflict
	}
	return err
}

// Get returns a folder by id.
func (r *FolderRepo) Get(ctx context.Context, id uuid.UUID) (*model.Folder, error) {
	q := `SELECT ` + folderColumns + ` FROM folders WHERE id=$1`
	f, err := scanFolder(r.db.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// ListByOwner returns the owner's folders ordered by path.
func (r *FolderRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]model.Folder, error) {
	q := `SELECT ` + folderColumns + ` FROM folders WHERE owner_id=$1 AND status='active' ORDER BY path`
	rows, err := r.db.Pool.Query(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// Rename updates name and path.
func (r *FolderRepo) Rename(ctx context.Context, id uuid.UUID, name, path string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE folders SET name=$2, path=$3, updated_at=now() WHERE id=$1`, id, name, path)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Move reparents the folder. Both the moved row and the new parent are locked
// before the cycle check, so two moves that would close a cycle against each
// other serialize on the shared rows and the loser re-checks committed state.
func (r *FolderRepo) Move(ctx context.Context, id uuid.UUID, newParent uuid.NullUUID, newPath string) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	if newParent.Valid {
		var locked int64
		if err = tx.QueryRow(ctx, lockMovePairQuery, id, newParent.UUID).Scan(&locked); err != nil {
			return err
		}
		if locked < 2 {
			return errs.ErrNotFound
		}
		var cycle bool
		if err = tx.QueryRow(ctx, ancestorsContainQuery, newParent.UUID, id).Scan(&cycle); err != nil {
			return err
		}
		if cycle {
			return fmt.Errorf("move would create a cycle: %w", errs.ErrConflict)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE folders SET parent_id=$2, path=$3, updated_at=now() WHERE id=$1`,
		id, newParent, newPath)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// lockMovePairQuery row-locks the moved folder and its new parent in id order
// so concurrent moves touching the same rows cannot both pass the cycle check.
const lockMovePairQuery = `
SELECT COUNT(*) FROM (
  SELECT id FROM folders WHERE id IN ($1,$2) ORDER BY id FOR UPDATE
) locked`

// ancestorsContainQuery reports whether $2 appears in the ancestor chain of
// $1 (including $1 itself).
const ancestorsContainQuery = `
WITH RECURSIVE ancestors AS (
  SELECT id, parent_id FROM folders WHERE id=$1
  UNION ALL
  SELECT f.id, f.parent_id FROM folders f JOIN ancestors a ON f.id=a.parent_id
)
SELECT EXISTS (SELECT 1 FROM ancestors WHERE id=$2)`

// DeleteEmpty deletes the folder only when no child folders and no documents
// reference it; the checks and the delete share one transaction.
func (r *FolderRepo) DeleteEmpty(ctx context.Context, id uuid.UUID) (err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer finishTx(ctx, tx, &err)

	var exists bool
	if err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM folders WHERE id=$1 FOR UPDATE)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return errs.ErrNotFound
	}

	var children int64
	if err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM folders WHERE parent_id=$1`, id).Scan(&children); err != nil {
		return err
	}
	if children > 0 {
		return fmt.Errorf("folder has %d subfolders: %w", children, errs.ErrConflict)
	}

	var docs int64
	if err = tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM documents WHERE folder_id=$1`, id).Scan(&docs); err != nil {
		return err
	}
	if docs > 0 {
		return fmt.Errorf("folder has %d documents: %w", docs, errs.ErrConflict)
	}

	_, err = tx.Exec(ctx, `DELETE FROM folders WHERE id=$1`, id)
	return err
}

func scanFolder(row rowScanner) (*model.Folder, error) {
	var (
		f      model.Folder
		rules  []byte
		grants []byte
	)
	err := row.Scan(&f.ID, &f.Name, &f.Path, &f.OwnerID, &f.ParentID, &f.Status,
		&rules, &grants, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(rules) > 0 {
		if err := json.Unmarshal(rules, &f.AccessRules); err != nil {
			return nil, err
		}
	}
	if len(grants) > 0 {
		if err := json.Unmarshal(grants, &f.SharedWith); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

// RoleRepo implements RoleRepository using PostgreSQL.
type RoleRepo struct{ db *DB }

// NewRoleRepo constructs a role repository.
func NewRoleRepo(db *DB) *RoleRepo { return &RoleRepo{db: db} }

// GetRolesForUser returns all roles assigned to the user.
func (r *RoleRepo) GetRolesForUser(ctx context.Context, userID uuid.UUID) ([]model.Role, error) {
	const q = `
SELECT r.name, r.permissions
FROM roles r JOIN user_roles ur ON ur.role_name = r.name
WHERE ur.user_id = $1
ORDER BY r.name`
	rows, err := r.db.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Role
	for rows.Next() {
		var (
			role model.Role
			raw  []byte
		)
		if err := rows.Scan(&role.Name, &raw); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &role.Permissions); err != nil {
				return nil, err
			}
		}
		out = append(out, role)
	}
	return out, rows.Err()
}
