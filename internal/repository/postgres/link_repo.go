package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/errs"
	"github.com/Youssef-f/Docsecure-backend/internal/model"
)

// LinkRepo implements SharedLinkRepository using PostgreSQL.
type LinkRepo struct{ db *DB }

// NewLinkRepo constructs a shared link repository.
func NewLinkRepo(db *DB) *LinkRepo { return &LinkRepo{db: db} }

const linkColumns = `id, document_id, token, password_hash, password_salt, expires_at,
max_views, view_count, max_downloads, download_count, can_view, can_download,
is_active, created_by, last_accessed_at, access_history, created_at`

// Create inserts a new link row.
func (r *LinkRepo) Create(ctx context.Context, l *model.SharedLink) error {
	history, err := json.Marshal(historyOrEmpty(l.AccessHistory))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO shared_links
  (id, document_id, token, password_hash, password_salt, expires_at, max_views,
   view_count, max_downloads, download_count, can_view, can_download, is_active,
   created_by, access_history)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err = r.db.Pool.Exec(ctx, q,
		l.ID, l.DocumentID, l.Token, l.PasswordHash, l.PasswordSalt, l.ExpiresAt,
		l.MaxViews, l.ViewCount, l.MaxDownloads, l.DownloadCount, l.CanView,
		l.CanDownload, l.IsActive, l.CreatedBy, history)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByToken returns the link for a token.
func (r *LinkRepo) GetByToken(ctx context.Context, token string) (*model.SharedLink, error) {
	q := `SELECT ` + linkColumns + ` FROM shared_links WHERE token=$1`
	l, err := scanLink(r.db.Pool.QueryRow(ctx, q, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return l, nil
}

// TokenExists reports whether any link already uses the token.
func (r *LinkRepo) TokenExists(ctx context.Context, token string) (bool, error) {
	var exists bool
	err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM shared_links WHERE token=$1)`, token).Scan(&exists)
	return exists, err
}

// ListByDocument returns all links for a document, newest first.
func (r *LinkRepo) ListByDocument(ctx context.Context, docID uuid.UUID) ([]model.SharedLink, error) {
	q := `SELECT ` + linkColumns + ` FROM shared_links WHERE document_id=$1 ORDER BY created_at DESC`
	rows, err := r.db.Pool.Query(ctx, q, docID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SharedLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// Deactivate flips is_active off. Never a physical delete.
func (r *LinkRepo) Deactivate(ctx context.Context, token string) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE shared_links SET is_active=false WHERE token=$1`, token)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// RecordAccess re-validates the link and increments exactly one counter under
// a row lock, appending to the bounded access history in the same transaction.
// A concurrent access that would push a counter past its cap is denied here,
// not by the pre-check in the service layer.
func (r *LinkRepo) RecordAccess(
	ctx context.Context, token string, acc model.LinkAccess, now time.Time,
) (link *model.SharedLink, err error) {
	tx, err := r.db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer finishTx(ctx, tx, &err)

	q := `SELECT ` + linkColumns + ` FROM shared_links WHERE token=$1 FOR UPDATE`
	link, err = scanLink(tx.QueryRow(ctx, q, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	if !link.IsActive || link.Expired(now) {
		return nil, errs.ErrLinkInactive
	}
	switch acc.Action {
	case model.LinkView:
		if !link.CanView {
			return nil, errs.ErrDenied
		}
		if link.ViewLimitReached() {
			return nil, errs.ErrQuotaExceeded
		}
		link.ViewCount++
	case model.LinkDownload:
		if !link.CanDownload {
			return nil, errs.ErrDenied
		}
		if link.DownloadLimitReached() {
			return nil, errs.ErrQuotaExceeded
		}
		link.DownloadCount++
	default:
		return nil, fmt.Errorf("%w: unknown link action %q", errs.ErrValidation, acc.Action)
	}

	acc.At = now
	link.AccessHistory = append(link.AccessHistory, acc)
	if len(link.AccessHistory) > model.MaxLinkHistory {
		link.AccessHistory = link.AccessHistory[len(link.AccessHistory)-model.MaxLinkHistory:]
	}
	link.LastAccessedAt = &now

	history, err := json.Marshal(link.AccessHistory)
	if err != nil {
		return nil, err
	}
	const u = `
UPDATE shared_links
SET view_count=$2, download_count=$3, last_accessed_at=$4, access_history=$5
WHERE token=$1`
	if _, err = tx.Exec(ctx, u, token, link.ViewCount, link.DownloadCount, now, history); err != nil {
		return nil, err
	}
	return link, nil
}

func historyOrEmpty(h []model.LinkAccess) []model.LinkAccess {
	if h == nil {
		return []model.LinkAccess{}
	}
	return h
}

func scanLink(row rowScanner) (*model.SharedLink, error) {
	var (
		l       model.SharedLink
		history []byte
	)
	err := row.Scan(
		&l.ID, &l.DocumentID, &l.Token, &l.PasswordHash, &l.PasswordSalt, &l.ExpiresAt,
		&l.MaxViews, &l.ViewCount, &l.MaxDownloads, &l.DownloadCount, &l.CanView,
		&l.CanDownload, &l.IsActive, &l.CreatedBy, &l.LastAccessedAt, &history, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &l.AccessHistory); err != nil {
			return nil, err
		}
	}
	return &l, nil
}
