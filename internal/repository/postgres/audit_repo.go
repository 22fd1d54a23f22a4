package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Youssef-f/Docsecure-backend/internal/audit"
)

// AuditRepo implements AuditRepository using PostgreSQL. The table is
// append-only: no UPDATE statement exists anywhere in this file, and
// DeleteOlderThan is the single DELETE.
type AuditRepo struct{ db *DB }

// NewAuditRepo constructs an audit repository.
func NewAuditRepo(db *DB) *AuditRepo { return &AuditRepo{db: db} }

// Insert appends one entry.
func (r *AuditRepo) Insert(ctx context.Context, e *audit.Entry) error {
	details, err := json.Marshal(detailsOrEmpty(e.Details))
	if err != nil {
		return err
	}
	const q = `
INSERT INTO audit_log (id, user_id, action, resource_type, resource_id, status, details, ip_address, user_agent)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err = r.db.Pool.Exec(ctx, q,
		e.ID, e.UserID, e.Action, e.ResourceType, e.ResourceID, e.Status,
		details, e.IPAddress, e.UserAgent)
	return err
}

// Query returns entries matching the filter, newest first.
func (r *AuditRepo) Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q := `
SELECT id, user_id, action, resource_type, resource_id, status, details, ip_address, user_agent, created_at
FROM audit_log WHERE 1=1`
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		q += fmt.Sprintf(clause, len(args))
	}
	if !f.From.IsZero() {
		add(` AND created_at >= $%d`, f.From)
	}
	if !f.To.IsZero() {
		add(` AND created_at <= $%d`, f.To)
	}
	if f.Action != "" {
		add(` AND action = $%d`, f.Action)
	}
	if f.ResourceType != "" {
		add(` AND resource_type = $%d`, f.ResourceType)
	}
	if f.ResourceID.Valid {
		add(` AND resource_id = $%d`, f.ResourceID.UUID)
	}
	if f.UserID.Valid {
		add(` AND user_id = $%d`, f.UserID.UUID)
	}
	if f.Status != "" {
		add(` AND status = $%d`, f.Status)
	}
	add(` ORDER BY created_at DESC LIMIT $%d`, f.Limit)

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var (
			e   audit.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Status, &raw, &e.IPAddress, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// StatsByAction aggregates total/success/failure per action within the range.
func (r *AuditRepo) StatsByAction(ctx context.Context, from, to time.Time) ([]audit.ActionStats, error) {
	q := `
SELECT action,
       COUNT(*),
       COUNT(*) FILTER (WHERE status = 'success'),
       COUNT(*) FILTER (WHERE status = 'failure')
FROM audit_log WHERE 1=1`
	var args []any
	if !from.IsZero() {
		args = append(args, from)
		q += fmt.Sprintf(` AND created_at >= $%d`, len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		q += fmt.Sprintf(` AND created_at <= $%d`, len(args))
	}
	q += ` GROUP BY action ORDER BY COUNT(*) DESC`

	rows, err := r.db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.ActionStats
	for rows.Next() {
		var s audit.ActionStats
		if err := rows.Scan(&s.Action, &s.Total, &s.Success, &s.Failure); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes entries created strictly before cutoff.
func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM audit_log WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func detailsOrEmpty(d audit.Details) audit.Details {
	if d == nil {
		return audit.Details{}
	}
	return d
}
