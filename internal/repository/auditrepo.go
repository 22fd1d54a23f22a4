package repository

import (
	"context"
	"time"

	"github.com/Youssef-f/Docsecure-backend/internal/audit"
)

// AuditRepository persists audit entries. Entries are append-only: there is
// no update operation, and DeleteOlderThan is the only deletion path.
type AuditRepository interface {
	// Insert appends one entry.
	Insert(ctx context.Context, e *audit.Entry) error

	// Query returns entries matching the filter, newest first, capped at
	// f.Limit rows.
	Query(ctx context.Context, f audit.Filter) ([]audit.Entry, error)

	// StatsByAction aggregates total/success/failure counts per action within
	// the optional time range (zero values mean unbounded).
	StatsByAction(ctx context.Context, from, to time.Time) ([]audit.ActionStats, error)

	// DeleteOlderThan permanently removes entries created strictly before
	// cutoff and returns the removed count.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
