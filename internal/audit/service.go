package audit

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
)

// Store is the persistence surface the trail needs; implemented by
// repository/postgres.AuditRepo and by test fakes.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
	Query(ctx context.Context, f Filter) ([]Entry, error)
	StatsByAction(ctx context.Context, from, to time.Time) ([]ActionStats, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Query page limits.
const (
	DefaultQueryLimit = 100
	MaxQueryLimit     = 500
)

// Service is the audit trail. Record failures never propagate to the caller's
// primary operation; they are reported to the operational log instead.
type Service struct {
	store Store
	log   *zap.Logger
	now   func() time.Time
}

// NewService constructs the audit trail service. A nil logger is replaced
// with a no-op logger, a nil clock with time.Now.
func NewService(store Store, log *zap.Logger, now func() time.Time) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, log: log, now: now}
}

// Record appends one entry for a sensitive operation. Store failures are
// logged and swallowed so callers never fail their primary path on audit IO.
func (s *Service) Record(ctx context.Context, e Entry) {
	if e.ID.IsNil() {
		id, err := uuid.NewV4()
		if err != nil {
			s.log.Error("audit: id generation failed", zap.Error(err))
			return
		}
		e.ID = id
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.store.Insert(ctx, &e); err != nil {
		// Deliberately swallowed: an audit write failure must not abort the
		// caller's operation, but it must be visible operationally.
		s.log.Error("audit: write failed",
			zap.String("action", string(e.Action)),
			zap.String("status", string(e.Status)),
			zap.Error(err))
	}
}

// Query returns entries matching the filter, newest first, with the limit
// defaulted and capped.
func (s *Service) Query(ctx context.Context, f Filter) ([]Entry, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultQueryLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	return s.store.Query(ctx, f)
}

// StatsByAction aggregates per-action outcome counts in the optional range.
func (s *Service) StatsByAction(ctx context.Context, from, to time.Time) ([]ActionStats, error) {
	return s.store.StatsByAction(ctx, from, to)
}

// Cleanup permanently removes entries older than retentionDays and returns
// the removed count. This is the only deletion path for audit entries.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.New("retention days must be positive")
	}
	cutoff := s.now().AddDate(0, 0, -retentionDays)
	n, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.log.Info("audit: retention cleanup",
		zap.Int("retention_days", retentionDays),
		zap.Int64("removed", n))
	return n, nil
}
