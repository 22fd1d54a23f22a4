package repository

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/Youssef-f/Docsecure-backend/internal/model"
)

// SharedLinkRepository provides access to public share links.
type SharedLinkRepository interface {
	// Create inserts a new link. Token collisions surface as ErrAlreadyExists.
	Create(ctx context.Context, link *model.SharedLink) error

	// GetByToken returns the link for a token, including password hash/salt.
	GetByToken(ctx context.Context, token string) (*model.SharedLink, error)

	// TokenExists reports whether any link already uses the token.
	TokenExists(ctx context.Context, token string) (bool, error)

	// ListByDocument returns all links for a document, newest first.
	ListByDocument(ctx context.Context, docID uuid.UUID) ([]model.SharedLink, error)

	// Deactivate flips is_active off. Links are never physically deleted by
	// expiry or revocation.
	Deactivate(ctx context.Context, token string) error

	// RecordAccess atomically re-validates the link, increments exactly the
	// counter for acc.Action, and appends acc to the bounded history. All of
	// it happens under a row lock so concurrent accesses cannot bypass caps.
	// Denials: ErrLinkInactive (inactive/expired), ErrDenied (capability off),
	// ErrQuotaExceeded (counter at cap).
	RecordAccess(ctx context.Context, token string, acc model.LinkAccess, now time.Time) (*model.SharedLink, error)
}
