// Package limiter rate-limits share-link password attempts to slow down
// online guessing against password-protected links.
package limiter

import (
	"context"
	"time"
)

// Limiter controls password attempts per (link token, caller IP) and places
// temporary blocks after repeated failures.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and an optional
	// retry-after duration when blocked.
	Allow(ctx context.Context, token string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters after a correct password.
	Success(ctx context.Context, token string, ipHash []byte) error
	// Failure records a wrong password; may place a temporary block.
	Failure(ctx context.Context, token string, ipHash []byte) (bool, time.Duration, error)
}
