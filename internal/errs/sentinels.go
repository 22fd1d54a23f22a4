// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrValidation indicates user-correctable input problems (bad size, type, missing fields).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound indicates the requested entity does not exist, or the caller
	// lacks even view-level visibility. The two cases are intentionally
	// indistinguishable to avoid leaking resource existence.
	ErrNotFound = errors.New("not found")

	// ErrDenied indicates the access resolver refused the action. No detail
	// beyond "denied" is exposed to the caller.
	ErrDenied = errors.New("access denied")

	// ErrCrypto indicates a cipher or content I/O failure. Terminal for the
	// request; partial artifacts must be cleaned up by the caller.
	ErrCrypto = errors.New("crypto failure")

	// ErrQuotaExceeded indicates a share-link view/download cap was reached.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrConflict indicates concurrent modification (version mismatch) or a
	// duplicate the caller must resolve.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyExists indicates a unique constraint violation.
	ErrAlreadyExists = errors.New("already exists")

	// ErrLinkInactive indicates a share link was deactivated or expired.
	// Password mismatches surface as ErrDenied.
	ErrLinkInactive = errors.New("link inactive")
)
