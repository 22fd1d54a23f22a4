// Package storage provides the byte-stream content store holding document
// ciphertext. Locators are opaque strings issued by Put.
package storage

import (
	"context"
	"io"
)

// ContentStore stores ciphertext blobs by locator. Plaintext never passes
// through a ContentStore; callers encrypt first.
type ContentStore interface {
	// Put writes the blob and returns its locator.
	Put(ctx context.Context, name string, r io.Reader, size int64) (locator string, err error)
	// Get reads the blob at locator.
	Get(ctx context.Context, locator string) ([]byte, error)
	// Delete removes the blob at locator. Deleting a missing blob is not an error.
	Delete(ctx context.Context, locator string) error
}
