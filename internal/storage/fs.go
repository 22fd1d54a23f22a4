package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
)

// FSStore keeps blobs as files under a root directory, one file per locator.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns the store.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("content dir: %w", err)
	}
	return &FSStore{root: root}, nil
}

// Put writes the blob to a new file named after a random id plus the caller's
// name hint, mirroring the encrypted-<ts>-<name> layout of the upload dir.
func (s *FSStore) Put(ctx context.Context, name string, r io.Reader, size int64) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	locator := fmt.Sprintf("encrypted-%d-%s-%s", time.Now().UnixNano(), id.String()[:8], sanitize(name))

	f, err := os.OpenFile(filepath.Join(s.root, locator), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", err
	}
	return locator, nil
}

// Get reads the blob at locator.
func (s *FSStore) Get(ctx context.Context, locator string) ([]byte, error) {
	p, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

// Delete removes the blob; a missing file is not an error.
func (s *FSStore) Delete(ctx context.Context, locator string) error {
	p, err := s.resolve(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// resolve rejects locators that would escape the root.
func (s *FSStore) resolve(locator string) (string, error) {
	if locator == "" || strings.Contains(locator, "..") || strings.ContainsRune(locator, os.PathSeparator) {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	return filepath.Join(s.root, locator), nil
}

func sanitize(name string) string {
	name = filepath.Base(name)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

var _ ContentStore = (*FSStore)(nil)
