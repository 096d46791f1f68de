// Package blob archives uploaded files so the original bytes survive for
// audit and debugging after ingestion.
package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Blob stores raw bytes under a key. Overwriting an existing key is allowed.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) error
}

// FS is a filesystem-backed Blob rooted at one directory. Keys may contain
// slashes; each segment becomes a subdirectory.
type FS struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, eris.Wrapf(err, "blob: create root %s", root)
	}
	return &FS{root: root}, nil
}

// Put writes data to a temp file, fsyncs, then renames into place so a
// crash mid-write never leaves a truncated object under the key.
func (f *FS) Put(ctx context.Context, key string, data []byte) error {
	path, err := f.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return eris.Wrapf(err, "blob: create dir for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return eris.Wrapf(err, "blob: create temp for %s", key)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "blob: write %s", key)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return eris.Wrapf(err, "blob: sync %s", key)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrapf(err, "blob: close %s", key)
	}
	return eris.Wrapf(os.Rename(tmp.Name(), path), "blob: rename %s", key)
}

// resolve maps a key to a path under root, rejecting traversal outside it.
func (f *FS) resolve(key string) (string, error) {
	if key == "" {
		return "", eris.New("blob: empty key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", eris.Errorf("blob: invalid key %q", key)
	}
	return filepath.Join(f.root, clean), nil
}
