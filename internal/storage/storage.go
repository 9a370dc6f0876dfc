// Package storage defines where generated artifacts go. Paths are
// forward-slash separated and relative to the store root, so the same
// artifact names work on local disk and in an object store.
package storage

import (
	"context"
	"fmt"
	"io"
)

// FileStore is a minimal interface for file-oriented storage.
// Implementations must be safe for concurrent use.
type FileStore interface {
	// Read opens the named file for reading. A missing file yields an
	// error wrapping os.ErrNotExist.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write opens the named file for writing, truncating any existing
	// file and creating parent directories. Data becomes visible under
	// path only after Close returns nil.
	Write(ctx context.Context, path string) (io.WriteCloser, error)

	// Exists reports whether the named file exists.
	Exists(ctx context.Context, path string) (bool, error)
}

// WriteFile stores data under path in one call.
func WriteFile(ctx context.Context, store FileStore, path string, data []byte) error {
	w, err := store.Write(ctx, path)
	if err != nil {
		return fmt.Errorf("storage: open %s: %w", path, err)
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: close %s: %w", path, err)
	}
	return nil
}

// ReadFile returns the full contents of path.
func ReadFile(ctx context.Context, store FileStore, path string) ([]byte, error) {
	r, err := store.Read(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
