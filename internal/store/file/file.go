// Package file stores the moderation record as a JSON document on disk.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vovakirdan/msgroom-server/internal/store"
)

// Backend persists the record to a single JSON file. Writes go to a temporary
// file in the same directory which is then renamed over the target, so a
// crash never leaves a partially written record behind.
type Backend struct {
	path string
}

// New returns a backend for the file at path.
func New(path string) *Backend {
	return &Backend{path: path}
}

// Path returns the file location.
func (b *Backend) Path() string { return b.path }

// Load reads the record, writing an empty one first if the file is missing.
func (b *Backend) Load(ctx context.Context) (*store.State, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, os.ErrNotExist) {
		st := store.NewState()
		if err := b.Save(ctx, st); err != nil {
			return nil, err
		}
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", b.path, err)
	}
	info, err := os.Stat(b.path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", b.path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", b.path)
	}
	return store.Decode(data)
}

// Save atomically replaces the file with st.
func (b *Backend) Save(_ context.Context, st *store.State) error {
	data, err := store.Encode(st)
	if err != nil {
		return err
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".moderation-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", b.path, err)
	}
	return nil
}

// Close is a no-op.
func (b *Backend) Close() error { return nil }
