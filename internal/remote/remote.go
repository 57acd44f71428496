// Package remote declares the external snapshot store this engine
// hands snapshots to and receives them from.
//
// The engine never implements remote storage itself and never inspects
// the transport: it serializes a canonical snapshot to bytes, hands
// them over, and deserializes whatever comes back. Credentials, HTTP,
// conflict handling on the remote side all live with the
// collaborator behind this interface.
package remote

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoSnapshot is returned by GetSnapshot when the remote holds no
// document yet.
var ErrNoSnapshot = errors.New("remote: no snapshot available")

// Store is the opaque remote collaborator.
type Store interface {
	// GetSnapshot fetches the current remote snapshot document.
	GetSnapshot(ctx context.Context) ([]byte, error)

	// PutSnapshot replaces the remote snapshot document.
	PutSnapshot(ctx context.Context, data []byte) error
}

// FileStore is a local stand-in for development and tests: one file
// plays the remote document.
type FileStore struct {
	path string
}

// NewFileStore creates a file-backed store at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// GetSnapshot implements Store.
func (f *FileStore) GetSnapshot(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read snapshot document: %w", err)
	}
	return data, nil
}

// PutSnapshot implements Store.
func (f *FileStore) PutSnapshot(ctx context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp snapshot file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot document: %w", err)
	}
	return nil
}
