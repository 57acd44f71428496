package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fallbackDoc is the on-disk shape of the persisted fallback snapshot.
type fallbackDoc struct {
	SavedAt  time.Time `json:"saved_at"`
	Snapshot Canonical `json:"snapshot"`
}

// SaveFallback overwrites the fallback document at path with the given
// snapshot. The write goes through a temp file and rename so a crash
// mid-write never leaves a torn document behind.
//
// The fallback is a bootstrap value only: it is written after every
// successful extraction and read back when no other snapshot is
// available. It is never authoritative.
func SaveFallback(path string, c Canonical) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create fallback directory: %w", err)
	}

	doc := fallbackDoc{
		SavedAt:  time.Now().UTC(),
		Snapshot: c,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fallback snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp fallback file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write fallback snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp fallback file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace fallback file: %w", err)
	}

	return nil
}

// LoadFallback reads the fallback document at path. It returns the
// snapshot and the time it was saved. A missing file surfaces as an
// error wrapping os.ErrNotExist so callers can distinguish "no
// bootstrap yet" from corruption.
func LoadFallback(path string) (Canonical, time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, err
	}

	var doc fallbackDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to parse fallback file %s: %w", path, err)
	}
	if doc.Snapshot == nil {
		doc.Snapshot = New()
	}
	return doc.Snapshot, doc.SavedAt, nil
}
