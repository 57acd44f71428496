package snapshot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSetStoreLastWriteWins(t *testing.T) {
	c := New()
	c.SetStore("projA", "ItemTable", []Record{
		{Key: "workbench.sideBar.hidden", Value: "true"},
		{Key: "workbench.panel.hidden", Value: "false"},
	})
	c.SetStore("projA", "ItemTable", []Record{
		{Key: "workbench.sideBar.hidden", Value: "false"},
	})

	keys, ok := c.Lookup("projA", "ItemTable")
	if !ok {
		t.Fatal("expected (projA, ItemTable) to exist")
	}
	if len(keys) != 1 {
		t.Fatalf("got %d keys, want 1 (later store wins wholesale)", len(keys))
	}
	if keys["workbench.sideBar.hidden"] != "false" {
		t.Errorf("sideBar.hidden = %q, want %q", keys["workbench.sideBar.hidden"], "false")
	}
}

func TestEqual(t *testing.T) {
	a := New()
	a.Set("projA", "ItemTable", "k1", "v1")
	a.Set("projB", "ItemTable", "k2", "v2")

	b := New()
	b.Set("projB", "ItemTable", "k2", "v2")
	b.Set("projA", "ItemTable", "k1", "v1")

	if !a.Equal(b) {
		t.Error("insertion order must not affect equality")
	}

	b.Set("projA", "ItemTable", "k1", "other")
	if a.Equal(b) {
		t.Error("differing values must not compare equal")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a := New()
	a.Set("projA", "ItemTable", "k1", "v1")

	b := a.Clone()
	b.Set("projA", "ItemTable", "k1", "mutated")

	if a["projA"]["ItemTable"]["k1"] != "v1" {
		t.Error("mutating a clone must not touch the original")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	a := New()
	a.Set("projA", "ItemTable", "workbench.sideBar.hidden", "true")
	a.Set("projA", "WebviewState", "workbench.view.extension.git.state", `{"c":1}`)

	data, err := a.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	b, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !a.Equal(b) {
		t.Error("round-tripped snapshot differs")
	}
}

func TestFallbackRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "fallback.json")

	a := New()
	a.Set("projA", "ItemTable", "workbench.sideBar.hidden", "true")

	if err := SaveFallback(path, a); err != nil {
		t.Fatalf("SaveFallback: %v", err)
	}

	b, savedAt, err := LoadFallback(path)
	if err != nil {
		t.Fatalf("LoadFallback: %v", err)
	}
	if savedAt.IsZero() {
		t.Error("saved_at must be recorded")
	}
	if !a.Equal(b) {
		t.Error("fallback round trip altered the snapshot")
	}

	// Overwrite with a newer snapshot; the old document must be gone.
	a.Set("projB", "ItemTable", "k", "v")
	if err := SaveFallback(path, a); err != nil {
		t.Fatalf("SaveFallback (overwrite): %v", err)
	}
	c, _, err := LoadFallback(path)
	if err != nil {
		t.Fatalf("LoadFallback (overwrite): %v", err)
	}
	if !a.Equal(c) {
		t.Error("overwritten fallback did not replace the prior document")
	}
}

func TestLoadFallbackMissing(t *testing.T) {
	_, _, err := LoadFallback(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}
