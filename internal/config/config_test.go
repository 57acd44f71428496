package config

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uisync.yaml")
	writeFile(t, path, `
intervalMillis: 60000
storageRoot: /var/lib/uisync/workspaceStorage
safeKeys:
  - workbench.sideBar.hidden
  - workbench.view.extension.*.state
`)

	s, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.IntervalMillis != 60000 {
		t.Errorf("IntervalMillis = %d, want 60000", s.IntervalMillis)
	}
	if s.Interval() != time.Minute {
		t.Errorf("Interval() = %v, want 1m", s.Interval())
	}
	if s.StorageRoot != "/var/lib/uisync/workspaceStorage" {
		t.Errorf("StorageRoot = %q", s.StorageRoot)
	}
	if len(s.SafeKeys) != 2 {
		t.Errorf("SafeKeys = %v, want 2 entries", s.SafeKeys)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("an explicitly named missing config must fail")
	}
}

func TestLoadKeysFile(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "keys.yaml")
	writeFile(t, keysPath, `
- workbench.sideBar.hidden
- "  workbench.panel.hidden  "
- ""
`)

	keys, err := LoadKeysFile(keysPath)
	if err != nil {
		t.Fatalf("LoadKeysFile: %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("got %d keys, want 2 (blank dropped, whitespace trimmed)", len(keys))
	}
	if keys[1] != "workbench.panel.hidden" {
		t.Errorf("keys[1] = %q", keys[1])
	}
}

func TestKeysFileMergedIntoSettings(t *testing.T) {
	dir := t.TempDir()
	keysPath := filepath.Join(dir, "keys.yaml")
	writeFile(t, keysPath, "- extra.pattern\n")

	cfgPath := filepath.Join(dir, "uisync.yaml")
	writeFile(t, cfgPath, `
intervalMillis: 1000
storageRoot: `+dir+`
safeKeys: [workbench.sideBar.hidden]
keysFile: `+keysPath+`
`)

	s, _, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(s.SafeKeys) != 2 || s.SafeKeys[1] != "extra.pattern" {
		t.Errorf("SafeKeys = %v, want inline + keys file", s.SafeKeys)
	}
}

func TestWatchSkipsAndLogsInvalidChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uisync.yaml")
	writeFile(t, path, `
intervalMillis: 1000
storageRoot: `+dir+`
`)

	_, v, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	var buf safeBuffer
	logger := log.New(&buf, "", 0)
	changed := make(chan Settings, 4)
	Watch(v, logger, func(s Settings) { changed <- s })

	// An invalid intermediate state must be skipped, not delivered.
	writeFile(t, path, `
intervalMillis: -5
storageRoot: `+dir+`
`)
	deadline := time.After(5 * time.Second)
	for !strings.Contains(buf.String(), "ignoring") {
		select {
		case s := <-changed:
			t.Fatalf("invalid settings delivered: %+v", s)
		case <-deadline:
			t.Fatal("invalid config change was never logged")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// A valid change after it still comes through.
	writeFile(t, path, `
intervalMillis: 2000
storageRoot: `+dir+`
`)
	for {
		select {
		case s := <-changed:
			if s.IntervalMillis == 2000 {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("valid config change was never delivered")
		}
	}
}

// safeBuffer guards the log buffer against the viper watch goroutine.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"valid relational", Settings{IntervalMillis: 1000, StorageRoot: "/tmp/x"}, false},
		{"valid sandbox", Settings{IntervalMillis: 1000, SandboxURL: "ws://localhost:7391/channel"}, false},
		{"zero interval", Settings{IntervalMillis: 0, StorageRoot: "/tmp/x"}, true},
		{"negative interval", Settings{IntervalMillis: -5, StorageRoot: "/tmp/x"}, true},
		{"no backend", Settings{IntervalMillis: 1000}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.s.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultIsUsable(t *testing.T) {
	s := Default()
	if s.IntervalMillis <= 0 {
		t.Error("default interval must be positive")
	}
	if len(s.SafeKeys) == 0 {
		t.Error("default safe-key set must not be empty")
	}
	for _, k := range s.SafeKeys {
		if k == "" {
			t.Error("default safe-key set contains an empty pattern")
		}
	}
}
