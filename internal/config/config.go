// Package config loads and watches the engine settings.
//
// Settings come from an optional YAML config file layered with
// UISYNC_-prefixed environment variables. The safe-key set can be
// inlined or kept in a standalone YAML list file so it can be shared
// between machines independently of the rest of the configuration.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DefaultInterval is used when the config does not set one.
const DefaultInterval = 5 * time.Minute

// Settings is the immutable per-cycle configuration. A change replaces
// the whole value; nothing mutates a live Settings.
type Settings struct {
	// IntervalMillis is the extraction period. Must be positive.
	IntervalMillis int64 `mapstructure:"intervalMillis"`

	// SafeKeys is the ordered safe-key pattern set.
	SafeKeys []string `mapstructure:"safeKeys"`

	// KeysFile optionally points at a standalone YAML list of
	// patterns, appended to SafeKeys at load time.
	KeysFile string `mapstructure:"keysFile"`

	// StorageRoot is the workspace-storage directory holding one
	// subdirectory per workspace for the relational backend.
	StorageRoot string `mapstructure:"storageRoot"`

	// FallbackPath is where the bootstrap snapshot document lives.
	FallbackPath string `mapstructure:"fallbackPath"`

	// RemotePath, when set, points at the remote snapshot document
	// (file-backed): each successful cycle publishes there, and the
	// daemon merges its contents in at startup.
	RemotePath string `mapstructure:"remotePath"`

	// SandboxURL, when set, makes the host drive a sandbox endpoint
	// over the channel instead of the local relational backend.
	SandboxURL string `mapstructure:"sandboxURL"`

	// ListenAddr is the bind address for `uisync sandbox`.
	ListenAddr string `mapstructure:"listenAddr"`

	// LogFile routes logs through a rotating file when non-empty.
	LogFile string `mapstructure:"logFile"`
}

// Interval returns the extraction period as a duration.
func (s Settings) Interval() time.Duration {
	return time.Duration(s.IntervalMillis) * time.Millisecond
}

// Validate checks the invariants a running engine relies on.
func (s Settings) Validate() error {
	if s.IntervalMillis <= 0 {
		return fmt.Errorf("intervalMillis must be positive, got %d", s.IntervalMillis)
	}
	if s.StorageRoot == "" && s.SandboxURL == "" {
		return fmt.Errorf("either storageRoot or sandboxURL must be set")
	}
	return nil
}

// Default returns the built-in settings: a conservative key set
// covering workbench layout state only.
func Default() Settings {
	return Settings{
		IntervalMillis: DefaultInterval.Milliseconds(),
		SafeKeys: []string{
			"workbench.sideBar.hidden",
			"workbench.sideBar.position",
			"workbench.panel.hidden",
			"workbench.panel.position",
			"workbench.statusBar.hidden",
			"workbench.activityBar.hidden",
			"workbench.zenMode.active",
			"workbench.view.extension.*.state",
			"workbench.explorer.views.state",
		},
		FallbackPath: filepath.Join(".uisync", "fallback.json"),
		ListenAddr:   ":7391",
	}
}

// Load reads settings from path (or the default search locations when
// path is empty) and the environment. The returned viper instance can
// be handed to Watch.
func Load(path string) (Settings, *viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("UISYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("intervalMillis", defaults.IntervalMillis)
	v.SetDefault("safeKeys", defaults.SafeKeys)
	v.SetDefault("fallbackPath", defaults.FallbackPath)
	v.SetDefault("listenAddr", defaults.ListenAddr)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("uisync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "uisync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine when none was named explicitly;
		// defaults and env carry it.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || (!errors.As(err, &notFound) && !os.IsNotExist(err)) {
			return Settings{}, nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	s, err := settingsFrom(v)
	if err != nil {
		return Settings{}, nil, err
	}
	return s, v, nil
}

// settingsFrom unmarshals and post-processes one viper state.
func settingsFrom(v *viper.Viper) (Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if s.KeysFile != "" {
		extra, err := LoadKeysFile(s.KeysFile)
		if err != nil {
			return Settings{}, err
		}
		s.SafeKeys = append(s.SafeKeys, extra...)
	}
	return s, nil
}

// Watch re-reads the config on file changes and hands each valid new
// Settings to onChange. Invalid intermediate states (editors writing in
// two steps, truncated files) are logged and skipped.
func Watch(v *viper.Viper, logger *log.Logger, onChange func(Settings)) {
	v.OnConfigChange(func(fsnotify.Event) {
		s, err := settingsFrom(v)
		if err != nil {
			logger.Printf("WARNING: ignoring config change: %v", err)
			return
		}
		if err := s.Validate(); err != nil {
			logger.Printf("WARNING: ignoring invalid config change: %v", err)
			return
		}
		onChange(s)
	})
	v.WatchConfig()
}

// LoadKeysFile parses a standalone YAML document holding a list of
// safe-key patterns.
func LoadKeysFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keys file: %w", err)
	}

	var keys []string
	if err := yaml.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse keys file %s: %w", path, err)
	}

	out := keys[:0]
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out, nil
}
