package main

import (
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/statelayer/uisync/internal/config"
)

var (
	flagConfig  string
	flagLogFile string
)

var rootCmd = &cobra.Command{
	Use:   "uisync",
	Short: "Synchronize editor UI-layout state across machines",
	Long: `uisync extracts per-workspace UI state (sidebar, panel and view
layout) from local editor storage, filters it through a safe-key set,
groups it by workspace, and merges remote snapshots back in.

Two storage backends are supported: direct SQLite state databases
under a workspace-storage root, and a sandboxed document store driven
over a message channel.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: ./uisync.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "log to a rotating file instead of stderr")
}

// loadSettings loads config and applies flag overrides.
func loadSettings() (config.Settings, error) {
	settings, _, err := config.Load(flagConfig)
	if err != nil {
		return config.Settings{}, err
	}
	if flagLogFile != "" {
		settings.LogFile = flagLogFile
	}
	return settings, nil
}

// newLogger builds a component logger, routed through log rotation
// when a log file is configured.
func newLogger(settings config.Settings, prefix string) *log.Logger {
	var w io.Writer = os.Stderr
	if settings.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   settings.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
	}
	return log.New(w, "["+prefix+"] ", log.LstdFlags)
}
