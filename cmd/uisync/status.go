package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/statelayer/uisync/internal/snapshot"
	"github.com/statelayer/uisync/internal/store/vscdb"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show storage and fallback snapshot status",
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if settings.StorageRoot != "" {
			adapter := vscdb.New(settings.StorageRoot, newLogger(settings, "vscdb"))
			refs, err := adapter.ListStores(context.Background())
			if err != nil {
				fmt.Fprintf(out, "Storage root: %s (unreadable: %v)\n", settings.StorageRoot, err)
			} else {
				dbs := map[string]int{}
				for _, ref := range refs {
					dbs[ref.Database]++
				}
				fmt.Fprintf(out, "Storage root: %s\n", settings.StorageRoot)
				fmt.Fprintf(out, "  %d database(s), %d store(s)\n", len(dbs), len(refs))
			}
		} else {
			fmt.Fprintf(out, "Storage root: not configured\n")
		}

		if settings.SandboxURL != "" {
			fmt.Fprintf(out, "Sandbox endpoint: %s\n", settings.SandboxURL)
		}

		snap, savedAt, err := snapshot.LoadFallback(settings.FallbackPath)
		switch {
		case errors.Is(err, os.ErrNotExist):
			fmt.Fprintf(out, "Fallback snapshot: none (%s)\n", settings.FallbackPath)
		case err != nil:
			fmt.Fprintf(out, "Fallback snapshot: unreadable: %v\n", err)
		default:
			fmt.Fprintf(out, "Fallback snapshot: %s\n", settings.FallbackPath)
			fmt.Fprintf(out, "  saved %s (%s ago)\n", savedAt.Format(time.RFC3339), time.Since(savedAt).Round(time.Second))
			fmt.Fprintf(out, "  %d workspace(s), %d key(s)\n", snap.Workspaces(), snap.Keys())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
