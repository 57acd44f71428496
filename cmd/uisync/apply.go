package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/statelayer/uisync/internal/config"
	"github.com/statelayer/uisync/internal/keyfilter"
	"github.com/statelayer/uisync/internal/pipeline"
	"github.com/statelayer/uisync/internal/snapshot"
	"github.com/statelayer/uisync/internal/store/vscdb"
	"github.com/statelayer/uisync/internal/transport"
	"github.com/statelayer/uisync/internal/workspace"
)

var applyCmd = &cobra.Command{
	Use:   "apply [snapshot-file]",
	Short: "Merge a snapshot into local storage",
	Long: `Read a canonical snapshot (as produced by "once") and merge its
records into the matching workspace stores. Existing keys are
overwritten, local-only keys are preserved, and no new stores are
created. With no argument the local fallback snapshot is applied.

With sandboxURL configured, the snapshot is shipped to the sandbox
endpoint for application there instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}

		var snap snapshot.Canonical
		if len(args) == 1 {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read snapshot file: %w", err)
			}
			snap, err = snapshot.Decode(data)
			if err != nil {
				return err
			}
		} else {
			var savedAt time.Time
			snap, savedAt, err = snapshot.LoadFallback(settings.FallbackPath)
			if err != nil {
				return fmt.Errorf("failed to load fallback snapshot: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Applying fallback snapshot saved %s\n", savedAt.Format(time.RFC3339))
		}

		if settings.SandboxURL != "" {
			return applyViaSandbox(settings, snap)
		}
		if settings.StorageRoot == "" {
			return fmt.Errorf("apply requires a storageRoot or sandboxURL")
		}

		logger := newLogger(settings, "apply")
		adapter := vscdb.New(settings.StorageRoot, newLogger(settings, "vscdb"))
		matcher := keyfilter.Compile(settings.SafeKeys, workspace.MarkerKey)
		resolver := workspace.NewResolver("")

		return pipeline.Apply(context.Background(), adapter, snap, matcher, resolver, logger)
	},
}

func applyViaSandbox(settings config.Settings, snap snapshot.Canonical) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx, settings.SandboxURL)
	if err != nil {
		return err
	}
	client := transport.NewClient(conn, newLogger(settings, "transport"))
	defer client.Close()

	return client.Apply(ctx, transport.ApplySnapshotPayload{
		SafeKeys: settings.SafeKeys,
		Snapshot: snap,
	})
}

func init() {
	rootCmd.AddCommand(applyCmd)
}
