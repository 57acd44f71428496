package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/statelayer/uisync/internal/keyfilter"
	"github.com/statelayer/uisync/internal/pipeline"
	"github.com/statelayer/uisync/internal/store/vscdb"
	"github.com/statelayer/uisync/internal/workspace"
)

var flagOnceOutput string

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single extraction and print the snapshot",
	Long: `Extract one canonical snapshot from the configured storage root
and write it as JSON to stdout, or to a file with --output.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		if settings.StorageRoot == "" {
			return fmt.Errorf("once requires a storageRoot; configure one or use the sandbox commands")
		}

		logger := newLogger(settings, "once")
		adapter := vscdb.New(settings.StorageRoot, newLogger(settings, "vscdb"))
		matcher := keyfilter.Compile(settings.SafeKeys, workspace.MarkerKey)
		resolver := workspace.NewResolver("")

		snap, err := pipeline.Extract(context.Background(), adapter, matcher, resolver, logger)
		if err != nil {
			return err
		}

		data, err := snap.Encode()
		if err != nil {
			return err
		}
		if flagOnceOutput != "" {
			return os.WriteFile(flagOnceOutput, data, 0o644)
		}
		fmt.Println(string(data))
		return nil
	},
}

func init() {
	onceCmd.Flags().StringVarP(&flagOnceOutput, "output", "o", "", "write the snapshot to a file instead of stdout")
	rootCmd.AddCommand(onceCmd)
}
