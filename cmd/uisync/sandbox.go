package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/statelayer/uisync/internal/store/sandbox"
	"github.com/statelayer/uisync/internal/transport"
	"github.com/statelayer/uisync/internal/workspace"
)

var flagSandboxSeed string

var sandboxCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Serve a sandboxed store over a websocket endpoint",
	Long: `Run the in-memory document store behind the message protocol so a
host engine can drive extraction and apply cycles remotely. Connect a
host with "run" or "apply" and sandboxURL pointing at this listener.

--seed loads initial store contents from a JSON file shaped as
{"db": {"container": {"key": "value"}}}.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := loadSettings()
		if err != nil {
			return err
		}
		logger := newLogger(settings, "sandbox")

		sb := sandbox.New(newLogger(settings, "store"))
		defer sb.Close()

		if flagSandboxSeed != "" {
			if err := seedSandbox(sb, flagSandboxSeed); err != nil {
				return err
			}
		}

		svc := sandbox.NewService(sb, workspace.NewResolver(""), logger)

		mux := http.NewServeMux()
		mux.HandleFunc("/sync", func(w http.ResponseWriter, r *http.Request) {
			conn, err := transport.Accept(w, r)
			if err != nil {
				logger.Printf("WARNING: failed to accept connection: %v", err)
				return
			}
			logger.Printf("Host connected from %s", r.RemoteAddr)
			if err := svc.Serve(r.Context(), conn); err != nil {
				logger.Printf("Host session ended: %v", err)
			} else {
				logger.Printf("Host disconnected")
			}
		})

		logger.Printf("Sandbox listening on %s", settings.ListenAddr)
		return http.ListenAndServe(settings.ListenAddr, mux)
	},
}

// seedSandbox loads {"db": {"container": {"key": "value"}}} into the
// store. Database names get the workspace-storage prefix added for
// them, matching what Seed expects.
func seedSandbox(sb *sandbox.Sandbox, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}
	var doc map[string]map[string]map[string]string
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}
	for db, containers := range doc {
		for container, records := range containers {
			if err := sb.Seed(db, container, records); err != nil {
				return fmt.Errorf("failed to seed %s/%s: %w", db, container, err)
			}
		}
	}
	return nil
}

func init() {
	sandboxCmd.Flags().StringVar(&flagSandboxSeed, "seed", "", "JSON file with initial store contents")
	rootCmd.AddCommand(sandboxCmd)
}
