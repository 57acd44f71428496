package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/statelayer/uisync/internal/config"
	"github.com/statelayer/uisync/internal/keyfilter"
	"github.com/statelayer/uisync/internal/pipeline"
	"github.com/statelayer/uisync/internal/remote"
	"github.com/statelayer/uisync/internal/scheduler"
	"github.com/statelayer/uisync/internal/snapshot"
	storepkg "github.com/statelayer/uisync/internal/store"
	"github.com/statelayer/uisync/internal/store/vscdb"
	"github.com/statelayer/uisync/internal/transport"
	"github.com/statelayer/uisync/internal/workspace"
)

// debounceInterval batches rapid storage writes into one triggered
// cycle.
const debounceInterval = 2 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine until interrupted",
	Long: `Run the scheduler: one extraction immediately, then one per
configured interval. Each successful extraction overwrites the local
fallback snapshot. External writes to the storage root trigger an
off-interval cycle.

With sandboxURL configured, the engine drives a remote sandbox
endpoint over its message channel instead of reading local databases.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, v, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagLogFile != "" {
			settings.LogFile = flagLogFile
		}
		if err := settings.Validate(); err != nil {
			return err
		}

		if settings.SandboxURL != "" {
			return runSandboxHost(settings)
		}

		logger := newLogger(settings, "run")
		resolver := workspace.NewResolver("")
		adapter := vscdb.New(settings.StorageRoot, newLogger(settings, "vscdb"))
		matcher := keyfilter.Compile(settings.SafeKeys, workspace.MarkerKey)

		var remoteStore remote.Store
		if settings.RemotePath != "" {
			remoteStore = remote.NewFileStore(settings.RemotePath)
			if err := mergeRemote(remoteStore, adapter, matcher, resolver, logger); err != nil {
				logger.Printf("WARNING: failed to merge remote snapshot: %v", err)
			}
		}

		sink := func(r scheduler.Result) {
			if r.Err != nil {
				return
			}
			if err := snapshot.SaveFallback(settings.FallbackPath, r.Snapshot); err != nil {
				logger.Printf("WARNING: failed to persist fallback snapshot: %v", err)
			}
			if remoteStore == nil {
				return
			}
			data, err := r.Snapshot.Encode()
			if err != nil {
				logger.Printf("WARNING: failed to encode snapshot for remote: %v", err)
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := remoteStore.PutSnapshot(ctx, data); err != nil {
				logger.Printf("WARNING: failed to publish snapshot to remote: %v", err)
			}
		}
		sched := scheduler.New(sink, newLogger(settings, "scheduler"))
		defer sched.Stop()

		start := func(s config.Settings) error {
			matcher := keyfilter.Compile(s.SafeKeys, workspace.MarkerKey)
			run := func(ctx context.Context) (snapshot.Canonical, error) {
				return pipeline.Extract(ctx, adapter, matcher, resolver, logger)
			}
			return sched.Start(s.Interval(), run)
		}
		if err := start(settings); err != nil {
			return err
		}

		// A config change restarts the scheduler wholesale with the
		// new settings; timers are never adjusted in place. Only
		// intervalMillis and safeKeys hot-reload: the sink and remote
		// store captured the startup fallbackPath/remotePath, so those
		// need a process restart.
		config.Watch(v, logger, func(s config.Settings) {
			logger.Printf("Configuration changed, restarting scheduler")
			if err := start(s); err != nil {
				logger.Printf("WARNING: failed to restart scheduler: %v", err)
			}
		})

		stopWatch, err := watchStorage(settings.StorageRoot, sched, logger)
		if err != nil {
			logger.Printf("WARNING: storage watching disabled: %v", err)
		} else {
			defer stopWatch()
		}

		logger.Printf("Engine running: root=%s interval=%v", settings.StorageRoot, settings.Interval())
		waitForSignal()
		logger.Printf("Shutting down")
		return nil
	},
}

// mergeRemote pulls the remote snapshot document and merges it into
// local storage. An empty remote is not an error on first run.
func mergeRemote(store remote.Store, adapter storepkg.Adapter, matcher *keyfilter.Matcher, resolver *workspace.Resolver, logger *log.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	data, err := store.GetSnapshot(ctx)
	if errors.Is(err, remote.ErrNoSnapshot) {
		logger.Printf("Remote holds no snapshot yet, skipping merge")
		return nil
	}
	if err != nil {
		return err
	}
	snap, err := snapshot.Decode(data)
	if err != nil {
		return err
	}
	return pipeline.Apply(ctx, adapter, snap, matcher, resolver, logger)
}

// runSandboxHost drives a sandbox endpoint over the message channel.
// The timer lives sandbox-side; the host consumes cycle results.
func runSandboxHost(settings config.Settings) error {
	logger := newLogger(settings, "run")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	conn, err := transport.Dial(ctx, settings.SandboxURL)
	cancel()
	if err != nil {
		return err
	}

	client := transport.NewClient(conn, newLogger(settings, "transport"))
	defer client.Close()

	client.OnCycleFinished = func(p transport.CycleFinishedPayload) {
		if p.Error != "" {
			logger.Printf("WARNING: sandbox cycle failed: %s", p.Error)
			return
		}
		if err := snapshot.SaveFallback(settings.FallbackPath, p.Snapshot); err != nil {
			logger.Printf("WARNING: failed to persist fallback snapshot: %v", err)
		}
	}

	if err := client.StartCycle(context.Background(), transport.StartCyclePayload{
		IntervalMillis: settings.IntervalMillis,
		SafeKeys:       settings.SafeKeys,
	}); err != nil {
		return err
	}

	logger.Printf("Engine running against sandbox %s, interval=%v", settings.SandboxURL, settings.Interval())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sig:
		// Best effort: the sandbox keeps no state worth draining.
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.StopCycle(stopCtx); err != nil {
			logger.Printf("WARNING: failed to stop sandbox cycle: %v", err)
		}
	case <-client.Done():
		return fmt.Errorf("channel to sandbox lost; restart to resume syncing")
	}
	logger.Printf("Shutting down")
	return nil
}

// watchStorage triggers off-interval cycles when workspace databases
// change on disk. fsnotify does not recurse, so the root and each
// workspace directory present at startup are watched; directories
// created later are picked up as they appear.
func watchStorage(root string, sched *scheduler.Scheduler, logger *log.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return nil, err
	}
	if entries, err := os.ReadDir(root); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				_ = watcher.Add(filepath.Join(root, entry.Name()))
			}
		}
	}

	done := make(chan struct{})
	go func() {
		var debounce *time.Timer
		for {
			select {
			case <-done:
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) {
					if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
						_ = watcher.Add(event.Name)
					}
				}
				if filepath.Base(event.Name) != vscdb.DBFileName {
					continue
				}
				if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, sched.Trigger)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("WARNING: storage watcher error: %v", err)
			}
		}
	}()

	return func() {
		close(done)
		_ = watcher.Close()
	}, nil
}

func waitForSignal() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

func init() {
	rootCmd.AddCommand(runCmd)
}
