package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/statelayer/uisync/internal/keyfilter"
	"github.com/statelayer/uisync/internal/snapshot"
	"github.com/statelayer/uisync/internal/store"
	"github.com/statelayer/uisync/internal/workspace"
)

// Apply merges an incoming canonical snapshot back into the adapter's
// stores.
//
// For every store the adapter enumerates, the current marker decides
// the target workspace; stores whose workspace (or store name) is
// absent from the snapshot are skipped. Matched stores receive the
// incoming keys as upserts. Apply never creates a store and never
// removes keys that are absent from the snapshot.
//
// Write failures are isolated per store: the error is collected and the
// remaining stores still run. The joined error is returned at the end.
func Apply(ctx context.Context, adapter store.Adapter, snap snapshot.Canonical, matcher *keyfilter.Matcher, resolver *workspace.Resolver, logger *log.Logger) error {
	if logger == nil {
		logger = log.New(os.Stderr, "[apply] ", log.LstdFlags)
	}
	if len(snap) == 0 {
		logger.Printf("Apply skipped: empty snapshot")
		return nil
	}

	refs, err := adapter.ListStores(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate stores on %s: %w", adapter.Name(), err)
	}

	var applied, skipped int
	var errs []error

	for _, ref := range refs {
		records, err := adapter.ReadRecords(ctx, ref)
		if err != nil {
			logger.Printf("WARNING: failed to read %s/%s: %v", ref.Database, ref.Store, err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", ref.Database, ref.Store, err))
			continue
		}

		marker, ok := findMarker(records)
		if !ok {
			skipped++
			continue
		}
		name, ok := resolver.Resolve(marker)
		if !ok {
			skipped++
			continue
		}

		incoming, ok := snap.Lookup(name, ref.Store)
		if !ok {
			skipped++
			continue
		}

		// Remote snapshots are untrusted: re-filter before writing so
		// a foreign machine with a wider key set cannot inject keys,
		// and the marker stays local.
		upserts := make(map[string]string, len(incoming))
		for k, v := range incoming {
			if k == workspace.MarkerKey {
				continue
			}
			if matcher.IsSafe(k) {
				upserts[k] = v
			}
		}
		if len(upserts) == 0 {
			skipped++
			continue
		}

		if err := adapter.ApplyRecords(ctx, ref, upserts); err != nil {
			logger.Printf("WARNING: failed to apply to %s/%s (workspace %s): %v",
				ref.Database, ref.Store, name, err)
			errs = append(errs, fmt.Errorf("%s/%s: %w", ref.Database, ref.Store, err))
			continue
		}
		applied++
	}

	logger.Printf("Apply complete: stores=%d skipped=%d failed=%d", applied, skipped, len(errs))
	return errors.Join(errs...)
}
