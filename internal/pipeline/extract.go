// Package pipeline implements the extraction and apply passes shared by
// both storage backends.
//
// The pipelines are resilient by design: a failure in one store is
// logged and isolated, it never aborts work on the remaining stores.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/statelayer/uisync/internal/keyfilter"
	"github.com/statelayer/uisync/internal/snapshot"
	"github.com/statelayer/uisync/internal/store"
	"github.com/statelayer/uisync/internal/workspace"
)

// Extract reads every store the adapter can see, filters records
// through the matcher, attributes them to workspaces via the resolver,
// and merges the result into one canonical snapshot.
//
// Per-store rules:
//   - a read failure skips the store (logged, partial success)
//   - a store without a marker record contributes nothing
//   - a marker that fails to resolve contributes nothing
//   - the marker key itself never appears in the output data
//
// When two stores resolve to the same (workspace, store-name) pair, the
// later one in enumeration order wins; the order is adapter-defined.
func Extract(ctx context.Context, adapter store.Adapter, matcher *keyfilter.Matcher, resolver *workspace.Resolver, logger *log.Logger) (snapshot.Canonical, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[extract] ", log.LstdFlags)
	}

	refs, err := adapter.ListStores(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate stores on %s: %w", adapter.Name(), err)
	}

	snap := snapshot.New()
	var read, skipped, failed int

	for _, ref := range refs {
		records, err := adapter.ReadRecords(ctx, ref)
		if err != nil {
			logger.Printf("WARNING: failed to read %s/%s: %v", ref.Database, ref.Store, err)
			failed++
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

		safe := make([]snapshot.Record, 0, len(records))
		for _, rec := range records {
			if rec.Key == workspace.MarkerKey {
				continue
			}
			if matcher.IsSafe(rec.Key) {
				safe = append(safe, rec)
			}
		}

		snap.SetStore(name, ref.Store, safe)
		read++
	}

	logger.Printf("Extraction complete: stores=%d skipped=%d failed=%d workspaces=%d keys=%d",
		read, skipped, failed, snap.Workspaces(), snap.Keys())

	return snap, nil
}

// findMarker locates the attribution marker in a record slice.
func findMarker(records []snapshot.Record) (string, bool) {
	for _, rec := range records {
		if rec.Key == workspace.MarkerKey {
			return rec.Value, true
		}
	}
	return "", false
}
