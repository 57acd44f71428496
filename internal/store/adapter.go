// Package store defines the capability contract shared by the two
// storage backends: the host relational adapter (direct SQLite files)
// and the sandbox adapter (message-passing document stores).
//
// The extraction and apply pipelines are written against this contract
// only; backend selection happens at composition time.
package store

import (
	"context"

	"github.com/statelayer/uisync/internal/snapshot"
)

// Ref identifies one store/table within one database.
type Ref struct {
	// Database is the backend-defined database identity: a file path
	// for the relational adapter, a document-database name for the
	// sandbox adapter.
	Database string

	// Store is the table or object-container name inside the database.
	Store string
}

// Adapter is the capability surface a storage backend exposes to the
// pipelines.
//
// Contract, binding for every implementation:
//
//   - ListStores enumerates every store the backend can currently see.
//     Enumeration order is backend-defined and not guaranteed stable;
//     the extraction pipeline resolves duplicate attributions
//     last-write-wins in this order.
//   - ReadRecords returns all key/value pairs of one store, including
//     the attribution marker if present. A failure affects only that
//     store; callers skip it and continue.
//   - ApplyRecords upserts the given keys into one store as a single
//     unit of work (one write transaction for the relational backend).
//     Keys present in the store but absent from the map are left
//     untouched: apply merges, it never replaces. ApplyRecords must
//     never create a store that does not already exist.
//
// Adapters never resolve workspace names themselves; attribution is the
// pipelines' job, so both backends share one set of semantics.
type Adapter interface {
	// Name identifies the backend in logs.
	Name() string

	// ListStores enumerates all stores across all databases.
	ListStores(ctx context.Context) ([]Ref, error)

	// ReadRecords returns every record of the referenced store.
	ReadRecords(ctx context.Context, ref Ref) ([]snapshot.Record, error)

	// ApplyRecords upserts records into the referenced store.
	ApplyRecords(ctx context.Context, ref Ref, records map[string]string) error
}
