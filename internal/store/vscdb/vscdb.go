// Package vscdb implements the host relational store adapter.
//
// Workspace state lives in one SQLite database file per workspace,
// discovered by enumerating subdirectories of a known storage root,
// each holding a fixed-named database file:
//
//	<root>/<workspace-dir>/state.vscdb
//
// Inside each database, every two-column key/value table is a store.
// Extraction opens read-only; apply opens read-write and runs one write
// transaction per table, updating or inserting each key so row identity
// survives (never delete-then-reinsert). Writers are serialized per
// database file; distinct files may be worked concurrently.
package vscdb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/statelayer/uisync/internal/snapshot"
	"github.com/statelayer/uisync/internal/store"
)

// DBFileName is the fixed database file name inside each workspace
// storage directory.
const DBFileName = "state.vscdb"

// Adapter reads and writes per-workspace SQLite state databases.
type Adapter struct {
	root   string
	logger *log.Logger

	mu        sync.Mutex
	fileLocks map[string]*sync.Mutex
}

// New creates an adapter over the given storage root. If logger is nil,
// a default stderr logger is used.
func New(root string, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[vscdb] ", log.LstdFlags)
	}
	return &Adapter{
		root:      root,
		logger:    logger,
		fileLocks: make(map[string]*sync.Mutex),
	}
}

// Name implements store.Adapter.
func (a *Adapter) Name() string { return "vscdb" }

// ListStores enumerates every key/value table of every discovered
// database file. A database that cannot be opened is logged and
// skipped; it never fails the whole enumeration.
func (a *Adapter) ListStores(ctx context.Context) ([]store.Ref, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage root %s: %w", a.root, err)
	}

	var refs []store.Ref
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(a.root, entry.Name(), DBFileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		tables, err := a.listTables(ctx, path)
		if err != nil {
			a.logger.Printf("WARNING: failed to inspect %s: %v", path, err)
			continue
		}
		for _, table := range tables {
			refs = append(refs, store.Ref{Database: path, Store: table})
		}
	}

	return refs, nil
}

// ReadRecords returns all key/value pairs of one table under the
// engine's read-transaction isolation.
func (a *Adapter) ReadRecords(ctx context.Context, ref store.Ref) ([]snapshot.Record, error) {
	db, err := a.openReadOnly(ref.Database)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := fmt.Sprintf(`SELECT key, value FROM %s`, quoteIdent(ref.Store))
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read table %s: %w", ref.Store, err)
	}
	defer rows.Close()

	var records []snapshot.Record
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan row in %s: %w", ref.Store, err)
		}
		records = append(records, snapshot.Record{Key: key, Value: string(value)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", ref.Store, err)
	}

	return records, nil
}

// ApplyRecords upserts the given keys into one table inside a single
// write transaction. Each key is checked for existence and then
// UPDATEd or INSERTed, preserving row identity. A failed transaction
// rolls back this table only.
func (a *Adapter) ApplyRecords(ctx context.Context, ref store.Ref, records map[string]string) error {
	if len(records) == 0 {
		return nil
	}

	// One writer per database file at a time.
	lock := a.fileLock(ref.Database)
	lock.Lock()
	defer lock.Unlock()

	db, err := a.openReadWrite(ref.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction on %s: %w", ref.Database, err)
	}
	defer tx.Rollback()

	table := quoteIdent(ref.Store)
	existsQuery := fmt.Sprintf(`SELECT 1 FROM %s WHERE key = ?`, table)
	updateQuery := fmt.Sprintf(`UPDATE %s SET value = ? WHERE key = ?`, table)
	insertQuery := fmt.Sprintf(`INSERT INTO %s (key, value) VALUES (?, ?)`, table)

	// Deterministic write order keeps transactions comparable in logs
	// and tests.
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		var one int
		err := tx.QueryRowContext(ctx, existsQuery, key).Scan(&one)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx, insertQuery, key, records[key]); err != nil {
				return fmt.Errorf("failed to insert %s into %s: %w", key, ref.Store, err)
			}
		case err != nil:
			return fmt.Errorf("failed to check %s in %s: %w", key, ref.Store, err)
		default:
			if _, err := tx.ExecContext(ctx, updateQuery, records[key], key); err != nil {
				return fmt.Errorf("failed to update %s in %s: %w", key, ref.Store, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit to %s: %w", ref.Store, err)
	}
	return nil
}

// listTables returns the key/value tables of one database file, sorted
// by name.
func (a *Adapter) listTables(ctx context.Context, path string) ([]string, error) {
	db, err := a.openReadOnly(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		candidates = append(candidates, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}

	var tables []string
	for _, name := range candidates {
		ok, err := a.isKeyValueTable(ctx, db, name)
		if err != nil {
			return nil, err
		}
		if ok {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

// isKeyValueTable reports whether the table carries both a key and a
// value column. Other tables in the file belong to the editor and are
// not stores.
func (a *Adapter) isKeyValueTable(ctx context.Context, db *sql.DB, name string) (bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, quoteIdent(name)))
	if err != nil {
		return false, fmt.Errorf("failed to inspect table %s: %w", name, err)
	}
	defer rows.Close()

	var hasKey, hasValue bool
	for rows.Next() {
		var (
			cid       int
			colName   string
			colType   string
			notNull   int
			dfltValue any
			pk        int
		)
		if err := rows.Scan(&cid, &colName, &colType, &notNull, &dfltValue, &pk); err != nil {
			return false, fmt.Errorf("failed to scan column of %s: %w", name, err)
		}
		switch colName {
		case "key":
			hasKey = true
		case "value":
			hasValue = true
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}
	return hasKey && hasValue, nil
}

// openReadOnly opens a database file for extraction.
func (a *Adapter) openReadOnly(path string) (*sql.DB, error) {
	return a.open("file:" + path + "?mode=ro")
}

// openReadWrite opens a database file for apply. The journal mode is
// left untouched: the editor owns the file.
func (a *Adapter) openReadWrite(path string) (*sql.DB, error) {
	return a.open("file:" + path)
}

func (a *Adapter) open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	// The editor may hold the file; wait rather than fail on a brief lock.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	return db, nil
}

// fileLock returns the write lock for one database file.
func (a *Adapter) fileLock(path string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	lock, ok := a.fileLocks[path]
	if !ok {
		lock = &sync.Mutex{}
		a.fileLocks[path] = lock
	}
	return lock
}

// quoteIdent quotes a SQLite identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
