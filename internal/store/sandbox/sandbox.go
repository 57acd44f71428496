// Package sandbox implements the message-passing store adapter.
//
// The sandbox models a restricted, single-threaded execution context
// with access to local per-origin document databases but no filesystem
// or network. All state is confined to one goroutine; every operation
// is posted onto its queue and runs there, so logical concurrency is
// interleaving, never parallel access.
//
// Coordination with the host happens over a single bidirectional
// channel carrying the tagged command/event protocol (see Service).
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/statelayer/uisync/internal/snapshot"
	"github.com/statelayer/uisync/internal/store"
)

// DBPrefix marks the document databases that belong to one logical
// state container each.
const DBPrefix = "vscode-web-state-db-"

// GlobalDBName is the state container that is not tied to a workspace.
const GlobalDBName = DBPrefix + "global"

// ErrSandboxClosed is returned for operations after Close.
var ErrSandboxClosed = errors.New("sandbox: closed")

// Sandbox owns the document databases and the goroutine they are
// confined to. It satisfies store.Adapter by funneling every call
// through the queue.
type Sandbox struct {
	logger *log.Logger

	reqs chan func()
	done chan struct{}
	once sync.Once

	// Owned by the loop goroutine; never touched directly elsewhere.
	dbs map[string]map[string]map[string]string // db -> container -> key -> value
}

// New creates a sandbox and starts its loop goroutine. Call Close when
// done.
func New(logger *log.Logger) *Sandbox {
	if logger == nil {
		logger = log.New(os.Stderr, "[sandbox] ", log.LstdFlags)
	}
	s := &Sandbox{
		logger: logger,
		reqs:   make(chan func(), 16),
		done:   make(chan struct{}),
		dbs:    make(map[string]map[string]map[string]string),
	}
	go s.loop()
	return s
}

// Close stops the loop goroutine. Pending operations already accepted
// still run.
func (s *Sandbox) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *Sandbox) loop() {
	for {
		select {
		case fn := <-s.reqs:
			fn()
		case <-s.done:
			// Drain operations accepted before the close.
			for {
				select {
				case fn := <-s.reqs:
					fn()
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the loop goroutine and waits for it to finish.
func (s *Sandbox) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		fn()
		close(finished)
	}

	select {
	case <-s.done:
		return ErrSandboxClosed
	default:
	}

	select {
	case s.reqs <- wrapped:
	case <-s.done:
		return ErrSandboxClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		// The loop drains accepted work on close; give it one more
		// chance before reporting closure.
		select {
		case <-finished:
			return nil
		default:
			return ErrSandboxClosed
		}
	}
}

// Seed creates a container (and its database) and fills it with
// records. Databases missing the prefix get it added. Seeding is how
// the embedding host primes sandbox storage; the apply pipeline itself
// never creates containers.
func (s *Sandbox) Seed(db, container string, records map[string]string) error {
	name := withPrefix(db)
	return s.do(context.Background(), func() {
		containers, ok := s.dbs[name]
		if !ok {
			containers = make(map[string]map[string]string)
			s.dbs[name] = containers
		}
		keys, ok := containers[container]
		if !ok {
			keys = make(map[string]string)
			containers[container] = keys
		}
		for k, v := range records {
			keys[k] = v
		}
	})
}

// Name implements store.Adapter.
func (s *Sandbox) Name() string { return "sandbox" }

// ListStores enumerates all containers of all prefixed databases in
// sorted order.
func (s *Sandbox) ListStores(ctx context.Context) ([]store.Ref, error) {
	var refs []store.Ref
	err := s.do(ctx, func() {
		dbNames := make([]string, 0, len(s.dbs))
		for name := range s.dbs {
			dbNames = append(dbNames, name)
		}
		sort.Strings(dbNames)

		for _, name := range dbNames {
			containers := s.dbs[name]
			containerNames := make([]string, 0, len(containers))
			for c := range containers {
				containerNames = append(containerNames, c)
			}
			sort.Strings(containerNames)
			for _, c := range containerNames {
				refs = append(refs, store.Ref{Database: name, Store: c})
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

// ReadRecords implements store.Adapter.
func (s *Sandbox) ReadRecords(ctx context.Context, ref store.Ref) ([]snapshot.Record, error) {
	var records []snapshot.Record
	var opErr error
	err := s.do(ctx, func() {
		keys, ok := s.container(ref)
		if !ok {
			opErr = fmt.Errorf("no such container %s/%s", ref.Database, ref.Store)
			return
		}
		names := make([]string, 0, len(keys))
		for k := range keys {
			names = append(names, k)
		}
		sort.Strings(names)
		records = make([]snapshot.Record, 0, len(names))
		for _, k := range names {
			records = append(records, snapshot.Record{Key: k, Value: keys[k]})
		}
	})
	if err != nil {
		return nil, err
	}
	if opErr != nil {
		return nil, opErr
	}
	return records, nil
}

// ApplyRecords upserts keys into an existing container. It never
// creates the container: a missing target is an error, matching the
// contract that apply does not create attribution targets.
func (s *Sandbox) ApplyRecords(ctx context.Context, ref store.Ref, records map[string]string) error {
	var opErr error
	err := s.do(ctx, func() {
		keys, ok := s.container(ref)
		if !ok {
			opErr = fmt.Errorf("no such container %s/%s", ref.Database, ref.Store)
			return
		}
		for k, v := range records {
			keys[k] = v
		}
	})
	if err != nil {
		return err
	}
	return opErr
}

// container looks up a ref; loop goroutine only.
func (s *Sandbox) container(ref store.Ref) (map[string]string, bool) {
	containers, ok := s.dbs[ref.Database]
	if !ok {
		return nil, false
	}
	keys, ok := containers[ref.Store]
	return keys, ok
}

func withPrefix(name string) string {
	if len(name) >= len(DBPrefix) && name[:len(DBPrefix)] == DBPrefix {
		return name
	}
	return DBPrefix + name
}
