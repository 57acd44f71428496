// Package scheduler drives periodic extraction cycles.
//
// The scheduler is a two-state machine: Idle and Running. Start moves
// it to Running, fires one cycle immediately and then one per
// interval; Stop returns it to Idle. A settings change is always an
// atomic stop-then-start with the new settings; timers are never
// mutated in place, so no dangling timer can survive a restart.
//
// Cycles never overlap: they run inline on the scheduler goroutine,
// and a tick that lands mid-cycle is deferred until the cycle ends.
// Stop cancels the pending timer only; an in-flight cycle runs to
// completion and its result is still delivered to the sink, which may
// use or discard it.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/statelayer/uisync/internal/snapshot"
)

// RunFunc performs one extraction cycle.
type RunFunc func(ctx context.Context) (snapshot.Canonical, error)

// Result is the outcome of one cycle, delivered to the sink.
type Result struct {
	CycleID  string
	Snapshot snapshot.Canonical
	Err      error
	Duration time.Duration
}

// Sink consumes cycle results. Called from the scheduler goroutine;
// a slow sink delays the next cycle, it never overlaps it.
type Sink func(Result)

// Scheduler runs the Idle/Running state machine.
type Scheduler struct {
	sink   Sink
	logger *log.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	kick    chan struct{}
	running bool
}

// New creates an Idle scheduler. If logger is nil, a default stderr
// logger is used.
func New(sink Sink, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stderr, "[scheduler] ", log.LstdFlags)
	}
	return &Scheduler{sink: sink, logger: logger}
}

// Start enters Running: one cycle now, then one per interval. If the
// scheduler is already Running it is stopped first, atomically under
// the same lock.
func (s *Scheduler) Start(interval time.Duration, run RunFunc) error {
	if interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", interval)
	}
	if run == nil {
		return fmt.Errorf("run function must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	kick := make(chan struct{}, 1)
	s.cancel = cancel
	s.kick = kick
	s.running = true

	s.logger.Printf("Scheduler started: interval=%v", interval)
	go s.loop(ctx, interval, run, kick)
	return nil
}

// Stop returns the scheduler to Idle. It cancels the pending timer
// only and does not wait for an in-flight cycle.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if !s.running {
		return
	}
	s.cancel()
	s.cancel = nil
	s.kick = nil
	s.running = false
	s.logger.Printf("Scheduler stopped")
}

// Running reports whether the scheduler is in the Running state.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Trigger requests one off-interval cycle, used when a storage watcher
// sees external changes. It is a no-op when Idle or when a trigger is
// already pending.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	kick := s.kick
	s.mu.Unlock()
	if kick == nil {
		return
	}
	select {
	case kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, run RunFunc, kick chan struct{}) {
	s.runCycle(run)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A tick may already be buffered when Stop lands; do not
			// start a fresh cycle for it.
			if ctx.Err() != nil {
				return
			}
			s.runCycle(run)
		case <-kick:
			if ctx.Err() != nil {
				return
			}
			s.runCycle(run)
		}
	}
}

// runCycle executes one cycle. The run function gets a background
// context on purpose: stopping the scheduler never aborts in-flight
// extraction.
func (s *Scheduler) runCycle(run RunFunc) {
	id := uuid.NewString()[:8]
	start := time.Now()

	snap, err := run(context.Background())
	result := Result{
		CycleID:  id,
		Snapshot: snap,
		Err:      err,
		Duration: time.Since(start),
	}

	if err != nil {
		s.logger.Printf("Cycle %s failed after %v: %v", id, result.Duration, err)
	} else {
		s.logger.Printf("Cycle %s finished in %v: workspaces=%d keys=%d",
			id, result.Duration, snap.Workspaces(), snap.Keys())
	}

	if s.sink != nil {
		s.sink(result)
	}
}
