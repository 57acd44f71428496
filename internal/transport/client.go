package transport

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
)

// Client is the host side of the sandbox channel. It sends commands
// and correlates responses: at most one outstanding future per request
// kind, resolved by the inbound dispatch loop keyed on the event tag.
//
// Periodic cycle results that nobody is waiting on (the sandbox runs
// its own timer once start-cycle is issued) are delivered to the
// OnCycleFinished callback.
type Client struct {
	conn   Conn
	logger *log.Logger

	// OnCycleFinished receives cycle results with no registered
	// waiter. Set before issuing StartCycle; called from the dispatch
	// goroutine.
	OnCycleFinished func(CycleFinishedPayload)

	mu          sync.Mutex
	cycleWaiter chan CycleFinishedPayload
	applyWaiter chan ApplyFinishedPayload
	closed      bool

	done chan struct{}
}

// NewClient wraps a connection and starts the dispatch loop.
func NewClient(conn Conn, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}
	c := &Client{
		conn:   conn,
		logger: logger,
		done:   make(chan struct{}),
	}
	go c.dispatch()
	return c
}

// StartCycle asks the sandbox to begin extracting now and then every
// interval. The results arrive as cycle-finished events; use AwaitCycle
// for the next one or OnCycleFinished for the stream.
func (c *Client) StartCycle(ctx context.Context, p StartCyclePayload) error {
	e, err := NewEnvelope(TypeStartCycle, p)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, e)
}

// StopCycle cancels the sandbox timer. In-flight work completes.
func (c *Client) StopCycle(ctx context.Context) error {
	e, err := NewEnvelope(TypeStopCycle, nil)
	if err != nil {
		return err
	}
	return c.conn.Send(ctx, e)
}

// AwaitCycle blocks for the next cycle-finished event. Only one waiter
// may be outstanding.
func (c *Client) AwaitCycle(ctx context.Context) (CycleFinishedPayload, error) {
	ch := make(chan CycleFinishedPayload, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return CycleFinishedPayload{}, ErrClosed
	}
	if c.cycleWaiter != nil {
		c.mu.Unlock()
		return CycleFinishedPayload{}, fmt.Errorf("cycle wait already outstanding")
	}
	c.cycleWaiter = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.cycleWaiter == ch {
			c.cycleWaiter = nil
		}
		c.mu.Unlock()
	}()

	select {
	case p := <-ch:
		return p, nil
	case <-c.done:
		return CycleFinishedPayload{}, ErrClosed
	case <-ctx.Done():
		return CycleFinishedPayload{}, ctx.Err()
	}
}

// Apply sends one snapshot for the sandbox to merge and waits for the
// apply-finished event. A non-empty sandbox-side error comes back as a
// Go error.
func (c *Client) Apply(ctx context.Context, p ApplySnapshotPayload) error {
	ch := make(chan ApplyFinishedPayload, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.applyWaiter != nil {
		c.mu.Unlock()
		return fmt.Errorf("apply already outstanding")
	}
	c.applyWaiter = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.applyWaiter == ch {
			c.applyWaiter = nil
		}
		c.mu.Unlock()
	}()

	e, err := NewEnvelope(TypeApplySnapshot, p)
	if err != nil {
		return err
	}
	if err := c.conn.Send(ctx, e); err != nil {
		return err
	}

	select {
	case result := <-ch:
		if result.Error != "" {
			return fmt.Errorf("sandbox apply failed: %s", result.Error)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close tears down the channel and fails all outstanding futures.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Done is closed once the channel is lost. There is no retry; the
// owner must rebuild the client and restart the scheduler.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// dispatch is the inbound handler: it resolves futures by event tag
// and forwards unsolicited cycle results to the callback.
func (c *Client) dispatch() {
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	}()

	ctx := context.Background()
	for {
		e, err := c.conn.Receive(ctx)
		if err != nil {
			return
		}

		switch e.Type {
		case TypeCycleStarted, TypeApplyStarted:
			// Progress markers only.

		case TypeCycleFinished:
			var p CycleFinishedPayload
			if err := e.DecodePayload(&p); err != nil {
				c.logger.Printf("WARNING: bad cycle-finished payload: %v", err)
				continue
			}
			c.mu.Lock()
			waiter := c.cycleWaiter
			c.cycleWaiter = nil
			c.mu.Unlock()
			if waiter != nil {
				waiter <- p
			} else if c.OnCycleFinished != nil {
				c.OnCycleFinished(p)
			}

		case TypeApplyFinished:
			var p ApplyFinishedPayload
			if err := e.DecodePayload(&p); err != nil {
				c.logger.Printf("WARNING: bad apply-finished payload: %v", err)
				continue
			}
			c.mu.Lock()
			waiter := c.applyWaiter
			c.applyWaiter = nil
			c.mu.Unlock()
			if waiter != nil {
				waiter <- p
			}

		default:
			c.logger.Printf("WARNING: unexpected envelope %q on host side", e.Type)
		}
	}
}
