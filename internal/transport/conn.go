package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Receive after the channel is gone.
// A lost channel is terminal: commands simply stop arriving and the
// scheduler must be externally restarted.
var ErrClosed = errors.New("transport: connection closed")

// Conn is the single bidirectional channel between host and sandbox.
type Conn interface {
	// Send writes one envelope.
	Send(ctx context.Context, e Envelope) error

	// Receive blocks for the next envelope.
	Receive(ctx context.Context) (Envelope, error)

	// Close tears the channel down; pending and future calls on either
	// end fail with ErrClosed.
	Close() error
}

// pipeHalf is one end of an in-process channel pair.
type pipeHalf struct {
	in   <-chan Envelope
	out  chan<- Envelope
	done chan struct{}
	once *sync.Once
}

// Pipe returns two connected in-process Conn halves. Envelopes sent on
// one half arrive on the other. Used for embedding the sandbox in the
// host process and throughout the tests.
func Pipe() (Conn, Conn) {
	a := make(chan Envelope, 16)
	b := make(chan Envelope, 16)
	done := make(chan struct{})
	once := &sync.Once{}

	return &pipeHalf{in: a, out: b, done: done, once: once},
		&pipeHalf{in: b, out: a, done: done, once: once}
}

func (p *pipeHalf) Send(ctx context.Context, e Envelope) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}
	select {
	case p.out <- e:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeHalf) Receive(ctx context.Context) (Envelope, error) {
	select {
	case e := <-p.in:
		return e, nil
	case <-p.done:
		// Drain anything already queued before reporting closure.
		select {
		case e := <-p.in:
			return e, nil
		default:
		}
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (p *pipeHalf) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}
