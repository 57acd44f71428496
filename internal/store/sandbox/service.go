package sandbox

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/statelayer/uisync/internal/keyfilter"
	"github.com/statelayer/uisync/internal/pipeline"
	"github.com/statelayer/uisync/internal/transport"
	"github.com/statelayer/uisync/internal/workspace"
)

// Service is the sandbox-side endpoint of the command/event channel.
//
// The sandbox never initiates activity on its own: everything it does
// is a response to an inbound command or to the tick of the timer a
// start-cycle command armed. Cycles run inline on the service loop, so
// they can never overlap; a tick that lands mid-cycle is consumed
// after the cycle finishes.
type Service struct {
	sb       *Sandbox
	resolver *workspace.Resolver
	logger   *log.Logger
}

// NewService wires a sandbox to the protocol.
func NewService(sb *Sandbox, resolver *workspace.Resolver, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(os.Stderr, "[sandbox] ", log.LstdFlags)
	}
	if resolver == nil {
		resolver = workspace.NewResolver("")
	}
	return &Service{sb: sb, resolver: resolver, logger: logger}
}

// Serve reads commands from the channel until it is lost or ctx is
// cancelled. A lost channel returns the transport error; there is no
// retry at this layer.
func (svc *Service) Serve(ctx context.Context, conn transport.Conn) error {
	inbound := make(chan transport.Envelope)
	recvErr := make(chan error, 1)

	go func() {
		for {
			e, err := conn.Receive(ctx)
			if err != nil {
				recvErr <- err
				return
			}
			select {
			case inbound <- e:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		ticker  *time.Ticker
		tickC   <-chan time.Time
		matcher *keyfilter.Matcher
	)
	stopTicker := func() {
		if ticker != nil {
			ticker.Stop()
			ticker = nil
			tickC = nil
		}
	}
	defer stopTicker()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err := <-recvErr:
			if ctx.Err() != nil {
				return nil
			}
			return err

		case <-tickC:
			if err := svc.runCycle(ctx, conn, matcher); err != nil {
				return err
			}

		case e := <-inbound:
			switch e.Type {
			case transport.TypeStartCycle:
				var p transport.StartCyclePayload
				if err := e.DecodePayload(&p); err != nil {
					svc.logger.Printf("WARNING: bad start-cycle payload: %v", err)
					continue
				}
				if p.IntervalMillis <= 0 {
					svc.logger.Printf("WARNING: rejecting start-cycle with interval %d", p.IntervalMillis)
					continue
				}

				// Replace any prior timer, then extract immediately.
				stopTicker()
				matcher = keyfilter.Compile(p.SafeKeys, workspace.MarkerKey)
				ticker = time.NewTicker(time.Duration(p.IntervalMillis) * time.Millisecond)
				tickC = ticker.C
				svc.logger.Printf("Cycle started: interval=%dms patterns=%d", p.IntervalMillis, matcher.Len())

				if err := svc.runCycle(ctx, conn, matcher); err != nil {
					return err
				}

			case transport.TypeStopCycle:
				stopTicker()
				svc.logger.Printf("Cycle timer stopped")

			case transport.TypeApplySnapshot:
				var p transport.ApplySnapshotPayload
				if err := e.DecodePayload(&p); err != nil {
					svc.logger.Printf("WARNING: bad apply-snapshot payload: %v", err)
					continue
				}
				if err := svc.runApply(ctx, conn, p); err != nil {
					return err
				}

			default:
				svc.logger.Printf("WARNING: unexpected envelope %q on sandbox side", e.Type)
			}
		}
	}
}

// runCycle performs one extraction and reports the outcome. The
// returned error is a transport failure; extraction errors travel in
// the cycle-finished event instead.
func (svc *Service) runCycle(ctx context.Context, conn transport.Conn, matcher *keyfilter.Matcher) error {
	started, err := transport.NewEnvelope(transport.TypeCycleStarted, nil)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, started); err != nil {
		return err
	}

	var result transport.CycleFinishedPayload
	snap, extractErr := pipeline.Extract(ctx, svc.sb, matcher, svc.resolver, svc.logger)
	if extractErr != nil {
		result.Error = extractErr.Error()
	} else {
		result.Snapshot = snap
	}

	finished, err := transport.NewEnvelope(transport.TypeCycleFinished, result)
	if err != nil {
		return err
	}
	return conn.Send(ctx, finished)
}

// runApply performs one apply pass and reports the outcome.
func (svc *Service) runApply(ctx context.Context, conn transport.Conn, p transport.ApplySnapshotPayload) error {
	started, err := transport.NewEnvelope(transport.TypeApplyStarted, nil)
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, started); err != nil {
		return err
	}

	matcher := keyfilter.Compile(p.SafeKeys, workspace.MarkerKey)
	var result transport.ApplyFinishedPayload
	if applyErr := pipeline.Apply(ctx, svc.sb, p.Snapshot, matcher, svc.resolver, svc.logger); applyErr != nil {
		result.Error = applyErr.Error()
	}

	finished, err := transport.NewEnvelope(transport.TypeApplyFinished, result)
	if err != nil {
		return err
	}
	return conn.Send(ctx, finished)
}
