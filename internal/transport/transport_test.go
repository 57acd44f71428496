package transport

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/statelayer/uisync/internal/snapshot"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	snap := snapshot.New()
	snap.Set("projA", "ItemTable", "workbench.sideBar.hidden", "true")

	e, err := NewEnvelope(TypeApplySnapshot, ApplySnapshotPayload{
		SafeKeys: []string{"workbench.sideBar.hidden"},
		Snapshot: snap,
	})
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	if e.Type != TypeApplySnapshot {
		t.Errorf("Type = %q", e.Type)
	}

	var p ApplySnapshotPayload
	if err := e.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if !snap.Equal(p.Snapshot) {
		t.Error("snapshot did not survive the envelope")
	}
	if len(p.SafeKeys) != 1 {
		t.Errorf("SafeKeys = %v", p.SafeKeys)
	}
}

func TestPipeDelivery(t *testing.T) {
	a, b := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	e, _ := NewEnvelope(TypeCycleStarted, nil)
	if err := a.Send(ctx, e); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := b.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Type != TypeCycleStarted {
		t.Errorf("Type = %q, want %q", got.Type, TypeCycleStarted)
	}
}

func TestPipeCloseFailsBothEnds(t *testing.T) {
	a, b := Pipe()
	_ = a.Close()

	ctx := context.Background()
	e, _ := NewEnvelope(TypeStopCycle, nil)
	if err := a.Send(ctx, e); !errors.Is(err, ErrClosed) {
		t.Errorf("Send on closed conn = %v, want ErrClosed", err)
	}
	if _, err := b.Receive(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("Receive on closed conn = %v, want ErrClosed", err)
	}
}

func TestWebSocketRoundTrip(t *testing.T) {
	accepted := make(chan Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		accepted <- conn

		// Echo one envelope back with the event tag flipped.
		ctx := context.Background()
		e, err := conn.Receive(ctx)
		if err != nil {
			return
		}
		_ = conn.Send(ctx, Envelope{Type: TypeCycleFinished, Payload: e.Payload})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, err := Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	e, err := NewEnvelope(TypeStartCycle, StartCyclePayload{IntervalMillis: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.Send(ctx, e); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got.Type != TypeCycleFinished {
		t.Errorf("Type = %q, want %q", got.Type, TypeCycleFinished)
	}
	var p StartCyclePayload
	if err := got.DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if p.IntervalMillis != 1000 {
		t.Errorf("IntervalMillis = %d, want 1000", p.IntervalMillis)
	}

	server := <-accepted
	_ = server.Close()
}

// Snapshots have no size bound, so envelopes well past the websocket
// library's default 32 KiB read limit must survive both directions.
func TestWebSocketLargeEnvelope(t *testing.T) {
	snap := snapshot.New()
	value := strings.Repeat("v", 512)
	for i := 0; i < 200; i++ {
		key := "workbench.view.extension.panel" + strconv.Itoa(i) + ".state"
		snap.Set("/home/user/projects/proj1", "state.vscdb", key, value)
	}
	big, err := NewEnvelope(TypeCycleFinished, CycleFinishedPayload{Snapshot: snap})
	if err != nil {
		t.Fatal(err)
	}
	if len(big.Payload) <= 32*1024 {
		t.Fatalf("payload is %d bytes, need more than 32 KiB to exercise the read limit", len(big.Payload))
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Accept(w, r)
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		defer conn.Close()

		ctx := context.Background()
		e, err := conn.Receive(ctx)
		if err != nil {
			t.Errorf("server Receive: %v", err)
			return
		}
		_ = conn.Send(ctx, e)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	if err := conn.Send(ctx, big); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	var p CycleFinishedPayload
	if err := got.DecodePayload(&p); err != nil {
		t.Fatal(err)
	}
	if !p.Snapshot.Equal(snap) {
		t.Error("snapshot did not survive the round trip")
	}
}

func TestClientApplyCorrelation(t *testing.T) {
	hostConn, sandboxConn := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Fake sandbox endpoint: answer apply-snapshot with
	// apply-started + apply-finished.
	go func() {
		for {
			e, err := sandboxConn.Receive(ctx)
			if err != nil {
				return
			}
			if e.Type != TypeApplySnapshot {
				continue
			}
			started, _ := NewEnvelope(TypeApplyStarted, nil)
			_ = sandboxConn.Send(ctx, started)
			finished, _ := NewEnvelope(TypeApplyFinished, ApplyFinishedPayload{})
			_ = sandboxConn.Send(ctx, finished)
		}
	}()

	client := NewClient(hostConn, quietLogger())
	defer client.Close()

	if err := client.Apply(ctx, ApplySnapshotPayload{Snapshot: snapshot.New()}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
}

func TestClientApplySurfacesSandboxError(t *testing.T) {
	hostConn, sandboxConn := Pipe()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		e, err := sandboxConn.Receive(ctx)
		if err != nil || e.Type != TypeApplySnapshot {
			return
		}
		finished, _ := NewEnvelope(TypeApplyFinished, ApplyFinishedPayload{Error: "table locked"})
		_ = sandboxConn.Send(ctx, finished)
	}()

	client := NewClient(hostConn, quietLogger())
	defer client.Close()

	err := client.Apply(ctx, ApplySnapshotPayload{Snapshot: snapshot.New()})
	if err == nil || !strings.Contains(err.Error(), "table locked") {
		t.Fatalf("Apply = %v, want sandbox error surfaced", err)
	}
}

func TestClientFailsFuturesOnChannelLoss(t *testing.T) {
	hostConn, sandboxConn := Pipe()
	client := NewClient(hostConn, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := client.AwaitCycle(ctx)
		errCh <- err
	}()

	// Give the waiter a moment to register, then drop the channel.
	time.Sleep(20 * time.Millisecond)
	_ = sandboxConn.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("AwaitCycle after channel loss = %v, want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not failed on channel loss")
	}
}
