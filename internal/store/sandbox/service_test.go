package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/statelayer/uisync/internal/snapshot"
	"github.com/statelayer/uisync/internal/store"
	"github.com/statelayer/uisync/internal/transport"
	"github.com/statelayer/uisync/internal/workspace"
)

// startService runs a Service over an in-process pipe and returns the
// host-side client.
func startService(t *testing.T, sb *Sandbox) *transport.Client {
	t.Helper()

	hostConn, sandboxConn := transport.Pipe()
	svc := NewService(sb, workspace.NewResolver(""), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		_ = svc.Serve(ctx, sandboxConn)
	}()

	client := transport.NewClient(hostConn, quietLogger())
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		<-serveDone
	})
	return client
}

func seedWorkspace(t *testing.T, sb *Sandbox) {
	t.Helper()
	if err := sb.Seed("ws-1", "state", map[string]string{
		workspace.MarkerKey:        "file:///ws/projA/.vscode/launch.json",
		"workbench.sideBar.hidden": "true",
		"secret.token":             "abc",
	}); err != nil {
		t.Fatal(err)
	}
}

func TestStartCycleProducesSnapshot(t *testing.T) {
	sb := newTestSandbox(t)
	seedWorkspace(t, sb)
	client := startService(t, sb)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.StartCycle(ctx, transport.StartCyclePayload{
		IntervalMillis: 60_000,
		SafeKeys:       []string{"workbench.sideBar.hidden"},
	}); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}

	result, err := client.AwaitCycle(ctx)
	if err != nil {
		t.Fatalf("AwaitCycle: %v", err)
	}
	if result.Error != "" {
		t.Fatalf("cycle failed: %s", result.Error)
	}

	keys, ok := result.Snapshot.Lookup("projA", "state")
	if !ok {
		t.Fatal("expected projA/state in cycle snapshot")
	}
	if keys["workbench.sideBar.hidden"] != "true" {
		t.Error("safe key missing from cycle snapshot")
	}
	if _, ok := keys["secret.token"]; ok {
		t.Error("unsafe key crossed the channel")
	}

	if err := client.StopCycle(ctx); err != nil {
		t.Fatalf("StopCycle: %v", err)
	}
}

func TestPeriodicCyclesArriveAtCallback(t *testing.T) {
	sb := newTestSandbox(t)
	seedWorkspace(t, sb)

	hostConn, sandboxConn := transport.Pipe()
	svc := NewService(sb, workspace.NewResolver(""), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx, sandboxConn) }()

	results := make(chan transport.CycleFinishedPayload, 16)
	client := transport.NewClient(hostConn, quietLogger())
	client.OnCycleFinished = func(p transport.CycleFinishedPayload) { results <- p }
	defer client.Close()

	if err := client.StartCycle(ctx, transport.StartCyclePayload{
		IntervalMillis: 20,
		SafeKeys:       []string{"workbench.sideBar.hidden"},
	}); err != nil {
		t.Fatalf("StartCycle: %v", err)
	}

	// The immediate cycle plus at least one periodic tick.
	for i := 0; i < 2; i++ {
		select {
		case p := <-results:
			if p.Error != "" {
				t.Fatalf("cycle %d failed: %s", i, p.Error)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for cycle %d", i)
		}
	}

	if err := client.StopCycle(ctx); err != nil {
		t.Fatalf("StopCycle: %v", err)
	}
}

func TestApplySnapshotOverChannel(t *testing.T) {
	sb := newTestSandbox(t)
	seedWorkspace(t, sb)
	client := startService(t, sb)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	incoming := snapshot.New()
	incoming.Set("projA", "state", "workbench.sideBar.hidden", "false")

	if err := client.Apply(ctx, transport.ApplySnapshotPayload{
		SafeKeys: []string{"workbench.sideBar.hidden"},
		Snapshot: incoming,
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	records, err := sb.ReadRecords(ctx, store.Ref{Database: DBPrefix + "ws-1", Store: "state"})
	if err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	for _, rec := range records {
		if rec.Key == "workbench.sideBar.hidden" && rec.Value != "false" {
			t.Errorf("sideBar.hidden = %q, want false", rec.Value)
		}
	}
}

func TestStartCycleReplacesTimer(t *testing.T) {
	sb := newTestSandbox(t)
	seedWorkspace(t, sb)

	hostConn, sandboxConn := transport.Pipe()
	svc := NewService(sb, workspace.NewResolver(""), quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Serve(ctx, sandboxConn) }()

	results := make(chan transport.CycleFinishedPayload, 64)
	client := transport.NewClient(hostConn, quietLogger())
	client.OnCycleFinished = func(p transport.CycleFinishedPayload) { results <- p }
	defer client.Close()

	// Arm a fast timer, then immediately replace it with a slow one.
	if err := client.StartCycle(ctx, transport.StartCyclePayload{
		IntervalMillis: 10,
		SafeKeys:       []string{"workbench.sideBar.hidden"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := client.StartCycle(ctx, transport.StartCyclePayload{
		IntervalMillis: 60_000,
		SafeKeys:       []string{"workbench.sideBar.hidden"},
	}); err != nil {
		t.Fatal(err)
	}

	// Drain the two immediate cycles (one per start command); the old
	// 10ms timer must be dead, so no further results should arrive.
	deadline := time.After(5 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case <-results:
		case <-deadline:
			t.Fatal("timed out draining immediate cycles")
		}
	}

	select {
	case <-results:
		// One stale tick may have fired between the two commands.
		select {
		case <-results:
			t.Error("old timer survived the restart")
		case <-time.After(200 * time.Millisecond):
		}
	case <-time.After(200 * time.Millisecond):
	}
}
