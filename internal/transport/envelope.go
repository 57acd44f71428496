// Package transport carries the tagged command/event protocol between
// the host and the sandbox store adapter over one bidirectional
// channel.
//
// Commands flow host->sandbox, events sandbox->host:
//
//	start-cycle {intervalMillis, safeKeySet}
//	stop-cycle {}
//	apply-snapshot {safeKeySet, snapshot}
//	cycle-started {}
//	cycle-finished {snapshot?, error?}
//	apply-started {}
//	apply-finished {error?}
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/statelayer/uisync/internal/snapshot"
)

// Type tags an envelope with its command or event kind.
type Type string

const (
	// Host -> sandbox commands.
	TypeStartCycle    Type = "start-cycle"
	TypeStopCycle     Type = "stop-cycle"
	TypeApplySnapshot Type = "apply-snapshot"

	// Sandbox -> host events.
	TypeCycleStarted  Type = "cycle-started"
	TypeCycleFinished Type = "cycle-finished"
	TypeApplyStarted  Type = "apply-started"
	TypeApplyFinished Type = "apply-finished"
)

// Envelope is one tagged message on the channel.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an envelope around a payload value. A nil payload
// produces an empty-bodied envelope.
func NewEnvelope(t Type, payload any) (Envelope, error) {
	e := Envelope{Type: t}
	if payload == nil {
		return e, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	e.Payload = data
	return e, nil
}

// DecodePayload unmarshals the envelope body into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return nil
}

// StartCyclePayload carries the sync settings for a start-cycle command.
type StartCyclePayload struct {
	IntervalMillis int64    `json:"intervalMillis"`
	SafeKeys       []string `json:"safeKeySet"`
}

// ApplySnapshotPayload carries one apply request.
type ApplySnapshotPayload struct {
	SafeKeys []string           `json:"safeKeySet"`
	Snapshot snapshot.Canonical `json:"snapshot"`
}

// CycleFinishedPayload reports the outcome of one extraction cycle.
// Exactly one of Snapshot and Error is set.
type CycleFinishedPayload struct {
	Snapshot snapshot.Canonical `json:"snapshot,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// ApplyFinishedPayload reports the outcome of one apply pass.
type ApplyFinishedPayload struct {
	Error string `json:"error,omitempty"`
}
