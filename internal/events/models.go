package events

import (
	"encoding/json"
	"time"
)

// Event is an immutable, append-only call lifecycle record.
//
// Invariants:
// - Events are never updated or deleted, and the core never reads them back.
// - tenant_id and call_id are required.
// - Emission is best-effort; a failed append never fails the call operation.
//
// Storage (Postgres): table call_events, INSERT only. See internal/store/migrations.
type Event struct {
	ID       string `json:"id" db:"id"`
	CallID   string `json:"call_id" db:"call_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Type Type `json:"event_type" db:"event_type"`

	// Data is an opaque JSON document; its shape depends on Type.
	Data json.RawMessage `json:"data,omitempty" db:"data"`

	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

type Type string

const (
	CallInitiated     Type = "call_initiated"
	CallRinging       Type = "call_ringing"
	CallAnswered      Type = "call_answered"
	CallEnded         Type = "call_ended"
	CallTransferred   Type = "call_transferred"
	CallEscalated     Type = "call_escalated"
	RecordingStarted  Type = "recording_started"
	RecordingStopped  Type = "recording_stopped"
	ParticipantJoined Type = "participant_joined"
	ParticipantLeft   Type = "participant_left"
)

var knownTypes = map[Type]struct{}{
	CallInitiated: {}, CallRinging: {}, CallAnswered: {}, CallEnded: {}, CallTransferred: {},
	CallEscalated: {}, RecordingStarted: {}, RecordingStopped: {}, ParticipantJoined: {}, ParticipantLeft: {},
}

func (t Type) Valid() bool {
	_, ok := knownTypes[t]
	return ok
}
