package events

import "time"

// Type names a domain event on the cross-context contract. Payload shapes
// are additive-only: fields may be added but never retyped or removed.
type Type string

const (
	TypeSessionCreated   Type = "session_created"
	TypeSessionStarted   Type = "session_started"
	TypeSessionCompleted Type = "session_completed"
	TypeSessionCancelled Type = "session_cancelled"

	TypeChildCheckedIn  Type = "child_checked_in"
	TypeChildCheckedOut Type = "child_checked_out"

	TypeNoteSubmitted Type = "behavioral_note_submitted"
	TypeNoteApproved  Type = "behavioral_note_approved"
	TypeNoteRejected  Type = "behavioral_note_rejected"
	TypeNoteRevised   Type = "behavioral_note_revised"

	// TypeChildDataAnonymized is inbound only: the compliance erasure
	// signal this core consumes rather than emits.
	TypeChildDataAnonymized Type = "child_data_anonymized"
)

// Aggregate type labels.
const (
	AggregateSession       = "program_session"
	AggregateParticipation = "participation_record"
	AggregateNote          = "behavioral_note"
)

// Event is one committed state transition, published after the triggering
// transaction commits. Delivery is at-least-once; consumers deduplicate on
// (event_type, aggregate_id, timestamp).
type Event struct {
	Type          Type                   `json:"event_type"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
}

// New builds an event stamped with the current UTC time.
func New(t Type, aggregateType, aggregateID string, payload map[string]interface{}) Event {
	return Event{
		Type:          t,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Payload:       payload,
		Timestamp:     time.Now().UTC(),
	}
}
