package models

import "time"

// ParticipationStatus represents a child's attendance state for one session.
type ParticipationStatus string

const (
	ParticipationStatusRegistered ParticipationStatus = "registered"
	ParticipationStatusCheckedIn  ParticipationStatus = "checked_in"
	ParticipationStatusCheckedOut ParticipationStatus = "checked_out"
	ParticipationStatusAbsent     ParticipationStatus = "absent"
)

// Valid returns true when the status is a supported value.
func (s ParticipationStatus) Valid() bool {
	switch s {
	case ParticipationStatusRegistered, ParticipationStatusCheckedIn, ParticipationStatusCheckedOut, ParticipationStatusAbsent:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s ParticipationStatus) Terminal() bool {
	return s == ParticipationStatusCheckedOut || s == ParticipationStatusAbsent
}

// CanTransitionTo reports whether the target status is reachable in one step.
// Re-checking-in an already checked-in record is deliberately illegal.
func (s ParticipationStatus) CanTransitionTo(target ParticipationStatus) bool {
	switch s {
	case ParticipationStatusRegistered:
		return target == ParticipationStatusCheckedIn || target == ParticipationStatusAbsent
	case ParticipationStatusCheckedIn:
		return target == ParticipationStatusCheckedOut
	default:
		return false
	}
}

// ParticipationRecord is one child's registration/attendance for one session.
// (session_id, child_id) is unique. Version increments on every persisted
// mutation and guards conditional writes.
type ParticipationRecord struct {
	ID            string              `db:"id" json:"id"`
	SessionID     string              `db:"session_id" json:"session_id"`
	ChildID       string              `db:"child_id" json:"child_id"`
	ParentID      string              `db:"parent_id" json:"parent_id"`
	Status        ParticipationStatus `db:"status" json:"status"`
	CheckInAt     *time.Time          `db:"check_in_at" json:"check_in_at,omitempty"`
	CheckInBy     *string             `db:"check_in_by" json:"check_in_by,omitempty"`
	CheckInNotes  *string             `db:"check_in_notes" json:"check_in_notes,omitempty"`
	CheckOutAt    *time.Time          `db:"check_out_at" json:"check_out_at,omitempty"`
	CheckOutBy    *string             `db:"check_out_by" json:"check_out_by,omitempty"`
	CheckOutNotes *string             `db:"check_out_notes" json:"check_out_notes,omitempty"`
	SubmittedAt   *time.Time          `db:"submitted_at" json:"submitted_at,omitempty"`
	SubmittedBy   *string             `db:"submitted_by" json:"submitted_by,omitempty"`
	Version       int                 `db:"version" json:"version"`
	CreatedAt     time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// Submitted reports whether the record is locked for downstream processing.
func (r *ParticipationRecord) Submitted() bool {
	return r.SubmittedAt != nil
}

// SweptRecord identifies one participation record forced absent by a
// session completion sweep.
type SweptRecord struct {
	ID      string `db:"id" json:"id"`
	ChildID string `db:"child_id" json:"child_id"`
}

// ParticipationFilter scopes record listing queries.
type ParticipationFilter struct {
	SessionID string
	ChildID   string
	ChildIDs  []string
	Status    *ParticipationStatus
	Page      int
	PageSize  int
}
