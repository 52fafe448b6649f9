package models

import "time"

// SessionStatus represents the lifecycle state of a program session.
type SessionStatus string

const (
	SessionStatusScheduled  SessionStatus = "scheduled"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// Valid returns true when the status is a supported value.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusScheduled, SessionStatusInProgress, SessionStatusCompleted, SessionStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusCancelled
}

// CanTransitionTo reports whether the target status is reachable in one step.
func (s SessionStatus) CanTransitionTo(target SessionStatus) bool {
	switch s {
	case SessionStatusScheduled:
		return target == SessionStatusInProgress || target == SessionStatusCancelled
	case SessionStatusInProgress:
		return target == SessionStatusCompleted || target == SessionStatusCancelled
	default:
		return false
	}
}

// ProgramSession is one scheduled occurrence of a program.
// (program_id, session_date, start_time) is unique.
type ProgramSession struct {
	ID          string        `db:"id" json:"id"`
	ProgramID   string        `db:"program_id" json:"program_id"`
	SessionDate time.Time     `db:"session_date" json:"session_date"`
	StartTime   time.Time     `db:"start_time" json:"start_time"`
	EndTime     time.Time     `db:"end_time" json:"end_time"`
	MaxCapacity int           `db:"max_capacity" json:"max_capacity"`
	Status      SessionStatus `db:"status" json:"status"`
	Notes       *string       `db:"notes" json:"notes,omitempty"`
	Location    *string       `db:"location" json:"location,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at" json:"updated_at"`
}

// SessionFilter scopes session listing queries.
type SessionFilter struct {
	ProgramID  string
	Date       *time.Time
	ProviderID string
	Status     *SessionStatus
	Page       int
	PageSize   int
}
