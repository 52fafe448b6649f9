package models

import "time"

// NoteStatus represents the moderation state of a behavioral note.
type NoteStatus string

const (
	NoteStatusPendingApproval NoteStatus = "pending_approval"
	NoteStatusApproved        NoteStatus = "approved"
	NoteStatusRejected        NoteStatus = "rejected"
)

// Valid returns true when the status is a supported value.
func (s NoteStatus) Valid() bool {
	switch s {
	case NoteStatusPendingApproval, NoteStatusApproved, NoteStatusRejected:
		return true
	default:
		return false
	}
}

// MaxNoteContentLength bounds provider-written note content.
const MaxNoteContentLength = 2000

// RedactedNoteContent replaces note content on a child-data erasure signal.
const RedactedNoteContent = "[removed]"

// BehavioralNote is a provider's observation about a child during one
// attended session. (participation_record_id, provider_id) is unique; a
// rejected note is revised in place rather than duplicated.
type BehavioralNote struct {
	ID                    string     `db:"id" json:"id"`
	ParticipationRecordID string     `db:"participation_record_id" json:"participation_record_id"`
	ChildID               string     `db:"child_id" json:"child_id"`
	ParentID              string     `db:"parent_id" json:"parent_id"`
	ProviderID            string     `db:"provider_id" json:"provider_id"`
	Content               string     `db:"content" json:"content"`
	Status                NoteStatus `db:"status" json:"status"`
	RejectionReason       *string    `db:"rejection_reason" json:"rejection_reason,omitempty"`
	ReviewedAt            *time.Time `db:"reviewed_at" json:"reviewed_at,omitempty"`
	Version               int        `db:"version" json:"version"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}
