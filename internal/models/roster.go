package models

// UnresolvedChildName stands in when the external lookup cannot resolve a
// child's display name; roster assembly never fails on resolution errors.
const UnresolvedChildName = "Unknown Child"

// RosterEntry pairs a participation record with the child's display name.
type RosterEntry struct {
	Record    ParticipationRecord `json:"record"`
	ChildName string              `json:"child_name"`
}

// Roster is the composed view of a session and its participation records.
type Roster struct {
	Session ProgramSession `json:"session"`
	Entries []RosterEntry  `json:"entries"`
}
