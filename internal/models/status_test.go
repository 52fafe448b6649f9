package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from    SessionStatus
		to      SessionStatus
		allowed bool
	}{
		{SessionStatusScheduled, SessionStatusInProgress, true},
		{SessionStatusScheduled, SessionStatusCancelled, true},
		{SessionStatusScheduled, SessionStatusCompleted, false},
		{SessionStatusInProgress, SessionStatusCompleted, true},
		{SessionStatusInProgress, SessionStatusCancelled, true},
		{SessionStatusInProgress, SessionStatusScheduled, false},
		{SessionStatusCompleted, SessionStatusInProgress, false},
		{SessionStatusCompleted, SessionStatusCancelled, false},
		{SessionStatusCancelled, SessionStatusScheduled, false},
		{SessionStatusCancelled, SessionStatusInProgress, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestParticipationStatusTransitions(t *testing.T) {
	cases := []struct {
		from    ParticipationStatus
		to      ParticipationStatus
		allowed bool
	}{
		{ParticipationStatusRegistered, ParticipationStatusCheckedIn, true},
		{ParticipationStatusRegistered, ParticipationStatusAbsent, true},
		{ParticipationStatusRegistered, ParticipationStatusCheckedOut, false},
		{ParticipationStatusCheckedIn, ParticipationStatusCheckedOut, true},
		{ParticipationStatusCheckedIn, ParticipationStatusAbsent, false},
		{ParticipationStatusCheckedIn, ParticipationStatusRegistered, false},
		{ParticipationStatusCheckedOut, ParticipationStatusCheckedIn, false},
		{ParticipationStatusAbsent, ParticipationStatusCheckedIn, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, tc.from.CanTransitionTo(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, SessionStatusScheduled.Terminal())
	assert.False(t, SessionStatusInProgress.Terminal())
	assert.True(t, SessionStatusCompleted.Terminal())
	assert.True(t, SessionStatusCancelled.Terminal())

	assert.False(t, ParticipationStatusRegistered.Terminal())
	assert.False(t, ParticipationStatusCheckedIn.Terminal())
	assert.True(t, ParticipationStatusCheckedOut.Terminal())
	assert.True(t, ParticipationStatusAbsent.Terminal())
}

func TestParticipationRecordSubmitted(t *testing.T) {
	var record ParticipationRecord
	assert.False(t, record.Submitted())

	now := time.Now()
	record.SubmittedAt = &now
	assert.True(t, record.Submitted())
}

func TestStatusValid(t *testing.T) {
	assert.True(t, SessionStatusScheduled.Valid())
	assert.False(t, SessionStatus("paused").Valid())
	assert.True(t, ParticipationStatusCheckedIn.Valid())
	assert.False(t, ParticipationStatus("enrolled").Valid())
	assert.True(t, NoteStatusPendingApproval.Valid())
	assert.False(t, NoteStatus("draft").Valid())
}
