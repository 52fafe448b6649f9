package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brightkids/participation-api/internal/models"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
	"github.com/brightkids/participation-api/pkg/events"
)

func newParticipationFixture() (*ParticipationService, *fakeParticipationStore, *recordingBus) {
	store := newFakeParticipationStore()
	bus := &recordingBus{}
	svc := NewParticipationService(store, bus, nil, nil, nil)
	return svc, store, bus
}

func registerOne(t *testing.T, svc *ParticipationService) *models.ParticipationRecord {
	t.Helper()
	record, err := svc.Register(context.Background(), RegisterRequest{
		SessionID: "sess-1",
		ChildID:   "child-1",
		ParentID:  "parent-1",
	})
	require.NoError(t, err)
	return record
}

func TestParticipationRegister(t *testing.T) {
	svc, _, _ := newParticipationFixture()

	record := registerOne(t, svc)
	assert.Equal(t, models.ParticipationStatusRegistered, record.Status)
	assert.Equal(t, 1, record.Version)
}

func TestParticipationRegisterDuplicate(t *testing.T) {
	svc, _, _ := newParticipationFixture()

	registerOne(t, svc)
	_, err := svc.Register(context.Background(), RegisterRequest{
		SessionID: "sess-1",
		ChildID:   "child-1",
		ParentID:  "parent-1",
	})
	assert.True(t, appErrors.HasCode(err, "DUPLICATE_RECORD"))
}

func TestParticipationCheckIn(t *testing.T) {
	svc, _, bus := newParticipationFixture()
	record := registerOne(t, svc)

	checked, err := svc.CheckIn(context.Background(), CheckInRequest{
		RecordID:    record.ID,
		CheckedInBy: "parent-1",
		Notes:       strPtr("dropped off at the gym door"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipationStatusCheckedIn, checked.Status)
	require.NotNil(t, checked.CheckInAt)
	require.NotNil(t, checked.CheckInBy)
	assert.Equal(t, "parent-1", *checked.CheckInBy)
	assert.Equal(t, 2, checked.Version)

	event := bus.last()
	require.Equal(t, events.TypeChildCheckedIn, event.Type)
	assert.Equal(t, record.ID, event.Payload["record_id"])
	assert.Equal(t, "child-1", event.Payload["child_id"])
}

func TestParticipationCheckInTwice(t *testing.T) {
	svc, _, _ := newParticipationFixture()
	record := registerOne(t, svc)

	_, err := svc.CheckIn(context.Background(), CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	require.NoError(t, err)

	_, err = svc.CheckIn(context.Background(), CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestParticipationCheckOutRequiresCheckedIn(t *testing.T) {
	svc, _, _ := newParticipationFixture()
	record := registerOne(t, svc)

	_, err := svc.CheckOut(context.Background(), CheckOutRequest{RecordID: record.ID, CheckedOutBy: "parent-1"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestParticipationCheckOut(t *testing.T) {
	svc, _, bus := newParticipationFixture()
	record := registerOne(t, svc)

	_, err := svc.CheckIn(context.Background(), CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	require.NoError(t, err)

	out, err := svc.CheckOut(context.Background(), CheckOutRequest{RecordID: record.ID, CheckedOutBy: "parent-1"})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipationStatusCheckedOut, out.Status)
	require.NotNil(t, out.CheckOutAt)
	assert.Equal(t, 3, out.Version)

	event := bus.last()
	require.Equal(t, events.TypeChildCheckedOut, event.Type)
	assert.Contains(t, event.Payload, "duration_seconds")
}

func TestParticipationMarkAbsent(t *testing.T) {
	svc, _, _ := newParticipationFixture()
	record := registerOne(t, svc)

	absent, err := svc.MarkAbsent(context.Background(), record.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParticipationStatusAbsent, absent.Status)

	// absent is terminal
	_, err = svc.CheckIn(context.Background(), CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestParticipationMarkAbsentAfterCheckIn(t *testing.T) {
	svc, _, _ := newParticipationFixture()
	record := registerOne(t, svc)

	_, err := svc.CheckIn(context.Background(), CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	require.NoError(t, err)

	_, err = svc.MarkAbsent(context.Background(), record.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestParticipationStaleWriteLoses(t *testing.T) {
	svc, store, _ := newParticipationFixture()
	record := registerOne(t, svc)

	// another writer commits between this caller's read and write
	store.beforeUpdate = func() {
		store.records[record.ID].Version++
	}

	_, err := svc.CheckIn(context.Background(), CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrStaleData.Code))

	// retry after re-read succeeds
	_, err = svc.CheckIn(context.Background(), CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	require.NoError(t, err)
}

func TestParticipationCheckInChildCreatesRecord(t *testing.T) {
	svc, _, bus := newParticipationFixture()

	record, err := svc.CheckInChild(context.Background(), CheckInChildRequest{
		SessionID:   "sess-1",
		ChildID:     "child-9",
		ParentID:    "parent-9",
		CheckedInBy: "provider-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipationStatusCheckedIn, record.Status)
	assert.Equal(t, events.TypeChildCheckedIn, bus.last().Type)
}

func TestParticipationCheckInChildExistingRecord(t *testing.T) {
	svc, _, _ := newParticipationFixture()
	registerOne(t, svc)

	record, err := svc.CheckInChild(context.Background(), CheckInChildRequest{
		SessionID:   "sess-1",
		ChildID:     "child-1",
		ParentID:    "parent-1",
		CheckedInBy: "provider-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ParticipationStatusCheckedIn, record.Status)

	_, err = svc.CheckInChild(context.Background(), CheckInChildRequest{
		SessionID:   "sess-1",
		ChildID:     "child-1",
		ParentID:    "parent-1",
		CheckedInBy: "provider-1",
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestParticipationSubmitBatch(t *testing.T) {
	svc, store, _ := newParticipationFixture()
	ctx := context.Background()

	first := registerOne(t, svc)
	second, err := svc.Register(ctx, RegisterRequest{SessionID: "sess-1", ChildID: "child-2", ParentID: "parent-2"})
	require.NoError(t, err)

	err = svc.SubmitBatch(ctx, SubmitBatchRequest{
		SessionID:   "sess-1",
		RecordIDs:   []string{first.ID, second.ID},
		SubmittedBy: "provider-1",
	})
	require.NoError(t, err)

	for _, id := range []string{first.ID, second.ID} {
		stored, err := store.FindByID(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, stored.SubmittedAt)
		assert.Equal(t, "provider-1", *stored.SubmittedBy)
	}
}

func TestParticipationSubmitBatchEmpty(t *testing.T) {
	svc, _, _ := newParticipationFixture()

	err := svc.SubmitBatch(context.Background(), SubmitBatchRequest{
		SessionID:   "sess-1",
		SubmittedBy: "provider-1",
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrEmptyRecordIDs.Code))
}

func TestParticipationSubmitBatchMissingIDPersistsNothing(t *testing.T) {
	svc, store, _ := newParticipationFixture()
	ctx := context.Background()
	record := registerOne(t, svc)

	err := svc.SubmitBatch(ctx, SubmitBatchRequest{
		SessionID:   "sess-1",
		RecordIDs:   []string{record.ID, "missing"},
		SubmittedBy: "provider-1",
	})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))

	stored, err := store.FindByID(ctx, record.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.SubmittedAt)
}

func TestParticipationSubmittedRecordIsLocked(t *testing.T) {
	svc, _, _ := newParticipationFixture()
	ctx := context.Background()
	record := registerOne(t, svc)

	require.NoError(t, svc.SubmitBatch(ctx, SubmitBatchRequest{
		SessionID:   "sess-1",
		RecordIDs:   []string{record.ID},
		SubmittedBy: "provider-1",
	}))

	_, err := svc.CheckIn(ctx, CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
	_, err = svc.MarkAbsent(ctx, record.ID)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidTransition.Code))
}

func TestParticipationRegisterBatch(t *testing.T) {
	svc, _, _ := newParticipationFixture()

	records, err := svc.RegisterBatch(context.Background(), []RegisterRequest{
		{SessionID: "sess-1", ChildID: "child-1", ParentID: "parent-1"},
		{SessionID: "sess-1", ChildID: "child-2", ParentID: "parent-2"},
	})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, models.ParticipationStatusRegistered, record.Status)
	}
}

func TestParticipationListFiltered(t *testing.T) {
	svc, _, _ := newParticipationFixture()
	ctx := context.Background()

	record := registerOne(t, svc)
	_, err := svc.Register(ctx, RegisterRequest{SessionID: "sess-1", ChildID: "child-2", ParentID: "parent-2"})
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, CheckInRequest{RecordID: record.ID, CheckedInBy: "parent-1"})
	require.NoError(t, err)

	status := models.ParticipationStatusCheckedIn
	records, page, err := svc.List(ctx, models.ParticipationFilter{SessionID: "sess-1", Status: &status})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, record.ID, records[0].ID)
	assert.Equal(t, 1, page.TotalCount)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 50, page.PageSize)
}

func TestParticipationGetMissing(t *testing.T) {
	svc, _, _ := newParticipationFixture()

	_, err := svc.Get(context.Background(), "missing")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrNotFound.Code))
}
