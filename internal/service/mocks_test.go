package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/brightkids/participation-api/internal/models"
	"github.com/brightkids/participation-api/internal/repository"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
	"github.com/brightkids/participation-api/pkg/events"
)

// recordingBus captures dispatched events in order.
type recordingBus struct {
	events []events.Event
	fail   bool
}

func (b *recordingBus) Dispatch(_ context.Context, event events.Event) error {
	if b.fail {
		return errors.New("bus unavailable")
	}
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) types() []events.Type {
	out := make([]events.Type, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

func (b *recordingBus) last() *events.Event {
	if len(b.events) == 0 {
		return nil
	}
	return &b.events[len(b.events)-1]
}

// fakeParticipationStore is an in-memory participationRepository with the
// same version-conditioned write behavior as the real one.
type fakeParticipationStore struct {
	records map[string]*models.ParticipationRecord
	order   []string

	// beforeUpdate runs once before the next versioned write, simulating a
	// concurrent writer committing between a caller's read and write.
	beforeUpdate func()
}

func newFakeParticipationStore() *fakeParticipationStore {
	return &fakeParticipationStore{records: map[string]*models.ParticipationRecord{}}
}

func (s *fakeParticipationStore) Create(_ context.Context, record *models.ParticipationRecord) error {
	for _, id := range s.order {
		existing := s.records[id]
		if existing.SessionID == record.SessionID && existing.ChildID == record.ChildID {
			return appErrors.Clone(repository.ErrDuplicateRecord, "")
		}
	}
	if record.ID == "" {
		record.ID = fmt.Sprintf("rec-%d", len(s.order)+1)
	}
	if record.Status == "" {
		record.Status = models.ParticipationStatusRegistered
	}
	record.Version = 1
	record.CreatedAt = time.Now().UTC()
	record.UpdatedAt = record.CreatedAt
	clone := *record
	s.records[record.ID] = &clone
	s.order = append(s.order, record.ID)
	return nil
}

func (s *fakeParticipationStore) CreateBatch(ctx context.Context, records []models.ParticipationRecord) error {
	for i := range records {
		if err := s.Create(ctx, &records[i]); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeParticipationStore) FindByID(_ context.Context, id string) (*models.ParticipationRecord, error) {
	record, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *record
	return &clone, nil
}

func (s *fakeParticipationStore) FindBySessionAndChild(_ context.Context, sessionID, childID string) (*models.ParticipationRecord, error) {
	for _, id := range s.order {
		record := s.records[id]
		if record.SessionID == sessionID && record.ChildID == childID {
			clone := *record
			return &clone, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (s *fakeParticipationStore) UpdateVersioned(_ context.Context, record *models.ParticipationRecord) error {
	if s.beforeUpdate != nil {
		hook := s.beforeUpdate
		s.beforeUpdate = nil
		hook()
	}
	stored, ok := s.records[record.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if stored.Version != record.Version {
		return appErrors.Clone(appErrors.ErrStaleData, "")
	}
	record.Version++
	record.UpdatedAt = time.Now().UTC()
	clone := *record
	s.records[record.ID] = &clone
	return nil
}

func (s *fakeParticipationStore) SubmitBatch(_ context.Context, recordIDs []string, submittedBy string) error {
	for _, id := range recordIDs {
		if _, ok := s.records[id]; !ok {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("participation record %s not found", id))
		}
	}
	now := time.Now().UTC()
	for _, id := range recordIDs {
		record := s.records[id]
		record.SubmittedAt = &now
		record.SubmittedBy = &submittedBy
		record.Version++
		record.UpdatedAt = now
	}
	return nil
}

func (s *fakeParticipationStore) List(_ context.Context, filter models.ParticipationFilter) ([]models.ParticipationRecord, int, error) {
	wanted := map[string]bool{}
	for _, id := range filter.ChildIDs {
		wanted[id] = true
	}
	var matched []models.ParticipationRecord
	for _, id := range s.order {
		record := s.records[id]
		if filter.SessionID != "" && record.SessionID != filter.SessionID {
			continue
		}
		if filter.ChildID != "" && record.ChildID != filter.ChildID {
			continue
		}
		if len(wanted) > 0 && !wanted[record.ChildID] {
			continue
		}
		if filter.Status != nil && record.Status != *filter.Status {
			continue
		}
		matched = append(matched, *record)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	total := len(matched)
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *fakeParticipationStore) ListBySession(_ context.Context, sessionID string) ([]models.ParticipationRecord, error) {
	var out []models.ParticipationRecord
	for _, id := range s.order {
		if record := s.records[id]; record.SessionID == sessionID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (s *fakeParticipationStore) ListByChild(_ context.Context, childID string) ([]models.ParticipationRecord, error) {
	var out []models.ParticipationRecord
	for _, id := range s.order {
		if record := s.records[id]; record.ChildID == childID {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (s *fakeParticipationStore) ListByChildren(_ context.Context, childIDs []string) ([]models.ParticipationRecord, error) {
	wanted := map[string]bool{}
	for _, id := range childIDs {
		wanted[id] = true
	}
	var out []models.ParticipationRecord
	for _, id := range s.order {
		if record := s.records[id]; wanted[record.ChildID] {
			out = append(out, *record)
		}
	}
	return out, nil
}

// fakeSessionStore is an in-memory sessionRepository. It shares a
// participation store so the completion sweep can flip registered records.
type fakeSessionStore struct {
	sessions         map[string]*models.ProgramSession
	participation    *fakeParticipationStore
	providerPrograms map[string][]string
}

func newFakeSessionStore(participation *fakeParticipationStore) *fakeSessionStore {
	return &fakeSessionStore{
		sessions:         map[string]*models.ProgramSession{},
		participation:    participation,
		providerPrograms: map[string][]string{},
	}
}

func (s *fakeSessionStore) Create(_ context.Context, session *models.ProgramSession) error {
	for _, existing := range s.sessions {
		if existing.ProgramID == session.ProgramID &&
			existing.SessionDate.Equal(session.SessionDate) &&
			existing.StartTime.Equal(session.StartTime) {
			return appErrors.Clone(appErrors.ErrDuplicateSession, "")
		}
	}
	if session.ID == "" {
		session.ID = fmt.Sprintf("sess-%d", len(s.sessions)+1)
	}
	session.CreatedAt = time.Now().UTC()
	session.UpdatedAt = session.CreatedAt
	clone := *session
	s.sessions[session.ID] = &clone
	return nil
}

func (s *fakeSessionStore) FindByID(_ context.Context, id string) (*models.ProgramSession, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *session
	return &clone, nil
}

func (s *fakeSessionStore) UpdateStatus(_ context.Context, id string, from, to models.SessionStatus) error {
	session, ok := s.sessions[id]
	if !ok {
		return sql.ErrNoRows
	}
	if session.Status != from {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	session.Status = to
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeSessionStore) CompleteWithSweep(_ context.Context, id string) ([]models.SweptRecord, error) {
	session, ok := s.sessions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if session.Status != models.SessionStatusInProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "session is not in progress")
	}
	session.Status = models.SessionStatusCompleted
	session.UpdatedAt = time.Now().UTC()
	var swept []models.SweptRecord
	if s.participation != nil {
		for _, recID := range s.participation.order {
			record := s.participation.records[recID]
			if record.SessionID == id && record.Status == models.ParticipationStatusRegistered {
				record.Status = models.ParticipationStatusAbsent
				record.Version++
				swept = append(swept, models.SweptRecord{ID: record.ID, ChildID: record.ChildID})
			}
		}
	}
	return swept, nil
}

func (s *fakeSessionStore) List(_ context.Context, filter models.SessionFilter) ([]models.ProgramSession, int, error) {
	providerPrograms := map[string]bool{}
	if filter.ProviderID != "" {
		for _, programID := range s.providerPrograms[filter.ProviderID] {
			providerPrograms[programID] = true
		}
	}
	var matched []models.ProgramSession
	for _, session := range s.sessions {
		if filter.ProviderID != "" && !providerPrograms[session.ProgramID] {
			continue
		}
		if filter.ProgramID != "" && session.ProgramID != filter.ProgramID {
			continue
		}
		if filter.Date != nil && !session.SessionDate.Equal(*filter.Date) {
			continue
		}
		if filter.Status != nil && session.Status != *filter.Status {
			continue
		}
		matched = append(matched, *session)
	}
	return matched, len(matched), nil
}

func (s *fakeSessionStore) ListByProgram(_ context.Context, programID string) ([]models.ProgramSession, error) {
	var out []models.ProgramSession
	for _, session := range s.sessions {
		if session.ProgramID == programID {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) ListByDate(_ context.Context, date time.Time) ([]models.ProgramSession, error) {
	var out []models.ProgramSession
	for _, session := range s.sessions {
		if session.SessionDate.Equal(date) {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (s *fakeSessionStore) ListByProviderAndDate(_ context.Context, providerID string, date time.Time) ([]models.ProgramSession, error) {
	programs := map[string]bool{}
	for _, programID := range s.providerPrograms[providerID] {
		programs[programID] = true
	}
	var out []models.ProgramSession
	for _, session := range s.sessions {
		if programs[session.ProgramID] && session.SessionDate.Equal(date) {
			out = append(out, *session)
		}
	}
	return out, nil
}

// fakeNoteStore is an in-memory noteRepository.
type fakeNoteStore struct {
	notes map[string]*models.BehavioralNote
	order []string
}

func newFakeNoteStore() *fakeNoteStore {
	return &fakeNoteStore{notes: map[string]*models.BehavioralNote{}}
}

func (s *fakeNoteStore) Create(_ context.Context, note *models.BehavioralNote) error {
	for _, id := range s.order {
		existing := s.notes[id]
		if existing.ParticipationRecordID == note.ParticipationRecordID && existing.ProviderID == note.ProviderID {
			return appErrors.Clone(appErrors.ErrDuplicateNote, "")
		}
	}
	if note.ID == "" {
		note.ID = fmt.Sprintf("note-%d", len(s.order)+1)
	}
	if note.Status == "" {
		note.Status = models.NoteStatusPendingApproval
	}
	note.Version = 1
	note.CreatedAt = time.Now().UTC()
	note.UpdatedAt = note.CreatedAt
	clone := *note
	s.notes[note.ID] = &clone
	s.order = append(s.order, note.ID)
	return nil
}

func (s *fakeNoteStore) FindByID(_ context.Context, id string) (*models.BehavioralNote, error) {
	note, ok := s.notes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *note
	return &clone, nil
}

func (s *fakeNoteStore) UpdateVersioned(_ context.Context, note *models.BehavioralNote) error {
	stored, ok := s.notes[note.ID]
	if !ok {
		return sql.ErrNoRows
	}
	if stored.Version != note.Version {
		return appErrors.Clone(appErrors.ErrStaleData, "")
	}
	note.Version++
	note.UpdatedAt = time.Now().UTC()
	clone := *note
	s.notes[note.ID] = &clone
	return nil
}

func (s *fakeNoteStore) ListPendingByParent(_ context.Context, parentID string) ([]models.BehavioralNote, error) {
	var out []models.BehavioralNote
	for _, id := range s.order {
		if note := s.notes[id]; note.ParentID == parentID && note.Status == models.NoteStatusPendingApproval {
			out = append(out, *note)
		}
	}
	return out, nil
}

func (s *fakeNoteStore) ListApprovedByChild(_ context.Context, childID string) ([]models.BehavioralNote, error) {
	var out []models.BehavioralNote
	for _, id := range s.order {
		if note := s.notes[id]; note.ChildID == childID && note.Status == models.NoteStatusApproved {
			out = append(out, *note)
		}
	}
	return out, nil
}

func (s *fakeNoteStore) ListByRecordsAndProvider(_ context.Context, recordIDs []string, providerID string) ([]models.BehavioralNote, error) {
	wanted := map[string]bool{}
	for _, id := range recordIDs {
		wanted[id] = true
	}
	var out []models.BehavioralNote
	for _, id := range s.order {
		if note := s.notes[id]; wanted[note.ParticipationRecordID] && note.ProviderID == providerID {
			out = append(out, *note)
		}
	}
	return out, nil
}

func (s *fakeNoteStore) AnonymizeByChild(_ context.Context, childID string) (int64, error) {
	var affected int64
	for _, id := range s.order {
		note := s.notes[id]
		if note.ChildID != childID {
			continue
		}
		if note.Content == models.RedactedNoteContent && note.Status == models.NoteStatusRejected && note.RejectionReason == nil {
			continue
		}
		note.Content = models.RedactedNoteContent
		note.Status = models.NoteStatusRejected
		note.RejectionReason = nil
		note.ReviewedAt = nil
		note.Version++
		affected++
	}
	return affected, nil
}

// stubResolver maps child ids to display names; unknown ids fail.
type stubResolver struct {
	names map[string]string
}

func (r *stubResolver) DisplayName(_ context.Context, childID string) (string, error) {
	name, ok := r.names[childID]
	if !ok {
		return "", errors.New("identity service unavailable")
	}
	return name, nil
}

func strPtr(s string) *string { return &s }

func containsLine(doc, fragment string) bool {
	return strings.Contains(doc, fragment)
}
