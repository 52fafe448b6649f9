package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/brightkids/participation-api/internal/models"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
	"github.com/brightkids/participation-api/pkg/events"
)

type noteRepository interface {
	Create(ctx context.Context, note *models.BehavioralNote) error
	FindByID(ctx context.Context, id string) (*models.BehavioralNote, error)
	UpdateVersioned(ctx context.Context, note *models.BehavioralNote) error
	ListPendingByParent(ctx context.Context, parentID string) ([]models.BehavioralNote, error)
	ListApprovedByChild(ctx context.Context, childID string) ([]models.BehavioralNote, error)
	ListByRecordsAndProvider(ctx context.Context, recordIDs []string, providerID string) ([]models.BehavioralNote, error)
	AnonymizeByChild(ctx context.Context, childID string) (int64, error)
}

type recordReader interface {
	FindByID(ctx context.Context, id string) (*models.ParticipationRecord, error)
}

// Review decisions.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// NoteService drives the behavioral note moderation workflow.
type NoteService struct {
	repo      noteRepository
	records   recordReader
	bus       events.Bus
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNoteService constructs the service.
func NewNoteService(repo noteRepository, records recordReader, bus events.Bus, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *NoteService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NopBus{}
	}
	return &NoteService{repo: repo, records: records, bus: bus, validator: validate, metrics: metrics, logger: logger}
}

// SubmitNoteRequest describes a provider's observation submission.
type SubmitNoteRequest struct {
	ParticipationRecordID string `json:"participation_record_id" validate:"required"`
	ProviderID            string `json:"provider_id" validate:"required"`
	Content               string `json:"content"`
}

// Submit creates a pending note against a checked-in or checked-out record.
// Child and parent ids are denormalized from the record at creation time.
func (s *NoteService) Submit(ctx context.Context, req SubmitNoteRequest) (*models.BehavioralNote, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	content, err := normalizeContent(req.Content)
	if err != nil {
		return nil, err
	}
	record, err := s.records.FindByID(ctx, req.ParticipationRecordID)
	if err != nil {
		return nil, s.translate(err)
	}
	if record.Status != models.ParticipationStatusCheckedIn && record.Status != models.ParticipationStatusCheckedOut {
		return nil, appErrors.Clone(appErrors.ErrInvalidRecordStatus, "")
	}
	note := &models.BehavioralNote{
		ParticipationRecordID: record.ID,
		ChildID:               record.ChildID,
		ParentID:              record.ParentID,
		ProviderID:            req.ProviderID,
		Content:               content,
		Status:                models.NoteStatusPendingApproval,
	}
	if err := s.repo.Create(ctx, note); err != nil {
		return nil, s.translate(err)
	}
	s.metrics.ObserveTransition("behavioral_note", string(models.NoteStatusPendingApproval))
	s.emit(ctx, events.New(events.TypeNoteSubmitted, events.AggregateNote, note.ID, map[string]interface{}{
		"note_id":     note.ID,
		"record_id":   note.ParticipationRecordID,
		"child_id":    note.ChildID,
		"provider_id": note.ProviderID,
	}))
	return note, nil
}

// ReviewNoteRequest carries a guardian's moderation decision.
type ReviewNoteRequest struct {
	NoteID   string  `json:"note_id" validate:"required"`
	Decision string  `json:"decision" validate:"required,oneof=approve reject"`
	Reason   *string `json:"reason"`
}

// Review approves or rejects a pending note. Either decision is final until
// the authoring provider revises.
func (s *NoteService) Review(ctx context.Context, req ReviewNoteRequest) (*models.BehavioralNote, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	note, err := s.repo.FindByID(ctx, req.NoteID)
	if err != nil {
		return nil, s.translate(err)
	}
	if note.Status != models.NoteStatusPendingApproval {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	now := time.Now().UTC()
	note.ReviewedAt = &now
	eventType := events.TypeNoteApproved
	if req.Decision == DecisionReject {
		note.Status = models.NoteStatusRejected
		note.RejectionReason = req.Reason
		eventType = events.TypeNoteRejected
	} else {
		note.Status = models.NoteStatusApproved
		note.RejectionReason = nil
	}
	if err := s.repo.UpdateVersioned(ctx, note); err != nil {
		return nil, s.translateConflict(err, "review")
	}
	s.metrics.ObserveTransition("behavioral_note", string(note.Status))
	s.emit(ctx, events.New(eventType, events.AggregateNote, note.ID, map[string]interface{}{
		"note_id":     note.ID,
		"record_id":   note.ParticipationRecordID,
		"child_id":    note.ChildID,
		"provider_id": note.ProviderID,
		"reason":      note.RejectionReason,
	}))
	return note, nil
}

// ReviseNoteRequest replaces a rejected note's content.
type ReviseNoteRequest struct {
	NoteID     string `json:"note_id" validate:"required"`
	ProviderID string `json:"provider_id" validate:"required"`
	Content    string `json:"content"`
}

// Revise returns a rejected note to pending with fresh content. Only the
// authoring provider may revise; anyone else gets NOT_FOUND so that note
// existence is not leaked across providers.
func (s *NoteService) Revise(ctx context.Context, req ReviseNoteRequest) (*models.BehavioralNote, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	content, err := normalizeContent(req.Content)
	if err != nil {
		return nil, err
	}
	note, err := s.repo.FindByID(ctx, req.NoteID)
	if err != nil {
		return nil, s.translate(err)
	}
	if note.ProviderID != req.ProviderID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "behavioral note not found")
	}
	if note.Status != models.NoteStatusRejected {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	note.Content = content
	note.Status = models.NoteStatusPendingApproval
	note.RejectionReason = nil
	note.ReviewedAt = nil
	if err := s.repo.UpdateVersioned(ctx, note); err != nil {
		return nil, s.translateConflict(err, "revise")
	}
	s.metrics.ObserveTransition("behavioral_note", string(models.NoteStatusPendingApproval))
	s.emit(ctx, events.New(events.TypeNoteRevised, events.AggregateNote, note.ID, map[string]interface{}{
		"note_id":     note.ID,
		"record_id":   note.ParticipationRecordID,
		"child_id":    note.ChildID,
		"provider_id": note.ProviderID,
	}))
	return note, nil
}

// ListPendingForParent returns the guardian-visible moderation queue.
func (s *NoteService) ListPendingForParent(ctx context.Context, parentID string) ([]models.BehavioralNote, error) {
	notes, err := s.repo.ListPendingByParent(ctx, parentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notes")
	}
	return notes, nil
}

// ListApprovedForChild returns the parent-visible history of a child.
func (s *NoteService) ListApprovedForChild(ctx context.Context, childID string) ([]models.BehavioralNote, error) {
	notes, err := s.repo.ListApprovedByChild(ctx, childID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notes")
	}
	return notes, nil
}

// ListForProviderRecords returns a provider's own submissions across a set
// of participation records.
func (s *NoteService) ListForProviderRecords(ctx context.Context, recordIDs []string, providerID string) ([]models.BehavioralNote, error) {
	notes, err := s.repo.ListByRecordsAndProvider(ctx, recordIDs, providerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notes")
	}
	return notes, nil
}

// AnonymizeChild implements the inbound data-subject erasure signal: every
// note for the child is rewritten to the redaction placeholder and forced
// to rejected with no reason. Safe to call repeatedly.
func (s *NoteService) AnonymizeChild(ctx context.Context, childID string) error {
	if childID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "child id required")
	}
	redacted, err := s.repo.AnonymizeByChild(ctx, childID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to anonymize notes")
	}
	s.logger.Sugar().Infow("behavioral notes anonymized", "child_id", childID, "notes_redacted", redacted)
	return nil
}

func normalizeContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", appErrors.Clone(appErrors.ErrBlankContent, "")
	}
	if len(content) > models.MaxNoteContentLength {
		return "", appErrors.Clone(appErrors.ErrValidation, "content exceeds maximum length")
	}
	return content, nil
}

func (s *NoteService) translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "")
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unexpected repository error")
}

func (s *NoteService) translateConflict(err error, operation string) error {
	if appErrors.HasCode(err, appErrors.ErrStaleData.Code) {
		s.metrics.ObserveStaleConflict(operation)
	}
	return s.translate(err)
}

func (s *NoteService) emit(ctx context.Context, event events.Event) {
	if err := s.bus.Dispatch(ctx, event); err != nil {
		s.metrics.ObserveEvent(string(event.Type), false)
		s.logger.Sugar().Errorw("failed to dispatch event", "event_type", event.Type, "aggregate_id", event.AggregateID, "error", err)
		return
	}
	s.metrics.ObserveEvent(string(event.Type), true)
}
