package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/brightkids/participation-api/internal/models"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
	"github.com/brightkids/participation-api/pkg/events"
)

type participationRepository interface {
	Create(ctx context.Context, record *models.ParticipationRecord) error
	CreateBatch(ctx context.Context, records []models.ParticipationRecord) error
	FindByID(ctx context.Context, id string) (*models.ParticipationRecord, error)
	FindBySessionAndChild(ctx context.Context, sessionID, childID string) (*models.ParticipationRecord, error)
	UpdateVersioned(ctx context.Context, record *models.ParticipationRecord) error
	SubmitBatch(ctx context.Context, recordIDs []string, submittedBy string) error
	List(ctx context.Context, filter models.ParticipationFilter) ([]models.ParticipationRecord, int, error)
	ListBySession(ctx context.Context, sessionID string) ([]models.ParticipationRecord, error)
	ListByChild(ctx context.Context, childID string) ([]models.ParticipationRecord, error)
	ListByChildren(ctx context.Context, childIDs []string) ([]models.ParticipationRecord, error)
}

// ParticipationService owns the participation record state machine. Every
// mutation re-reads the persisted record, applies the transition in memory
// and writes back conditioned on the version being unchanged; losers of
// that race get STALE_DATA and must re-read and retry themselves.
type ParticipationService struct {
	repo      participationRepository
	bus       events.Bus
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewParticipationService constructs the service.
func NewParticipationService(repo participationRepository, bus events.Bus, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *ParticipationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NopBus{}
	}
	return &ParticipationService{repo: repo, bus: bus, validator: validate, metrics: metrics, logger: logger}
}

// RegisterRequest pre-registers one child for a session.
type RegisterRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	ChildID   string `json:"child_id" validate:"required"`
	ParentID  string `json:"parent_id" validate:"required"`
}

// Register creates a registered record for the enrollment flow.
func (s *ParticipationService) Register(ctx context.Context, req RegisterRequest) (*models.ParticipationRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	record := &models.ParticipationRecord{
		SessionID: req.SessionID,
		ChildID:   req.ChildID,
		ParentID:  req.ParentID,
		Status:    models.ParticipationStatusRegistered,
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return nil, s.translate(err)
	}
	s.metrics.ObserveTransition("participation_record", string(models.ParticipationStatusRegistered))
	return record, nil
}

// RegisterBatch pre-registers many children atomically.
func (s *ParticipationService) RegisterBatch(ctx context.Context, reqs []RegisterRequest) ([]models.ParticipationRecord, error) {
	if len(reqs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrEmptyRecordIDs, "no registrations given")
	}
	records := make([]models.ParticipationRecord, len(reqs))
	for i, req := range reqs {
		if err := s.validator.Struct(req); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
		}
		records[i] = models.ParticipationRecord{
			SessionID: req.SessionID,
			ChildID:   req.ChildID,
			ParentID:  req.ParentID,
			Status:    models.ParticipationStatusRegistered,
		}
	}
	if err := s.repo.CreateBatch(ctx, records); err != nil {
		return nil, s.translate(err)
	}
	return records, nil
}

// CheckInRequest checks a registered child in.
type CheckInRequest struct {
	RecordID    string  `json:"record_id" validate:"required"`
	CheckedInBy string  `json:"checked_in_by" validate:"required"`
	Notes       *string `json:"notes"`
}

// CheckIn transitions registered → checked_in.
func (s *ParticipationService) CheckIn(ctx context.Context, req CheckInRequest) (*models.ParticipationRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	record, err := s.repo.FindByID(ctx, req.RecordID)
	if err != nil {
		return nil, s.translate(err)
	}
	return s.checkIn(ctx, record, req.CheckedInBy, req.Notes)
}

// CheckInChildRequest checks a child in by (session, child), deriving a
// registered record when the registration flow has not created one yet.
type CheckInChildRequest struct {
	SessionID   string  `json:"session_id" validate:"required"`
	ChildID     string  `json:"child_id" validate:"required"`
	ParentID    string  `json:"parent_id" validate:"required"`
	CheckedInBy string  `json:"checked_in_by" validate:"required"`
	Notes       *string `json:"notes"`
}

// CheckInChild is the upsert-style check-in convention. Re-check-in of an
// already checked-in record is still an illegal transition.
func (s *ParticipationService) CheckInChild(ctx context.Context, req CheckInChildRequest) (*models.ParticipationRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	record, err := s.repo.FindBySessionAndChild(ctx, req.SessionID, req.ChildID)
	if errors.Is(err, sql.ErrNoRows) {
		record = &models.ParticipationRecord{
			SessionID: req.SessionID,
			ChildID:   req.ChildID,
			ParentID:  req.ParentID,
			Status:    models.ParticipationStatusRegistered,
		}
		if createErr := s.repo.Create(ctx, record); createErr != nil {
			// Another caller created the record between our read and write;
			// fall back to the committed row.
			if appErrors.HasCode(createErr, "DUPLICATE_RECORD") {
				record, err = s.repo.FindBySessionAndChild(ctx, req.SessionID, req.ChildID)
				if err != nil {
					return nil, s.translate(err)
				}
			} else {
				return nil, s.translate(createErr)
			}
		}
	} else if err != nil {
		return nil, s.translate(err)
	}
	return s.checkIn(ctx, record, req.CheckedInBy, req.Notes)
}

func (s *ParticipationService) checkIn(ctx context.Context, record *models.ParticipationRecord, by string, notes *string) (*models.ParticipationRecord, error) {
	if record.Submitted() || !record.Status.CanTransitionTo(models.ParticipationStatusCheckedIn) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	now := time.Now().UTC()
	record.Status = models.ParticipationStatusCheckedIn
	record.CheckInAt = &now
	record.CheckInBy = &by
	record.CheckInNotes = notes
	if err := s.repo.UpdateVersioned(ctx, record); err != nil {
		return nil, s.translateConflict(err, "check_in")
	}
	s.metrics.ObserveTransition("participation_record", string(models.ParticipationStatusCheckedIn))
	s.emit(ctx, events.New(events.TypeChildCheckedIn, events.AggregateParticipation, record.ID, map[string]interface{}{
		"record_id":     record.ID,
		"session_id":    record.SessionID,
		"child_id":      record.ChildID,
		"checked_in_by": by,
		"notes":         notes,
		"checked_in_at": now,
	}))
	return record, nil
}

// CheckOutRequest checks a checked-in child out.
type CheckOutRequest struct {
	RecordID     string  `json:"record_id" validate:"required"`
	CheckedOutBy string  `json:"checked_out_by" validate:"required"`
	Notes        *string `json:"notes"`
}

// CheckOut transitions checked_in → checked_out.
func (s *ParticipationService) CheckOut(ctx context.Context, req CheckOutRequest) (*models.ParticipationRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	record, err := s.repo.FindByID(ctx, req.RecordID)
	if err != nil {
		return nil, s.translate(err)
	}
	if record.Submitted() || !record.Status.CanTransitionTo(models.ParticipationStatusCheckedOut) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	now := time.Now().UTC()
	record.Status = models.ParticipationStatusCheckedOut
	record.CheckOutAt = &now
	record.CheckOutBy = &req.CheckedOutBy
	record.CheckOutNotes = req.Notes
	if err := s.repo.UpdateVersioned(ctx, record); err != nil {
		return nil, s.translateConflict(err, "check_out")
	}
	s.metrics.ObserveTransition("participation_record", string(models.ParticipationStatusCheckedOut))
	var duration float64
	if record.CheckInAt != nil {
		duration = now.Sub(*record.CheckInAt).Seconds()
	}
	s.emit(ctx, events.New(events.TypeChildCheckedOut, events.AggregateParticipation, record.ID, map[string]interface{}{
		"record_id":        record.ID,
		"session_id":       record.SessionID,
		"child_id":         record.ChildID,
		"checked_out_by":   req.CheckedOutBy,
		"notes":            req.Notes,
		"checked_out_at":   now,
		"duration_seconds": duration,
	}))
	return record, nil
}

// MarkAbsent transitions registered → absent for manual marking; the bulk
// session-completion sweep uses the same target state.
func (s *ParticipationService) MarkAbsent(ctx context.Context, recordID string) (*models.ParticipationRecord, error) {
	if recordID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "record id required")
	}
	record, err := s.repo.FindByID(ctx, recordID)
	if err != nil {
		return nil, s.translate(err)
	}
	if record.Submitted() || !record.Status.CanTransitionTo(models.ParticipationStatusAbsent) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	record.Status = models.ParticipationStatusAbsent
	if err := s.repo.UpdateVersioned(ctx, record); err != nil {
		return nil, s.translateConflict(err, "mark_absent")
	}
	s.metrics.ObserveTransition("participation_record", string(models.ParticipationStatusAbsent))
	return record, nil
}

// SubmitBatchRequest locks a set of records for downstream processing.
type SubmitBatchRequest struct {
	SessionID   string   `json:"session_id" validate:"required"`
	RecordIDs   []string `json:"record_ids"`
	SubmittedBy string   `json:"submitted_by" validate:"required"`
}

// SubmitBatch marks every named record submitted in one all-or-nothing
// operation; a single unresolvable id persists nothing.
func (s *ParticipationService) SubmitBatch(ctx context.Context, req SubmitBatchRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if len(req.RecordIDs) == 0 {
		return appErrors.Clone(appErrors.ErrEmptyRecordIDs, "")
	}
	if err := s.repo.SubmitBatch(ctx, req.RecordIDs, req.SubmittedBy); err != nil {
		return s.translate(err)
	}
	return nil
}

// Get returns one record by id.
func (s *ParticipationService) Get(ctx context.Context, id string) (*models.ParticipationRecord, error) {
	record, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err)
	}
	return record, nil
}

// List returns a filtered, paginated page of records.
func (s *ParticipationService) List(ctx context.Context, filter models.ParticipationFilter) ([]models.ParticipationRecord, *models.Pagination, error) {
	records, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	return records, pageOf(filter.Page, filter.PageSize, total), nil
}

// ListBySession returns every record of a session.
func (s *ParticipationService) ListBySession(ctx context.Context, sessionID string) ([]models.ParticipationRecord, error) {
	records, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	return records, nil
}

// ListByChild returns a child's records across sessions.
func (s *ParticipationService) ListByChild(ctx context.Context, childID string) ([]models.ParticipationRecord, error) {
	records, err := s.repo.ListByChild(ctx, childID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	return records, nil
}

// ListByChildren returns records for several children at once.
func (s *ParticipationService) ListByChildren(ctx context.Context, childIDs []string) ([]models.ParticipationRecord, error) {
	records, err := s.repo.ListByChildren(ctx, childIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list records")
	}
	return records, nil
}

func (s *ParticipationService) translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "participation record not found")
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unexpected repository error")
}

func (s *ParticipationService) translateConflict(err error, operation string) error {
	if appErrors.HasCode(err, appErrors.ErrStaleData.Code) {
		s.metrics.ObserveStaleConflict(operation)
	}
	return s.translate(err)
}

func (s *ParticipationService) emit(ctx context.Context, event events.Event) {
	if err := s.bus.Dispatch(ctx, event); err != nil {
		s.metrics.ObserveEvent(string(event.Type), false)
		s.logger.Sugar().Errorw("failed to dispatch event", "event_type", event.Type, "aggregate_id", event.AggregateID, "error", err)
		return
	}
	s.metrics.ObserveEvent(string(event.Type), true)
}
