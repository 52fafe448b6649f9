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

type sessionRepository interface {
	Create(ctx context.Context, session *models.ProgramSession) error
	FindByID(ctx context.Context, id string) (*models.ProgramSession, error)
	UpdateStatus(ctx context.Context, id string, from, to models.SessionStatus) error
	CompleteWithSweep(ctx context.Context, id string) ([]models.SweptRecord, error)
	List(ctx context.Context, filter models.SessionFilter) ([]models.ProgramSession, int, error)
	ListByProgram(ctx context.Context, programID string) ([]models.ProgramSession, error)
	ListByDate(ctx context.Context, date time.Time) ([]models.ProgramSession, error)
	ListByProviderAndDate(ctx context.Context, providerID string, date time.Time) ([]models.ProgramSession, error)
}

// SessionService owns the program session lifecycle.
type SessionService struct {
	repo      sessionRepository
	bus       events.Bus
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewSessionService constructs the service.
func NewSessionService(repo sessionRepository, bus events.Bus, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = events.NopBus{}
	}
	return &SessionService{repo: repo, bus: bus, validator: validate, metrics: metrics, logger: logger}
}

// CreateSessionRequest describes the create payload.
type CreateSessionRequest struct {
	ProgramID   string    `json:"program_id" validate:"required"`
	SessionDate time.Time `json:"session_date" validate:"required"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required"`
	MaxCapacity int       `json:"max_capacity"`
	Notes       *string   `json:"notes"`
	Location    *string   `json:"location"`
}

// Create schedules a new session. Structural validation happens before any
// store interaction; the duplicate-session invariant is surfaced by the
// repository.
func (s *SessionService) Create(ctx context.Context, req CreateSessionRequest) (*models.ProgramSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	if !req.EndTime.After(req.StartTime) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTimeRange, "")
	}
	if req.MaxCapacity < 0 {
		return nil, appErrors.Clone(appErrors.ErrInvalidCapacity, "")
	}
	session := &models.ProgramSession{
		ProgramID:   req.ProgramID,
		SessionDate: req.SessionDate,
		StartTime:   req.StartTime,
		EndTime:     req.EndTime,
		MaxCapacity: req.MaxCapacity,
		Status:      models.SessionStatusScheduled,
		Notes:       req.Notes,
		Location:    req.Location,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, s.translate(err, "session")
	}
	s.metrics.ObserveTransition("session", string(models.SessionStatusScheduled))
	s.emit(ctx, events.New(events.TypeSessionCreated, events.AggregateSession, session.ID, map[string]interface{}{
		"session_id":   session.ID,
		"program_id":   session.ProgramID,
		"session_date": session.SessionDate,
		"start_time":   session.StartTime,
		"end_time":     session.EndTime,
	}))
	return session, nil
}

// Start moves a scheduled session to in_progress.
func (s *SessionService) Start(ctx context.Context, id string) (*models.ProgramSession, error) {
	return s.transition(ctx, id, models.SessionStatusInProgress, events.TypeSessionStarted)
}

// Cancel moves a scheduled or in-progress session to cancelled.
func (s *SessionService) Cancel(ctx context.Context, id string) (*models.ProgramSession, error) {
	return s.transition(ctx, id, models.SessionStatusCancelled, events.TypeSessionCancelled)
}

func (s *SessionService) transition(ctx context.Context, id string, target models.SessionStatus, eventType events.Type) (*models.ProgramSession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.translate(err, "session")
	}
	if !session.Status.CanTransitionTo(target) {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	if err := s.repo.UpdateStatus(ctx, id, session.Status, target); err != nil {
		return nil, s.translate(err, "session")
	}
	session.Status = target
	s.metrics.ObserveTransition("session", string(target))
	s.emit(ctx, events.New(eventType, events.AggregateSession, session.ID, map[string]interface{}{
		"session_id": session.ID,
		"program_id": session.ProgramID,
	}))
	return session, nil
}

// Complete moves an in-progress session to completed and, atomically with
// that status flip, forces every still-registered participation record of
// the session to absent.
func (s *SessionService) Complete(ctx context.Context, id string) (*models.ProgramSession, []models.SweptRecord, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, nil, s.translate(err, "session")
	}
	if !session.Status.CanTransitionTo(models.SessionStatusCompleted) {
		return nil, nil, appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	swept, err := s.repo.CompleteWithSweep(ctx, id)
	if err != nil {
		return nil, nil, s.translate(err, "session")
	}
	session.Status = models.SessionStatusCompleted
	s.metrics.ObserveTransition("session", string(models.SessionStatusCompleted))
	for range swept {
		s.metrics.ObserveTransition("participation_record", string(models.ParticipationStatusAbsent))
	}
	sweptIDs := make([]string, len(swept))
	for i, rec := range swept {
		sweptIDs[i] = rec.ID
	}
	s.emit(ctx, events.New(events.TypeSessionCompleted, events.AggregateSession, session.ID, map[string]interface{}{
		"session_id":         session.ID,
		"program_id":         session.ProgramID,
		"swept_record_ids":   sweptIDs,
		"swept_absent_count": len(swept),
	}))
	return session, swept, nil
}

// List returns a filtered, paginated page of sessions.
func (s *SessionService) List(ctx context.Context, filter models.SessionFilter) ([]models.ProgramSession, *models.Pagination, error) {
	sessions, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, pageOf(filter.Page, filter.PageSize, total), nil
}

// ListByProgram returns a program's sessions ordered by date then start time.
func (s *SessionService) ListByProgram(ctx context.Context, programID string) ([]models.ProgramSession, error) {
	sessions, err := s.repo.ListByProgram(ctx, programID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// ListByDate returns all sessions on a calendar date.
func (s *SessionService) ListByDate(ctx context.Context, date time.Time) ([]models.ProgramSession, error) {
	sessions, err := s.repo.ListByDate(ctx, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// ListByProviderAndDate returns the sessions a provider runs on a date.
func (s *SessionService) ListByProviderAndDate(ctx context.Context, providerID string, date time.Time) ([]models.ProgramSession, error) {
	sessions, err := s.repo.ListByProviderAndDate(ctx, providerID, date)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	return sessions, nil
}

// pageOf normalizes page arguments the same way the repositories do.
func pageOf(page, size, total int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 200 {
		size = 50
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

// translate maps repository failures onto the typed taxonomy.
func (s *SessionService) translate(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, entity+" not found")
	}
	var typed *appErrors.Error
	if errors.As(err, &typed) {
		return typed
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "unexpected repository error")
}

// emit hands the event to the bus after the triggering write committed.
// Dispatch failures are logged, never surfaced to the caller.
func (s *SessionService) emit(ctx context.Context, event events.Event) {
	if err := s.bus.Dispatch(ctx, event); err != nil {
		s.metrics.ObserveEvent(string(event.Type), false)
		s.logger.Sugar().Errorw("failed to dispatch event", "event_type", event.Type, "aggregate_id", event.AggregateID, "error", err)
		return
	}
	s.metrics.ObserveEvent(string(event.Type), true)
}
