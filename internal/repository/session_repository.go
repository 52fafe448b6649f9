package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brightkids/participation-api/internal/models"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique constraint error.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// SessionRepository handles persistence for program sessions.
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository constructs the repository.
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = "id, program_id, session_date, start_time, end_time, max_capacity, status, notes, location, created_at, updated_at"

// Create inserts a new session. The (program_id, session_date, start_time)
// uniqueness invariant is enforced by the store and surfaced as
// DUPLICATE_SESSION here.
func (r *SessionRepository) Create(ctx context.Context, session *models.ProgramSession) error {
	now := time.Now().UTC()
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	session.CreatedAt = now
	session.UpdatedAt = now
	query := `INSERT INTO program_sessions (id, program_id, session_date, start_time, end_time, max_capacity, status, notes, location, created_at, updated_at)
VALUES (:id, :program_id, :session_date, :start_time, :end_time, :max_capacity, :status, :notes, :location, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrDuplicateSession.Code, appErrors.ErrDuplicateSession.Status, appErrors.ErrDuplicateSession.Message)
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// FindByID returns a single session or sql.ErrNoRows.
func (r *SessionRepository) FindByID(ctx context.Context, id string) (*models.ProgramSession, error) {
	var session models.ProgramSession
	query := fmt.Sprintf("SELECT %s FROM program_sessions WHERE id = $1", sessionColumns)
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// UpdateStatus flips a session's status conditioned on its current status,
// so racing transitions cannot both win.
func (r *SessionRepository) UpdateStatus(ctx context.Context, id string, from, to models.SessionStatus) error {
	query := `UPDATE program_sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, to, time.Now().UTC(), id, from)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	if affected == 0 {
		if _, findErr := r.FindByID(ctx, id); findErr != nil {
			return findErr
		}
		return appErrors.Clone(appErrors.ErrInvalidTransition, "")
	}
	return nil
}

// CompleteWithSweep marks an in-progress session completed and, in the same
// transaction, forces every still-registered participation record of the
// session to absent. Either both updates commit or neither does.
func (r *SessionRepository) CompleteWithSweep(ctx context.Context, id string) ([]models.SweptRecord, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin session completion: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`UPDATE program_sessions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		models.SessionStatusCompleted, now, id, models.SessionStatusInProgress)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM program_sessions WHERE id = $1)", id); err != nil {
			return nil, fmt.Errorf("complete session: %w", err)
		}
		if !exists {
			return nil, sql.ErrNoRows
		}
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "session is not in progress")
	}

	var swept []models.SweptRecord
	err = tx.SelectContext(ctx, &swept,
		`UPDATE participation_records SET status = $1, version = version + 1, updated_at = $2
WHERE session_id = $3 AND status = $4
RETURNING id, child_id`,
		models.ParticipationStatusAbsent, now, id, models.ParticipationStatusRegistered)
	if err != nil {
		return nil, fmt.Errorf("sweep registered records: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit session completion: %w", err)
	}
	committed = true
	return swept, nil
}

// List returns sessions per provided filter with the total match count.
func (r *SessionRepository) List(ctx context.Context, filter models.SessionFilter) ([]models.ProgramSession, int, error) {
	base := "FROM program_sessions s"
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.ProviderID != "" {
		base += " JOIN program_providers pp ON pp.program_id = s.program_id"
		where = append(where, fmt.Sprintf("pp.provider_id = $%d", len(args)+1))
		args = append(args, filter.ProviderID)
	}
	if filter.ProgramID != "" {
		where = append(where, fmt.Sprintf("s.program_id = $%d", len(args)+1))
		args = append(args, filter.ProgramID)
	}
	if filter.Date != nil {
		where = append(where, fmt.Sprintf("s.session_date = $%d", len(args)+1))
		args = append(args, *filter.Date)
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("s.status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size
	query := fmt.Sprintf(`SELECT s.id, s.program_id, s.session_date, s.start_time, s.end_time, s.max_capacity, s.status, s.notes, s.location, s.created_at, s.updated_at
%s WHERE %s ORDER BY s.session_date ASC, s.start_time ASC LIMIT %d OFFSET %d`, base, whereClause, size, offset)
	var sessions []models.ProgramSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}
	return sessions, total, nil
}

// ListByProgram returns every session of a program ordered by date then
// start time ascending.
func (r *SessionRepository) ListByProgram(ctx context.Context, programID string) ([]models.ProgramSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM program_sessions WHERE program_id = $1 ORDER BY session_date ASC, start_time ASC`, sessionColumns)
	var sessions []models.ProgramSession
	if err := r.db.SelectContext(ctx, &sessions, query, programID); err != nil {
		return nil, fmt.Errorf("list sessions by program: %w", err)
	}
	return sessions, nil
}

// ListByDate returns every session scheduled on a calendar date.
func (r *SessionRepository) ListByDate(ctx context.Context, date time.Time) ([]models.ProgramSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM program_sessions WHERE session_date = $1 ORDER BY start_time ASC`, sessionColumns)
	var sessions []models.ProgramSession
	if err := r.db.SelectContext(ctx, &sessions, query, date); err != nil {
		return nil, fmt.Errorf("list sessions by date: %w", err)
	}
	return sessions, nil
}

// ListByProviderAndDate resolves the provider's programs through the
// catalog-maintained program_providers table. That table is owned by the
// catalog context and only read here.
func (r *SessionRepository) ListByProviderAndDate(ctx context.Context, providerID string, date time.Time) ([]models.ProgramSession, error) {
	query := `SELECT s.id, s.program_id, s.session_date, s.start_time, s.end_time, s.max_capacity, s.status, s.notes, s.location, s.created_at, s.updated_at
FROM program_sessions s
JOIN program_providers pp ON pp.program_id = s.program_id
WHERE pp.provider_id = $1 AND s.session_date = $2
ORDER BY s.start_time ASC`
	var sessions []models.ProgramSession
	if err := r.db.SelectContext(ctx, &sessions, query, providerID, date); err != nil {
		return nil, fmt.Errorf("list sessions by provider: %w", err)
	}
	return sessions, nil
}
