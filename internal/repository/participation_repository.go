package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brightkids/participation-api/internal/models"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
)

// ErrDuplicateRecord is returned when a (session_id, child_id) pair is
// registered twice. Registration happens outside the §4 operation set, so
// the code sits alongside the core taxonomy rather than inside it.
var ErrDuplicateRecord = appErrors.New("DUPLICATE_RECORD", 409, "child already has a record for this session")

// ParticipationRepository handles persistence for participation records.
type ParticipationRepository struct {
	db *sqlx.DB
}

// NewParticipationRepository constructs the repository.
func NewParticipationRepository(db *sqlx.DB) *ParticipationRepository {
	return &ParticipationRepository{db: db}
}

const participationColumns = "id, session_id, child_id, parent_id, status, check_in_at, check_in_by, check_in_notes, check_out_at, check_out_by, check_out_notes, submitted_at, submitted_by, version, created_at, updated_at"

// Create inserts a new record in registered state with version 1.
func (r *ParticipationRepository) Create(ctx context.Context, record *models.ParticipationRecord) error {
	now := time.Now().UTC()
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.Status == "" {
		record.Status = models.ParticipationStatusRegistered
	}
	record.Version = 1
	record.CreatedAt = now
	record.UpdatedAt = now
	query := `INSERT INTO participation_records (id, session_id, child_id, parent_id, status, version, created_at, updated_at)
VALUES (:id, :session_id, :child_id, :parent_id, :status, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		if IsUniqueViolation(err) {
			return appErrors.Wrap(err, ErrDuplicateRecord.Code, ErrDuplicateRecord.Status, ErrDuplicateRecord.Message)
		}
		return fmt.Errorf("create participation record: %w", err)
	}
	return nil
}

// CreateBatch pre-registers many children in one transaction. Any duplicate
// rolls the whole batch back.
func (r *ParticipationRepository) CreateBatch(ctx context.Context, records []models.ParticipationRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch registration: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	query := `INSERT INTO participation_records (id, session_id, child_id, parent_id, status, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	now := time.Now().UTC()
	for i := range records {
		rec := &records[i]
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if rec.Status == "" {
			rec.Status = models.ParticipationStatusRegistered
		}
		rec.Version = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		if _, err := tx.ExecContext(ctx, query, rec.ID, rec.SessionID, rec.ChildID, rec.ParentID, rec.Status, rec.Version, rec.CreatedAt, rec.UpdatedAt); err != nil {
			if IsUniqueViolation(err) {
				return appErrors.Wrap(err, ErrDuplicateRecord.Code, ErrDuplicateRecord.Status,
					fmt.Sprintf("child %s already has a record for session %s", rec.ChildID, rec.SessionID))
			}
			return fmt.Errorf("batch register child %s: %w", rec.ChildID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch registration: %w", err)
	}
	committed = true
	return nil
}

// FindByID returns a record or sql.ErrNoRows.
func (r *ParticipationRepository) FindByID(ctx context.Context, id string) (*models.ParticipationRecord, error) {
	var record models.ParticipationRecord
	query := fmt.Sprintf("SELECT %s FROM participation_records WHERE id = $1", participationColumns)
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// FindBySessionAndChild returns a record or sql.ErrNoRows.
func (r *ParticipationRepository) FindBySessionAndChild(ctx context.Context, sessionID, childID string) (*models.ParticipationRecord, error) {
	var record models.ParticipationRecord
	query := fmt.Sprintf("SELECT %s FROM participation_records WHERE session_id = $1 AND child_id = $2", participationColumns)
	if err := r.db.GetContext(ctx, &record, query, sessionID, childID); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateVersioned writes the record back conditioned on the version it was
// read at. Zero rows affected means either the record vanished
// (sql.ErrNoRows) or another writer committed first (STALE_DATA). On
// success the in-memory record reflects the incremented version.
func (r *ParticipationRepository) UpdateVersioned(ctx context.Context, record *models.ParticipationRecord) error {
	now := time.Now().UTC()
	query := `UPDATE participation_records
SET status = $1, check_in_at = $2, check_in_by = $3, check_in_notes = $4,
    check_out_at = $5, check_out_by = $6, check_out_notes = $7,
    submitted_at = $8, submitted_by = $9,
    version = version + 1, updated_at = $10
WHERE id = $11 AND version = $12`
	res, err := r.db.ExecContext(ctx, query,
		record.Status, record.CheckInAt, record.CheckInBy, record.CheckInNotes,
		record.CheckOutAt, record.CheckOutBy, record.CheckOutNotes,
		record.SubmittedAt, record.SubmittedBy,
		now, record.ID, record.Version)
	if err != nil {
		return fmt.Errorf("update participation record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update participation record: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM participation_records WHERE id = $1)", record.ID); err != nil {
			return fmt.Errorf("update participation record: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return appErrors.Clone(appErrors.ErrStaleData, "")
	}
	record.Version++
	record.UpdatedAt = now
	return nil
}

// SubmitBatch stamps every named record as submitted inside a single
// transaction. One missing id aborts the whole batch.
func (r *ParticipationRepository) SubmitBatch(ctx context.Context, recordIDs []string, submittedBy string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch submit: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()
	now := time.Now().UTC()
	query := `UPDATE participation_records
SET submitted_at = $1, submitted_by = $2, version = version + 1, updated_at = $1
WHERE id = $3`
	for _, id := range recordIDs {
		res, err := tx.ExecContext(ctx, query, now, submittedBy, id)
		if err != nil {
			return fmt.Errorf("submit record %s: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("submit record %s: %w", id, err)
		}
		if affected == 0 {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("participation record %s not found", id))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch submit: %w", err)
	}
	committed = true
	return nil
}

// List returns records per provided filter with the total match count.
func (r *ParticipationRepository) List(ctx context.Context, filter models.ParticipationFilter) ([]models.ParticipationRecord, int, error) {
	base := "FROM participation_records"
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.SessionID != "" {
		where = append(where, fmt.Sprintf("session_id = $%d", len(args)+1))
		args = append(args, filter.SessionID)
	}
	if filter.ChildID != "" {
		where = append(where, fmt.Sprintf("child_id = $%d", len(args)+1))
		args = append(args, filter.ChildID)
	}
	if len(filter.ChildIDs) > 0 {
		where = append(where, fmt.Sprintf("child_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.ChildIDs))
	}
	if filter.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
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
	query := fmt.Sprintf(`SELECT %s
%s WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`, participationColumns, base, whereClause, size, offset)
	var records []models.ParticipationRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list participation records: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count participation records: %w", err)
	}
	return records, total, nil
}

// ListBySession returns every record of a session.
func (r *ParticipationRepository) ListBySession(ctx context.Context, sessionID string) ([]models.ParticipationRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM participation_records WHERE session_id = $1 ORDER BY created_at ASC", participationColumns)
	var records []models.ParticipationRecord
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list records by session: %w", err)
	}
	return records, nil
}

// ListByChild returns every record of a child across sessions.
func (r *ParticipationRepository) ListByChild(ctx context.Context, childID string) ([]models.ParticipationRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM participation_records WHERE child_id = $1 ORDER BY created_at DESC", participationColumns)
	var records []models.ParticipationRecord
	if err := r.db.SelectContext(ctx, &records, query, childID); err != nil {
		return nil, fmt.Errorf("list records by child: %w", err)
	}
	return records, nil
}

// ListByChildren returns records for a set of children, e.g. one guardian's
// household.
func (r *ParticipationRepository) ListByChildren(ctx context.Context, childIDs []string) ([]models.ParticipationRecord, error) {
	if len(childIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf("SELECT %s FROM participation_records WHERE child_id = ANY($1) ORDER BY created_at DESC", participationColumns)
	var records []models.ParticipationRecord
	if err := r.db.SelectContext(ctx, &records, query, pq.Array(childIDs)); err != nil {
		return nil, fmt.Errorf("list records by children: %w", err)
	}
	return records, nil
}
