package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brightkids/participation-api/internal/models"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
)

// NoteRepository handles persistence for behavioral notes.
type NoteRepository struct {
	db *sqlx.DB
}

// NewNoteRepository constructs the repository.
func NewNoteRepository(db *sqlx.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

const noteColumns = "id, participation_record_id, child_id, parent_id, provider_id, content, status, rejection_reason, reviewed_at, version, created_at, updated_at"

// Create inserts a new pending note. The (participation_record_id,
// provider_id) uniqueness invariant is enforced by the store and surfaced
// as DUPLICATE_NOTE here.
func (r *NoteRepository) Create(ctx context.Context, note *models.BehavioralNote) error {
	now := time.Now().UTC()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.Status == "" {
		note.Status = models.NoteStatusPendingApproval
	}
	note.Version = 1
	note.CreatedAt = now
	note.UpdatedAt = now
	query := `INSERT INTO behavioral_notes (id, participation_record_id, child_id, parent_id, provider_id, content, status, version, created_at, updated_at)
VALUES (:id, :participation_record_id, :child_id, :parent_id, :provider_id, :content, :status, :version, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, note); err != nil {
		if IsUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrDuplicateNote.Code, appErrors.ErrDuplicateNote.Status, appErrors.ErrDuplicateNote.Message)
		}
		return fmt.Errorf("create behavioral note: %w", err)
	}
	return nil
}

// FindByID returns a note or sql.ErrNoRows.
func (r *NoteRepository) FindByID(ctx context.Context, id string) (*models.BehavioralNote, error) {
	var note models.BehavioralNote
	query := fmt.Sprintf("SELECT %s FROM behavioral_notes WHERE id = $1", noteColumns)
	if err := r.db.GetContext(ctx, &note, query, id); err != nil {
		return nil, err
	}
	return &note, nil
}

// UpdateVersioned writes the note back conditioned on the version it was
// read at, mirroring the participation record CAS discipline.
func (r *NoteRepository) UpdateVersioned(ctx context.Context, note *models.BehavioralNote) error {
	now := time.Now().UTC()
	query := `UPDATE behavioral_notes
SET content = $1, status = $2, rejection_reason = $3, reviewed_at = $4,
    version = version + 1, updated_at = $5
WHERE id = $6 AND version = $7`
	res, err := r.db.ExecContext(ctx, query,
		note.Content, note.Status, note.RejectionReason, note.ReviewedAt,
		now, note.ID, note.Version)
	if err != nil {
		return fmt.Errorf("update behavioral note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update behavioral note: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM behavioral_notes WHERE id = $1)", note.ID); err != nil {
			return fmt.Errorf("update behavioral note: %w", err)
		}
		if !exists {
			return sql.ErrNoRows
		}
		return appErrors.Clone(appErrors.ErrStaleData, "")
	}
	note.Version++
	note.UpdatedAt = now
	return nil
}

// ListPendingByParent returns the guardian-visible moderation queue.
func (r *NoteRepository) ListPendingByParent(ctx context.Context, parentID string) ([]models.BehavioralNote, error) {
	query := fmt.Sprintf(`SELECT %s FROM behavioral_notes WHERE parent_id = $1 AND status = $2 ORDER BY created_at ASC`, noteColumns)
	var notes []models.BehavioralNote
	if err := r.db.SelectContext(ctx, &notes, query, parentID, models.NoteStatusPendingApproval); err != nil {
		return nil, fmt.Errorf("list pending notes: %w", err)
	}
	return notes, nil
}

// ListApprovedByChild returns the parent-visible note history for a child.
func (r *NoteRepository) ListApprovedByChild(ctx context.Context, childID string) ([]models.BehavioralNote, error) {
	query := fmt.Sprintf(`SELECT %s FROM behavioral_notes WHERE child_id = $1 AND status = $2 ORDER BY reviewed_at DESC`, noteColumns)
	var notes []models.BehavioralNote
	if err := r.db.SelectContext(ctx, &notes, query, childID, models.NoteStatusApproved); err != nil {
		return nil, fmt.Errorf("list approved notes: %w", err)
	}
	return notes, nil
}

// ListByRecordsAndProvider returns a provider's own notes on a set of
// participation records.
func (r *NoteRepository) ListByRecordsAndProvider(ctx context.Context, recordIDs []string, providerID string) ([]models.BehavioralNote, error) {
	if len(recordIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM behavioral_notes WHERE participation_record_id = ANY($1) AND provider_id = $2 ORDER BY created_at DESC`, noteColumns)
	var notes []models.BehavioralNote
	if err := r.db.SelectContext(ctx, &notes, query, pq.Array(recordIDs), providerID); err != nil {
		return nil, fmt.Errorf("list notes by records: %w", err)
	}
	return notes, nil
}

// AnonymizeByChild rewrites every note for the child to the redaction
// placeholder with status rejected and no reason. The predicate skips rows
// already redacted, so repeated erasure signals are no-ops.
func (r *NoteRepository) AnonymizeByChild(ctx context.Context, childID string) (int64, error) {
	query := `UPDATE behavioral_notes
SET content = $1, status = $2, rejection_reason = NULL, reviewed_at = NULL,
    version = version + 1, updated_at = $3
WHERE child_id = $4
  AND (content <> $1 OR status <> $2 OR rejection_reason IS NOT NULL)`
	res, err := r.db.ExecContext(ctx, query, models.RedactedNoteContent, models.NoteStatusRejected, time.Now().UTC(), childID)
	if err != nil {
		return 0, fmt.Errorf("anonymize notes: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("anonymize notes: %w", err)
	}
	return affected, nil
}
