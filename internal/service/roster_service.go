package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightkids/participation-api/internal/models"
	appErrors "github.com/brightkids/participation-api/pkg/errors"
	"github.com/brightkids/participation-api/pkg/export"
)

// ChildNameResolver resolves a child id into a display name. It is owned
// by the identity context; this core only consumes it.
type ChildNameResolver interface {
	DisplayName(ctx context.Context, childID string) (string, error)
}

type rosterSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.ProgramSession, error)
}

type rosterRecordLister interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.ParticipationRecord, error)
}

// Roster export formats.
const (
	FormatCSV = "csv"
	FormatPDF = "pdf"
)

// RosterService composes a session, its participation records and resolved
// child names into a single read model. It never mutates state.
type RosterService struct {
	sessions rosterSessionReader
	records  rosterRecordLister
	resolver ChildNameResolver
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	logger   *zap.Logger
}

// NewRosterService constructs the service.
func NewRosterService(sessions rosterSessionReader, records rosterRecordLister, resolver ChildNameResolver, logger *zap.Logger) *RosterService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RosterService{
		sessions: sessions,
		records:  records,
		resolver: resolver,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		logger:   logger,
	}
}

// BuildRoster assembles the roster for one session. A missing session is
// NOT_FOUND; an unresolved child name degrades to a placeholder instead of
// failing the whole roster — the one deliberate silent failure in this core.
func (s *RosterService) BuildRoster(ctx context.Context, sessionID string) (*models.Roster, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	records, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records")
	}
	entries := make([]models.RosterEntry, len(records))
	for i, record := range records {
		entries[i] = models.RosterEntry{Record: record, ChildName: s.resolveName(ctx, record.ChildID)}
	}
	return &models.Roster{Session: *session, Entries: entries}, nil
}

func (s *RosterService) resolveName(ctx context.Context, childID string) string {
	if s.resolver == nil {
		return models.UnresolvedChildName
	}
	name, err := s.resolver.DisplayName(ctx, childID)
	if err != nil || strings.TrimSpace(name) == "" {
		s.logger.Sugar().Warnw("child name unresolved", "child_id", childID, "error", err)
		return models.UnresolvedChildName
	}
	return name
}

// ExportRoster renders the roster as a CSV or PDF sign-in sheet. Returns
// the document bytes and a suggested filename.
func (s *RosterService) ExportRoster(ctx context.Context, sessionID, format string) ([]byte, string, error) {
	roster, err := s.BuildRoster(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	dataset := rosterDataset(roster)
	date := roster.Session.SessionDate.Format("2006-01-02")
	switch strings.ToLower(format) {
	case FormatPDF:
		title := fmt.Sprintf("Roster %s %s", roster.Session.ProgramID, date)
		body, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
		}
		return body, fmt.Sprintf("roster-%s.pdf", date), nil
	case FormatCSV, "":
		body, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render roster")
		}
		return body, fmt.Sprintf("roster-%s.csv", date), nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}

func rosterDataset(roster *models.Roster) export.Dataset {
	headers := []string{"Child", "Status", "Checked In", "Checked Out"}
	rows := make([]map[string]string, len(roster.Entries))
	for i, entry := range roster.Entries {
		rows[i] = map[string]string{
			"Child":       entry.ChildName,
			"Status":      string(entry.Record.Status),
			"Checked In":  formatStamp(entry.Record.CheckInAt),
			"Checked Out": formatStamp(entry.Record.CheckOutAt),
		}
	}
	return export.Dataset{Headers: headers, Rows: rows}
}

func formatStamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("15:04")
}
