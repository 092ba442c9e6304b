package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/database"
)

// SessionColumns is the select list matched by ScanSession.
const SessionColumns = `id, meeting_id, participant_id, display_name, role, status, joined_at, left_at,
	total_duration, flag_count, critical_count, high_count, medium_count, low_count,
	risk_level, risk_score, flagged, alert_breakdown`

// ScanSession scans one participant_sessions row selected with SessionColumns.
func ScanSession(row pgx.Row) (*models.ParticipantSession, error) {
	var s models.ParticipantSession
	err := row.Scan(&s.ID, &s.MeetingID, &s.ParticipantID, &s.DisplayName, &s.Role, &s.Status, &s.JoinedAt, &s.LeftAt,
		&s.TotalDuration, &s.FlagCount, &s.CriticalCount, &s.HighCount, &s.MediumCount, &s.LowCount,
		&s.RiskLevel, &s.RiskScore, &s.Flagged, &s.AlertBreakdown)
	if err != nil {
		return nil, err
	}
	if s.AlertBreakdown == nil {
		s.AlertBreakdown = map[string]int{}
	}
	return &s, nil
}

// Repository handles participant session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a sessions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MeetingStatus returns the meeting's status.
func (r *Repository) MeetingStatus(ctx context.Context, meetingID uuid.UUID) (models.MeetingStatus, error) {
	var status models.MeetingStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM meetings WHERE id = $1`, meetingID).Scan(&status)
	if database.IsNoRows(err) {
		return "", apperr.NotFound("meeting")
	}
	return status, err
}

// FindActiveSession returns the ACTIVE session for the pair, or nil.
func (r *Repository) FindActiveSession(ctx context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error) {
	query := `SELECT ` + SessionColumns + ` FROM participant_sessions
		WHERE meeting_id = $1 AND participant_id = $2 AND status = 'ACTIVE'`
	s, err := ScanSession(r.pool.QueryRow(ctx, query, meetingID, participantID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	return s, err
}

// CreateSession inserts a new ACTIVE session.
func (r *Repository) CreateSession(ctx context.Context, s *models.ParticipantSession) error {
	const query = `INSERT INTO participant_sessions (id, meeting_id, participant_id, display_name, role, status, joined_at,
		risk_level, risk_score, flagged, alert_breakdown)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.pool.Exec(ctx, query, s.ID, s.MeetingID, s.ParticipantID, s.DisplayName, s.Role, s.Status, s.JoinedAt,
		s.RiskLevel, s.RiskScore, s.Flagged, s.AlertBreakdown)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("", "participant already has an active session")
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.ParticipantSession, error) {
	s, err := ScanSession(r.pool.QueryRow(ctx, `SELECT `+SessionColumns+` FROM participant_sessions WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("session")
	}
	return s, err
}

// CloseActiveSession closes the session if still ACTIVE. Closed sessions are returned unchanged.
func (r *Repository) CloseActiveSession(ctx context.Context, id uuid.UUID, at time.Time, status models.SessionStatus) (*models.ParticipantSession, error) {
	query := `UPDATE participant_sessions
		SET status = $2, left_at = $3,
			total_duration = GREATEST(0, FLOOR(EXTRACT(EPOCH FROM ($3::timestamptz - joined_at))))::BIGINT
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING ` + SessionColumns
	s, err := ScanSession(r.pool.QueryRow(ctx, query, id, status, at))
	if database.IsNoRows(err) {
		return r.GetSession(ctx, id)
	}
	return s, err
}

// ListSessions lists sessions of a meeting, optionally filtered by status, oldest first.
func (r *Repository) ListSessions(ctx context.Context, meetingID uuid.UUID, status models.SessionStatus) ([]models.ParticipantSession, error) {
	query := `SELECT ` + SessionColumns + ` FROM participant_sessions
		WHERE meeting_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, query, meetingID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.ParticipantSession
	for rows.Next() {
		s, err := ScanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}
