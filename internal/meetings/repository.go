package meetings

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

const meetingColumns = `id, title, description, scheduled_at, status, is_locked, require_approval, room_name, join_code,
	tutor_id, started_at, ended_at, created_at`

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	err := row.Scan(&m.ID, &m.Title, &m.Description, &m.ScheduledAt, &m.Status, &m.IsLocked, &m.RequireApproval,
		&m.RoomName, &m.JoinCode, &m.TutorID, &m.StartedAt, &m.EndedAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// Repository handles meeting persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a meetings repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateMeeting inserts a new meeting.
func (r *Repository) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	const q = `INSERT INTO meetings (id, title, description, scheduled_at, status, is_locked, require_approval, room_name, join_code, tutor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`
	err := r.pool.QueryRow(ctx, q, m.ID, m.Title, m.Description, m.ScheduledAt, m.Status, m.IsLocked, m.RequireApproval,
		m.RoomName, m.JoinCode, m.TutorID).Scan(&m.CreatedAt)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("", "room name or join code already in use")
	}
	if err != nil {
		return fmt.Errorf("insert meeting: %w", err)
	}
	return nil
}

// GetMeeting returns a meeting by ID.
func (r *Repository) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("meeting")
	}
	return m, err
}

// GetMeetingByJoinCode returns a meeting by its join code.
func (r *Repository) GetMeetingByJoinCode(ctx context.Context, code string) (*models.Meeting, error) {
	m, err := scanMeeting(r.pool.QueryRow(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE join_code = $1`, code))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("meeting")
	}
	return m, err
}

// MeetingStatus returns the meeting's status.
func (r *Repository) MeetingStatus(ctx context.Context, id uuid.UUID) (models.MeetingStatus, error) {
	var status models.MeetingStatus
	err := r.pool.QueryRow(ctx, `SELECT status FROM meetings WHERE id = $1`, id).Scan(&status)
	if database.IsNoRows(err) {
		return "", apperr.NotFound("meeting")
	}
	return status, err
}

// UpdateMeetingStatus moves the meeting from one status to another. The first LIVE sets started_at, ENDED sets ended_at.
func (r *Repository) UpdateMeetingStatus(ctx context.Context, id uuid.UUID, from, to models.MeetingStatus, at time.Time) (*models.Meeting, error) {
	query := `UPDATE meetings SET status = $3,
			started_at = CASE WHEN $3::text = 'LIVE' THEN COALESCE(started_at, $4::timestamptz) ELSE started_at END,
			ended_at = CASE WHEN $3::text = 'ENDED' THEN COALESCE(ended_at, $4::timestamptz) ELSE ended_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, query, id, string(from), string(to), at))
	if database.IsNoRows(err) {
		if _, gerr := r.GetMeeting(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, apperr.Conflict("", "meeting status changed concurrently")
	}
	return m, err
}

// SetMeetingLocked sets the lock flag.
func (r *Repository) SetMeetingLocked(ctx context.Context, id uuid.UUID, locked bool) (*models.Meeting, error) {
	query := `UPDATE meetings SET is_locked = $2 WHERE id = $1 RETURNING ` + meetingColumns
	m, err := scanMeeting(r.pool.QueryRow(ctx, query, id, locked))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("meeting")
	}
	return m, err
}

// ListMeetingsByTutor returns the tutor's meetings, newest first.
func (r *Repository) ListMeetingsByTutor(ctx context.Context, tutorID uuid.UUID) ([]models.Meeting, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+meetingColumns+` FROM meetings WHERE tutor_id = $1 ORDER BY created_at DESC`, tutorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *m)
	}
	return list, rows.Err()
}
