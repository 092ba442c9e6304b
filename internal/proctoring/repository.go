package proctoring

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/pkg/database"
)

const alertColumns = `id, session_id, participant_id, meeting_id, alert_type, severity, confidence, description, detected_at`

// Repository handles alert persistence and the session counters alerts update.
type Repository struct {
	*sessions.Repository
	pool *pgxpool.Pool
}

// NewRepository creates a proctoring repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Repository: sessions.NewRepository(pool), pool: pool}
}

// RecordAlert locks the session row, applies build and writes the alert and counters in one transaction.
func (r *Repository) RecordAlert(ctx context.Context, sessionID uuid.UUID, build func(s *models.ParticipantSession) (*models.Alert, error)) (*models.Alert, *models.ParticipantSession, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	s, err := sessions.ScanSession(tx.QueryRow(ctx,
		`SELECT `+sessions.SessionColumns+` FROM participant_sessions WHERE id = $1 FOR UPDATE`, sessionID))
	if database.IsNoRows(err) {
		return nil, nil, apperr.NotFound("session")
	}
	if err != nil {
		return nil, nil, err
	}

	a, err := build(s)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.Exec(ctx, `INSERT INTO alerts (`+alertColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.SessionID, a.ParticipantID, a.MeetingID, a.AlertType, a.Severity, a.Confidence, a.Description, a.DetectedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert alert: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE participant_sessions
		SET flag_count = $2, critical_count = $3, high_count = $4, medium_count = $5, low_count = $6,
			risk_level = $7, risk_score = $8, flagged = $9, alert_breakdown = $10
		WHERE id = $1`,
		s.ID, s.FlagCount, s.CriticalCount, s.HighCount, s.MediumCount, s.LowCount,
		s.RiskLevel, s.RiskScore, s.Flagged, s.AlertBreakdown)
	if err != nil {
		return nil, nil, fmt.Errorf("update session counters: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return a, s, nil
}

// ListAlerts returns alerts matching f, newest first.
func (r *Repository) ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts
		WHERE meeting_id = $1
			AND ($2::uuid IS NULL OR participant_id = $2::uuid)
			AND ($3::uuid IS NULL OR session_id = $3::uuid)
			AND ($4::timestamptz IS NULL OR detected_at >= $4::timestamptz)
		ORDER BY detected_at DESC`
	args := []any{f.MeetingID, f.ParticipantID, f.SessionID, f.Since}
	if f.Limit > 0 {
		query += ` LIMIT $5`
		args = append(args, f.Limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []models.Alert{}
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ParticipantID, &a.MeetingID, &a.AlertType, &a.Severity,
			&a.Confidence, &a.Description, &a.DetectedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}
