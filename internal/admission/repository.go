package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/meetings"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/database"
)

const joinColumns = `id, meeting_id, student_id, student_name, status, requested_at, responded_at`

const lockColumns = `id, meeting_id, student_id, student_name, reason, status, tutor_response, requested_at, responded_at`

func scanJoin(row pgx.Row) (*models.JoinRequest, error) {
	var r models.JoinRequest
	if err := row.Scan(&r.ID, &r.MeetingID, &r.StudentID, &r.StudentName, &r.Status, &r.RequestedAt, &r.RespondedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanLock(row pgx.Row) (*models.LockRequest, error) {
	var r models.LockRequest
	if err := row.Scan(&r.ID, &r.MeetingID, &r.StudentID, &r.StudentName, &r.Reason, &r.Status, &r.TutorResponse,
		&r.RequestedAt, &r.RespondedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Repository handles join and lock request persistence.
type Repository struct {
	*meetings.Repository
	pool *pgxpool.Pool
}

// NewRepository creates an admission repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Repository: meetings.NewRepository(pool), pool: pool}
}

// FindPendingJoinRequest returns the PENDING join request for the pair, or nil.
func (r *Repository) FindPendingJoinRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, error) {
	query := `SELECT ` + joinColumns + ` FROM join_requests
		WHERE meeting_id = $1 AND student_id = $2 AND status = 'PENDING'`
	req, err := scanJoin(r.pool.QueryRow(ctx, query, meetingID, studentID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	return req, err
}

// LatestJoinRequest returns the most recent join request for the pair, or nil.
func (r *Repository) LatestJoinRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, error) {
	query := `SELECT ` + joinColumns + ` FROM join_requests
		WHERE meeting_id = $1 AND student_id = $2 ORDER BY requested_at DESC LIMIT 1`
	req, err := scanJoin(r.pool.QueryRow(ctx, query, meetingID, studentID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	return req, err
}

// CreateJoinRequest inserts a PENDING join request.
func (r *Repository) CreateJoinRequest(ctx context.Context, req *models.JoinRequest) error {
	const query = `INSERT INTO join_requests (id, meeting_id, student_id, student_name, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, req.ID, req.MeetingID, req.StudentID, req.StudentName, req.Status, req.RequestedAt)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("", "pending join request exists")
	}
	if err != nil {
		return fmt.Errorf("insert join request: %w", err)
	}
	return nil
}

// GetJoinRequest returns a join request by ID.
func (r *Repository) GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error) {
	req, err := scanJoin(r.pool.QueryRow(ctx, `SELECT `+joinColumns+` FROM join_requests WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("join request")
	}
	return req, err
}

// ResolveJoinRequest sets the decision on a PENDING join request.
func (r *Repository) ResolveJoinRequest(ctx context.Context, id uuid.UUID, status models.RequestStatus, at time.Time) (*models.JoinRequest, error) {
	query := `UPDATE join_requests SET status = $2, responded_at = $3
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + joinColumns
	req, err := scanJoin(r.pool.QueryRow(ctx, query, id, status, at))
	if database.IsNoRows(err) {
		if _, gerr := r.GetJoinRequest(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, apperr.Conflict(apperr.ReasonAlreadyResolved, "join request already resolved")
	}
	return req, err
}

// ListJoinRequests lists a meeting's join requests, optionally filtered by status, oldest first.
func (r *Repository) ListJoinRequests(ctx context.Context, meetingID uuid.UUID, status models.RequestStatus) ([]models.JoinRequest, error) {
	query := `SELECT ` + joinColumns + ` FROM join_requests
		WHERE meeting_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY requested_at`
	rows, err := r.pool.Query(ctx, query, meetingID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.JoinRequest
	for rows.Next() {
		req, err := scanJoin(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *req)
	}
	return list, rows.Err()
}

// FindPendingLockRequest returns the PENDING lock request for the pair, or nil.
func (r *Repository) FindPendingLockRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.LockRequest, error) {
	query := `SELECT ` + lockColumns + ` FROM lock_requests
		WHERE meeting_id = $1 AND student_id = $2 AND status = 'PENDING'`
	req, err := scanLock(r.pool.QueryRow(ctx, query, meetingID, studentID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	return req, err
}

// LatestLockRequest returns the most recent lock request for the pair, or nil.
func (r *Repository) LatestLockRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.LockRequest, error) {
	query := `SELECT ` + lockColumns + ` FROM lock_requests
		WHERE meeting_id = $1 AND student_id = $2 ORDER BY requested_at DESC LIMIT 1`
	req, err := scanLock(r.pool.QueryRow(ctx, query, meetingID, studentID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	return req, err
}

// CreateLockRequest inserts a PENDING lock request.
func (r *Repository) CreateLockRequest(ctx context.Context, req *models.LockRequest) error {
	const query = `INSERT INTO lock_requests (id, meeting_id, student_id, student_name, reason, status, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.pool.Exec(ctx, query, req.ID, req.MeetingID, req.StudentID, req.StudentName, req.Reason, req.Status, req.RequestedAt)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict("", "pending lock request exists")
	}
	if err != nil {
		return fmt.Errorf("insert lock request: %w", err)
	}
	return nil
}

// GetLockRequest returns a lock request by ID.
func (r *Repository) GetLockRequest(ctx context.Context, id uuid.UUID) (*models.LockRequest, error) {
	req, err := scanLock(r.pool.QueryRow(ctx, `SELECT `+lockColumns+` FROM lock_requests WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("lock request")
	}
	return req, err
}

// ResolveLockRequest sets the decision on a PENDING lock request.
func (r *Repository) ResolveLockRequest(ctx context.Context, id uuid.UUID, status models.RequestStatus, tutorResponse string, at time.Time) (*models.LockRequest, error) {
	query := `UPDATE lock_requests SET status = $2, tutor_response = $3, responded_at = $4
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + lockColumns
	req, err := scanLock(r.pool.QueryRow(ctx, query, id, status, tutorResponse, at))
	if database.IsNoRows(err) {
		if _, gerr := r.GetLockRequest(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, apperr.Conflict(apperr.ReasonAlreadyResolved, "lock request already resolved")
	}
	return req, err
}

// ListLockRequests lists a meeting's lock requests, optionally filtered by status, oldest first.
func (r *Repository) ListLockRequests(ctx context.Context, meetingID uuid.UUID, status models.RequestStatus) ([]models.LockRequest, error) {
	query := `SELECT ` + lockColumns + ` FROM lock_requests
		WHERE meeting_id = $1 AND ($2::text = '' OR status = $2::text)
		ORDER BY requested_at`
	rows, err := r.pool.Query(ctx, query, meetingID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.LockRequest
	for rows.Next() {
		req, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *req)
	}
	return list, rows.Err()
}
