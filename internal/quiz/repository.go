package quiz

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

const quizColumns = `id, meeting_id, question, type, options, correct_answer, time_limit_seconds, status, started_at, ended_at, created_at`

const responseColumns = `r.id, r.quiz_id, r.participant_id, r.display_name, r.answer, r.is_correct, r.response_time_ms, r.submitted_at`

func scanQuiz(row pgx.Row) (*models.Quiz, error) {
	var q models.Quiz
	err := row.Scan(&q.ID, &q.MeetingID, &q.Question, &q.Type, &q.Options, &q.CorrectAnswer, &q.TimeLimitSeconds,
		&q.Status, &q.StartedAt, &q.EndedAt, &q.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

func collectQuizzes(rows pgx.Rows) ([]models.Quiz, error) {
	defer rows.Close()
	var list []models.Quiz
	for rows.Next() {
		q, err := scanQuiz(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *q)
	}
	return list, rows.Err()
}

func collectResponses(rows pgx.Rows) ([]models.QuizResponse, error) {
	defer rows.Close()
	var list []models.QuizResponse
	for rows.Next() {
		var r models.QuizResponse
		if err := rows.Scan(&r.ID, &r.QuizID, &r.ParticipantID, &r.DisplayName, &r.Answer, &r.IsCorrect,
			&r.ResponseTimeMs, &r.SubmittedAt); err != nil {
			return nil, err
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// Repository handles quiz and response persistence.
type Repository struct {
	*meetings.Repository
	pool *pgxpool.Pool
}

// NewRepository creates a quiz repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Repository: meetings.NewRepository(pool), pool: pool}
}

// ReplaceActiveQuiz completes the current ACTIVE quiz and inserts q in one transaction.
// The meeting row lock serializes concurrent senders across server instances.
func (r *Repository) ReplaceActiveQuiz(ctx context.Context, q *models.Quiz, at time.Time) (*models.Quiz, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	if err := tx.QueryRow(ctx, `SELECT id FROM meetings WHERE id = $1 FOR UPDATE`, q.MeetingID).Scan(&locked); err != nil {
		if database.IsNoRows(err) {
			return nil, apperr.NotFound("meeting")
		}
		return nil, err
	}

	completed, err := scanQuiz(tx.QueryRow(ctx, `UPDATE quizzes SET status = 'COMPLETED', ended_at = $2
		WHERE meeting_id = $1 AND status = 'ACTIVE'
		RETURNING `+quizColumns, q.MeetingID, at))
	if database.IsNoRows(err) {
		completed = nil
	} else if err != nil {
		return nil, fmt.Errorf("complete active quiz: %w", err)
	}

	const insert = `INSERT INTO quizzes (id, meeting_id, question, type, options, correct_answer, time_limit_seconds, status, started_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	options := q.Options
	if options == nil {
		options = []string{}
	}
	if _, err := tx.Exec(ctx, insert, q.ID, q.MeetingID, q.Question, q.Type, options, q.CorrectAnswer,
		q.TimeLimitSeconds, q.Status, q.StartedAt, q.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return completed, nil
}

// GetQuiz returns a quiz by ID.
func (r *Repository) GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error) {
	q, err := scanQuiz(r.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE id = $1`, id))
	if database.IsNoRows(err) {
		return nil, apperr.NotFound("quiz")
	}
	return q, err
}

// ActiveQuiz returns the meeting's ACTIVE quiz, or nil.
func (r *Repository) ActiveQuiz(ctx context.Context, meetingID uuid.UUID) (*models.Quiz, error) {
	q, err := scanQuiz(r.pool.QueryRow(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE meeting_id = $1 AND status = 'ACTIVE'`, meetingID))
	if database.IsNoRows(err) {
		return nil, nil
	}
	return q, err
}

// CompleteQuiz completes the quiz if it is ACTIVE.
func (r *Repository) CompleteQuiz(ctx context.Context, id uuid.UUID, at time.Time) (*models.Quiz, bool, error) {
	q, err := scanQuiz(r.pool.QueryRow(ctx, `UPDATE quizzes SET status = 'COMPLETED', ended_at = $2
		WHERE id = $1 AND status = 'ACTIVE'
		RETURNING `+quizColumns, id, at))
	if database.IsNoRows(err) {
		q, err = r.GetQuiz(ctx, id)
		return q, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return q, true, nil
}

// CompleteActiveQuiz completes the meeting's ACTIVE quiz, if any.
func (r *Repository) CompleteActiveQuiz(ctx context.Context, meetingID uuid.UUID, at time.Time) (*models.Quiz, error) {
	q, err := scanQuiz(r.pool.QueryRow(ctx, `UPDATE quizzes SET status = 'COMPLETED', ended_at = $2
		WHERE meeting_id = $1 AND status = 'ACTIVE'
		RETURNING `+quizColumns, meetingID, at))
	if database.IsNoRows(err) {
		return nil, nil
	}
	return q, err
}

// ListQuizzes returns the meeting's quizzes, newest first.
func (r *Repository) ListQuizzes(ctx context.Context, meetingID uuid.UUID) ([]models.Quiz, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes WHERE meeting_id = $1 ORDER BY created_at DESC`, meetingID)
	if err != nil {
		return nil, err
	}
	return collectQuizzes(rows)
}

// ListExpiredQuizzes returns ACTIVE quizzes whose time limit has elapsed at now.
func (r *Repository) ListExpiredQuizzes(ctx context.Context, now time.Time) ([]models.Quiz, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+quizColumns+` FROM quizzes
		WHERE status = 'ACTIVE' AND started_at + make_interval(secs => time_limit_seconds) <= $1`, now)
	if err != nil {
		return nil, err
	}
	return collectQuizzes(rows)
}

// CreateQuizResponse inserts a response if the quiz is still ACTIVE.
func (r *Repository) CreateQuizResponse(ctx context.Context, resp *models.QuizResponse) error {
	const q = `INSERT INTO quiz_responses (id, quiz_id, participant_id, display_name, answer, is_correct, response_time_ms, submitted_at)
		SELECT $1::uuid, $2::uuid, $3::uuid, $4::text, $5::text, $6::boolean, $7::bigint, $8::timestamptz
		WHERE EXISTS (SELECT 1 FROM quizzes WHERE id = $2::uuid AND status = 'ACTIVE')`
	tag, err := r.pool.Exec(ctx, q, resp.ID, resp.QuizID, resp.ParticipantID, resp.DisplayName, resp.Answer,
		resp.IsCorrect, resp.ResponseTimeMs, resp.SubmittedAt)
	if database.IsUniqueViolation(err) {
		return apperr.Conflict(apperr.ReasonAlreadyAnswered, "already answered this quiz")
	}
	if err != nil {
		return fmt.Errorf("insert quiz response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState(apperr.ReasonQuizNotActive, "quiz is not active")
	}
	return nil
}

// CountQuizResponses returns the number of responses to a quiz.
func (r *Repository) CountQuizResponses(ctx context.Context, quizID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM quiz_responses WHERE quiz_id = $1`, quizID).Scan(&n)
	return n, err
}

// ListQuizResponses returns a quiz's responses in submission order.
func (r *Repository) ListQuizResponses(ctx context.Context, quizID uuid.UUID) ([]models.QuizResponse, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+responseColumns+` FROM quiz_responses r
		WHERE r.quiz_id = $1 ORDER BY r.submitted_at`, quizID)
	if err != nil {
		return nil, err
	}
	return collectResponses(rows)
}

// ListMeetingResponses returns every response to every quiz of the meeting in submission order.
func (r *Repository) ListMeetingResponses(ctx context.Context, meetingID uuid.UUID) ([]models.QuizResponse, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+responseColumns+` FROM quiz_responses r
		JOIN quizzes q ON q.id = r.quiz_id
		WHERE q.meeting_id = $1 ORDER BY r.submitted_at`, meetingID)
	if err != nil {
		return nil, err
	}
	return collectResponses(rows)
}
