// Package quiz runs the timed live-quiz protocol: one active question per meeting, one answer per participant.
package quiz

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/keylock"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/pkg/metrics"
)

// DefaultTimeLimit applies when a question is sent without a time limit.
const DefaultTimeLimit = 30

// Store persists quizzes and responses.
type Store interface {
	MeetingStatus(ctx context.Context, meetingID uuid.UUID) (models.MeetingStatus, error)
	// ReplaceActiveQuiz completes the meeting's ACTIVE quiz (if any) at `at` and inserts q as ACTIVE in one step.
	ReplaceActiveQuiz(ctx context.Context, q *models.Quiz, at time.Time) (completed *models.Quiz, err error)
	GetQuiz(ctx context.Context, id uuid.UUID) (*models.Quiz, error)
	// ActiveQuiz returns the meeting's ACTIVE quiz, or nil.
	ActiveQuiz(ctx context.Context, meetingID uuid.UUID) (*models.Quiz, error)
	// CompleteQuiz completes the quiz if ACTIVE. changed is false when it was already completed.
	CompleteQuiz(ctx context.Context, id uuid.UUID, at time.Time) (q *models.Quiz, changed bool, err error)
	// CompleteActiveQuiz completes the meeting's ACTIVE quiz and returns it, or nil if there was none.
	CompleteActiveQuiz(ctx context.Context, meetingID uuid.UUID, at time.Time) (*models.Quiz, error)
	ListQuizzes(ctx context.Context, meetingID uuid.UUID) ([]models.Quiz, error)
	ListExpiredQuizzes(ctx context.Context, now time.Time) ([]models.Quiz, error)

	// CreateQuizResponse stores a response while the quiz is ACTIVE. A second response from the
	// same participant fails with apperr.ErrAlreadyAnswered.
	CreateQuizResponse(ctx context.Context, r *models.QuizResponse) error
	CountQuizResponses(ctx context.Context, quizID uuid.UUID) (int, error)
	ListQuizResponses(ctx context.Context, quizID uuid.UUID) ([]models.QuizResponse, error)
	ListMeetingResponses(ctx context.Context, meetingID uuid.UUID) ([]models.QuizResponse, error)
}

// Orchestrator is the Quiz Orchestrator.
type Orchestrator struct {
	store    Store
	notifier realtime.Notifier
	locks    *keylock.Locker
	now      func() time.Time
	logger   *zap.Logger
}

// NewOrchestrator creates a quiz orchestrator.
func NewOrchestrator(store Store, notifier realtime.Notifier, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: store, notifier: notifier, locks: keylock.New(), now: time.Now, logger: logger}
}

// Question is a tutor's new question.
type Question struct {
	Question         string          `json:"question"`
	Type             models.QuizType `json:"type"`
	Options          []string        `json:"options,omitempty"`
	CorrectAnswer    string          `json:"correct_answer"`
	TimeLimitSeconds int             `json:"time_limit_seconds"`
}

func (q *Question) validate() error {
	q.Question = strings.TrimSpace(q.Question)
	if q.Question == "" {
		return apperr.Invalid("question is required")
	}
	if !q.Type.Valid() {
		return apperr.Invalid("unknown quiz type " + strconv.Quote(string(q.Type)))
	}
	if strings.TrimSpace(q.CorrectAnswer) == "" {
		return apperr.Invalid("correct answer is required")
	}
	if q.TimeLimitSeconds < 0 {
		return apperr.Invalid("time limit must be positive")
	}
	if q.TimeLimitSeconds == 0 {
		q.TimeLimitSeconds = DefaultTimeLimit
	}
	switch q.Type {
	case models.QuizMCQ:
		if len(q.Options) < 2 {
			return apperr.Invalid("multiple choice needs at least two options")
		}
		found := false
		for _, o := range q.Options {
			if normalize(o) == normalize(q.CorrectAnswer) {
				found = true
				break
			}
		}
		if !found {
			return apperr.Invalid("correct answer must be one of the options")
		}
	case models.QuizTrueFalse:
		if c := normalize(q.CorrectAnswer); c != "true" && c != "false" {
			return apperr.Invalid("true/false answer must be true or false")
		}
		q.Options = []string{"True", "False"}
	default:
		q.Options = nil
	}
	return nil
}

// SendQuestion makes a new question the meeting's only ACTIVE quiz and broadcasts it.
func (o *Orchestrator) SendQuestion(ctx context.Context, meetingID uuid.UUID, caller models.Identity, in Question) (*models.Quiz, error) {
	if caller.Role != models.RoleTutor {
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "only tutors send questions")
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(meetingID)
	defer unlock()

	status, err := o.store.MeetingStatus(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if status == models.MeetingEnded {
		return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}

	now := o.now().UTC()
	q := &models.Quiz{
		ID:               uuid.New(),
		MeetingID:        meetingID,
		Question:         in.Question,
		Type:             in.Type,
		Options:          in.Options,
		CorrectAnswer:    strings.TrimSpace(in.CorrectAnswer),
		TimeLimitSeconds: in.TimeLimitSeconds,
		Status:           models.QuizActive,
		StartedAt:        &now,
		CreatedAt:        now,
	}
	completed, err := o.store.ReplaceActiveQuiz(ctx, q, now)
	if err != nil {
		return nil, err
	}
	metrics.QuizzesStarted.Inc()

	if completed != nil {
		o.logger.Info("quiz pre-empted", zap.String("quiz_id", completed.ID.String()), zap.String("by", q.ID.String()))
		o.notifier.Broadcast(meetingID, realtime.QuizEnded{QuizID: completed.ID, EndedAt: *completed.EndedAt})
	}
	o.notifier.Broadcast(meetingID, QuestionMessage(q))
	o.logger.Info("quiz started",
		zap.String("quiz_id", q.ID.String()),
		zap.String("meeting_id", meetingID.String()),
		zap.String("type", string(q.Type)),
		zap.Int("time_limit_seconds", q.TimeLimitSeconds))
	return q, nil
}

// QuestionMessage is the broadcast form of a quiz. It never carries the correct answer.
func QuestionMessage(q *models.Quiz) realtime.QuizQuestion {
	msg := realtime.QuizQuestion{
		QuizID:           q.ID,
		MeetingID:        q.MeetingID,
		Question:         q.Question,
		Type:             q.Type,
		Options:          q.Options,
		TimeLimitSeconds: q.TimeLimitSeconds,
	}
	if q.StartedAt != nil {
		msg.StartedAt = *q.StartedAt
	}
	return msg
}

// Submission is a student's answer.
type Submission struct {
	QuizID         uuid.UUID `json:"quiz_id"`
	Answer         string    `json:"answer"`
	ResponseTimeMs int64     `json:"response_time_ms"`
}

// SubmitAnswer records the caller's single answer to an ACTIVE quiz.
func (o *Orchestrator) SubmitAnswer(ctx context.Context, caller models.Identity, in Submission) (*models.QuizResponse, int, error) {
	if caller.Role != models.RoleStudent {
		return nil, 0, apperr.Forbidden(apperr.ReasonWrongRole, "only students answer")
	}
	if in.ResponseTimeMs < 0 {
		return nil, 0, apperr.Invalid("response time must not be negative")
	}
	q, err := o.store.GetQuiz(ctx, in.QuizID)
	if err != nil {
		return nil, 0, err
	}
	if q.Status != models.QuizActive {
		return nil, 0, apperr.InvalidState(apperr.ReasonQuizNotActive, "quiz is not active")
	}

	now := o.now().UTC()
	elapsed := in.ResponseTimeMs
	if elapsed == 0 && q.StartedAt != nil {
		elapsed = now.Sub(*q.StartedAt).Milliseconds()
	}
	r := &models.QuizResponse{
		ID:             uuid.New(),
		QuizID:         q.ID,
		ParticipantID:  caller.UserID,
		DisplayName:    caller.DisplayName,
		Answer:         strings.TrimSpace(in.Answer),
		IsCorrect:      IsCorrect(q.Type, in.Answer, q.CorrectAnswer),
		ResponseTimeMs: elapsed,
		SubmittedAt:    now,
	}
	if err := o.store.CreateQuizResponse(ctx, r); err != nil {
		return nil, 0, err
	}
	metrics.QuizAnswers.WithLabelValues(strconv.FormatBool(r.IsCorrect)).Inc()

	count, err := o.store.CountQuizResponses(ctx, q.ID)
	if err != nil {
		o.logger.Warn("count quiz responses", zap.String("quiz_id", q.ID.String()), zap.Error(err))
	}
	o.notifier.NotifyParticipant(q.MeetingID, caller.UserID, realtime.AnswerSubmitted{
		ResponseID:    r.ID,
		QuizID:        q.ID,
		SubmittedAt:   r.SubmittedAt,
		ResponseCount: count,
	})
	o.notifier.NotifyPrivileged(q.MeetingID, realtime.AnswerCount{
		QuizID:        q.ID,
		ParticipantID: caller.UserID,
		DisplayName:   caller.DisplayName,
		ResponseCount: count,
	})
	return r, count, nil
}

// EndQuiz completes a quiz. Ending an already completed quiz returns it unchanged.
func (o *Orchestrator) EndQuiz(ctx context.Context, quizID uuid.UUID, caller models.Identity) (*models.Quiz, error) {
	if caller.Role != models.RoleTutor {
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "only tutors end quizzes")
	}
	q, err := o.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	unlock := o.locks.Lock(q.MeetingID)
	defer unlock()

	q, changed, err := o.store.CompleteQuiz(ctx, quizID, o.now().UTC())
	if err != nil {
		return nil, err
	}
	if changed {
		by := caller.UserID
		o.notifier.Broadcast(q.MeetingID, realtime.QuizEnded{QuizID: q.ID, EndedBy: &by, EndedAt: *q.EndedAt})
		o.logger.Info("quiz ended", zap.String("quiz_id", q.ID.String()))
	}
	return q, nil
}

// EndForMeeting force-completes the meeting's ACTIVE quiz, if any.
func (o *Orchestrator) EndForMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Quiz, error) {
	unlock := o.locks.Lock(meetingID)
	defer unlock()

	q, err := o.store.CompleteActiveQuiz(ctx, meetingID, o.now().UTC())
	if err != nil || q == nil {
		return q, err
	}
	o.notifier.Broadcast(meetingID, realtime.QuizEnded{QuizID: q.ID, EndedAt: *q.EndedAt})
	return q, nil
}

// expire completes one quiz whose deadline has passed.
func (o *Orchestrator) expire(ctx context.Context, q models.Quiz) (bool, error) {
	unlock := o.locks.Lock(q.MeetingID)
	defer unlock()

	done, changed, err := o.store.CompleteQuiz(ctx, q.ID, q.Deadline())
	if err != nil || !changed {
		return false, err
	}
	o.notifier.Broadcast(done.MeetingID, realtime.QuizEnded{QuizID: done.ID, EndedAt: *done.EndedAt})
	o.logger.Info("quiz expired", zap.String("quiz_id", done.ID.String()))
	return true, nil
}

// Active returns the meeting's ACTIVE quiz, or nil.
func (o *Orchestrator) Active(ctx context.Context, meetingID uuid.UUID) (*models.Quiz, error) {
	return o.store.ActiveQuiz(ctx, meetingID)
}

// List returns the meeting's quizzes, newest first.
func (o *Orchestrator) List(ctx context.Context, meetingID uuid.UUID) ([]models.Quiz, error) {
	if _, err := o.store.MeetingStatus(ctx, meetingID); err != nil {
		return nil, err
	}
	return o.store.ListQuizzes(ctx, meetingID)
}

// Leaderboard ranks the meeting's participants across all its quizzes.
func (o *Orchestrator) Leaderboard(ctx context.Context, meetingID uuid.UUID) ([]models.LeaderboardEntry, error) {
	if _, err := o.store.MeetingStatus(ctx, meetingID); err != nil {
		return nil, err
	}
	responses, err := o.store.ListMeetingResponses(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return Rank(responses), nil
}

// Results is the tutor's view of one quiz.
type Results struct {
	Quiz          *models.Quiz              `json:"quiz"`
	CorrectAnswer string                    `json:"correct_answer"`
	Summary       Summary                   `json:"summary"`
	Responses     []models.QuizResponse     `json:"responses"`
	Leaderboard   []models.LeaderboardEntry `json:"leaderboard"`
}

// Results returns a quiz with its responses and per-quiz ranking.
func (o *Orchestrator) Results(ctx context.Context, quizID uuid.UUID) (*Results, error) {
	q, err := o.store.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	responses, err := o.store.ListQuizResponses(ctx, quizID)
	if err != nil {
		return nil, err
	}
	if responses == nil {
		responses = []models.QuizResponse{}
	}
	return &Results{
		Quiz:          q,
		CorrectAnswer: q.CorrectAnswer,
		Summary:       Summarize(responses),
		Responses:     responses,
		Leaderboard:   Rank(responses),
	}, nil
}

// Get returns a quiz.
func (o *Orchestrator) Get(ctx context.Context, quizID uuid.UUID) (*models.Quiz, error) {
	return o.store.GetQuiz(ctx, quizID)
}
