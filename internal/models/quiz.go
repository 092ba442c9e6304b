package models

import (
	"time"

	"github.com/google/uuid"
)

// QuizType is the answer format of a live quiz question.
type QuizType string

const (
	QuizMCQ         QuizType = "MCQ"
	QuizTrueFalse   QuizType = "TRUE_FALSE"
	QuizShortAnswer QuizType = "SHORT_ANSWER"
)

// Valid reports whether t is a known quiz type.
func (t QuizType) Valid() bool {
	return t == QuizMCQ || t == QuizTrueFalse || t == QuizShortAnswer
}

// QuizStatus is the quiz lifecycle state: PENDING -> ACTIVE -> COMPLETED.
type QuizStatus string

const (
	QuizPending   QuizStatus = "PENDING"
	QuizActive    QuizStatus = "ACTIVE"
	QuizCompleted QuizStatus = "COMPLETED"
)

// Quiz is one timed question instance scoped to a meeting.
type Quiz struct {
	ID               uuid.UUID  `json:"id"`
	MeetingID        uuid.UUID  `json:"meeting_id"`
	Question         string     `json:"question"`
	Type             QuizType   `json:"type"`
	Options          []string   `json:"options,omitempty"`
	CorrectAnswer    string     `json:"-"`
	TimeLimitSeconds int        `json:"time_limit_seconds"`
	Status           QuizStatus `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndedAt          *time.Time `json:"ended_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// Deadline is startedAt plus the time limit. Zero if the quiz never started.
func (q *Quiz) Deadline() time.Time {
	if q.StartedAt == nil {
		return time.Time{}
	}
	return q.StartedAt.Add(time.Duration(q.TimeLimitSeconds) * time.Second)
}

// Remaining returns timeLimitSeconds - (now - startedAt), floored at zero.
func (q *Quiz) Remaining(now time.Time) time.Duration {
	if q.StartedAt == nil || q.Status != QuizActive {
		return 0
	}
	left := q.Deadline().Sub(now)
	if left < 0 {
		return 0
	}
	return left
}

// QuizResponse is one participant's single answer to a quiz. Never mutated once stored.
type QuizResponse struct {
	ID             uuid.UUID `json:"id"`
	QuizID         uuid.UUID `json:"quiz_id"`
	ParticipantID  uuid.UUID `json:"participant_id"`
	DisplayName    string    `json:"display_name"`
	Answer         string    `json:"answer"`
	IsCorrect      bool      `json:"is_correct"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// LeaderboardEntry is one participant's aggregate across a meeting's quizzes.
type LeaderboardEntry struct {
	ParticipantID         uuid.UUID `json:"participant_id"`
	DisplayName           string    `json:"display_name"`
	CorrectCount          int       `json:"correct_count"`
	TotalAnswered         int       `json:"total_answered"`
	Accuracy              float64   `json:"accuracy"`
	AverageResponseTimeMs float64   `json:"average_response_time_ms"`
}
