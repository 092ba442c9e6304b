package realtime

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/models"
)

// Kind tags a real-time message. Each kind has exactly one payload type.
type Kind string

const (
	KindProctoringAlert    Kind = "PROCTORING_ALERT"
	KindJoinRequested      Kind = "JOIN_REQUESTED"
	KindJoinResolved       Kind = "JOIN_RESOLVED"
	KindLockRequested      Kind = "LOCK_REQUESTED"
	KindLockResolved       Kind = "LOCK_RESOLVED"
	KindMeetingLockChanged Kind = "MEETING_LOCK_CHANGED"
	KindMeetingEnded       Kind = "MEETING_ENDED"
	KindQuizQuestion       Kind = "QUIZ_QUESTION"
	KindQuizEnded          Kind = "QUIZ_ENDED"
	KindQuestionSent       Kind = "QUESTION_SENT"
	KindAnswerSubmitted    Kind = "ANSWER_SUBMITTED"
	KindAnswerCount        Kind = "ANSWER_COUNT"
	KindKickNotice         Kind = "KICK_NOTICE"
	KindPresence           Kind = "PRESENCE"
	KindJoinedRoom         Kind = "JOINED_ROOM"
	KindPong               Kind = "PONG"
	KindError              Kind = "ERROR"
)

// eventNames maps kinds to the event names used on the wire.
var eventNames = map[Kind]string{
	KindProctoringAlert:    "proctoring-alert",
	KindJoinRequested:      "join-request",
	KindJoinResolved:       "join-request-resolved",
	KindLockRequested:      "lock-request",
	KindLockResolved:       "lock-request-resolved",
	KindMeetingLockChanged: "meeting-lock-changed",
	KindMeetingEnded:       "meeting-ended",
	KindQuizQuestion:       "question-received",
	KindQuizEnded:          "quiz-ended",
	KindQuestionSent:       "question-sent",
	KindAnswerSubmitted:    "answer-submitted",
	KindAnswerCount:        "new-answer",
	KindKickNotice:         "kick-notice",
	KindPresence:           "presence",
	KindJoinedRoom:         "joined-room",
	KindPong:               "pong",
	KindError:              "error",
}

// Event returns the wire event name for k.
func (k Kind) Event() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return string(k)
}

// Message is a tagged real-time payload.
type Message interface {
	Kind() Kind
}

// ProctoringAlert goes to privileged viewers only.
type ProctoringAlert struct {
	Alert       models.Alert        `json:"alert"`
	Risk        models.RiskSnapshot `json:"risk"`
	DisplayName string              `json:"display_name,omitempty"`
}

// JoinRequested tells tutors a student is waiting for admission.
type JoinRequested struct {
	Request models.JoinRequest `json:"request"`
}

// JoinResolved tells the requesting student the tutor's decision.
type JoinResolved struct {
	RequestID uuid.UUID            `json:"request_id"`
	MeetingID uuid.UUID            `json:"meeting_id"`
	Status    models.RequestStatus `json:"status"`
	SessionID *uuid.UUID           `json:"session_id,omitempty"`
	At        time.Time            `json:"at"`
}

// LockRequested tells tutors a student asked for the meeting to be locked.
type LockRequested struct {
	Request models.LockRequest `json:"request"`
}

// LockResolved tells the requesting student the tutor's decision.
type LockResolved struct {
	RequestID     uuid.UUID            `json:"request_id"`
	MeetingID     uuid.UUID            `json:"meeting_id"`
	Status        models.RequestStatus `json:"status"`
	TutorResponse string               `json:"tutor_response,omitempty"`
	At            time.Time            `json:"at"`
}

// MeetingLockChanged is broadcast when the owner toggles the lock.
type MeetingLockChanged struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	IsLocked  bool      `json:"is_locked"`
}

// MeetingEnded is broadcast once the meeting is closed.
type MeetingEnded struct {
	MeetingID uuid.UUID `json:"meeting_id"`
	EndedAt   time.Time `json:"ended_at"`
}

// QuizQuestion is broadcast when a question goes live. It never carries the correct answer.
type QuizQuestion struct {
	QuizID           uuid.UUID       `json:"quiz_id"`
	MeetingID        uuid.UUID       `json:"meeting_id"`
	Question         string          `json:"question"`
	Type             models.QuizType `json:"type"`
	Options          []string        `json:"options,omitempty"`
	TimeLimitSeconds int             `json:"time_limit_seconds"`
	StartedAt        time.Time       `json:"started_at"`
}

// QuizEnded is broadcast when a quiz completes.
type QuizEnded struct {
	QuizID  uuid.UUID  `json:"quiz_id"`
	EndedBy *uuid.UUID `json:"ended_by,omitempty"`
	EndedAt time.Time  `json:"ended_at"`
}

// QuestionSent acknowledges a question to the sending tutor.
type QuestionSent struct {
	QuizID uuid.UUID `json:"quiz_id"`
}

// AnswerSubmitted acknowledges a response to the submitting student.
type AnswerSubmitted struct {
	ResponseID    uuid.UUID `json:"response_id"`
	QuizID        uuid.UUID `json:"quiz_id"`
	SubmittedAt   time.Time `json:"submitted_at"`
	ResponseCount int       `json:"response_count"`
}

// AnswerCount tells tutors how many responses a quiz has. It never carries answer content.
type AnswerCount struct {
	QuizID        uuid.UUID `json:"quiz_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	DisplayName   string    `json:"display_name,omitempty"`
	ResponseCount int       `json:"response_count"`
}

// KickNotice is sent to the removed participant only.
type KickNotice struct {
	MeetingID     uuid.UUID `json:"meeting_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Reason        string    `json:"reason,omitempty"`
}

// Presence tells tutors someone connected or disconnected.
type Presence struct {
	ParticipantID uuid.UUID   `json:"participant_id"`
	Role          models.Role `json:"role"`
	Connected     bool        `json:"connected"`
}

// JoinedRoom acknowledges join-room to the connection.
type JoinedRoom struct {
	MeetingID     uuid.UUID   `json:"meeting_id"`
	ParticipantID uuid.UUID   `json:"participant_id"`
	Role          models.Role `json:"role"`
	Waiting       bool        `json:"waiting,omitempty"`
}

// Pong answers a ping.
type Pong struct {
	At time.Time `json:"at"`
}

// ErrorMessage is sent only to the originating connection.
type ErrorMessage struct {
	Event   string `json:"event,omitempty"`
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}

func (ProctoringAlert) Kind() Kind    { return KindProctoringAlert }
func (JoinRequested) Kind() Kind      { return KindJoinRequested }
func (JoinResolved) Kind() Kind       { return KindJoinResolved }
func (LockRequested) Kind() Kind      { return KindLockRequested }
func (LockResolved) Kind() Kind       { return KindLockResolved }
func (MeetingLockChanged) Kind() Kind { return KindMeetingLockChanged }
func (MeetingEnded) Kind() Kind       { return KindMeetingEnded }
func (QuizQuestion) Kind() Kind       { return KindQuizQuestion }
func (QuizEnded) Kind() Kind          { return KindQuizEnded }
func (QuestionSent) Kind() Kind       { return KindQuestionSent }
func (AnswerSubmitted) Kind() Kind    { return KindAnswerSubmitted }
func (AnswerCount) Kind() Kind        { return KindAnswerCount }
func (KickNotice) Kind() Kind         { return KindKickNotice }
func (Presence) Kind() Kind           { return KindPresence }
func (JoinedRoom) Kind() Kind         { return KindJoinedRoom }
func (Pong) Kind() Kind               { return KindPong }
func (ErrorMessage) Kind() Kind       { return KindError }

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Kind  Kind            `json:"kind,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a tagged message into its wire envelope.
func Encode(msg Message) (WSMessage, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Event: msg.Kind().Event(), Kind: msg.Kind(), Data: data}, nil
}
