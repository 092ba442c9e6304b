// Package gateway connects real-time connections to the meeting, session and quiz services.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/quiz"
	"github.com/aura-classroom/backend/internal/realtime"
)

// Meetings looks up meetings.
type Meetings interface {
	Get(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error)
}

// Sessions looks up presence windows.
type Sessions interface {
	ActiveFor(ctx context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error)
}

// Admission reports a student's latest join and lock requests.
type Admission interface {
	LatestForStudent(ctx context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, *models.LockRequest, error)
}

// Quizzes is the quiz surface reachable from the real-time channel.
type Quizzes interface {
	Get(ctx context.Context, quizID uuid.UUID) (*models.Quiz, error)
	Active(ctx context.Context, meetingID uuid.UUID) (*models.Quiz, error)
	SendQuestion(ctx context.Context, meetingID uuid.UUID, caller models.Identity, in quiz.Question) (*models.Quiz, error)
	SubmitAnswer(ctx context.Context, caller models.Identity, in quiz.Submission) (*models.QuizResponse, int, error)
	EndQuiz(ctx context.Context, quizID uuid.UUID, caller models.Identity) (*models.Quiz, error)
}

// Dispatcher implements realtime.Dispatcher.
type Dispatcher struct {
	meetings  Meetings
	sessions  Sessions
	admission Admission
	quizzes   Quizzes
	notifier  realtime.Notifier
	logger    *zap.Logger
}

var _ realtime.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher.
func NewDispatcher(meetings Meetings, sessions Sessions, admission Admission, quizzes Quizzes, notifier realtime.Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{meetings: meetings, sessions: sessions, admission: admission, quizzes: quizzes, notifier: notifier, logger: logger}
}

// Authorize admits the owning tutor and students holding an ACTIVE session to a meeting that has not ended.
// A student with an undecided join or lock request gets a waiting connection so the decision can reach them.
func (d *Dispatcher) Authorize(ctx context.Context, meetingID uuid.UUID, id models.Identity) (realtime.Access, error) {
	m, err := d.meetings.Get(ctx, meetingID)
	if err != nil {
		return realtime.AccessNone, err
	}
	if m.Status == models.MeetingEnded {
		return realtime.AccessNone, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}
	switch id.Role {
	case models.RoleTutor:
		if !m.IsOwner(id.UserID) {
			return realtime.AccessNone, apperr.Forbidden(apperr.ReasonNotOwner, "not the meeting owner")
		}
		return realtime.AccessFull, nil
	case models.RoleStudent:
		_, err := d.sessions.ActiveFor(ctx, meetingID, id.UserID)
		if err == nil {
			return realtime.AccessFull, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return realtime.AccessNone, err
		}
		waiting, err := d.awaitingDecision(ctx, meetingID, id.UserID)
		if err != nil {
			return realtime.AccessNone, err
		}
		if waiting {
			return realtime.AccessWaiting, nil
		}
		return realtime.AccessNone, apperr.Forbidden("", "join the meeting first")
	}
	return realtime.AccessNone, apperr.Forbidden(apperr.ReasonWrongRole, "unknown role")
}

func (d *Dispatcher) awaitingDecision(ctx context.Context, meetingID, studentID uuid.UUID) (bool, error) {
	join, lock, err := d.admission.LatestForStudent(ctx, meetingID, studentID)
	if err != nil {
		return false, err
	}
	return (join != nil && join.Status == models.RequestPending) ||
		(lock != nil && lock.Status == models.RequestPending), nil
}

// OnConnect acknowledges the connection and hands late-joining students the live question.
func (d *Dispatcher) OnConnect(ctx context.Context, p realtime.Peer) {
	p.Reply(realtime.JoinedRoom{MeetingID: p.Meeting(), ParticipantID: p.UserID(), Role: p.Role(), Waiting: p.Waiting()})
	if p.Role() != models.RoleStudent || p.Waiting() {
		return
	}
	q, err := d.quizzes.Active(ctx, p.Meeting())
	if err != nil {
		d.logger.Warn("load active quiz", zap.String("meeting_id", p.Meeting().String()), zap.Error(err))
		return
	}
	if q != nil {
		p.Reply(quiz.QuestionMessage(q))
	}
}

// Presence forwards connect and disconnect events of admitted students to tutors.
func (d *Dispatcher) Presence(meetingID uuid.UUID, c realtime.Conn, connected bool) {
	if c.Role().IsPrivileged() || c.Waiting() {
		return
	}
	d.notifier.NotifyPrivileged(meetingID, realtime.Presence{
		ParticipantID: c.UserID(),
		Role:          c.Role(),
		Connected:     connected,
	})
}

type joinRoomData struct {
	MeetingID uuid.UUID `json:"meeting_id"`
}

type endQuizData struct {
	QuizID uuid.UUID `json:"quiz_id"`
}

// HandleEvent routes one inbound event.
func (d *Dispatcher) HandleEvent(ctx context.Context, p realtime.Peer, event string, data json.RawMessage) error {
	switch event {
	case realtime.EventPing:
		p.Reply(realtime.Pong{At: time.Now().UTC()})
		return nil

	case realtime.EventJoinRoom:
		var in joinRoomData
		if err := decode(data, &in); err != nil {
			return err
		}
		if in.MeetingID != uuid.Nil && in.MeetingID != p.Meeting() {
			return apperr.Invalid("connection is bound to another meeting")
		}
		p.Reply(realtime.JoinedRoom{MeetingID: p.Meeting(), ParticipantID: p.UserID(), Role: p.Role(), Waiting: p.Waiting()})
		return nil

	case realtime.EventSendQuestion, realtime.EventSubmitAnswer, realtime.EventEndQuiz:
		if p.Waiting() {
			return apperr.Forbidden(apperr.ReasonApprovalNeeded, "waiting for admission")
		}
		return d.handleQuiz(ctx, p, event, data)
	}
	return apperr.Invalid("unknown event " + event)
}

func (d *Dispatcher) handleQuiz(ctx context.Context, p realtime.Peer, event string, data json.RawMessage) error {
	switch event {
	case realtime.EventSendQuestion:
		var in quiz.Question
		if err := decode(data, &in); err != nil {
			return err
		}
		q, err := d.quizzes.SendQuestion(ctx, p.Meeting(), p.Identity(), in)
		if err != nil {
			return err
		}
		p.Reply(realtime.QuestionSent{QuizID: q.ID})
		return nil

	case realtime.EventSubmitAnswer:
		var in quiz.Submission
		if err := decode(data, &in); err != nil {
			return err
		}
		if err := d.inMeeting(ctx, p, in.QuizID); err != nil {
			return err
		}
		if err := d.present(ctx, p); err != nil {
			return err
		}
		_, _, err := d.quizzes.SubmitAnswer(ctx, p.Identity(), in)
		return err

	case realtime.EventEndQuiz:
		var in endQuizData
		if err := decode(data, &in); err != nil {
			return err
		}
		if err := d.inMeeting(ctx, p, in.QuizID); err != nil {
			return err
		}
		_, err := d.quizzes.EndQuiz(ctx, in.QuizID, p.Identity())
		return err
	}
	return apperr.Invalid("unknown event " + event)
}

// present requires the connection's participant to still hold an ACTIVE session.
func (d *Dispatcher) present(ctx context.Context, p realtime.Peer) error {
	if _, err := d.sessions.ActiveFor(ctx, p.Meeting(), p.UserID()); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Forbidden("", "no open session in this meeting")
		}
		return err
	}
	return nil
}

// inMeeting rejects quizzes that belong to a different meeting than the connection.
func (d *Dispatcher) inMeeting(ctx context.Context, p realtime.Peer, quizID uuid.UUID) error {
	if quizID == uuid.Nil {
		return apperr.Invalid("quiz_id is required")
	}
	q, err := d.quizzes.Get(ctx, quizID)
	if err != nil {
		return err
	}
	if q.MeetingID != p.Meeting() {
		return apperr.Forbidden("", "quiz belongs to another meeting")
	}
	return nil
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Invalid("invalid payload: " + err.Error())
	}
	return nil
}
