// Package meetings owns the meeting lifecycle and the join flow that ties sessions, admission and media together.
package meetings

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/keylock"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
)

const (
	joinCodeLength   = 6
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	createAttempts   = 5
)

// Store persists meetings.
type Store interface {
	CreateMeeting(ctx context.Context, m *models.Meeting) error
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	GetMeetingByJoinCode(ctx context.Context, code string) (*models.Meeting, error)
	// UpdateMeetingStatus fails with apperr.ErrConflict when the stored status is no longer from.
	UpdateMeetingStatus(ctx context.Context, id uuid.UUID, from, to models.MeetingStatus, at time.Time) (*models.Meeting, error)
	SetMeetingLocked(ctx context.Context, id uuid.UUID, locked bool) (*models.Meeting, error)
	ListMeetingsByTutor(ctx context.Context, tutorID uuid.UUID) ([]models.Meeting, error)
}

// SessionRegistry is the subset of the session registry the meeting flow needs.
type SessionRegistry interface {
	Open(ctx context.Context, meetingID, participantID uuid.UUID, role models.Role, displayName string) (*models.ParticipantSession, error)
	ActiveFor(ctx context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error)
	Remove(ctx context.Context, sessionID uuid.UUID) (*models.ParticipantSession, error)
	CloseAllForMeeting(ctx context.Context, meetingID uuid.UUID) (int, error)
	ListActive(ctx context.Context, meetingID uuid.UUID) ([]models.ParticipantSession, error)
}

// Gate is the admission surface used when students join.
type Gate interface {
	RequestJoin(ctx context.Context, meetingID uuid.UUID, student models.Identity) (*models.JoinRequest, error)
	LatestForStudent(ctx context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, *models.LockRequest, error)
	ListPendingJoins(ctx context.Context, meetingID uuid.UUID, caller models.Identity) ([]models.JoinRequest, error)
	ListPendingLocks(ctx context.Context, meetingID uuid.UUID, caller models.Identity) ([]models.LockRequest, error)
}

// QuizControl lets the meeting flow read and force-complete the active quiz.
type QuizControl interface {
	Active(ctx context.Context, meetingID uuid.UUID) (*models.Quiz, error)
	EndForMeeting(ctx context.Context, meetingID uuid.UUID) (*models.Quiz, error)
}

// CredentialIssuer signs media join credentials.
type CredentialIssuer interface {
	Issue(m *models.Meeting, who models.Identity) (*models.MediaCredential, error)
}

// Service runs the meeting lifecycle.
type Service struct {
	store    Store
	sessions SessionRegistry
	gate     Gate
	quizzes  QuizControl
	media    CredentialIssuer
	notifier realtime.Notifier
	locks    *keylock.Locker
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a meetings service.
func NewService(store Store, sessions SessionRegistry, gate Gate, quizzes QuizControl, media CredentialIssuer,
	notifier realtime.Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		sessions: sessions,
		gate:     gate,
		quizzes:  quizzes,
		media:    media,
		notifier: notifier,
		locks:    keylock.New(),
		now:      time.Now,
		logger:   logger,
	}
}

// CreateParams are the inputs of Create.
type CreateParams struct {
	Title           string
	Description     string
	ScheduledAt     *time.Time
	RequireApproval bool
}

// Create makes a SCHEDULED meeting owned by the calling tutor.
func (s *Service) Create(ctx context.Context, caller models.Identity, p CreateParams) (*models.Meeting, error) {
	if caller.Role != models.RoleTutor {
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "only tutors create meetings")
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return nil, apperr.Invalid("title is required")
	}
	var lastErr error
	for i := 0; i < createAttempts; i++ {
		id := uuid.New()
		code, err := newJoinCode()
		if err != nil {
			return nil, err
		}
		m := &models.Meeting{
			ID:              id,
			Title:           title,
			Description:     p.Description,
			ScheduledAt:     p.ScheduledAt,
			Status:          models.MeetingScheduled,
			RequireApproval: p.RequireApproval,
			RoomName:        "meeting-" + id.String(),
			JoinCode:        code,
			TutorID:         caller.UserID,
			CreatedAt:       s.now().UTC(),
		}
		err = s.store.CreateMeeting(ctx, m)
		if err == nil {
			s.logger.Info("meeting created", zap.String("meeting_id", m.ID.String()), zap.String("tutor_id", caller.UserID.String()))
			return m, nil
		}
		if !errors.Is(err, apperr.ErrConflict) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func newJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

// Get returns a meeting.
func (s *Service) Get(ctx context.Context, meetingID uuid.UUID) (*models.Meeting, error) {
	return s.store.GetMeeting(ctx, meetingID)
}

// ListMine returns the calling tutor's meetings.
func (s *Service) ListMine(ctx context.Context, caller models.Identity) ([]models.Meeting, error) {
	if caller.Role != models.RoleTutor {
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "tutor role required")
	}
	return s.store.ListMeetingsByTutor(ctx, caller.UserID)
}

// RequireOwner returns the meeting when the caller is its owning tutor.
func (s *Service) RequireOwner(ctx context.Context, meetingID uuid.UUID, caller models.Identity) (*models.Meeting, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if caller.Role != models.RoleTutor {
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "tutor role required")
	}
	if !m.IsOwner(caller.UserID) {
		return nil, apperr.Forbidden(apperr.ReasonNotOwner, "only the meeting owner may do this")
	}
	return m, nil
}

// transition applies a monotonic status change under the meeting lock. Same-state moves are no-ops.
func (s *Service) transition(ctx context.Context, meetingID uuid.UUID, to models.MeetingStatus) (*models.Meeting, bool, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, false, err
	}
	if m.Status == to {
		return m, false, nil
	}
	if !m.Status.CanTransition(to) {
		return nil, false, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting cannot move from "+string(m.Status)+" to "+string(to))
	}
	updated, err := s.store.UpdateMeetingStatus(ctx, meetingID, m.Status, to, s.now().UTC())
	if err != nil {
		return nil, false, err
	}
	s.logger.Info("meeting status changed",
		zap.String("meeting_id", meetingID.String()),
		zap.String("from", string(m.Status)),
		zap.String("to", string(to)))
	return updated, true, nil
}

// Start moves the meeting to LIVE.
func (s *Service) Start(ctx context.Context, meetingID uuid.UUID, caller models.Identity) (*models.Meeting, error) {
	if _, err := s.RequireOwner(ctx, meetingID, caller); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(meetingID)
	defer unlock()
	m, _, err := s.transition(ctx, meetingID, models.MeetingLive)
	return m, err
}

// End moves the meeting to ENDED, closes every open session and completes the active quiz.
func (s *Service) End(ctx context.Context, meetingID uuid.UUID, caller models.Identity) (*models.Meeting, error) {
	if _, err := s.RequireOwner(ctx, meetingID, caller); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(meetingID)
	defer unlock()

	m, changed, err := s.transition(ctx, meetingID, models.MeetingEnded)
	if err != nil {
		return nil, err
	}
	if !changed {
		return m, nil
	}

	var errs []error
	closed, err := s.sessions.CloseAllForMeeting(ctx, meetingID)
	if err != nil {
		errs = append(errs, err)
	}
	if _, err := s.quizzes.EndForMeeting(ctx, meetingID); err != nil {
		errs = append(errs, err)
	}
	s.notifier.Broadcast(meetingID, realtime.MeetingEnded{MeetingID: meetingID, EndedAt: *m.EndedAt})
	s.logger.Info("meeting ended", zap.String("meeting_id", meetingID.String()), zap.Int("sessions_closed", closed))
	if len(errs) > 0 {
		return m, errors.Join(errs...)
	}
	return m, nil
}

// SetLocked toggles the meeting lock.
func (s *Service) SetLocked(ctx context.Context, meetingID uuid.UUID, caller models.Identity, locked bool) (*models.Meeting, error) {
	m, err := s.RequireOwner(ctx, meetingID, caller)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MeetingEnded {
		return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}
	if m.IsLocked == locked {
		return m, nil
	}
	m, err = s.store.SetMeetingLocked(ctx, meetingID, locked)
	if err != nil {
		return nil, err
	}
	s.notifier.Broadcast(meetingID, realtime.MeetingLockChanged{MeetingID: meetingID, IsLocked: locked})
	return m, nil
}

// JoinResult is what a participant gets back from Join. Pending results carry the join request and nothing else.
type JoinResult struct {
	Meeting     *models.Meeting            `json:"meeting"`
	Pending     bool                       `json:"pending"`
	JoinRequest *models.JoinRequest        `json:"join_request,omitempty"`
	Session     *models.ParticipantSession `json:"session,omitempty"`
	Credential  *models.MediaCredential    `json:"credential,omitempty"`
}

// Join admits the caller into the meeting, or files a join request when the meeting is gated.
func (s *Service) Join(ctx context.Context, meetingID uuid.UUID, caller models.Identity) (*JoinResult, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MeetingEnded {
		return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}

	switch caller.Role {
	case models.RoleTutor:
		if !m.IsOwner(caller.UserID) {
			return nil, apperr.Forbidden(apperr.ReasonNotOwner, "only the owning tutor may join as tutor")
		}
		if m.Status == models.MeetingScheduled {
			if m, err = s.Start(ctx, meetingID, caller); err != nil {
				return nil, err
			}
		}
	case models.RoleStudent:
		if m.Status == models.MeetingScheduled {
			return nil, apperr.InvalidState(apperr.ReasonNotStarted, "meeting has not started")
		}
		if m.RequiresAdmission() {
			inside, err := s.inside(ctx, m.ID, caller.UserID)
			if err != nil {
				return nil, err
			}
			if !inside {
				req, err := s.gate.RequestJoin(ctx, meetingID, caller)
				if err != nil {
					return nil, err
				}
				return &JoinResult{Meeting: m, Pending: true, JoinRequest: req}, nil
			}
		}
	default:
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "unknown role")
	}

	session, err := s.sessions.Open(ctx, meetingID, caller.UserID, caller.Role, caller.DisplayName)
	if err != nil {
		return nil, err
	}
	cred, err := s.media.Issue(m, caller)
	if err != nil {
		return nil, err
	}
	return &JoinResult{Meeting: m, Session: session, Credential: cred}, nil
}

// inside reports whether the student already holds an ACTIVE session. Only they bypass the gate:
// an approval opens its session when granted, so a student who leaves or is removed must ask again.
func (s *Service) inside(ctx context.Context, meetingID, studentID uuid.UUID) (bool, error) {
	_, err := s.sessions.ActiveFor(ctx, meetingID, studentID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	return false, err
}

// JoinByCode resolves a join code and joins that meeting.
func (s *Service) JoinByCode(ctx context.Context, code string, caller models.Identity) (*JoinResult, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.Invalid("join code is required")
	}
	m, err := s.store.GetMeetingByJoinCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.Join(ctx, m.ID, caller)
}

// Kick removes a participant's active session, tells only that participant, then drops their connections.
func (s *Service) Kick(ctx context.Context, meetingID uuid.UUID, caller models.Identity, participantID uuid.UUID, reason string) (*models.ParticipantSession, error) {
	if _, err := s.RequireOwner(ctx, meetingID, caller); err != nil {
		return nil, err
	}
	if participantID == caller.UserID {
		return nil, apperr.Invalid("cannot remove yourself")
	}
	active, err := s.sessions.ActiveFor(ctx, meetingID, participantID)
	if err != nil {
		return nil, err
	}
	removed, err := s.sessions.Remove(ctx, active.ID)
	if err != nil {
		return nil, err
	}
	s.notifier.NotifyParticipant(meetingID, participantID, realtime.KickNotice{
		MeetingID:     meetingID,
		ParticipantID: participantID,
		Reason:        reason,
	})
	s.notifier.Evict(meetingID, participantID)
	s.logger.Info("participant removed", zap.String("meeting_id", meetingID.String()), zap.String("participant_id", participantID.String()))
	return removed, nil
}

// ActiveQuizView is the active quiz as seen by a (re)connecting client.
type ActiveQuizView struct {
	Quiz             *models.Quiz `json:"quiz"`
	RemainingSeconds int          `json:"remaining_seconds"`
}

// Snapshot is the current state a client fetches on (re)connect.
type Snapshot struct {
	Meeting      *models.Meeting             `json:"meeting"`
	Sessions     []models.ParticipantSession `json:"sessions,omitempty"`
	PendingJoins []models.JoinRequest        `json:"pending_joins,omitempty"`
	PendingLocks []models.LockRequest        `json:"pending_locks,omitempty"`
	MySession    *models.ParticipantSession  `json:"my_session,omitempty"`
	MyJoin       *models.JoinRequest         `json:"my_join_request,omitempty"`
	MyLock       *models.LockRequest         `json:"my_lock_request,omitempty"`
	ActiveQuiz   *ActiveQuizView             `json:"active_quiz,omitempty"`
}

// Snapshot returns what the caller may see of the meeting right now.
func (s *Service) Snapshot(ctx context.Context, meetingID uuid.UUID, caller models.Identity) (*Snapshot, error) {
	m, err := s.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{Meeting: m}

	if caller.Role == models.RoleTutor && m.IsOwner(caller.UserID) {
		if snap.Sessions, err = s.sessions.ListActive(ctx, meetingID); err != nil {
			return nil, err
		}
		if snap.PendingJoins, err = s.gate.ListPendingJoins(ctx, meetingID, caller); err != nil {
			return nil, err
		}
		if snap.PendingLocks, err = s.gate.ListPendingLocks(ctx, meetingID, caller); err != nil {
			return nil, err
		}
	} else {
		if snap.MyJoin, snap.MyLock, err = s.gate.LatestForStudent(ctx, meetingID, caller.UserID); err != nil {
			return nil, err
		}
		if session, err := s.sessions.ActiveFor(ctx, meetingID, caller.UserID); err == nil {
			snap.MySession = session
		} else if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
	}

	q, err := s.quizzes.Active(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if q != nil {
		snap.ActiveQuiz = &ActiveQuizView{Quiz: q, RemainingSeconds: int(q.Remaining(s.now()).Seconds())}
	}
	return snap, nil
}
