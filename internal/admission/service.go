// Package admission mediates join and lock requests for gated meetings.
package admission

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/keylock"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
)

// Store persists join and lock requests.
type Store interface {
	GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error)
	SetMeetingLocked(ctx context.Context, id uuid.UUID, locked bool) (*models.Meeting, error)

	// FindPendingJoinRequest returns the PENDING request for the pair, or nil.
	FindPendingJoinRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, error)
	// LatestJoinRequest returns the student's most recent request in the meeting, or nil.
	LatestJoinRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, error)
	CreateJoinRequest(ctx context.Context, req *models.JoinRequest) error
	GetJoinRequest(ctx context.Context, id uuid.UUID) (*models.JoinRequest, error)
	// ResolveJoinRequest moves a PENDING request to status. Non-PENDING requests fail with apperr.ErrAlreadyResolved.
	ResolveJoinRequest(ctx context.Context, id uuid.UUID, status models.RequestStatus, at time.Time) (*models.JoinRequest, error)
	ListJoinRequests(ctx context.Context, meetingID uuid.UUID, status models.RequestStatus) ([]models.JoinRequest, error)

	FindPendingLockRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.LockRequest, error)
	LatestLockRequest(ctx context.Context, meetingID, studentID uuid.UUID) (*models.LockRequest, error)
	CreateLockRequest(ctx context.Context, req *models.LockRequest) error
	GetLockRequest(ctx context.Context, id uuid.UUID) (*models.LockRequest, error)
	ResolveLockRequest(ctx context.Context, id uuid.UUID, status models.RequestStatus, tutorResponse string, at time.Time) (*models.LockRequest, error)
	ListLockRequests(ctx context.Context, meetingID uuid.UUID, status models.RequestStatus) ([]models.LockRequest, error)
}

// SessionOpener opens a participant session once a join is approved.
type SessionOpener interface {
	Open(ctx context.Context, meetingID, participantID uuid.UUID, role models.Role, displayName string) (*models.ParticipantSession, error)
	Close(ctx context.Context, sessionID uuid.UUID) (*models.ParticipantSession, error)
}

// Controller is the Admission Controller.
type Controller struct {
	store    Store
	sessions SessionOpener
	notifier realtime.Notifier
	locks    *keylock.Locker
	now      func() time.Time
	logger   *zap.Logger
}

// NewController creates an admission controller.
func NewController(store Store, sessions SessionOpener, notifier realtime.Notifier, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		store:    store,
		sessions: sessions,
		notifier: notifier,
		locks:    keylock.New(),
		now:      time.Now,
		logger:   logger,
	}
}

// JoinDecision is the outcome of responding to a join request.
type JoinDecision struct {
	Request models.JoinRequest         `json:"request"`
	Session *models.ParticipantSession `json:"session,omitempty"`
}

// RequestJoin creates a PENDING join request, or returns the student's existing PENDING one.
func (c *Controller) RequestJoin(ctx context.Context, meetingID uuid.UUID, student models.Identity) (*models.JoinRequest, error) {
	if student.Role != models.RoleStudent {
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "only students request to join")
	}
	m, err := c.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MeetingEnded {
		return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}

	unlock := c.locks.Lock(meetingID)
	defer unlock()

	existing, err := c.store.FindPendingJoinRequest(ctx, meetingID, student.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	req := &models.JoinRequest{
		ID:          uuid.New(),
		MeetingID:   meetingID,
		StudentID:   student.UserID,
		StudentName: student.DisplayName,
		Status:      models.RequestPending,
		RequestedAt: c.now().UTC(),
	}
	if err := c.store.CreateJoinRequest(ctx, req); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			if existing, ferr := c.store.FindPendingJoinRequest(ctx, meetingID, student.UserID); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	c.logger.Info("join requested",
		zap.String("request_id", req.ID.String()),
		zap.String("meeting_id", meetingID.String()),
		zap.String("student_id", student.UserID.String()))
	c.notifier.NotifyPrivileged(meetingID, realtime.JoinRequested{Request: *req})
	return req, nil
}

// RespondToJoin resolves a PENDING join request. Approval opens the student's session before the request
// is marked APPROVED, so a failed open leaves the request PENDING and the approval is spent by that session.
func (c *Controller) RespondToJoin(ctx context.Context, requestID uuid.UUID, status models.RequestStatus, caller models.Identity) (*JoinDecision, error) {
	if !status.IsDecision() {
		return nil, apperr.Invalid("status must be APPROVED or REJECTED")
	}
	unlock := c.locks.Lock(requestID)
	defer unlock()

	req, err := c.store.GetJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	m, err := c.requireOwner(ctx, req.MeetingID, caller)
	if err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, apperr.Conflict(apperr.ReasonAlreadyResolved, "join request already resolved")
	}
	if status == models.RequestApproved && m.Status == models.MeetingEnded {
		return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}

	var session *models.ParticipantSession
	if status == models.RequestApproved {
		session, err = c.sessions.Open(ctx, req.MeetingID, req.StudentID, models.RoleStudent, req.StudentName)
		if err != nil {
			c.logger.Warn("open session for approved join",
				zap.String("request_id", requestID.String()), zap.Error(err))
			return nil, err
		}
	}

	resolved, err := c.store.ResolveJoinRequest(ctx, requestID, status, c.now().UTC())
	if err != nil {
		if session != nil {
			c.undoOpen(ctx, requestID, session)
		}
		return nil, err
	}
	decision := &JoinDecision{Request: *resolved, Session: session}

	msg := realtime.JoinResolved{
		RequestID: resolved.ID,
		MeetingID: resolved.MeetingID,
		Status:    resolved.Status,
		At:        *resolved.RespondedAt,
	}
	if session != nil {
		msg.SessionID = &session.ID
	}
	c.notifier.NotifyParticipant(resolved.MeetingID, resolved.StudentID, msg)
	c.logger.Info("join request resolved",
		zap.String("request_id", resolved.ID.String()),
		zap.String("status", string(resolved.Status)))
	return decision, nil
}

// undoOpen closes a session opened for an approval that lost to another instance's decision,
// unless that decision was an approval too.
func (c *Controller) undoOpen(ctx context.Context, requestID uuid.UUID, s *models.ParticipantSession) {
	stored, err := c.store.GetJoinRequest(ctx, requestID)
	if err == nil && stored.Status == models.RequestApproved {
		return
	}
	if _, err := c.sessions.Close(ctx, s.ID); err != nil {
		c.logger.Warn("close session of lost approval", zap.String("session_id", s.ID.String()), zap.Error(err))
	}
}

// RequestLock asks the tutor to lock the meeting.
func (c *Controller) RequestLock(ctx context.Context, meetingID uuid.UUID, student models.Identity, reason string) (*models.LockRequest, error) {
	if student.Role != models.RoleStudent {
		return nil, apperr.Forbidden(apperr.ReasonWrongRole, "only students request a lock")
	}
	m, err := c.store.GetMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MeetingEnded {
		return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}

	unlock := c.locks.Lock(meetingID)
	defer unlock()

	existing, err := c.store.FindPendingLockRequest(ctx, meetingID, student.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	req := &models.LockRequest{
		ID:          uuid.New(),
		MeetingID:   meetingID,
		StudentID:   student.UserID,
		StudentName: student.DisplayName,
		Reason:      reason,
		Status:      models.RequestPending,
		RequestedAt: c.now().UTC(),
	}
	if err := c.store.CreateLockRequest(ctx, req); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			if existing, ferr := c.store.FindPendingLockRequest(ctx, meetingID, student.UserID); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	c.notifier.NotifyPrivileged(meetingID, realtime.LockRequested{Request: *req})
	return req, nil
}

// RespondToLock resolves a PENDING lock request. Approval locks the meeting.
func (c *Controller) RespondToLock(ctx context.Context, requestID uuid.UUID, status models.RequestStatus, tutorResponse string, caller models.Identity) (*models.LockRequest, error) {
	if !status.IsDecision() {
		return nil, apperr.Invalid("status must be APPROVED or REJECTED")
	}
	req, err := c.store.GetLockRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if _, err := c.requireOwner(ctx, req.MeetingID, caller); err != nil {
		return nil, err
	}
	if req.Status != models.RequestPending {
		return nil, apperr.Conflict(apperr.ReasonAlreadyResolved, "lock request already resolved")
	}

	resolved, err := c.store.ResolveLockRequest(ctx, requestID, status, tutorResponse, c.now().UTC())
	if err != nil {
		return nil, err
	}
	if status == models.RequestApproved {
		m, err := c.store.SetMeetingLocked(ctx, resolved.MeetingID, true)
		if err != nil {
			return nil, err
		}
		c.notifier.Broadcast(m.ID, realtime.MeetingLockChanged{MeetingID: m.ID, IsLocked: true})
	}
	c.notifier.NotifyParticipant(resolved.MeetingID, resolved.StudentID, realtime.LockResolved{
		RequestID:     resolved.ID,
		MeetingID:     resolved.MeetingID,
		Status:        resolved.Status,
		TutorResponse: resolved.TutorResponse,
		At:            *resolved.RespondedAt,
	})
	return resolved, nil
}

// GetJoinRequest returns a join request. Students only see their own.
func (c *Controller) GetJoinRequest(ctx context.Context, requestID uuid.UUID, caller models.Identity) (*models.JoinRequest, error) {
	req, err := c.store.GetJoinRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.StudentID == caller.UserID {
		return req, nil
	}
	if _, err := c.requireOwner(ctx, req.MeetingID, caller); err != nil {
		return nil, err
	}
	return req, nil
}

// LatestForStudent returns the student's most recent join and lock requests in the meeting. Either may be nil.
func (c *Controller) LatestForStudent(ctx context.Context, meetingID, studentID uuid.UUID) (*models.JoinRequest, *models.LockRequest, error) {
	join, err := c.store.LatestJoinRequest(ctx, meetingID, studentID)
	if err != nil {
		return nil, nil, err
	}
	lock, err := c.store.LatestLockRequest(ctx, meetingID, studentID)
	if err != nil {
		return nil, nil, err
	}
	return join, lock, nil
}

// ListPendingJoins returns the meeting's PENDING join requests, oldest first.
func (c *Controller) ListPendingJoins(ctx context.Context, meetingID uuid.UUID, caller models.Identity) ([]models.JoinRequest, error) {
	if _, err := c.requireOwner(ctx, meetingID, caller); err != nil {
		return nil, err
	}
	return c.store.ListJoinRequests(ctx, meetingID, models.RequestPending)
}

// ListPendingLocks returns the meeting's PENDING lock requests, oldest first.
func (c *Controller) ListPendingLocks(ctx context.Context, meetingID uuid.UUID, caller models.Identity) ([]models.LockRequest, error) {
	if _, err := c.requireOwner(ctx, meetingID, caller); err != nil {
		return nil, err
	}
	return c.store.ListLockRequests(ctx, meetingID, models.RequestPending)
}

func (c *Controller) requireOwner(ctx context.Context, meetingID uuid.UUID, caller models.Identity) (*models.Meeting, error) {
	m, err := c.store.GetMeeting(ctx, meetingID)
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
