// Package sessions tracks each participant's presence windows in a meeting.
package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/keylock"
	"github.com/aura-classroom/backend/internal/models"
)

// Store persists participant sessions.
type Store interface {
	MeetingStatus(ctx context.Context, meetingID uuid.UUID) (models.MeetingStatus, error)
	// FindActiveSession returns the ACTIVE session for the pair, or nil when there is none.
	FindActiveSession(ctx context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error)
	// CreateSession inserts an ACTIVE session. It fails with apperr.ErrConflict if the pair already has one.
	CreateSession(ctx context.Context, s *models.ParticipantSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.ParticipantSession, error)
	// CloseActiveSession closes the session if it is still ACTIVE and returns the stored row.
	CloseActiveSession(ctx context.Context, id uuid.UUID, at time.Time, status models.SessionStatus) (*models.ParticipantSession, error)
	ListSessions(ctx context.Context, meetingID uuid.UUID, status models.SessionStatus) ([]models.ParticipantSession, error)
}

// Evictor drops a participant's live connections.
type Evictor interface {
	Evict(meetingID, participantID uuid.UUID)
}

// Registry is the Session Registry.
type Registry struct {
	store   Store
	locks   *keylock.Locker
	evictor Evictor
	now     func() time.Time
	logger  *zap.Logger
}

// NewRegistry creates a session registry.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, locks: keylock.New(), now: time.Now, logger: logger}
}

// SetEvictor makes Close drop the participant's live connections. Remove leaves that to the caller
// so a removal notice can be queued first.
func (r *Registry) SetEvictor(e Evictor) {
	r.evictor = e
}

// Open returns the participant's ACTIVE session in the meeting, creating one if none exists.
func (r *Registry) Open(ctx context.Context, meetingID, participantID uuid.UUID, role models.Role, displayName string) (*models.ParticipantSession, error) {
	if !role.Valid() {
		return nil, apperr.Invalid("unknown role")
	}
	unlock := r.locks.Lock(meetingID)
	defer unlock()

	status, err := r.store.MeetingStatus(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	if status == models.MeetingEnded {
		return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
	}

	existing, err := r.store.FindActiveSession(ctx, meetingID, participantID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	s := &models.ParticipantSession{
		ID:             uuid.New(),
		MeetingID:      meetingID,
		ParticipantID:  participantID,
		DisplayName:    displayName,
		Role:           role,
		Status:         models.SessionActive,
		JoinedAt:       r.now().UTC(),
		RiskLevel:      models.RiskLow,
		AlertBreakdown: map[string]int{},
	}
	if err := r.store.CreateSession(ctx, s); err != nil {
		// another instance won the race; hand back its session
		if errors.Is(err, apperr.ErrConflict) {
			if existing, ferr := r.store.FindActiveSession(ctx, meetingID, participantID); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		return nil, err
	}
	r.logger.Info("session opened",
		zap.String("session_id", s.ID.String()),
		zap.String("meeting_id", meetingID.String()),
		zap.String("participant_id", participantID.String()),
		zap.String("role", string(role)))
	return s, nil
}

// Close ends the session with status LEFT. Closing an already closed session returns it unchanged.
func (r *Registry) Close(ctx context.Context, sessionID uuid.UUID) (*models.ParticipantSession, error) {
	s, err := r.close(ctx, sessionID, models.SessionLeft)
	if err != nil {
		return nil, err
	}
	if r.evictor != nil {
		r.evictor.Evict(s.MeetingID, s.ParticipantID)
	}
	return s, nil
}

// Remove ends the session with status REMOVED.
func (r *Registry) Remove(ctx context.Context, sessionID uuid.UUID) (*models.ParticipantSession, error) {
	return r.close(ctx, sessionID, models.SessionRemoved)
}

func (r *Registry) close(ctx context.Context, sessionID uuid.UUID, status models.SessionStatus) (*models.ParticipantSession, error) {
	s, err := r.store.CloseActiveSession(ctx, sessionID, r.now().UTC(), status)
	if err != nil {
		return nil, err
	}
	r.logger.Info("session closed",
		zap.String("session_id", sessionID.String()),
		zap.String("status", string(s.Status)),
		zap.Int64("total_duration", s.TotalDuration))
	return s, nil
}

// CloseAllForMeeting closes every ACTIVE session of the meeting and returns how many were closed.
func (r *Registry) CloseAllForMeeting(ctx context.Context, meetingID uuid.UUID) (int, error) {
	unlock := r.locks.Lock(meetingID)
	defer unlock()

	active, err := r.store.ListSessions(ctx, meetingID, models.SessionActive)
	if err != nil {
		return 0, err
	}
	now := r.now().UTC()
	closed := 0
	for _, s := range active {
		if _, err := r.store.CloseActiveSession(ctx, s.ID, now, models.SessionLeft); err != nil {
			r.logger.Warn("force-close session", zap.String("session_id", s.ID.String()), zap.Error(err))
			continue
		}
		closed++
	}
	return closed, nil
}

// Get returns a session by id.
func (r *Registry) Get(ctx context.Context, sessionID uuid.UUID) (*models.ParticipantSession, error) {
	return r.store.GetSession(ctx, sessionID)
}

// ActiveFor returns the participant's ACTIVE session in the meeting, or NotFound.
func (r *Registry) ActiveFor(ctx context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error) {
	s, err := r.store.FindActiveSession(ctx, meetingID, participantID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, apperr.NotFound("active session")
	}
	return s, nil
}

// ListActive returns the meeting's ACTIVE sessions.
func (r *Registry) ListActive(ctx context.Context, meetingID uuid.UUID) ([]models.ParticipantSession, error) {
	if _, err := r.store.MeetingStatus(ctx, meetingID); err != nil {
		return nil, err
	}
	return r.store.ListSessions(ctx, meetingID, models.SessionActive)
}

// Summarize counts the meeting's sessions. JoinedCount is the number of ACTIVE sessions.
func (r *Registry) Summarize(ctx context.Context, meetingID uuid.UUID) (*models.SessionSummary, error) {
	if _, err := r.store.MeetingStatus(ctx, meetingID); err != nil {
		return nil, err
	}
	all, err := r.store.ListSessions(ctx, meetingID, "")
	if err != nil {
		return nil, err
	}
	sum := &models.SessionSummary{Total: len(all), Sessions: all}
	for _, s := range all {
		if s.Status == models.SessionActive {
			sum.JoinedCount++
		} else {
			sum.LeftCount++
		}
	}
	if sum.Sessions == nil {
		sum.Sessions = []models.ParticipantSession{}
	}
	return sum, nil
}
