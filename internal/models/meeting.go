package models

import (
	"time"

	"github.com/google/uuid"
)

// MeetingStatus is the lifecycle state of a meeting. Transitions are monotonic.
type MeetingStatus string

const (
	MeetingScheduled MeetingStatus = "SCHEDULED"
	MeetingLive      MeetingStatus = "LIVE"
	MeetingEnded     MeetingStatus = "ENDED"
)

func (s MeetingStatus) rank() int {
	switch s {
	case MeetingScheduled:
		return 0
	case MeetingLive:
		return 1
	case MeetingEnded:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next keeps the status monotonic.
// Staying in the same state is allowed; ENDED is terminal.
func (s MeetingStatus) CanTransition(next MeetingStatus) bool {
	from, to := s.rank(), next.rank()
	if from < 0 || to < 0 {
		return false
	}
	if s == MeetingEnded {
		return next == MeetingEnded
	}
	return to >= from
}

// Meeting is a live teaching session owned by the tutor who created it.
type Meeting struct {
	ID              uuid.UUID     `json:"id"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	ScheduledAt     *time.Time    `json:"scheduled_at,omitempty"`
	Status          MeetingStatus `json:"status"`
	IsLocked        bool          `json:"is_locked"`
	RequireApproval bool          `json:"require_approval"`
	RoomName        string        `json:"room_name"`
	JoinCode        string        `json:"join_code"`
	TutorID         uuid.UUID     `json:"tutor_id"`
	StartedAt       *time.Time    `json:"started_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}

// RequiresAdmission reports whether new student joins must go through a join request.
func (m *Meeting) RequiresAdmission() bool {
	return m.RequireApproval || m.IsLocked
}

// IsOwner reports whether userID created the meeting.
func (m *Meeting) IsOwner(userID uuid.UUID) bool {
	return m.TutorID == userID
}
