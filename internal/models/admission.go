package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestStatus is the state of a join or lock request. APPROVED and REJECTED are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// IsDecision reports whether s is a valid tutor decision.
func (s RequestStatus) IsDecision() bool {
	return s == RequestApproved || s == RequestRejected
}

// JoinRequest asks the tutor to admit a student into a gated meeting.
type JoinRequest struct {
	ID          uuid.UUID     `json:"id"`
	MeetingID   uuid.UUID     `json:"meeting_id"`
	StudentID   uuid.UUID     `json:"student_id"`
	StudentName string        `json:"student_name,omitempty"`
	Status      RequestStatus `json:"status"`
	RequestedAt time.Time     `json:"requested_at"`
	RespondedAt *time.Time    `json:"responded_at,omitempty"`
}

// LockRequest asks the tutor to lock the meeting.
type LockRequest struct {
	ID            uuid.UUID     `json:"id"`
	MeetingID     uuid.UUID     `json:"meeting_id"`
	StudentID     uuid.UUID     `json:"student_id"`
	StudentName   string        `json:"student_name,omitempty"`
	Reason        string        `json:"reason"`
	Status        RequestStatus `json:"status"`
	TutorResponse string        `json:"tutor_response,omitempty"`
	RequestedAt   time.Time     `json:"requested_at"`
	RespondedAt   *time.Time    `json:"responded_at,omitempty"`
}
