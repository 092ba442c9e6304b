package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the state of a participant's presence window.
type SessionStatus string

const (
	SessionActive  SessionStatus = "ACTIVE"
	SessionLeft    SessionStatus = "LEFT"
	SessionRemoved SessionStatus = "REMOVED"
)

// RiskLevel is the coarse classification derived from a session's alert counters.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// ParticipantSession is one continuous presence of a participant in a meeting.
type ParticipantSession struct {
	ID             uuid.UUID      `json:"id"`
	MeetingID      uuid.UUID      `json:"meeting_id"`
	ParticipantID  uuid.UUID      `json:"participant_id"`
	DisplayName    string         `json:"display_name,omitempty"`
	Role           Role           `json:"role"`
	Status         SessionStatus  `json:"status"`
	JoinedAt       time.Time      `json:"joined_at"`
	LeftAt         *time.Time     `json:"left_at,omitempty"`
	TotalDuration  int64          `json:"total_duration"` // seconds
	FlagCount      int            `json:"flag_count"`
	CriticalCount  int            `json:"critical_count"`
	HighCount      int            `json:"high_count"`
	MediumCount    int            `json:"medium_count"`
	LowCount       int            `json:"low_count"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	RiskScore      float64        `json:"risk_score"`
	Flagged        bool           `json:"flagged"`
	AlertBreakdown map[string]int `json:"alert_breakdown"`
}

// HighSeverityCount is the number of HIGH and CRITICAL alerts on the session.
func (s *ParticipantSession) HighSeverityCount() int {
	return s.HighCount + s.CriticalCount
}

// Close ends the presence window at now with the given terminal status.
func (s *ParticipantSession) Close(now time.Time, status SessionStatus) {
	s.Status = status
	s.LeftAt = &now
	d := now.Sub(s.JoinedAt)
	if d < 0 {
		d = 0
	}
	s.TotalDuration = int64(d / time.Second)
}

// SessionSummary aggregates a meeting's sessions.
type SessionSummary struct {
	Total       int                  `json:"total"`
	JoinedCount int                  `json:"joined_count"`
	LeftCount   int                  `json:"left_count"`
	Sessions    []ParticipantSession `json:"sessions"`
}
