package models

import (
	"time"

	"github.com/google/uuid"
)

// AlertType is the behavioral category of an integrity alert.
type AlertType string

const (
	AlertNoFace             AlertType = "NO_FACE"
	AlertMultipleFaces      AlertType = "MULTIPLE_FACES"
	AlertPhoneDetected      AlertType = "PHONE_DETECTED"
	AlertTabSwitch          AlertType = "TAB_SWITCH"
	AlertWindowSwitch       AlertType = "WINDOW_SWITCH"
	AlertCopyPaste          AlertType = "COPY_PASTE"
	AlertSuspiciousBehavior AlertType = "SUSPICIOUS_BEHAVIOR"
	AlertFaceMismatch       AlertType = "FACE_MISMATCH"
	AlertDeepfake           AlertType = "DEEPFAKE_DETECTED"
	AlertManualFlag         AlertType = "MANUAL_FLAG"
)

var alertTypes = map[AlertType]struct{}{
	AlertNoFace: {}, AlertMultipleFaces: {}, AlertPhoneDetected: {}, AlertTabSwitch: {},
	AlertWindowSwitch: {}, AlertCopyPaste: {}, AlertSuspiciousBehavior: {}, AlertFaceMismatch: {},
	AlertDeepfake: {}, AlertManualFlag: {},
}

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	_, ok := alertTypes[t]
	return ok
}

// Severity of an alert.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Alert is an immutable integrity event tied to a participant session.
type Alert struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	MeetingID     uuid.UUID `json:"meeting_id"`
	AlertType     AlertType `json:"alert_type"`
	Severity      Severity  `json:"severity"`
	Confidence    float64   `json:"confidence"`
	Description   string    `json:"description"`
	DetectedAt    time.Time `json:"detected_at"`
}

// RiskSnapshot is the read-only projection of a session's counters and risk.
type RiskSnapshot struct {
	SessionID         uuid.UUID      `json:"session_id"`
	ParticipantID     uuid.UUID      `json:"participant_id"`
	MeetingID         uuid.UUID      `json:"meeting_id"`
	FlagCount         int            `json:"flag_count"`
	CriticalCount     int            `json:"critical_count"`
	HighCount         int            `json:"high_count"`
	MediumCount       int            `json:"medium_count"`
	LowCount          int            `json:"low_count"`
	HighSeverityCount int            `json:"high_severity_count"`
	RiskLevel         RiskLevel      `json:"risk_level"`
	RiskScore         float64        `json:"risk_score"`
	Flagged           bool           `json:"flagged"`
	AlertBreakdown    map[string]int `json:"alert_breakdown"`
}

// Snapshot projects the session's risk counters.
func (s *ParticipantSession) Snapshot() RiskSnapshot {
	breakdown := make(map[string]int, len(s.AlertBreakdown))
	for k, v := range s.AlertBreakdown {
		breakdown[k] = v
	}
	return RiskSnapshot{
		SessionID:         s.ID,
		ParticipantID:     s.ParticipantID,
		MeetingID:         s.MeetingID,
		FlagCount:         s.FlagCount,
		CriticalCount:     s.CriticalCount,
		HighCount:         s.HighCount,
		MediumCount:       s.MediumCount,
		LowCount:          s.LowCount,
		HighSeverityCount: s.HighSeverityCount(),
		RiskLevel:         s.RiskLevel,
		RiskScore:         s.RiskScore,
		Flagged:           s.Flagged,
		AlertBreakdown:    breakdown,
	}
}

// AlertFilter narrows an alert listing. Results are newest first.
type AlertFilter struct {
	MeetingID     uuid.UUID
	ParticipantID *uuid.UUID
	SessionID     *uuid.UUID
	Since         *time.Time
	Limit         int
}
