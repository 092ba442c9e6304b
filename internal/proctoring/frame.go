package proctoring

import (
	"strconv"

	"github.com/aura-classroom/backend/internal/models"
)

// Detections are what the client-side vision model saw in one frame.
type Detections struct {
	FaceCount          *int `json:"face_count,omitempty"`
	PhoneDetected      bool `json:"phone_detected"`
	SuspiciousBehavior bool `json:"suspicious_behavior"`
}

// BrowserSignals are focus and clipboard events reported by the client since the last frame.
type BrowserSignals struct {
	TabSwitch    bool `json:"tab_switch"`
	WindowSwitch bool `json:"window_switch"`
	CopyPaste    bool `json:"copy_paste"`
}

// Frame is one analyzed frame from a participant.
type Frame struct {
	Detections Detections     `json:"detections"`
	Browser    BrowserSignals `json:"browser"`
}

// AlertInput is a single alert to ingest.
type AlertInput struct {
	AlertType   models.AlertType `json:"alert_type"`
	Severity    models.Severity  `json:"severity"`
	Confidence  float64          `json:"confidence"`
	Description string           `json:"description"`
}

// FrameAlerts maps a frame's signals to alerts with fixed severity and confidence.
func FrameAlerts(f Frame) []AlertInput {
	var out []AlertInput
	if fc := f.Detections.FaceCount; fc != nil {
		switch {
		case *fc == 0:
			out = append(out, AlertInput{models.AlertNoFace, models.SeverityMedium, 0.8, "No face detected"})
		case *fc > 1:
			out = append(out, AlertInput{models.AlertMultipleFaces, models.SeverityHigh, 0.9, strconv.Itoa(*fc) + " faces detected"})
		}
	}
	if f.Detections.PhoneDetected {
		out = append(out, AlertInput{models.AlertPhoneDetected, models.SeverityHigh, 0.85, "Mobile phone detected in frame"})
	}
	if f.Browser.TabSwitch {
		out = append(out, AlertInput{models.AlertTabSwitch, models.SeverityMedium, 0.7, "Tab switching detected"})
	}
	if f.Browser.WindowSwitch {
		out = append(out, AlertInput{models.AlertWindowSwitch, models.SeverityHigh, 0.8, "Window switching detected"})
	}
	if f.Browser.CopyPaste {
		out = append(out, AlertInput{models.AlertCopyPaste, models.SeverityMedium, 0.6, "Copy/paste activity detected"})
	}
	if f.Detections.SuspiciousBehavior {
		out = append(out, AlertInput{models.AlertSuspiciousBehavior, models.SeverityMedium, 0.7, "Suspicious behavior detected"})
	}
	return out
}
