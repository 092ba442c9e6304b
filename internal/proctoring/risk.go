package proctoring

import (
	"github.com/aura-classroom/backend/internal/models"
)

// EvaluateRisk classifies a session from its alert count and its HIGH+CRITICAL count.
// The rules overlap and are applied top to bottom; the first match wins.
func EvaluateRisk(flagCount, highSeverityCount int) (models.RiskLevel, float64) {
	switch {
	case flagCount == 0:
		return models.RiskLow, 0.0
	case flagCount <= 2 && highSeverityCount == 0:
		return models.RiskLow, 0.3
	case flagCount <= 5 || highSeverityCount == 1:
		return models.RiskMedium, 0.6
	case flagCount <= 10 || highSeverityCount <= 3:
		return models.RiskHigh, 0.8
	default:
		return models.RiskCritical, 1.0
	}
}

// applyAlert folds one alert into the session counters and recomputes its risk.
func applyAlert(s *models.ParticipantSession, a *models.Alert) {
	s.FlagCount++
	switch a.Severity {
	case models.SeverityCritical:
		s.CriticalCount++
	case models.SeverityHigh:
		s.HighCount++
	case models.SeverityMedium:
		s.MediumCount++
	case models.SeverityLow:
		s.LowCount++
	}
	s.Flagged = true
	if s.AlertBreakdown == nil {
		s.AlertBreakdown = map[string]int{}
	}
	s.AlertBreakdown[string(a.AlertType)]++
	s.RiskLevel, s.RiskScore = EvaluateRisk(s.FlagCount, s.HighSeverityCount())
}
