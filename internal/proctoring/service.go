// Package proctoring ingests integrity alerts, keeps per-session risk counters and pushes alerts to tutors.
package proctoring

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/keylock"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/pkg/metrics"
	"github.com/aura-classroom/backend/pkg/queue"
)

const (
	// LiveWindow is how far back LiveAlerts looks.
	LiveWindow = 5 * time.Minute
	// recentAlerts is the number of latest alerts in MeetingStats.
	recentAlerts = 10
	// MaxFrameSize bounds uploaded frames.
	MaxFrameSize = 5 * 1024 * 1024
)

// Store persists alerts and the session counters they update.
type Store interface {
	MeetingStatus(ctx context.Context, meetingID uuid.UUID) (models.MeetingStatus, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.ParticipantSession, error)
	ListSessions(ctx context.Context, meetingID uuid.UUID, status models.SessionStatus) ([]models.ParticipantSession, error)
	// RecordAlert loads the session with a write lock, lets build mutate it and produce the alert,
	// then stores both atomically.
	RecordAlert(ctx context.Context, sessionID uuid.UUID, build func(s *models.ParticipantSession) (*models.Alert, error)) (*models.Alert, *models.ParticipantSession, error)
	ListAlerts(ctx context.Context, f models.AlertFilter) ([]models.Alert, error)
}

// FrameStore keeps uploaded frames until the worker checks them.
type FrameStore interface {
	PutFrame(ctx context.Context, key, contentType string, body io.Reader, size int64) error
	GetFrame(ctx context.Context, key string) ([]byte, error)
}

// FrameQueue schedules asynchronous frame checks.
type FrameQueue interface {
	EnqueueFrameCheck(ctx context.Context, payload queue.FrameCheckPayload) error
}

// Engine is the Alert Risk Engine.
type Engine struct {
	store    Store
	notifier realtime.Notifier
	detector Detector
	frames   FrameStore
	jobs     FrameQueue
	locks    *keylock.Locker
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithDetector enables CheckFrame.
func WithDetector(d Detector) Option { return func(e *Engine) { e.detector = d } }

// WithFrameQueue enables EnqueueFrameCheck.
func WithFrameQueue(frames FrameStore, jobs FrameQueue) Option {
	return func(e *Engine) {
		e.frames = frames
		e.jobs = jobs
	}
}

// NewEngine creates an alert risk engine.
func NewEngine(store Store, notifier realtime.Notifier, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{store: store, notifier: notifier, locks: keylock.New(), now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (in AlertInput) validate() error {
	if !in.AlertType.Valid() {
		return apperr.Invalid("unknown alert type " + string(in.AlertType))
	}
	if !in.Severity.Valid() {
		return apperr.Invalid("unknown severity " + string(in.Severity))
	}
	if in.Confidence < 0 || in.Confidence > 1 {
		return apperr.Invalid("confidence must be within [0,1]")
	}
	return nil
}

// Ingest appends an alert to an ACTIVE session, updates its counters and risk, and pushes it to tutors.
func (e *Engine) Ingest(ctx context.Context, sessionID uuid.UUID, in AlertInput) (*models.Alert, models.RiskSnapshot, error) {
	if err := in.validate(); err != nil {
		return nil, models.RiskSnapshot{}, err
	}

	unlock := e.locks.Lock(sessionID)
	alert, session, err := e.store.RecordAlert(ctx, sessionID, func(s *models.ParticipantSession) (*models.Alert, error) {
		if s.Status != models.SessionActive {
			return nil, apperr.InvalidState("", "session is closed")
		}
		a := &models.Alert{
			ID:            uuid.New(),
			SessionID:     s.ID,
			ParticipantID: s.ParticipantID,
			MeetingID:     s.MeetingID,
			AlertType:     in.AlertType,
			Severity:      in.Severity,
			Confidence:    in.Confidence,
			Description:   in.Description,
			DetectedAt:    e.now().UTC(),
		}
		applyAlert(s, a)
		return a, nil
	})
	unlock()
	if err != nil {
		return nil, models.RiskSnapshot{}, err
	}

	snap := session.Snapshot()
	metrics.AlertsIngested.WithLabelValues(string(alert.AlertType), string(alert.Severity)).Inc()
	e.notifier.NotifyPrivileged(alert.MeetingID, realtime.ProctoringAlert{
		Alert:       *alert,
		Risk:        snap,
		DisplayName: session.DisplayName,
	})
	e.logger.Info("alert ingested",
		zap.String("alert_id", alert.ID.String()),
		zap.String("session_id", sessionID.String()),
		zap.String("alert_type", string(alert.AlertType)),
		zap.String("severity", string(alert.Severity)),
		zap.String("risk_level", string(snap.RiskLevel)))
	return alert, snap, nil
}

// RiskSnapshot returns the session's counters and current risk.
func (e *Engine) RiskSnapshot(ctx context.Context, sessionID uuid.UUID) (models.RiskSnapshot, error) {
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return models.RiskSnapshot{}, err
	}
	return s.Snapshot(), nil
}

// FrameAnalysis is the outcome of AnalyzeFrame.
type FrameAnalysis struct {
	Alerts []models.Alert      `json:"alerts"`
	Risk   models.RiskSnapshot `json:"risk"`
}

// AnalyzeFrame turns a frame's client-side detections into alerts and ingests each one.
func (e *Engine) AnalyzeFrame(ctx context.Context, sessionID uuid.UUID, f Frame) (*FrameAnalysis, error) {
	out := &FrameAnalysis{Alerts: []models.Alert{}}
	inputs := FrameAlerts(f)
	if len(inputs) == 0 {
		snap, err := e.RiskSnapshot(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		out.Risk = snap
		return out, nil
	}
	for _, in := range inputs {
		a, snap, err := e.Ingest(ctx, sessionID, in)
		if err != nil {
			return nil, err
		}
		out.Alerts = append(out.Alerts, *a)
		out.Risk = snap
	}
	return out, nil
}

// FrameCheck is the outcome of a detector check.
type FrameCheck struct {
	IsDeepfake bool          `json:"is_deepfake"`
	Confidence float64       `json:"confidence"`
	Alert      *models.Alert `json:"alert,omitempty"`
}

// CheckFrame asks the detector about one frame. A positive verdict becomes a CRITICAL alert.
// An unreachable detector yields an UpstreamUnavailable error and no alert.
func (e *Engine) CheckFrame(ctx context.Context, sessionID uuid.UUID, image []byte, filename string) (*FrameCheck, error) {
	if e.detector == nil {
		return nil, apperr.Upstream("detector not configured", nil)
	}
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	verdict, err := e.detector.Predict(ctx, image, FrameMeta{
		UserID:        s.ParticipantID,
		MeetingID:     s.MeetingID,
		ParticipantID: s.ParticipantID,
		Filename:      filename,
	})
	if err != nil {
		metrics.DetectorFailures.Inc()
		e.logger.Warn("detector unavailable", zap.String("session_id", sessionID.String()), zap.Error(err))
		return nil, apperr.Upstream("detector unavailable", err)
	}
	check := &FrameCheck{IsDeepfake: verdict.IsDeepfake, Confidence: verdict.Confidence}
	if !verdict.IsDeepfake {
		return check, nil
	}
	confidence := verdict.Confidence
	if confidence < 0 {
		confidence = 0
	} else if confidence > 1 {
		confidence = 1
	}
	alert, _, err := e.Ingest(ctx, sessionID, AlertInput{
		AlertType:   models.AlertDeepfake,
		Severity:    models.SeverityCritical,
		Confidence:  confidence,
		Description: fmt.Sprintf("Possible deepfake video (confidence %.2f)", confidence),
	})
	if err != nil {
		return nil, err
	}
	check.Alert = alert
	return check, nil
}

// EnqueueFrameCheck stores the frame and schedules a detector check on the worker.
func (e *Engine) EnqueueFrameCheck(ctx context.Context, sessionID uuid.UUID, image []byte, contentType string) (string, error) {
	if e.frames == nil || e.jobs == nil {
		return "", apperr.Upstream("frame queue not configured", nil)
	}
	if len(image) == 0 {
		return "", apperr.Invalid("empty frame")
	}
	if len(image) > MaxFrameSize {
		return "", apperr.Invalid("frame too large")
	}
	s, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s.Status != models.SessionActive {
		return "", apperr.InvalidState("", "session is closed")
	}
	key := FrameKey(s.MeetingID, s.ID, uuid.NewString())
	if err := e.frames.PutFrame(ctx, key, contentType, bytes.NewReader(image), int64(len(image))); err != nil {
		return "", apperr.Upstream("store frame", err)
	}
	err = e.jobs.EnqueueFrameCheck(ctx, queue.FrameCheckPayload{
		SessionID:     s.ID,
		MeetingID:     s.MeetingID,
		ParticipantID: s.ParticipantID,
		ObjectKey:     key,
	})
	if err != nil {
		return "", apperr.Upstream("enqueue frame check", err)
	}
	return key, nil
}

// FrameKey returns the object key for a stored frame: frames/{meeting_id}/{session_id}/{id}.jpg.
func FrameKey(meetingID, sessionID uuid.UUID, id string) string {
	return path.Join("frames", meetingID.String(), sessionID.String(), id+".jpg")
}

// ProcessFrameJob runs a queued frame check.
func (e *Engine) ProcessFrameJob(ctx context.Context, p queue.FrameCheckPayload) (*FrameCheck, error) {
	if e.frames == nil {
		return nil, apperr.Upstream("frame store not configured", nil)
	}
	image, err := e.frames.GetFrame(ctx, p.ObjectKey)
	if err != nil {
		return nil, apperr.Upstream("load frame", err)
	}
	return e.CheckFrame(ctx, p.SessionID, image, path.Base(p.ObjectKey))
}

// ListAlerts returns the meeting's alerts, optionally for one participant, newest first.
func (e *Engine) ListAlerts(ctx context.Context, meetingID uuid.UUID, participantID *uuid.UUID) ([]models.Alert, error) {
	if _, err := e.store.MeetingStatus(ctx, meetingID); err != nil {
		return nil, err
	}
	return e.store.ListAlerts(ctx, models.AlertFilter{MeetingID: meetingID, ParticipantID: participantID})
}

// LiveAlerts returns the meeting's alerts from the last five minutes, newest first.
func (e *Engine) LiveAlerts(ctx context.Context, meetingID uuid.UUID) ([]models.Alert, error) {
	if _, err := e.store.MeetingStatus(ctx, meetingID); err != nil {
		return nil, err
	}
	since := e.now().UTC().Add(-LiveWindow)
	return e.store.ListAlerts(ctx, models.AlertFilter{MeetingID: meetingID, Since: &since})
}

// Stats summarizes a meeting's alerts and flagged participants.
type Stats struct {
	TotalAlerts          int                     `json:"total_alerts"`
	TotalParticipants    int                     `json:"total_participants"`
	FlaggedParticipants  int                     `json:"flagged_participants"`
	HighRiskParticipants int                     `json:"high_risk_participants"`
	AlertsByType         map[string]int          `json:"alerts_by_type"`
	AlertsBySeverity     map[models.Severity]int `json:"alerts_by_severity"`
	Recent               []models.Alert          `json:"recent"`
}

// MeetingStats aggregates the meeting's alerts. High risk means a HIGH or CRITICAL risk level.
func (e *Engine) MeetingStats(ctx context.Context, meetingID uuid.UUID) (*Stats, error) {
	if _, err := e.store.MeetingStatus(ctx, meetingID); err != nil {
		return nil, err
	}
	alerts, err := e.store.ListAlerts(ctx, models.AlertFilter{MeetingID: meetingID})
	if err != nil {
		return nil, err
	}
	sessions, err := e.store.ListSessions(ctx, meetingID, "")
	if err != nil {
		return nil, err
	}

	st := &Stats{
		TotalAlerts:  len(alerts),
		AlertsByType: map[string]int{},
		AlertsBySeverity: map[models.Severity]int{
			models.SeverityLow: 0, models.SeverityMedium: 0, models.SeverityHigh: 0, models.SeverityCritical: 0,
		},
		Recent: []models.Alert{},
	}
	for i, a := range alerts {
		st.AlertsByType[string(a.AlertType)]++
		st.AlertsBySeverity[a.Severity]++
		if i < recentAlerts {
			st.Recent = append(st.Recent, a)
		}
	}

	participants := map[uuid.UUID]struct{}{}
	flagged := map[uuid.UUID]struct{}{}
	highRisk := map[uuid.UUID]struct{}{}
	for _, s := range sessions {
		if s.Role != models.RoleStudent {
			continue
		}
		participants[s.ParticipantID] = struct{}{}
		if s.Flagged {
			flagged[s.ParticipantID] = struct{}{}
		}
		if s.RiskLevel == models.RiskHigh || s.RiskLevel == models.RiskCritical {
			highRisk[s.ParticipantID] = struct{}{}
		}
	}
	st.TotalParticipants = len(participants)
	st.FlaggedParticipants = len(flagged)
	st.HighRiskParticipants = len(highRisk)
	return st, nil
}
