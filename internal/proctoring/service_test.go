package proctoring

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/realtime/realtimetest"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/internal/store/memstore"
	"github.com/aura-classroom/backend/pkg/queue"
)

type fixture struct {
	store    *memstore.Store
	registry *sessions.Registry
	notes    *realtimetest.Recorder
	meeting  *models.Meeting
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	m := &models.Meeting{
		ID:        uuid.New(),
		Title:     "Chemistry",
		Status:    models.MeetingLive,
		RoomName:  "meeting-chem",
		JoinCode:  "CHEM01",
		TutorID:   uuid.New(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateMeeting(context.Background(), m))
	return &fixture{
		store:    store,
		registry: sessions.NewRegistry(store, zaptest.NewLogger(t)),
		notes:    &realtimetest.Recorder{},
		meeting:  m,
	}
}

func (f *fixture) engine(t *testing.T, opts ...Option) *Engine {
	return NewEngine(f.store, f.notes, zaptest.NewLogger(t), opts...)
}

func (f *fixture) student(t *testing.T, name string) *models.ParticipantSession {
	t.Helper()
	s, err := f.registry.Open(context.Background(), f.meeting.ID, uuid.New(), models.RoleStudent, name)
	require.NoError(t, err)
	return s
}

func lowAlert() AlertInput {
	return AlertInput{AlertType: models.AlertTabSwitch, Severity: models.SeverityLow, Confidence: 0.5, Description: "tab"}
}

func TestIngest_RiskProgression(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	s := f.student(t, "Ana")
	ctx := context.Background()

	snap, err := e.RiskSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RiskLow, snap.RiskLevel)
	assert.False(t, snap.Flagged)

	want := map[int]models.RiskLevel{1: models.RiskLow, 2: models.RiskLow, 3: models.RiskMedium, 6: models.RiskHigh, 11: models.RiskHigh}
	for i := 1; i <= 11; i++ {
		_, snap, err = e.Ingest(ctx, s.ID, lowAlert())
		require.NoError(t, err)
		if level, ok := want[i]; ok {
			assert.Equal(t, level, snap.RiskLevel, "after %d alerts", i)
		}
	}
	assert.Equal(t, 11, snap.FlagCount)
	assert.Equal(t, 11, snap.LowCount)
	assert.Equal(t, 0, snap.HighSeverityCount)
	assert.True(t, snap.Flagged)
	assert.Equal(t, 11, snap.AlertBreakdown[string(models.AlertTabSwitch)])
}

func TestIngest_NotifiesTutorsOnly(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	s := f.student(t, "Ana")

	alert, snap, err := e.Ingest(context.Background(), s.ID, AlertInput{
		AlertType: models.AlertPhoneDetected, Severity: models.SeverityHigh, Confidence: 0.85,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RiskMedium, snap.RiskLevel)
	assert.Equal(t, s.ParticipantID, alert.ParticipantID)
	assert.Equal(t, f.meeting.ID, alert.MeetingID)

	all := f.notes.All()
	require.Len(t, all, 1)
	assert.Equal(t, realtime.ScopePrivileged, all[0].Audience.Scope)
	msg := all[0].Message.(realtime.ProctoringAlert)
	assert.Equal(t, alert.ID, msg.Alert.ID)
	assert.Equal(t, "Ana", msg.DisplayName)
	assert.Equal(t, 1, msg.Risk.HighCount)
}

func TestIngest_RejectsClosedSessionAndBadInput(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	s := f.student(t, "Ana")
	ctx := context.Background()

	_, _, err := e.Ingest(ctx, s.ID, AlertInput{AlertType: "LOOKING_AWAY", Severity: models.SeverityLow})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, _, err = e.Ingest(ctx, s.ID, AlertInput{AlertType: models.AlertNoFace, Severity: models.SeverityLow, Confidence: 1.5})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, _, err = e.Ingest(ctx, uuid.New(), lowAlert())
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.registry.Close(ctx, s.ID)
	require.NoError(t, err)
	_, _, err = e.Ingest(ctx, s.ID, lowAlert())
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	stored, err := f.store.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FlagCount)
	assert.Empty(t, f.notes.All())
}

func TestIngest_ConcurrentAlertsAreAllCounted(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	s := f.student(t, "Ana")
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := lowAlert()
			if i%10 == 0 {
				in.Severity = models.SeverityCritical
			}
			_, _, err := e.Ingest(ctx, s.ID, in)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	snap, err := e.RiskSnapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, n, snap.FlagCount)
	assert.Equal(t, 5, snap.CriticalCount)
	assert.Equal(t, 45, snap.LowCount)
	assert.Equal(t, models.RiskCritical, snap.RiskLevel)

	alerts, err := e.ListAlerts(ctx, f.meeting.ID, nil)
	require.NoError(t, err)
	assert.Len(t, alerts, n)
}

func TestAnalyzeFrame(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	s := f.student(t, "Ana")
	ctx := context.Background()

	clean, err := e.AnalyzeFrame(ctx, s.ID, Frame{})
	require.NoError(t, err)
	assert.Empty(t, clean.Alerts)
	assert.Equal(t, models.RiskLow, clean.Risk.RiskLevel)

	zero := 0
	res, err := e.AnalyzeFrame(ctx, s.ID, Frame{
		Detections: Detections{FaceCount: &zero, PhoneDetected: true},
		Browser:    BrowserSignals{CopyPaste: true},
	})
	require.NoError(t, err)
	require.Len(t, res.Alerts, 3)
	assert.Equal(t, 3, res.Risk.FlagCount)
	assert.Equal(t, 1, res.Risk.HighCount)
	assert.Equal(t, models.RiskMedium, res.Risk.RiskLevel)
	assert.Len(t, f.notes.OfKind(realtime.KindProctoringAlert), 3)
}

func detectorServer(t *testing.T, verdict Verdict, seen *map[string]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/deepfake/predict", r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		body, _ := io.ReadAll(file)
		assert.Equal(t, "jpeg-bytes", string(body))
		if seen != nil {
			*seen = map[string]string{
				"meetingId":     r.FormValue("meetingId"),
				"participantId": r.FormValue("participantId"),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(verdict)
	}))
}

func TestCheckFrame_DeepfakeRaisesCriticalAlert(t *testing.T) {
	f := newFixture(t)
	var seen map[string]string
	srv := detectorServer(t, Verdict{IsDeepfake: true, Confidence: 1.4}, &seen)
	defer srv.Close()

	e := f.engine(t, WithDetector(NewHTTPDetector(srv.URL, time.Second)))
	s := f.student(t, "Ana")

	check, err := e.CheckFrame(context.Background(), s.ID, []byte("jpeg-bytes"), "frame.jpg")
	require.NoError(t, err)
	assert.True(t, check.IsDeepfake)
	require.NotNil(t, check.Alert)
	assert.Equal(t, models.AlertDeepfake, check.Alert.AlertType)
	assert.Equal(t, models.SeverityCritical, check.Alert.Severity)
	assert.Equal(t, 1.0, check.Alert.Confidence)

	assert.Equal(t, f.meeting.ID.String(), seen["meetingId"])
	assert.Equal(t, s.ParticipantID.String(), seen["participantId"])

	snap, err := e.RiskSnapshot(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.CriticalCount)
	assert.Equal(t, models.RiskMedium, snap.RiskLevel)
}

func TestCheckFrame_GenuineFrameRaisesNothing(t *testing.T) {
	f := newFixture(t)
	srv := detectorServer(t, Verdict{IsDeepfake: false, Confidence: 0.1}, nil)
	defer srv.Close()

	e := f.engine(t, WithDetector(NewHTTPDetector(srv.URL, time.Second)))
	s := f.student(t, "Ana")

	check, err := e.CheckFrame(context.Background(), s.ID, []byte("jpeg-bytes"), "")
	require.NoError(t, err)
	assert.False(t, check.IsDeepfake)
	assert.Nil(t, check.Alert)
	assert.Empty(t, f.notes.All())
}

func TestCheckFrame_UnreachableDetectorRaisesNothing(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	e := f.engine(t, WithDetector(NewHTTPDetector(url, 200*time.Millisecond)))
	s := f.student(t, "Ana")

	_, err := e.CheckFrame(context.Background(), s.ID, []byte("jpeg-bytes"), "frame.jpg")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	snap, err := e.RiskSnapshot(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.FlagCount)
	assert.Empty(t, f.notes.All())
}

func TestCheckFrame_DetectorErrorStatus(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := f.engine(t, WithDetector(NewHTTPDetector(srv.URL, time.Second)))
	s := f.student(t, "Ana")
	_, err := e.CheckFrame(context.Background(), s.ID, []byte("jpeg-bytes"), "frame.jpg")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestCheckFrame_NoDetector(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "Ana")
	_, err := f.engine(t).CheckFrame(context.Background(), s.ID, []byte("x"), "")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

type memFrames struct {
	mu     sync.Mutex
	frames map[string][]byte
}

func (m *memFrames) PutFrame(_ context.Context, key, _ string, body io.Reader, _ int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frames == nil {
		m.frames = map[string][]byte{}
	}
	m.frames[key] = data
	return nil
}

func (m *memFrames) GetFrame(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.frames[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return data, nil
}

type memJobs struct{ jobs []queue.FrameCheckPayload }

func (m *memJobs) EnqueueFrameCheck(_ context.Context, p queue.FrameCheckPayload) error {
	m.jobs = append(m.jobs, p)
	return nil
}

func TestEnqueueFrameCheck_ThenProcess(t *testing.T) {
	f := newFixture(t)
	srv := detectorServer(t, Verdict{IsDeepfake: true, Confidence: 0.9}, nil)
	defer srv.Close()

	frames, jobs := &memFrames{}, &memJobs{}
	e := f.engine(t, WithDetector(NewHTTPDetector(srv.URL, time.Second)), WithFrameQueue(frames, jobs))
	s := f.student(t, "Ana")
	ctx := context.Background()

	key, err := e.EnqueueFrameCheck(ctx, s.ID, []byte("jpeg-bytes"), "image/jpeg")
	require.NoError(t, err)
	assert.Contains(t, key, "frames/"+f.meeting.ID.String()+"/"+s.ID.String()+"/")
	require.Len(t, jobs.jobs, 1)
	assert.Equal(t, key, jobs.jobs[0].ObjectKey)
	assert.Equal(t, s.ParticipantID, jobs.jobs[0].ParticipantID)

	check, err := e.ProcessFrameJob(ctx, jobs.jobs[0])
	require.NoError(t, err)
	require.NotNil(t, check.Alert)
	assert.InDelta(t, 0.9, check.Alert.Confidence, 1e-9)

	_, err = e.ProcessFrameJob(ctx, queue.FrameCheckPayload{SessionID: s.ID, ObjectKey: "frames/missing.jpg"})
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)
}

func TestEnqueueFrameCheck_Validation(t *testing.T) {
	f := newFixture(t)
	s := f.student(t, "Ana")
	ctx := context.Background()

	_, err := f.engine(t).EnqueueFrameCheck(ctx, s.ID, []byte("x"), "image/jpeg")
	assert.ErrorIs(t, err, apperr.ErrUpstreamUnavailable)

	e := f.engine(t, WithFrameQueue(&memFrames{}, &memJobs{}))
	_, err = e.EnqueueFrameCheck(ctx, s.ID, nil, "image/jpeg")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
	_, err = e.EnqueueFrameCheck(ctx, s.ID, make([]byte, MaxFrameSize+1), "image/jpeg")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestLiveAlerts_OnlyRecent(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	s := f.student(t, "Ana")
	ctx := context.Background()

	base := time.Now().UTC()
	e.now = func() time.Time { return base.Add(-10 * time.Minute) }
	_, _, err := e.Ingest(ctx, s.ID, lowAlert())
	require.NoError(t, err)
	e.now = func() time.Time { return base }
	recent, _, err := e.Ingest(ctx, s.ID, lowAlert())
	require.NoError(t, err)

	live, err := e.LiveAlerts(ctx, f.meeting.ID)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, recent.ID, live[0].ID)

	all, err := e.ListAlerts(ctx, f.meeting.ID, &s.ParticipantID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, recent.ID, all[0].ID)

	_, err = e.LiveAlerts(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMeetingStats(t *testing.T) {
	f := newFixture(t)
	e := f.engine(t)
	ctx := context.Background()

	f.student(t, "Calm")
	risky := f.student(t, "Risky")
	_, err := f.registry.Open(ctx, f.meeting.ID, f.meeting.TutorID, models.RoleTutor, "Tutor")
	require.NoError(t, err)

	_, _, err = e.Ingest(ctx, risky.ID, AlertInput{AlertType: models.AlertPhoneDetected, Severity: models.SeverityHigh, Confidence: 0.9})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, _, err = e.Ingest(ctx, risky.ID, AlertInput{AlertType: models.AlertTabSwitch, Severity: models.SeverityMedium, Confidence: 0.7})
		require.NoError(t, err)
	}

	st, err := e.MeetingStats(ctx, f.meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, st.TotalAlerts)
	assert.Equal(t, 2, st.TotalParticipants)
	assert.Equal(t, 1, st.FlaggedParticipants)
	assert.Equal(t, 0, st.HighRiskParticipants) // six alerts with one HIGH is MEDIUM
	assert.Equal(t, 5, st.AlertsByType[string(models.AlertTabSwitch)])
	assert.Equal(t, 1, st.AlertsBySeverity[models.SeverityHigh])
	assert.Equal(t, 0, st.AlertsBySeverity[models.SeverityCritical])
	assert.Len(t, st.Recent, 6)

	_, _, err = e.Ingest(ctx, risky.ID, AlertInput{AlertType: models.AlertWindowSwitch, Severity: models.SeverityHigh, Confidence: 0.8})
	require.NoError(t, err)
	st, err = e.MeetingStats(ctx, f.meeting.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.HighRiskParticipants)
}
