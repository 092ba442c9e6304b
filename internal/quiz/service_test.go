package quiz

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
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
	"github.com/aura-classroom/backend/internal/store/memstore"
)

type fixture struct {
	store   *memstore.Store
	notes   *realtimetest.Recorder
	orch    *Orchestrator
	meeting *models.Meeting
	tutor   models.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	tutor := models.Identity{UserID: uuid.New(), Role: models.RoleTutor, DisplayName: "Tutor"}
	m := &models.Meeting{
		ID:        uuid.New(),
		Title:     "History",
		Status:    models.MeetingLive,
		RoomName:  "meeting-history",
		JoinCode:  "HIST01",
		TutorID:   tutor.UserID,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateMeeting(context.Background(), m))
	notes := &realtimetest.Recorder{}
	return &fixture{
		store:   store,
		notes:   notes,
		orch:    NewOrchestrator(store, notes, zaptest.NewLogger(t)),
		meeting: m,
		tutor:   tutor,
	}
}

func student(name string) models.Identity {
	return models.Identity{UserID: uuid.New(), Role: models.RoleStudent, DisplayName: name}
}

func mcq() Question {
	return Question{Question: "Capital of France?", Type: models.QuizMCQ, Options: []string{"Paris", "Lyon"}, CorrectAnswer: "Paris", TimeLimitSeconds: 20}
}

func TestSendQuestion_BroadcastsWithoutAnswer(t *testing.T) {
	f := newFixture(t)
	q, err := f.orch.SendQuestion(context.Background(), f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)
	assert.Equal(t, models.QuizActive, q.Status)
	require.NotNil(t, q.StartedAt)

	sent := f.notes.OfKind(realtime.KindQuizQuestion)
	require.Len(t, sent, 1)
	assert.Equal(t, realtime.ScopeAll, sent[0].Audience.Scope)
	raw, err := json.Marshal(sent[0].Message)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct")
	assert.Equal(t, q.ID, sent[0].Message.(realtime.QuizQuestion).QuizID)

	_, err = f.orch.SendQuestion(context.Background(), f.meeting.ID, student("Ana"), mcq())
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSendQuestion_PreemptsActiveQuiz(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)
	second, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)

	old, err := f.orch.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuizCompleted, old.Status)
	require.NotNil(t, old.EndedAt)

	active, err := f.orch.Active(ctx, f.meeting.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	ended := f.notes.OfKind(realtime.KindQuizEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, first.ID, ended[0].Message.(realtime.QuizEnded).QuizID)
}

func TestSendQuestion_ConcurrentLeavesOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := f.orch.List(ctx, f.meeting.ID)
	require.NoError(t, err)
	require.Len(t, all, n)
	active := 0
	for _, q := range all {
		if q.Status == models.QuizActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Len(t, f.notes.OfKind(realtime.KindQuizEnded), n-1)
}

func TestSendQuestion_EndedMeeting(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.UpdateMeetingStatus(context.Background(), f.meeting.ID, models.MeetingLive, models.MeetingEnded, time.Now())
	require.NoError(t, err)

	_, err = f.orch.SendQuestion(context.Background(), f.meeting.ID, f.tutor, mcq())
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestSubmitAnswer_GradesAndNotifies(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)
	f.notes.Reset()

	ana := student("Ana")
	r, count, err := f.orch.SubmitAnswer(ctx, ana, Submission{QuizID: q.ID, Answer: " paris ", ResponseTimeMs: 1500})
	require.NoError(t, err)
	assert.True(t, r.IsCorrect)
	assert.Equal(t, "paris", r.Answer)
	assert.Equal(t, int64(1500), r.ResponseTimeMs)
	assert.Equal(t, 1, count)

	ack := f.notes.OfKind(realtime.KindAnswerSubmitted)
	require.Len(t, ack, 1)
	assert.Equal(t, ana.UserID, ack[0].Audience.ParticipantID)

	tally := f.notes.OfKind(realtime.KindAnswerCount)
	require.Len(t, tally, 1)
	assert.Equal(t, realtime.ScopePrivileged, tally[0].Audience.Scope)
	raw, err := json.Marshal(tally[0].Message)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "paris")

	_, _, err = f.orch.SubmitAnswer(ctx, f.tutor, Submission{QuizID: q.ID, Answer: "Paris"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestSubmitAnswer_ComputesResponseTimeWhenMissing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time { return start }
	q, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)

	f.orch.now = func() time.Time { return start.Add(2500 * time.Millisecond) }
	r, _, err := f.orch.SubmitAnswer(ctx, student("Ana"), Submission{QuizID: q.ID, Answer: "Lyon"})
	require.NoError(t, err)
	assert.False(t, r.IsCorrect)
	assert.Equal(t, int64(2500), r.ResponseTimeMs)
}

func TestSubmitAnswer_ConcurrentSubmitsStoreOne(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)

	ana := student("Ana")
	var ok, dup int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.orch.SubmitAnswer(ctx, ana, Submission{QuizID: q.ID, Answer: "Paris", ResponseTimeMs: 100})
			if err == nil {
				atomic.AddInt32(&ok, 1)
			} else if assert.ErrorIs(t, err, apperr.ErrAlreadyAnswered) {
				atomic.AddInt32(&dup, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(19), dup)
	n, err := f.store.CountQuizResponses(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubmitAnswer_CompletedQuiz(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)
	_, err = f.orch.EndQuiz(ctx, q.ID, f.tutor)
	require.NoError(t, err)

	_, _, err = f.orch.SubmitAnswer(ctx, student("Ana"), Submission{QuizID: q.ID, Answer: "Paris"})
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, apperr.ReasonQuizNotActive, apperr.ReasonOf(err))

	_, _, err = f.orch.SubmitAnswer(ctx, student("Ben"), Submission{QuizID: q.ID, Answer: "Paris", ResponseTimeMs: -1})
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestEndQuiz_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)

	first, err := f.orch.EndQuiz(ctx, q.ID, f.tutor)
	require.NoError(t, err)
	second, err := f.orch.EndQuiz(ctx, q.ID, f.tutor)
	require.NoError(t, err)

	assert.Equal(t, models.QuizCompleted, second.Status)
	assert.Equal(t, *first.EndedAt, *second.EndedAt)
	ended := f.notes.OfKind(realtime.KindQuizEnded)
	require.Len(t, ended, 1)
	require.NotNil(t, ended[0].Message.(realtime.QuizEnded).EndedBy)

	active, err := f.orch.Active(ctx, f.meeting.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestEndForMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.orch.EndForMeeting(ctx, f.meeting.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	q, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)
	done, err := f.orch.EndForMeeting(ctx, f.meeting.ID)
	require.NoError(t, err)
	require.NotNil(t, done)
	assert.Equal(t, q.ID, done.ID)
	assert.Equal(t, models.QuizCompleted, done.Status)
}

func TestSweepExpired_CompletesAtDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.orch.now = func() time.Time { return start }
	q, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)

	f.orch.now = func() time.Time { return start.Add(10 * time.Second) }
	assert.Equal(t, 0, f.orch.SweepExpired(ctx))

	f.orch.now = func() time.Time { return start.Add(25 * time.Second) }
	assert.Equal(t, 1, f.orch.SweepExpired(ctx))
	assert.Equal(t, 0, f.orch.SweepExpired(ctx))

	done, err := f.orch.Get(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuizCompleted, done.Status)
	assert.Equal(t, start.Add(20*time.Second), *done.EndedAt)
}

func TestRunExpiryWatchdog_StopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.orch.RunExpiryWatchdog(ctx, 5*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}
}

func TestLeaderboardAndResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ana, ben := student("Ana"), student("Ben")

	q1, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, mcq())
	require.NoError(t, err)
	_, _, err = f.orch.SubmitAnswer(ctx, ana, Submission{QuizID: q1.ID, Answer: "Paris", ResponseTimeMs: 3000})
	require.NoError(t, err)
	_, _, err = f.orch.SubmitAnswer(ctx, ben, Submission{QuizID: q1.ID, Answer: "Lyon", ResponseTimeMs: 1000})
	require.NoError(t, err)

	q2, err := f.orch.SendQuestion(ctx, f.meeting.ID, f.tutor, Question{
		Question: "Water boils at 100C", Type: models.QuizTrueFalse, CorrectAnswer: "true",
	})
	require.NoError(t, err)
	_, _, err = f.orch.SubmitAnswer(ctx, ana, Submission{QuizID: q2.ID, Answer: "True", ResponseTimeMs: 1000})
	require.NoError(t, err)
	_, _, err = f.orch.SubmitAnswer(ctx, ben, Submission{QuizID: q2.ID, Answer: "true", ResponseTimeMs: 500})
	require.NoError(t, err)

	board, err := f.orch.Leaderboard(ctx, f.meeting.ID)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, ana.UserID, board[0].ParticipantID)
	assert.Equal(t, 2, board[0].CorrectCount)
	assert.Equal(t, 1, board[1].CorrectCount)

	res, err := f.orch.Results(ctx, q1.ID)
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.CorrectAnswer)
	assert.Equal(t, 2, res.Summary.TotalResponses)
	assert.Equal(t, 1, res.Summary.CorrectResponses)
	require.Len(t, res.Leaderboard, 2)
	assert.Equal(t, ana.UserID, res.Leaderboard[0].ParticipantID)

	_, err = f.orch.Leaderboard(ctx, uuid.New())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
