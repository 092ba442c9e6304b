package sessions

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/realtime/realtimetest"
	"github.com/aura-classroom/backend/internal/store/memstore"
)

func newMeeting(t *testing.T, store *memstore.Store, status models.MeetingStatus) *models.Meeting {
	t.Helper()
	id := uuid.New()
	m := &models.Meeting{
		ID:        id,
		Title:     "Algebra",
		Status:    status,
		RoomName:  "meeting-" + id.String(),
		JoinCode:  id.String()[:6],
		TutorID:   uuid.New(),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateMeeting(context.Background(), m))
	return m
}

func TestOpen_IsIdempotentWhileActive(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	m := newMeeting(t, store, models.MeetingLive)
	student := uuid.New()

	first, err := reg.Open(context.Background(), m.ID, student, models.RoleStudent, "Ana")
	require.NoError(t, err)
	second, err := reg.Open(context.Background(), m.ID, student, models.RoleStudent, "Ana")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.SessionActive, first.Status)
	assert.Equal(t, models.RiskLow, first.RiskLevel)
}

func TestOpen_ConcurrentCallsShareOneSession(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	m := newMeeting(t, store, models.MeetingLive)
	student := uuid.New()

	const n = 20
	ids := make([]uuid.UUID, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := reg.Open(context.Background(), m.ID, student, models.RoleStudent, "Ana")
			if assert.NoError(t, err) {
				ids[i] = s.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	active, err := reg.ListActive(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestOpen_EndedMeeting(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	m := newMeeting(t, store, models.MeetingEnded)

	_, err := reg.Open(context.Background(), m.ID, uuid.New(), models.RoleStudent, "Ana")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.Equal(t, apperr.ReasonMeetingEnded, apperr.ReasonOf(err))
}

func TestOpen_UnknownMeeting(t *testing.T) {
	reg := NewRegistry(memstore.New(), zaptest.NewLogger(t))
	_, err := reg.Open(context.Background(), uuid.New(), uuid.New(), models.RoleStudent, "Ana")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClose_RecordsDurationAndAllowsRejoin(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	m := newMeeting(t, store, models.MeetingLive)
	student := uuid.New()

	joined := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return joined }
	s, err := reg.Open(context.Background(), m.ID, student, models.RoleStudent, "Ana")
	require.NoError(t, err)

	reg.now = func() time.Time { return joined.Add(90 * time.Second) }
	closed, err := reg.Close(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionLeft, closed.Status)
	require.NotNil(t, closed.LeftAt)
	assert.Equal(t, int64(90), closed.TotalDuration)

	// closing twice leaves the first close intact
	reg.now = func() time.Time { return joined.Add(time.Hour) }
	again, err := reg.Close(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), again.TotalDuration)

	_, err = reg.ActiveFor(context.Background(), m.ID, student)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	rejoined, err := reg.Open(context.Background(), m.ID, student, models.RoleStudent, "Ana")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, rejoined.ID)
}

func TestRemove_SetsRemovedStatus(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	m := newMeeting(t, store, models.MeetingLive)

	s, err := reg.Open(context.Background(), m.ID, uuid.New(), models.RoleStudent, "Ana")
	require.NoError(t, err)
	removed, err := reg.Remove(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionRemoved, removed.Status)
}

func TestCloseAllForMeeting_And_Summarize(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	m := newMeeting(t, store, models.MeetingLive)
	ctx := context.Background()

	a, err := reg.Open(ctx, m.ID, uuid.New(), models.RoleStudent, "Ana")
	require.NoError(t, err)
	_, err = reg.Open(ctx, m.ID, uuid.New(), models.RoleStudent, "Ben")
	require.NoError(t, err)
	_, err = reg.Open(ctx, m.ID, m.TutorID, models.RoleTutor, "Tutor")
	require.NoError(t, err)
	_, err = reg.Close(ctx, a.ID)
	require.NoError(t, err)

	sum, err := reg.Summarize(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Total)
	assert.Equal(t, 2, sum.JoinedCount)
	assert.Equal(t, 1, sum.LeftCount)

	n, err := reg.CloseAllForMeeting(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := reg.ListActive(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestOpen_InvalidRole(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	m := newMeeting(t, store, models.MeetingLive)
	_, err := reg.Open(context.Background(), m.ID, uuid.New(), models.Role("admin"), "x")
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestClose_EvictsButRemoveLeavesItToCaller(t *testing.T) {
	store := memstore.New()
	reg := NewRegistry(store, zaptest.NewLogger(t))
	notes := &realtimetest.Recorder{}
	reg.SetEvictor(notes)
	m := newMeeting(t, store, models.MeetingLive)
	ctx := context.Background()

	leaver, err := reg.Open(ctx, m.ID, uuid.New(), models.RoleStudent, "Ana")
	require.NoError(t, err)
	kicked, err := reg.Open(ctx, m.ID, uuid.New(), models.RoleStudent, "Ben")
	require.NoError(t, err)

	_, err = reg.Close(ctx, leaver.ID)
	require.NoError(t, err)
	_, err = reg.Remove(ctx, kicked.ID)
	require.NoError(t, err)

	assert.Equal(t, []realtimetest.Eviction{{MeetingID: m.ID, ParticipantID: leaver.ParticipantID}}, notes.Evictions())

	_, err = reg.Close(ctx, uuid.New())
	assert.Error(t, err)
	assert.Len(t, notes.Evictions(), 1)
}
