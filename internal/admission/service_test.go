package admission

import (
	"context"
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
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/internal/store/memstore"
)

type fixture struct {
	store    *memstore.Store
	registry *sessions.Registry
	notes    *realtimetest.Recorder
	ctrl     *Controller
	meeting  *models.Meeting
	tutor    models.Identity
	student  models.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	tutor := models.Identity{UserID: uuid.New(), Role: models.RoleTutor, DisplayName: "Tutor"}
	m := &models.Meeting{
		ID:              uuid.New(),
		Title:           "Physics",
		Status:          models.MeetingLive,
		RequireApproval: true,
		RoomName:        "meeting-physics",
		JoinCode:        "PHYS01",
		TutorID:         tutor.UserID,
		CreatedAt:       time.Now().UTC(),
	}
	require.NoError(t, store.CreateMeeting(context.Background(), m))

	notes := &realtimetest.Recorder{}
	registry := sessions.NewRegistry(store, zaptest.NewLogger(t))
	return &fixture{
		store:    store,
		registry: registry,
		notes:    notes,
		ctrl:     NewController(store, registry, notes, zaptest.NewLogger(t)),
		meeting:  m,
		tutor:    tutor,
		student:  models.Identity{UserID: uuid.New(), Role: models.RoleStudent, DisplayName: "Ana"},
	}
}

func TestRequestJoin_ReturnsExistingPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)
	second, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, models.RequestPending, first.Status)

	requested := f.notes.OfKind(realtime.KindJoinRequested)
	require.Len(t, requested, 1)
	assert.Equal(t, realtime.ScopePrivileged, requested[0].Audience.Scope)
}

func TestRequestJoin_OnlyStudents(t *testing.T) {
	f := newFixture(t)
	_, err := f.ctrl.RequestJoin(context.Background(), f.meeting.ID, f.tutor)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}

func TestRespondToJoin_ApproveOpensSessionAndNotifiesStudent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)

	decision, err := f.ctrl.RespondToJoin(ctx, req.ID, models.RequestApproved, f.tutor)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, decision.Request.Status)
	require.NotNil(t, decision.Request.RespondedAt)
	require.NotNil(t, decision.Session)
	assert.Equal(t, f.student.UserID, decision.Session.ParticipantID)

	active, err := f.registry.ActiveFor(ctx, f.meeting.ID, f.student.UserID)
	require.NoError(t, err)
	assert.Equal(t, decision.Session.ID, active.ID)

	resolved := f.notes.OfKind(realtime.KindJoinResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, realtime.ScopeParticipant, resolved[0].Audience.Scope)
	assert.Equal(t, f.student.UserID, resolved[0].Audience.ParticipantID)
	msg := resolved[0].Message.(realtime.JoinResolved)
	require.NotNil(t, msg.SessionID)
	assert.Equal(t, decision.Session.ID, *msg.SessionID)
}

func TestRespondToJoin_Reject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)
	decision, err := f.ctrl.RespondToJoin(ctx, req.ID, models.RequestRejected, f.tutor)
	require.NoError(t, err)
	assert.Nil(t, decision.Session)

	_, err = f.registry.ActiveFor(ctx, f.meeting.ID, f.student.UserID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Len(t, f.notes.OfKind(realtime.KindJoinResolved), 1)
}

// endedOpener behaves as if the meeting ended between the owner check and the open.
type endedOpener struct{ *sessions.Registry }

func (endedOpener) Open(context.Context, uuid.UUID, uuid.UUID, models.Role, string) (*models.ParticipantSession, error) {
	return nil, apperr.InvalidState(apperr.ReasonMeetingEnded, "meeting has ended")
}

func TestRespondToJoin_FailedOpenLeavesRequestPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ctrl := NewController(f.store, endedOpener{f.registry}, f.notes, zaptest.NewLogger(t))

	req, err := ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)

	_, err = ctrl.RespondToJoin(ctx, req.ID, models.RequestApproved, f.tutor)
	assert.ErrorIs(t, err, apperr.ErrInvalidState)

	stored, err := f.store.GetJoinRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, stored.Status)
	assert.Nil(t, stored.RespondedAt)
	assert.Empty(t, f.notes.OfKind(realtime.KindJoinResolved))

	// the tutor can still settle it
	decision, err := ctrl.RespondToJoin(ctx, req.ID, models.RequestRejected, f.tutor)
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, decision.Request.Status)
	resolved := f.notes.OfKind(realtime.KindJoinResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, models.RequestRejected, resolved[0].Message.(realtime.JoinResolved).Status)
}

// racedOpener lets another decision land while the session is being opened.
type racedOpener struct {
	*sessions.Registry
	store *memstore.Store
}

func (r racedOpener) Open(ctx context.Context, meetingID, participantID uuid.UUID, role models.Role, name string) (*models.ParticipantSession, error) {
	pending, err := r.store.FindPendingJoinRequest(ctx, meetingID, participantID)
	if err != nil {
		return nil, err
	}
	if _, err := r.store.ResolveJoinRequest(ctx, pending.ID, models.RequestRejected, time.Now().UTC()); err != nil {
		return nil, err
	}
	return r.Registry.Open(ctx, meetingID, participantID, role, name)
}

func TestRespondToJoin_LostRaceClosesOpenedSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ctrl := NewController(f.store, racedOpener{Registry: f.registry, store: f.store}, f.notes, zaptest.NewLogger(t))

	req, err := ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)

	_, err = ctrl.RespondToJoin(ctx, req.ID, models.RequestApproved, f.tutor)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	_, err = f.registry.ActiveFor(ctx, f.meeting.ID, f.student.UserID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Empty(t, f.notes.OfKind(realtime.KindJoinResolved))
}

func TestRespondToJoin_SecondResponseIsAlreadyResolved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)
	_, err = f.ctrl.RespondToJoin(ctx, req.ID, models.RequestApproved, f.tutor)
	require.NoError(t, err)

	_, err = f.ctrl.RespondToJoin(ctx, req.ID, models.RequestRejected, f.tutor)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)

	stored, err := f.store.GetJoinRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, stored.Status)
}

func TestRespondToJoin_ConcurrentResponsesResolveOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := models.RequestApproved
			if i%2 == 1 {
				status = models.RequestRejected
			}
			_, err := f.ctrl.RespondToJoin(ctx, req.ID, status, f.tutor)
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case assert.ErrorIs(t, err, apperr.ErrAlreadyResolved):
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), conflicts)
	assert.Len(t, f.notes.OfKind(realtime.KindJoinResolved), 1)
}

func TestRespondToJoin_NonOwnerForbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)

	other := models.Identity{UserID: uuid.New(), Role: models.RoleTutor}
	_, err = f.ctrl.RespondToJoin(ctx, req.ID, models.RequestApproved, other)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, apperr.ReasonNotOwner, apperr.ReasonOf(err))

	_, err = f.ctrl.RespondToJoin(ctx, req.ID, models.RequestPending, f.tutor)
	assert.ErrorIs(t, err, apperr.ErrInvalid)
}

func TestRespondToLock_ApproveLocksMeeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ctrl.RequestLock(ctx, f.meeting.ID, f.student, "noisy room")
	require.NoError(t, err)
	assert.Len(t, f.notes.OfKind(realtime.KindLockRequested), 1)

	pending, err := f.ctrl.ListPendingLocks(ctx, f.meeting.ID, f.tutor)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	resolved, err := f.ctrl.RespondToLock(ctx, req.ID, models.RequestApproved, "ok", f.tutor)
	require.NoError(t, err)
	assert.Equal(t, "ok", resolved.TutorResponse)

	m, err := f.store.GetMeeting(ctx, f.meeting.ID)
	require.NoError(t, err)
	assert.True(t, m.IsLocked)

	changed := f.notes.OfKind(realtime.KindMeetingLockChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, realtime.ScopeAll, changed[0].Audience.Scope)
	assert.Len(t, f.notes.OfKind(realtime.KindLockResolved), 1)

	_, err = f.ctrl.RespondToLock(ctx, req.ID, models.RequestRejected, "", f.tutor)
	assert.ErrorIs(t, err, apperr.ErrAlreadyResolved)
}

func TestGetJoinRequest_Visibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req, err := f.ctrl.RequestJoin(ctx, f.meeting.ID, f.student)
	require.NoError(t, err)

	_, err = f.ctrl.GetJoinRequest(ctx, req.ID, f.student)
	assert.NoError(t, err)
	_, err = f.ctrl.GetJoinRequest(ctx, req.ID, f.tutor)
	assert.NoError(t, err)

	stranger := models.Identity{UserID: uuid.New(), Role: models.RoleStudent}
	_, err = f.ctrl.GetJoinRequest(ctx, req.ID, stranger)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
}
