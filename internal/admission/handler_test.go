package admission

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/middleware/middlewaretest"
	"github.com/aura-classroom/backend/internal/models"
)

func (f *fixture) routes() *gin.Engine {
	h := NewHandler(f.ctrl)
	r, api := middlewaretest.NewEngine()
	api.GET("/join-requests/:id", h.GetJoin)
	api.PUT("/join-requests/:id", h.RespondJoin)
	api.POST("/meetings/:id/lock-requests", h.RequestLock)
	api.PUT("/lock-requests/:id", h.RespondLock)
	return r
}

func TestHandler_RespondJoin(t *testing.T) {
	f := newFixture(t)
	r := f.routes()
	req, err := f.ctrl.RequestJoin(context.Background(), f.meeting.ID, f.student)
	require.NoError(t, err)
	path := "/join-requests/" + req.ID.String()
	approve := RespondRequest{Status: "approved"}

	other := models.Identity{UserID: uuid.New(), Role: models.RoleTutor, DisplayName: "Other"}
	code, body := middlewaretest.Do(t, r, http.MethodPut, path, other, approve)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, apperr.ReasonNotOwner, body.Code)

	code, _ = middlewaretest.Do(t, r, http.MethodPut, path, f.student, approve)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = middlewaretest.Do(t, r, http.MethodPut, "/join-requests/"+uuid.NewString(), f.tutor, approve)
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = middlewaretest.Do(t, r, http.MethodPut, path, f.tutor, RespondRequest{Status: "maybe"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = middlewaretest.Do(t, r, http.MethodPut, path, f.tutor, approve)
	assert.Equal(t, http.StatusOK, code)
	data := body.Data.(map[string]interface{})
	assert.Equal(t, "APPROVED", data["request"].(map[string]interface{})["status"])
	assert.NotNil(t, data["session"])

	code, body = middlewaretest.Do(t, r, http.MethodPut, path, f.tutor, RespondRequest{Status: "REJECTED"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, apperr.ReasonAlreadyResolved, body.Code)
}

func TestHandler_GetJoinVisibility(t *testing.T) {
	f := newFixture(t)
	r := f.routes()
	req, err := f.ctrl.RequestJoin(context.Background(), f.meeting.ID, f.student)
	require.NoError(t, err)

	code, _ := middlewaretest.Do(t, r, http.MethodGet, "/join-requests/"+req.ID.String(), f.student, nil)
	assert.Equal(t, http.StatusOK, code)

	stranger := models.Identity{UserID: uuid.New(), Role: models.RoleStudent, DisplayName: "Stranger"}
	code, _ = middlewaretest.Do(t, r, http.MethodGet, "/join-requests/"+req.ID.String(), stranger, nil)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = middlewaretest.Do(t, r, http.MethodGet, "/join-requests/"+uuid.NewString(), f.tutor, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestHandler_LockRequestRoundTrip(t *testing.T) {
	f := newFixture(t)
	r := f.routes()

	code, _ := middlewaretest.Do(t, r, http.MethodPost, "/meetings/"+f.meeting.ID.String()+"/lock-requests", f.student, LockRequestBody{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := middlewaretest.Do(t, r, http.MethodPost, "/meetings/"+f.meeting.ID.String()+"/lock-requests", f.student, LockRequestBody{Reason: " noise "})
	require.Equal(t, http.StatusCreated, code)
	lockID := body.Data.(map[string]interface{})["id"].(string)

	code, _ = middlewaretest.Do(t, r, http.MethodPut, "/lock-requests/"+uuid.NewString(), f.tutor, RespondRequest{Status: "APPROVED"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = middlewaretest.Do(t, r, http.MethodPut, "/lock-requests/"+lockID, f.student, RespondRequest{Status: "APPROVED"})
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = middlewaretest.Do(t, r, http.MethodPut, "/lock-requests/"+lockID, f.tutor, RespondRequest{Status: "APPROVED", TutorResponse: "done"})
	assert.Equal(t, http.StatusOK, code)

	m, err := f.store.GetMeeting(context.Background(), f.meeting.ID)
	require.NoError(t, err)
	assert.True(t, m.IsLocked)
}
