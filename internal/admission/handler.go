package admission

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// RespondRequest is the body for PUT /join-requests/:id and PUT /lock-requests/:id.
type RespondRequest struct {
	Status        string `json:"status" binding:"required"`
	TutorResponse string `json:"tutor_response"`
}

// LockRequestBody is the body for POST /meetings/:id/lock-requests.
type LockRequestBody struct {
	Reason string `json:"reason" binding:"required"`
}

// Handler handles join and lock request HTTP endpoints.
type Handler struct {
	ctrl *Controller
}

// NewHandler creates an admission handler.
func NewHandler(ctrl *Controller) *Handler {
	return &Handler{ctrl: ctrl}
}

func identity(c *gin.Context) models.Identity {
	return c.MustGet(middleware.ContextIdentity).(models.Identity)
}

// RequestJoin handles POST /meetings/:id/join-requests (student).
func (h *Handler) RequestJoin(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	req, err := h.ctrl.RequestJoin(c.Request.Context(), meetingID, identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// ListJoins handles GET /meetings/:id/join-requests (owner).
func (h *Handler) ListJoins(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	list, err := h.ctrl.ListPendingJoins(c.Request.Context(), meetingID, identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// GetJoin handles GET /join-requests/:id.
func (h *Handler) GetJoin(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}
	req, err := h.ctrl.GetJoinRequest(c.Request.Context(), requestID, identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, req)
}

// RespondJoin handles PUT /join-requests/:id (owner).
func (h *Handler) RespondJoin(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}
	var body RespondRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status := models.RequestStatus(strings.ToUpper(body.Status))
	decision, err := h.ctrl.RespondToJoin(c.Request.Context(), requestID, status, identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, decision)
}

// RequestLock handles POST /meetings/:id/lock-requests (student).
func (h *Handler) RequestLock(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	var body LockRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	req, err := h.ctrl.RequestLock(c.Request.Context(), meetingID, identity(c), strings.TrimSpace(body.Reason))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, req)
}

// ListLocks handles GET /meetings/:id/lock-requests (owner).
func (h *Handler) ListLocks(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	list, err := h.ctrl.ListPendingLocks(c.Request.Context(), meetingID, identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// RespondLock handles PUT /lock-requests/:id (owner).
func (h *Handler) RespondLock(c *gin.Context) {
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid request id")
		return
	}
	var body RespondRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	status := models.RequestStatus(strings.ToUpper(body.Status))
	req, err := h.ctrl.RespondToLock(c.Request.Context(), requestID, status, body.TutorResponse, identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, req)
}
