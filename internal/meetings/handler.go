package meetings

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// CreateRequest is the body for POST /meetings.
type CreateRequest struct {
	Title           string     `json:"title" binding:"required"`
	Description     string     `json:"description"`
	ScheduledAt     *time.Time `json:"scheduled_at"`
	RequireApproval bool       `json:"require_approval"`
}

// JoinByCodeRequest is the body for POST /meetings/join-by-code.
type JoinByCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// KickRequest is the body for POST /meetings/:id/kick.
type KickRequest struct {
	ParticipantID uuid.UUID `json:"participant_id" binding:"required"`
	Reason        string    `json:"reason"`
}

// Handler handles meeting HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a meetings handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func caller(c *gin.Context) models.Identity {
	return c.MustGet(middleware.ContextIdentity).(models.Identity)
}

// Create handles POST /meetings (tutor).
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	m, err := h.svc.Create(c.Request.Context(), caller(c), CreateParams{
		Title:           req.Title,
		Description:     req.Description,
		ScheduledAt:     req.ScheduledAt,
		RequireApproval: req.RequireApproval,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, m)
}

// ListMine handles GET /meetings (tutor).
func (h *Handler) ListMine(c *gin.Context) {
	list, err := h.svc.ListMine(c.Request.Context(), caller(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Get handles GET /meetings/:id.
func (h *Handler) Get(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	m, err := h.svc.Get(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// Snapshot handles GET /meetings/:id/snapshot.
func (h *Handler) Snapshot(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	snap, err := h.svc.Snapshot(c.Request.Context(), meetingID, caller(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, snap)
}

// Start handles POST /meetings/:id/start (owner).
func (h *Handler) Start(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	m, err := h.svc.Start(c.Request.Context(), meetingID, caller(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// End handles POST /meetings/:id/end (owner).
func (h *Handler) End(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	m, err := h.svc.End(c.Request.Context(), meetingID, caller(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// Lock handles POST /meetings/:id/lock (owner).
func (h *Handler) Lock(c *gin.Context) { h.setLocked(c, true) }

// Unlock handles POST /meetings/:id/unlock (owner).
func (h *Handler) Unlock(c *gin.Context) { h.setLocked(c, false) }

func (h *Handler) setLocked(c *gin.Context, locked bool) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	m, err := h.svc.SetLocked(c.Request.Context(), meetingID, caller(c), locked)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, m)
}

// Join handles POST /meetings/:id/join. A gated meeting answers 202 with the pending join request.
func (h *Handler) Join(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	res, err := h.svc.Join(c.Request.Context(), meetingID, caller(c))
	writeJoin(c, res, err)
}

// JoinByCode handles POST /meetings/join-by-code.
func (h *Handler) JoinByCode(c *gin.Context) {
	var req JoinByCodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	res, err := h.svc.JoinByCode(c.Request.Context(), req.Code, caller(c))
	writeJoin(c, res, err)
}

func writeJoin(c *gin.Context, res *JoinResult, err error) {
	if err != nil {
		response.Error(c, err)
		return
	}
	if res.Pending {
		response.Accepted(c, res)
		return
	}
	response.OK(c, res)
}

// Kick handles POST /meetings/:id/kick (owner).
func (h *Handler) Kick(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	var req KickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	s, err := h.svc.Kick(c.Request.Context(), meetingID, caller(c), req.ParticipantID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}
