package sessions

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// Owners checks meeting ownership.
type Owners interface {
	RequireOwner(ctx context.Context, meetingID uuid.UUID, caller models.Identity) (*models.Meeting, error)
}

// Handler handles participant session HTTP endpoints.
type Handler struct {
	registry *Registry
	owners   Owners
}

// NewHandler creates a sessions handler.
func NewHandler(registry *Registry, owners Owners) *Handler {
	return &Handler{registry: registry, owners: owners}
}

// Participants handles GET /meetings/:id/participants (owner).
func (h *Handler) Participants(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.owners.RequireOwner(ctx, meetingID, c.MustGet(middleware.ContextIdentity).(models.Identity)); err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.registry.ListActive(ctx, meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Summary handles GET /meetings/:id/participants/summary (owner).
func (h *Handler) Summary(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.owners.RequireOwner(ctx, meetingID, c.MustGet(middleware.ContextIdentity).(models.Identity)); err != nil {
		response.Error(c, err)
		return
	}
	sum, err := h.registry.Summarize(ctx, meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, sum)
}

// Leave handles POST /meetings/:id/leave: the caller closes their own session.
func (h *Handler) Leave(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	ctx := c.Request.Context()
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	active, err := h.registry.ActiveFor(ctx, meetingID, userID)
	if err != nil {
		response.Error(c, err)
		return
	}
	s, err := h.registry.Close(ctx, active.ID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// Get handles GET /sessions/:id for the session's participant or the meeting owner.
func (h *Handler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	ctx := c.Request.Context()
	s, err := h.registry.Get(ctx, sessionID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if err := CanView(ctx, h.owners, s, c.MustGet(middleware.ContextIdentity).(models.Identity)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, s)
}

// CanView allows the session's own participant and the meeting owner.
func CanView(ctx context.Context, owners Owners, s *models.ParticipantSession, caller models.Identity) error {
	if s.ParticipantID == caller.UserID {
		return nil
	}
	if caller.Role != models.RoleTutor {
		return apperr.Forbidden("", "not your session")
	}
	_, err := owners.RequireOwner(ctx, s.MeetingID, caller)
	return err
}
