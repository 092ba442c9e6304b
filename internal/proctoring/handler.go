package proctoring

import (
	"context"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/sessions"
	"github.com/aura-classroom/backend/pkg/response"
	"github.com/aura-classroom/backend/pkg/storage"
)

// Handler handles alert and risk HTTP endpoints.
type Handler struct {
	engine *Engine
	owners sessions.Owners
}

// NewHandler creates a proctoring handler.
func NewHandler(engine *Engine, owners sessions.Owners) *Handler {
	return &Handler{engine: engine, owners: owners}
}

// session loads the :id session and checks the caller is its participant, or the owner when ownerAllowed.
func (h *Handler) session(c *gin.Context, ownerAllowed bool) (*models.ParticipantSession, bool) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	ctx := c.Request.Context()
	s, err := h.engine.store.GetSession(ctx, sessionID)
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	caller := c.MustGet(middleware.ContextIdentity).(models.Identity)
	if ownerAllowed {
		err = sessions.CanView(ctx, h.owners, s, caller)
	} else if s.ParticipantID != caller.UserID {
		err = apperr.Forbidden("", "not your session")
	}
	if err != nil {
		response.Error(c, err)
		return nil, false
	}
	return s, true
}

// IngestAlert handles POST /sessions/:id/alerts. MANUAL_FLAG is reserved for the meeting owner.
func (h *Handler) IngestAlert(c *gin.Context) {
	s, ok := h.session(c, true)
	if !ok {
		return
	}
	var in AlertInput
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	caller := c.MustGet(middleware.ContextIdentity).(models.Identity)
	if in.AlertType == models.AlertManualFlag && caller.UserID == s.ParticipantID {
		response.Forbidden(c, "manual flags are raised by the tutor")
		return
	}
	alert, snap, err := h.engine.Ingest(c.Request.Context(), s.ID, in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"alert": alert, "risk": snap})
}

// AnalyzeFrame handles POST /sessions/:id/analyze-frame (session participant).
func (h *Handler) AnalyzeFrame(c *gin.Context) {
	s, ok := h.session(c, false)
	if !ok {
		return
	}
	var f Frame
	if err := c.ShouldBindJSON(&f); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	out, err := h.engine.AnalyzeFrame(c.Request.Context(), s.ID, f)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, out)
}

// FrameCheck handles POST /sessions/:id/frame-check with a multipart "file".
// With ?async=true the frame is queued for the worker and 202 is returned.
func (h *Handler) FrameCheck(c *gin.Context) {
	s, ok := h.session(c, false)
	if !ok {
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if file.Size > MaxFrameSize {
		response.BadRequest(c, "frame too large")
		return
	}
	contentType := file.Header.Get("Content-Type")
	if contentType != "" && !storage.ValidateFrameType(contentType) {
		response.BadRequest(c, "unsupported frame type")
		return
	}
	f, err := file.Open()
	if err != nil {
		response.BadRequest(c, "failed to read file")
		return
	}
	defer f.Close()
	image, err := io.ReadAll(io.LimitReader(f, MaxFrameSize+1))
	if err != nil {
		response.BadRequest(c, "failed to read file")
		return
	}

	ctx := c.Request.Context()
	if c.Query("async") == "true" {
		key, err := h.engine.EnqueueFrameCheck(ctx, s.ID, image, contentType)
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Accepted(c, gin.H{"queued": true, "object_key": key})
		return
	}
	check, err := h.engine.CheckFrame(ctx, s.ID, image, file.Filename)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, check)
}

// Risk handles GET /sessions/:id/risk.
func (h *Handler) Risk(c *gin.Context) {
	s, ok := h.session(c, true)
	if !ok {
		return
	}
	response.OK(c, s.Snapshot())
}

func (h *Handler) ownedMeeting(c *gin.Context) (context.Context, uuid.UUID, bool) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return nil, uuid.Nil, false
	}
	ctx := c.Request.Context()
	if _, err := h.owners.RequireOwner(ctx, meetingID, c.MustGet(middleware.ContextIdentity).(models.Identity)); err != nil {
		response.Error(c, err)
		return nil, uuid.Nil, false
	}
	return ctx, meetingID, true
}

// ListAlerts handles GET /meetings/:id/alerts (owner), optionally filtered by ?participant_id.
func (h *Handler) ListAlerts(c *gin.Context) {
	ctx, meetingID, ok := h.ownedMeeting(c)
	if !ok {
		return
	}
	var participantID *uuid.UUID
	if raw := c.Query("participant_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid participant id")
			return
		}
		participantID = &id
	}
	list, err := h.engine.ListAlerts(ctx, meetingID, participantID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// LiveAlerts handles GET /meetings/:id/alerts/live (owner).
func (h *Handler) LiveAlerts(c *gin.Context) {
	ctx, meetingID, ok := h.ownedMeeting(c)
	if !ok {
		return
	}
	list, err := h.engine.LiveAlerts(ctx, meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Stats handles GET /meetings/:id/proctoring/stats (owner).
func (h *Handler) Stats(c *gin.Context) {
	ctx, meetingID, ok := h.ownedMeeting(c)
	if !ok {
		return
	}
	st, err := h.engine.MeetingStats(ctx, meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, st)
}
