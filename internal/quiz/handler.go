package quiz

import (
	"context"
	"errors"

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

// Presence finds a participant's open session.
type Presence interface {
	ActiveFor(ctx context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error)
}

// AnswerRequest is the body for POST /quizzes/:id/answers.
type AnswerRequest struct {
	Answer         string `json:"answer" binding:"required"`
	ResponseTimeMs int64  `json:"response_time_ms"`
}

// ActiveView is the live question with the seconds left to answer.
type ActiveView struct {
	Quiz             *models.Quiz `json:"quiz"`
	RemainingSeconds int          `json:"remaining_seconds"`
}

// Handler handles quiz HTTP endpoints. The real-time channel carries the same operations.
type Handler struct {
	orch     *Orchestrator
	owners   Owners
	presence Presence
}

// NewHandler creates a quiz handler.
func NewHandler(orch *Orchestrator, owners Owners, presence Presence) *Handler {
	return &Handler{orch: orch, owners: owners, presence: presence}
}

func identity(c *gin.Context) models.Identity {
	return c.MustGet(middleware.ContextIdentity).(models.Identity)
}

// Send handles POST /meetings/:id/quizzes (owner).
func (h *Handler) Send(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.owners.RequireOwner(ctx, meetingID, identity(c)); err != nil {
		response.Error(c, err)
		return
	}
	var in Question
	if err := c.ShouldBindJSON(&in); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	q, err := h.orch.SendQuestion(ctx, meetingID, identity(c), in)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, q)
}

// List handles GET /meetings/:id/quizzes (owner).
func (h *Handler) List(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	ctx := c.Request.Context()
	if _, err := h.owners.RequireOwner(ctx, meetingID, identity(c)); err != nil {
		response.Error(c, err)
		return
	}
	list, err := h.orch.List(ctx, meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, list)
}

// Active handles GET /meetings/:id/quizzes/active. Data is null when no quiz is running.
func (h *Handler) Active(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	q, err := h.orch.Active(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if q == nil {
		response.OK(c, nil)
		return
	}
	response.OK(c, ActiveView{Quiz: q, RemainingSeconds: int(q.Remaining(h.orch.now()).Seconds())})
}

// Leaderboard handles GET /meetings/:id/leaderboard.
func (h *Handler) Leaderboard(c *gin.Context) {
	meetingID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid meeting id")
		return
	}
	board, err := h.orch.Leaderboard(c.Request.Context(), meetingID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, board)
}

// Results handles GET /quizzes/:id/results (owner).
func (h *Handler) Results(c *gin.Context) {
	quizID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid quiz id")
		return
	}
	ctx := c.Request.Context()
	q, err := h.orch.Get(ctx, quizID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.owners.RequireOwner(ctx, q.MeetingID, identity(c)); err != nil {
		response.Error(c, err)
		return
	}
	res, err := h.orch.Results(ctx, quizID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, res)
}

// Answer handles POST /quizzes/:id/answers (student with an open session in the quiz's meeting).
func (h *Handler) Answer(c *gin.Context) {
	quizID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid quiz id")
		return
	}
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()
	q, err := h.orch.Get(ctx, quizID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.presence.ActiveFor(ctx, q.MeetingID, identity(c).UserID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			err = apperr.Forbidden("", "no open session in this meeting")
		}
		response.Error(c, err)
		return
	}
	r, count, err := h.orch.SubmitAnswer(ctx, identity(c), Submission{
		QuizID:         quizID,
		Answer:         req.Answer,
		ResponseTimeMs: req.ResponseTimeMs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, gin.H{"response": r, "response_count": count})
}

// End handles POST /quizzes/:id/end (owner).
func (h *Handler) End(c *gin.Context) {
	quizID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid quiz id")
		return
	}
	ctx := c.Request.Context()
	q, err := h.orch.Get(ctx, quizID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.owners.RequireOwner(ctx, q.MeetingID, identity(c)); err != nil {
		response.Error(c, err)
		return
	}
	q, err = h.orch.EndQuiz(ctx, quizID, identity(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, q)
}
