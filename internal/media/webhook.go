package media

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

const maxWebhookBody = 1 << 20

// Provider webhook events.
const (
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
	EventRoomFinished      = "room_finished"
)

// WebhookEvent is the provider's webhook body.
type WebhookEvent struct {
	Event string `json:"event"`
	Room  struct {
		Name string `json:"name"`
	} `json:"room"`
	Participant struct {
		Identity string `json:"identity"`
		Name     string `json:"name"`
	} `json:"participant"`
}

type webhookClaims struct {
	SHA256 string `json:"sha256"`
	jwt.RegisteredClaims
}

// SessionCloser closes a participant's presence when the provider reports they left.
type SessionCloser interface {
	ActiveFor(ctx context.Context, meetingID, participantID uuid.UUID) (*models.ParticipantSession, error)
	Close(ctx context.Context, sessionID uuid.UUID) (*models.ParticipantSession, error)
}

// WebhookHandler handles POST /webhooks/media.
type WebhookHandler struct {
	cfg      Config
	sessions SessionCloser
	logger   *zap.Logger
}

// NewWebhookHandler creates a webhook handler.
func NewWebhookHandler(cfg Config, sessions SessionCloser, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{cfg: cfg, sessions: sessions, logger: logger}
}

// Verify checks that the Authorization token was signed with the API secret and carries the body's hash.
func (h *WebhookHandler) Verify(authHeader string, body []byte) error {
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return errors.New("missing authorization")
	}
	claims := &webhookClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(h.cfg.APISecret), nil
	}, jwt.WithIssuer(h.cfg.APIKey))
	if err != nil {
		return err
	}
	sum := sha256.Sum256(body)
	if claims.SHA256 != base64.StdEncoding.EncodeToString(sum[:]) {
		return errors.New("body hash mismatch")
	}
	return nil
}

// Handle processes a webhook. Unknown events and rooms are acknowledged and ignored.
func (h *WebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if err := h.Verify(c.GetHeader("Authorization"), body); err != nil {
		h.logger.Warn("rejected media webhook", zap.Error(err))
		response.Unauthorized(c, "invalid webhook signature")
		return
	}
	var ev WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		response.BadRequest(c, "invalid webhook body")
		return
	}

	if ev.Event != EventParticipantLeft {
		response.OK(c, gin.H{"handled": false})
		return
	}
	meetingID, ok := MeetingIDFromRoom(ev.Room.Name)
	participantID, err := uuid.Parse(ev.Participant.Identity)
	if !ok || err != nil {
		response.OK(c, gin.H{"handled": false})
		return
	}

	ctx := c.Request.Context()
	s, err := h.sessions.ActiveFor(ctx, meetingID, participantID)
	if errors.Is(err, apperr.ErrNotFound) {
		response.OK(c, gin.H{"handled": false})
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	if _, err := h.sessions.Close(ctx, s.ID); err != nil {
		response.Error(c, err)
		return
	}
	h.logger.Info("session closed by media provider",
		zap.String("meeting_id", meetingID.String()),
		zap.String("participant_id", participantID.String()))
	response.OK(c, gin.H{"handled": true})
}
