package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aura-classroom/backend/internal/apperr"
	"github.com/aura-classroom/backend/internal/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// Inbound event names.
const (
	EventJoinRoom     = "join-room"
	EventSendQuestion = "send-question"
	EventSubmitAnswer = "submit-answer"
	EventEndQuiz      = "end-quiz"
	EventPing         = "ping"
)

// Access is how much of a meeting's traffic a connection may see.
type Access int

const (
	AccessNone Access = iota
	// AccessFull connections receive everything addressed to their role.
	AccessFull
	// AccessWaiting connections belong to students awaiting a decision and receive only messages addressed to them.
	AccessWaiting
)

// Dispatcher handles inbound events for connections.
type Dispatcher interface {
	// Authorize decides whether the identity may open a connection to the meeting, and with what access.
	Authorize(ctx context.Context, meetingID uuid.UUID, id models.Identity) (Access, error)
	// OnConnect runs after the connection is registered with the router.
	OnConnect(ctx context.Context, p Peer)
	// HandleEvent processes one inbound event. A returned error is sent to this connection only.
	HandleEvent(ctx context.Context, p Peer, event string, data json.RawMessage) error
}

// Peer is the connection a Dispatcher acts on.
type Peer interface {
	Conn
	Meeting() uuid.UUID
	Identity() models.Identity
	Reply(msg Message)
}

// TokenValidator turns a bearer token into the caller identity.
type TokenValidator func(token string) (models.Identity, error)

// Limits bounds per-connection inbound traffic.
type Limits struct {
	EventsPerSecond float64
	Burst           int
	SendBuffer      int
}

func (l Limits) withDefaults() Limits {
	if l.EventsPerSecond <= 0 {
		l.EventsPerSecond = 20
	}
	if l.Burst <= 0 {
		l.Burst = 40
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = 256
	}
	return l
}

// Client represents a single WebSocket connection in a meeting.
type Client struct {
	id          string
	MeetingID   uuid.UUID
	identity    models.Identity
	access      Access
	ConnectedAt time.Time
	router      *Router
	dispatcher  Dispatcher
	conn        *websocket.Conn
	send        chan WSMessage
	limiter     *rate.Limiter
	logger      *zap.Logger

	evictOnce sync.Once
	evicted   chan struct{}
}

func (c *Client) ID() string                { return c.id }
func (c *Client) Meeting() uuid.UUID        { return c.MeetingID }
func (c *Client) UserID() uuid.UUID         { return c.identity.UserID }
func (c *Client) Role() models.Role         { return c.identity.Role }
func (c *Client) DisplayName() string       { return c.identity.DisplayName }
func (c *Client) Identity() models.Identity { return c.identity }
func (c *Client) Waiting() bool             { return c.access == AccessWaiting }

// Deliver queues msg for the write pump. A full buffer or an evicted connection drops the message.
func (c *Client) Deliver(msg WSMessage) bool {
	select {
	case <-c.evicted:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Evict asks the write pump to flush what is queued and close the socket.
func (c *Client) Evict() {
	c.evictOnce.Do(func() { close(c.evicted) })
}

// Reply sends msg to this connection only.
func (c *Client) Reply(msg Message) {
	c.router.SendToConn(c, msg)
}

// ServeWs handles the WebSocket upgrade and runs the client loop.
func ServeWs(router *Router, dispatcher Dispatcher, validate TokenValidator, limits Limits, logger *zap.Logger) gin.HandlerFunc {
	limits = limits.withDefaults()
	return func(c *gin.Context) {
		meetingIDStr := c.Query("meeting_id")
		token := c.Query("token")
		if meetingIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "meeting_id and token required"})
			return
		}
		meetingID, err := uuid.Parse(meetingIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid meeting_id"})
			return
		}
		identity, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"success": false, "error": "invalid token"})
			return
		}
		access, err := dispatcher.Authorize(c.Request.Context(), meetingID, identity)
		if err != nil {
			status := http.StatusForbidden
			if apperr.KindOf(err) == apperr.KindNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"success": false, "error": err.Error()})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		client := &Client{
			id:          uuid.NewString(),
			MeetingID:   meetingID,
			identity:    identity,
			access:      access,
			ConnectedAt: time.Now(),
			router:      router,
			dispatcher:  dispatcher,
			conn:        conn,
			send:        make(chan WSMessage, limits.SendBuffer),
			limiter:     rate.NewLimiter(rate.Limit(limits.EventsPerSecond), limits.Burst),
			logger:      logger,
			evicted:     make(chan struct{}),
		}
		ctx, cancel := context.WithCancel(c.Request.Context())
		router.Connect(meetingID, client)
		go client.writePump()
		dispatcher.OnConnect(ctx, client)
		client.readPump(ctx, cancel)
	}
}

// readPump owns ctx: it is cancelled when the socket stops reading.
func (c *Client) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer func() {
		cancel()
		c.router.Disconnect(c.MeetingID, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				c.logger.Debug("websocket read ended", zap.String("conn_id", c.id), zap.Error(err))
			}
			break
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		if !c.limiter.Allow() {
			c.Reply(ErrorMessage{Event: msg.Event, Code: "RateLimited", Message: "too many events"})
			continue
		}
		if err := c.dispatcher.HandleEvent(ctx, c, msg.Event, msg.Data); err != nil {
			c.Reply(ErrorFor(msg.Event, err))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.evicted:
			c.flush()
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "removed from meeting"))
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// flush writes whatever is still queued without waiting for more.
func (c *Client) flush() {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

// ErrorFor builds the error event for a failed inbound event.
func ErrorFor(event string, err error) ErrorMessage {
	code := string(apperr.KindOf(err))
	if code == "" {
		code = "Internal"
	}
	return ErrorMessage{Event: event, Code: code, Reason: apperr.ReasonOf(err), Message: err.Error()}
}
