package realtime

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/metrics"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// Conn is one connected identity on a meeting's real-time channel.
type Conn interface {
	ID() string
	UserID() uuid.UUID
	Role() models.Role
	// Waiting reports a student still awaiting admission. Only participant-scoped messages reach it.
	Waiting() bool
	// Deliver queues msg without blocking; false means the message was dropped.
	Deliver(msg WSMessage) bool
	// Evict ends the connection once the messages already queued for it are written.
	Evict()
}

// Scope selects the recipients of a delivery.
type Scope string

const (
	ScopeAll         Scope = "all"
	ScopePrivileged  Scope = "privileged"
	ScopeParticipant Scope = "participant"
)

// Audience is who a message is for.
type Audience struct {
	Scope         Scope     `json:"scope"`
	ParticipantID uuid.UUID `json:"participant_id,omitempty"`
}

func (a Audience) includes(c Conn) bool {
	switch a.Scope {
	case ScopeAll:
		return !c.Waiting()
	case ScopePrivileged:
		return !c.Waiting() && c.Role().IsPrivileged()
	case ScopeParticipant:
		return c.UserID() == a.ParticipantID
	}
	return false
}

// Publisher forwards a delivery to other server instances.
type Publisher interface {
	PublishMeetingEvent(meetingID uuid.UUID, payload []byte) error
}

// Subscriber receives deliveries published by other instances for one meeting.
type Subscriber interface {
	SubscribeMeeting(meetingID uuid.UUID, handler func(payload []byte)) (cancel func(), err error)
}

// Notifier is the delivery surface the domain services depend on.
type Notifier interface {
	NotifyPrivileged(meetingID uuid.UUID, msg Message)
	NotifyParticipant(meetingID, participantID uuid.UUID, msg Message)
	Broadcast(meetingID uuid.UUID, msg Message)
	// Evict drops every live connection the participant holds in the meeting.
	Evict(meetingID, participantID uuid.UUID)
}

var _ Notifier = (*Router)(nil)

// PresenceHandler is called after a connection joins or leaves a meeting.
type PresenceHandler func(meetingID uuid.UUID, c Conn, connected bool)

// room is the live membership of one meeting. It has its own lock so meetings never contend.
type room struct {
	mu      sync.RWMutex
	members map[string]Conn
	cancel  func()
}

func (r *room) recipients(a Audience) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Conn, 0, len(r.members))
	for _, c := range r.members {
		if a.includes(c) {
			out = append(out, c)
		}
	}
	return out
}

// Router keeps per-meeting membership and delivers tagged messages to the intended recipients.
// Delivery is best-effort: no retry, no queueing for absent recipients.
type Router struct {
	instanceID string
	mu         sync.RWMutex // guards the rooms map only
	rooms      map[uuid.UUID]*room
	pub        Publisher
	sub        Subscriber
	onPresence PresenceHandler
	logger     *zap.Logger
}

// NewRouter creates a router. pub and sub may be nil for single-instance deployments.
func NewRouter(logger *zap.Logger, pub Publisher, sub Subscriber) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		instanceID: uuid.NewString(),
		rooms:      make(map[uuid.UUID]*room),
		pub:        pub,
		sub:        sub,
		logger:     logger,
	}
}

// SetPresenceHandler sets the callback for connect/disconnect events.
func (r *Router) SetPresenceHandler(fn PresenceHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onPresence = fn
}

func (r *Router) room(meetingID uuid.UUID) *room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[meetingID]
}

// Connect adds c to the meeting's room, creating the room on first connect.
func (r *Router) Connect(meetingID uuid.UUID, c Conn) {
	r.mu.Lock()
	rm := r.rooms[meetingID]
	if rm == nil {
		rm = &room{members: make(map[string]Conn)}
		r.rooms[meetingID] = rm
		if r.sub != nil {
			cancel, err := r.sub.SubscribeMeeting(meetingID, func(payload []byte) {
				r.deliverRemote(meetingID, payload)
			})
			if err != nil {
				r.logger.Warn("meeting subscribe failed", zap.String("meeting_id", meetingID.String()), zap.Error(err))
			} else {
				rm.cancel = cancel
			}
		}
	}
	rm.mu.Lock()
	rm.members[c.ID()] = c
	rm.mu.Unlock()
	onPresence := r.onPresence
	r.mu.Unlock()

	metrics.Connections.Inc()
	if onPresence != nil {
		onPresence(meetingID, c, true)
	}
	r.logger.Debug("connection joined meeting",
		zap.String("conn_id", c.ID()),
		zap.String("meeting_id", meetingID.String()),
		zap.String("role", string(c.Role())))
}

// Disconnect removes c. The room is dropped when its last connection leaves.
func (r *Router) Disconnect(meetingID uuid.UUID, c Conn) {
	r.mu.Lock()
	rm := r.rooms[meetingID]
	if rm == nil {
		r.mu.Unlock()
		return
	}
	rm.mu.Lock()
	_, present := rm.members[c.ID()]
	delete(rm.members, c.ID())
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if empty {
		delete(r.rooms, meetingID)
		if rm.cancel != nil {
			rm.cancel()
		}
	}
	onPresence := r.onPresence
	r.mu.Unlock()

	if !present {
		return
	}
	metrics.Connections.Dec()
	if onPresence != nil {
		onPresence(meetingID, c, false)
	}
	r.logger.Debug("connection left meeting", zap.String("conn_id", c.ID()), zap.String("meeting_id", meetingID.String()))
}

// NotifyPrivileged delivers msg to connected tutors only. No tutors means the message is dropped.
func (r *Router) NotifyPrivileged(meetingID uuid.UUID, msg Message) {
	r.dispatch(meetingID, Audience{Scope: ScopePrivileged}, msg)
}

// NotifyParticipant delivers msg to every connection of one participant.
func (r *Router) NotifyParticipant(meetingID, participantID uuid.UUID, msg Message) {
	r.dispatch(meetingID, Audience{Scope: ScopeParticipant, ParticipantID: participantID}, msg)
}

// Broadcast delivers msg to every connected identity regardless of role.
func (r *Router) Broadcast(meetingID uuid.UUID, msg Message) {
	r.dispatch(meetingID, Audience{Scope: ScopeAll}, msg)
}

// SendToConn delivers msg to a single connection (e.g. an error for the originating socket).
func (r *Router) SendToConn(c Conn, msg Message) {
	wire, err := Encode(msg)
	if err != nil {
		r.logger.Warn("encode message", zap.String("kind", string(msg.Kind())), zap.Error(err))
		return
	}
	if !c.Deliver(wire) {
		metrics.MessagesDropped.WithLabelValues(string(msg.Kind()), "buffer_full").Inc()
	}
}

// Evict drops the participant's connections on every instance. Messages queued before the call are still written.
func (r *Router) Evict(meetingID, participantID uuid.UUID) {
	a := Audience{Scope: ScopeParticipant, ParticipantID: participantID}
	n := r.evictLocal(meetingID, a)
	r.publish(meetingID, remotePayload{Origin: r.instanceID, Audience: a, Evict: true})
	r.logger.Debug("participant evicted",
		zap.String("meeting_id", meetingID.String()),
		zap.String("participant_id", participantID.String()),
		zap.Int("local_connections", n))
}

func (r *Router) evictLocal(meetingID uuid.UUID, a Audience) int {
	rm := r.room(meetingID)
	if rm == nil {
		return 0
	}
	targets := rm.recipients(a)
	for _, c := range targets {
		c.Evict()
		r.Disconnect(meetingID, c)
	}
	return len(targets)
}

// remotePayload is the cross-instance form of a delivery or an eviction.
type remotePayload struct {
	Origin   string    `json:"origin"`
	Audience Audience  `json:"audience"`
	Message  WSMessage `json:"message"`
	Evict    bool      `json:"evict,omitempty"`
}

func (r *Router) dispatch(meetingID uuid.UUID, a Audience, msg Message) {
	wire, err := Encode(msg)
	if err != nil {
		r.logger.Warn("encode message", zap.String("kind", string(msg.Kind())), zap.Error(err))
		return
	}
	r.deliverLocal(meetingID, a, wire)
	r.publish(meetingID, remotePayload{Origin: r.instanceID, Audience: a, Message: wire})
}

func (r *Router) publish(meetingID uuid.UUID, p remotePayload) {
	if r.pub == nil {
		return
	}
	body, err := json.Marshal(p)
	if err == nil {
		err = r.pub.PublishMeetingEvent(meetingID, body)
	}
	if err != nil {
		r.logger.Warn("publish meeting event", zap.String("meeting_id", meetingID.String()), zap.Error(err))
	}
}

func (r *Router) deliverRemote(meetingID uuid.UUID, payload []byte) {
	var p remotePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		r.logger.Debug("invalid remote payload", zap.Error(err))
		return
	}
	if p.Origin == r.instanceID {
		return
	}
	if p.Evict {
		r.evictLocal(meetingID, p.Audience)
		return
	}
	r.deliverLocal(meetingID, p.Audience, p.Message)
}

func (r *Router) deliverLocal(meetingID uuid.UUID, a Audience, wire WSMessage) int {
	rm := r.room(meetingID)
	if rm == nil {
		metrics.MessagesDropped.WithLabelValues(string(wire.Kind), "no_recipients").Inc()
		return 0
	}
	targets := rm.recipients(a)
	if len(targets) == 0 {
		metrics.MessagesDropped.WithLabelValues(string(wire.Kind), "no_recipients").Inc()
		return 0
	}
	delivered := 0
	for _, c := range targets {
		if c.Deliver(wire) {
			delivered++
			continue
		}
		metrics.MessagesDropped.WithLabelValues(string(wire.Kind), "buffer_full").Inc()
	}
	metrics.MessagesDelivered.WithLabelValues(string(wire.Kind), string(a.Scope)).Add(float64(delivered))
	return delivered
}

// PrivilegedCount returns the number of connected tutors in a meeting on this instance.
func (r *Router) PrivilegedCount(meetingID uuid.UUID) int {
	rm := r.room(meetingID)
	if rm == nil {
		return 0
	}
	return len(rm.recipients(Audience{Scope: ScopePrivileged}))
}

// ConnectionCount returns the number of connections in a meeting on this instance.
func (r *Router) ConnectionCount(meetingID uuid.UUID) int {
	rm := r.room(meetingID)
	if rm == nil {
		return 0
	}
	rm.mu.RLock()
	defer rm.mu.RUnlock()
	return len(rm.members)
}

// IsConnected reports whether participantID has at least one connection in the meeting.
func (r *Router) IsConnected(meetingID, participantID uuid.UUID) bool {
	rm := r.room(meetingID)
	if rm == nil {
		return false
	}
	return len(rm.recipients(Audience{Scope: ScopeParticipant, ParticipantID: participantID})) > 0
}

// MeetingCount returns the number of meetings with at least one connection.
func (r *Router) MeetingCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
