// Package realtimetest provides a recording Notifier for service tests.
package realtimetest

import (
	"sync"

	"github.com/google/uuid"

	"github.com/aura-classroom/backend/internal/realtime"
)

// Delivery is one recorded notification.
type Delivery struct {
	MeetingID uuid.UUID
	Audience  realtime.Audience
	Message   realtime.Message
}

// Recorder records every notification it is asked to deliver.
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	evictions  []Eviction
}

// Eviction is one recorded request to drop a participant's connections.
type Eviction struct {
	MeetingID     uuid.UUID
	ParticipantID uuid.UUID
}

func (r *Recorder) record(d Delivery) {
	r.mu.Lock()
	r.deliveries = append(r.deliveries, d)
	r.mu.Unlock()
}

func (r *Recorder) NotifyPrivileged(meetingID uuid.UUID, msg realtime.Message) {
	r.record(Delivery{MeetingID: meetingID, Audience: realtime.Audience{Scope: realtime.ScopePrivileged}, Message: msg})
}

func (r *Recorder) NotifyParticipant(meetingID, participantID uuid.UUID, msg realtime.Message) {
	r.record(Delivery{MeetingID: meetingID, Audience: realtime.Audience{Scope: realtime.ScopeParticipant, ParticipantID: participantID}, Message: msg})
}

func (r *Recorder) Broadcast(meetingID uuid.UUID, msg realtime.Message) {
	r.record(Delivery{MeetingID: meetingID, Audience: realtime.Audience{Scope: realtime.ScopeAll}, Message: msg})
}

func (r *Recorder) Evict(meetingID, participantID uuid.UUID) {
	r.mu.Lock()
	r.evictions = append(r.evictions, Eviction{MeetingID: meetingID, ParticipantID: participantID})
	r.mu.Unlock()
}

// Evictions returns a copy of every recorded eviction in order.
func (r *Recorder) Evictions() []Eviction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Eviction, len(r.evictions))
	copy(out, r.evictions)
	return out
}

// All returns a copy of every recorded delivery in order.
func (r *Recorder) All() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// OfKind returns the recorded deliveries of one kind.
func (r *Recorder) OfKind(kind realtime.Kind) []Delivery {
	var out []Delivery
	for _, d := range r.All() {
		if d.Message.Kind() == kind {
			out = append(out, d)
		}
	}
	return out
}

// Reset forgets all deliveries.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.deliveries = nil
	r.evictions = nil
	r.mu.Unlock()
}

var _ realtime.Notifier = (*Recorder)(nil)
