// Package relay addresses outbound frames to connections: one handle, or
// every live handle bound in a room.
package relay

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/pkg/interfaces"
	"edurelay/pkg/types"
)

// Resolver turns a handle into its live connection.
type Resolver interface {
	Lookup(handle types.Handle) (interfaces.Connection, bool)
}

// Members exposes a room's participants under the room's lock.
type Members interface {
	WithRoom(roomID string, fn func(participants []types.Participant)) bool
}

// Relay delivers envelopes without ever blocking on a slow receiver: every
// delivery is a non-blocking enqueue onto the receiver's own queue.
type Relay struct {
	resolver Resolver
	members  Members
	metrics  *metrics.Metrics
	now      func() time.Time
}

func New(resolver Resolver, members Members, m *metrics.Metrics) *Relay {
	return &Relay{
		resolver: resolver,
		members:  members,
		metrics:  m,
		now:      time.Now,
	}
}

func (r *Relay) encode(env *types.Envelope) ([]byte, bool) {
	if env.Timestamp.IsZero() {
		env.Timestamp = r.now().UTC()
	}
	frame, err := json.Marshal(env)
	if err != nil {
		logger.Error("failed to encode envelope", zap.String("type", env.Type), zap.Error(err))
		return nil, false
	}
	return frame, true
}

// SendTo delivers env to one handle. A handle that is not live is dropped
// silently and SendTo returns false.
func (r *Relay) SendTo(handle types.Handle, env *types.Envelope) bool {
	if handle == "" {
		return false
	}
	conn, ok := r.resolver.Lookup(handle)
	if !ok {
		logger.Debug("targeted delivery dropped", zap.String("type", env.Type), zap.String("handle", string(handle)))
		return false
	}
	frame, ok := r.encode(env)
	if !ok {
		return false
	}
	if !conn.Enqueue(frame) {
		return false
	}
	r.metrics.Relayed(env.Type, 1)
	return true
}

// BroadcastRoom delivers env to every distinct live handle bound in the
// room except sender and any handle in exclude. Recipients are resolved and
// enqueued while the room lock is held, so the set cannot change midway.
// It returns the number of deliveries.
func (r *Relay) BroadcastRoom(roomID string, sender types.Handle, env *types.Envelope, exclude ...types.Handle) int {
	frame, ok := r.encode(env)
	if !ok {
		return 0
	}

	skip := make(map[types.Handle]bool, len(exclude)+1)
	if sender != "" {
		skip[sender] = true
	}
	for _, h := range exclude {
		skip[h] = true
	}

	delivered := 0
	r.members.WithRoom(roomID, func(participants []types.Participant) {
		for _, p := range participants {
			if !p.Bound() || skip[*p.Handle] {
				continue
			}
			skip[*p.Handle] = true
			conn, live := r.resolver.Lookup(*p.Handle)
			if !live {
				continue
			}
			if conn.Enqueue(frame) {
				delivered++
			}
		}
	})

	r.metrics.Relayed(env.Type, delivered)
	return delivered
}

// Signal forwards an offer, answer or ICE candidate. With a target handle
// it goes to that handle only; otherwise to the rest of the room.
func (r *Relay) Signal(kind string, from types.Handle, ev *types.SignalEvent) int {
	env := &types.Envelope{
		Type:    kind,
		RoomID:  ev.RoomID,
		From:    from,
		Payload: ev.Payload,
		Sender:  ev.SenderInfo,
	}
	if ev.TargetHandle != "" {
		if r.SendTo(ev.TargetHandle, env) {
			return 1
		}
		return 0
	}
	return r.BroadcastRoom(ev.RoomID, from, env)
}

func (r *Relay) ScreenShare(kind string, from types.Handle, ev *types.ScreenShareEvent) int {
	return r.BroadcastRoom(ev.RoomID, from, &types.Envelope{
		Type:   kind,
		RoomID: ev.RoomID,
		From:   from,
		Sender: ev.SharerInfo,
	})
}

// Chat forwards a chat line stamped with the server's clock.
func (r *Relay) Chat(from types.Handle, ev *types.ChatMessageEvent) int {
	return r.BroadcastRoom(ev.RoomID, from, &types.Envelope{
		Type:      types.EventChatMessage,
		RoomID:    ev.RoomID,
		From:      from,
		Payload:   ev.Message,
		Sender:    ev.SenderInfo,
		Timestamp: r.now().UTC(),
	})
}

func (r *Relay) NotifyJoined(p types.Participant, from types.Handle) int {
	return r.BroadcastRoom(p.RoomID, from, &types.Envelope{
		Type:        types.EventParticipantJoined,
		RoomID:      p.RoomID,
		From:        from,
		Participant: &p,
	})
}

func (r *Relay) NotifyLeft(p types.Participant, from types.Handle) int {
	return r.BroadcastRoom(p.RoomID, from, &types.Envelope{
		Type:        types.EventParticipantLeft,
		RoomID:      p.RoomID,
		From:        from,
		Participant: &p,
	})
}

// NotifyDisconnected tells the room that p's connection is gone. p carries
// the handle that was cleared.
func (r *Relay) NotifyDisconnected(p types.Participant) int {
	var from types.Handle
	if p.Bound() {
		from = *p.Handle
	}
	notice := p
	notice.Handle = nil
	return r.BroadcastRoom(p.RoomID, from, &types.Envelope{
		Type:        types.EventParticipantDisconnected,
		RoomID:      p.RoomID,
		From:        from,
		Participant: &notice,
	})
}

// Removal describes one participant being removed from a room.
type Removal struct {
	RoomID string
	// Target is the removed participant's connection, if known.
	Target types.Handle
	// By is the remover's connection, if the removal came over a channel.
	By              types.Handle
	Participant     *types.Participant
	ParticipantInfo json.RawMessage
	RemoverInfo     json.RawMessage
}

// NotifyRemoval sends removed-from-room to the target, then
// participant-removed to the rest of the room. It reports whether the
// target was reached.
func (r *Relay) NotifyRemoval(rm Removal) bool {
	reached := false
	if rm.Target != "" {
		reached = r.SendTo(rm.Target, &types.Envelope{
			Type:        types.EventRemovedFromRoom,
			RoomID:      rm.RoomID,
			From:        rm.By,
			Payload:     rm.ParticipantInfo,
			Sender:      rm.RemoverInfo,
			Participant: rm.Participant,
		})
	}
	r.BroadcastRoom(rm.RoomID, rm.By, &types.Envelope{
		Type:        types.EventParticipantRemoved,
		RoomID:      rm.RoomID,
		From:        rm.By,
		Payload:     rm.ParticipantInfo,
		Sender:      rm.RemoverInfo,
		Participant: rm.Participant,
	}, rm.Target)
	return reached
}

func (r *Relay) SendParticipants(handle types.Handle, roomID string, participants []types.Participant) bool {
	if participants == nil {
		participants = []types.Participant{}
	}
	return r.SendTo(handle, &types.Envelope{
		Type:         types.EventParticipantsList,
		RoomID:       roomID,
		Participants: participants,
	})
}

func (r *Relay) SendError(handle types.Handle, roomID, message string) bool {
	return r.SendTo(handle, &types.Envelope{
		Type:    types.EventError,
		RoomID:  roomID,
		Message: message,
	})
}

// Welcome tells a new connection its own handle.
func (r *Relay) Welcome(handle types.Handle) bool {
	return r.SendTo(handle, &types.Envelope{
		Type: types.EventConnected,
		From: handle,
	})
}
