// Package hub turns inbound channel frames into roster changes and relayed
// envelopes.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"edurelay/internal/logger"
	"edurelay/internal/metrics"
	"edurelay/internal/presence"
	"edurelay/internal/relay"
	"edurelay/internal/roster"
	"edurelay/pkg/types"
)

const (
	eventTimeout    = 5 * time.Second
	cleanupInterval = time.Minute
)

// Hub implements interfaces.EventSink. Frames are handled on the calling
// connection's read goroutine, so events from one connection are applied in
// the order they arrived while different connections proceed in parallel.
type Hub struct {
	roster   *roster.Roster
	relay    *relay.Relay
	presence *presence.Synchronizer
	limiter  *relay.RateLimiter
	metrics  *metrics.Metrics

	shutdownChannel chan struct{}
	wg              sync.WaitGroup
	running         bool
	mu              sync.RWMutex
}

func NewHub(rs *roster.Roster, rl *relay.Relay, ps *presence.Synchronizer, limiter *relay.RateLimiter, m *metrics.Metrics) *Hub {
	return &Hub{
		roster:   rs,
		relay:    rl,
		presence: ps,
		limiter:  limiter,
		metrics:  m,
	}
}

// Start begins accepting events and runs periodic housekeeping until Stop
// or ctx is done.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})

	h.wg.Add(1)
	go h.run(ctx, h.shutdownChannel)

	logger.Info("hub started")
	return nil
}

// Stop rejects further events and waits for housekeeping to exit.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)
	h.mu.Unlock()

	h.wg.Wait()
	logger.Info("hub stopped")
	return nil
}

func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown chan struct{}) {
	defer h.wg.Done()

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := h.limiter.Cleanup(); n > 0 {
				logger.Debug("rate limiter cleanup", zap.Int("removed", n))
			}
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Connected greets a new connection with its own handle.
func (h *Hub) Connected(handle types.Handle) {
	h.relay.Welcome(handle)
}

// Disconnected runs the presence teardown for handle. It runs whether or
// not the hub is accepting events.
func (h *Hub) Disconnected(handle types.Handle) {
	h.presence.Disconnect(handle)
	h.limiter.Forget(handle)
}

// Dispatch decodes and applies one inbound frame. Failures are logged and
// otherwise ignored, except for join-room which answers with an error
// envelope.
func (h *Hub) Dispatch(handle types.Handle, frame []byte) {
	if !h.IsRunning() {
		logger.Debug("event dropped, hub not running", zap.String("handle", string(handle)))
		return
	}
	if !h.limiter.Allow(handle) {
		h.metrics.RateLimited()
		logger.Warn("event dropped", zap.String("handle", string(handle)), zap.Error(ErrRateLimited))
		return
	}

	var in types.InboundEvent
	if err := json.Unmarshal(frame, &in); err != nil {
		logger.Debug("undecodable frame", zap.String("handle", string(handle)), zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := h.handleEvent(ctx, handle, &in); err != nil {
		logger.Debug("event rejected",
			zap.String("handle", string(handle)),
			zap.String("type", in.Type),
			zap.Error(err))
	}
}

type validator interface {
	Validate() error
}

func decode(data json.RawMessage, v validator) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", types.ErrInvalidEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidEvent, err)
	}
	return v.Validate()
}

func (h *Hub) handleEvent(ctx context.Context, handle types.Handle, in *types.InboundEvent) error {
	switch in.Type {
	case types.EventJoinRoom:
		var ev types.JoinRoomEvent
		if err := json.Unmarshal(in.Data, &ev); err != nil && len(in.Data) > 0 {
			h.relay.SendError(handle, "", "malformed join-room event")
			return fmt.Errorf("%w: %v", types.ErrInvalidEvent, err)
		}
		ev.UserType = types.ParseRole(string(ev.UserType))
		return h.joinRoom(ctx, handle, &ev)

	case types.EventLeaveRoom:
		var ev types.LeaveRoomEvent
		if err := decode(in.Data, &ev); err != nil {
			return err
		}
		return h.leaveRoom(ctx, handle, &ev)

	case types.EventOffer, types.EventAnswer, types.EventICECandidate:
		var ev types.SignalEvent
		if err := decode(in.Data, &ev); err != nil {
			return err
		}
		h.relay.Signal(in.Type, handle, &ev)
		return nil

	case types.EventScreenShareStart, types.EventScreenShareStop:
		var ev types.ScreenShareEvent
		if err := decode(in.Data, &ev); err != nil {
			return err
		}
		h.relay.ScreenShare(in.Type, handle, &ev)
		return nil

	case types.EventChatMessage:
		var ev types.ChatMessageEvent
		if err := decode(in.Data, &ev); err != nil {
			return err
		}
		h.relay.Chat(handle, &ev)
		return nil

	case types.EventRemoveParticipant:
		var ev types.RemoveParticipantEvent
		if err := decode(in.Data, &ev); err != nil {
			return err
		}
		return h.removeParticipant(handle, &ev)

	default:
		return fmt.Errorf("%w: %q", types.ErrUnknownEvent, in.Type)
	}
}

// joinRoom adds the user if needed, binds this connection, tells the room
// and sends the joiner the current participant list.
func (h *Hub) joinRoom(ctx context.Context, handle types.Handle, ev *types.JoinRoomEvent) error {
	ev.UserID = roster.NormalizeID(ev.UserID)
	if err := ev.Validate(); err != nil {
		h.relay.SendError(handle, ev.RoomID, err.Error())
		return err
	}

	if _, _, err := h.roster.Join(ctx, ev.RoomID, ev.UserID, ev.UserName, ev.UserType); err != nil {
		h.relay.SendError(handle, ev.RoomID, joinErrorMessage(err))
		return err
	}

	p, ok := h.roster.Bind(ev.RoomID, ev.UserID, handle)
	if !ok {
		// Removed or discarded between Join and Bind.
		h.relay.SendError(handle, ev.RoomID, "participant is no longer in the room")
		return types.ErrParticipantNotFound
	}

	h.relay.NotifyJoined(p, handle)
	h.relay.SendParticipants(handle, ev.RoomID, h.roster.Snapshot(ev.RoomID))

	logger.Info("participant bound",
		zap.String("room_id", ev.RoomID),
		zap.String("user_id", ev.UserID),
		zap.String("handle", string(handle)))
	return nil
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, types.ErrRoomNotFound):
		return "room not found"
	case errors.Is(err, types.ErrRoomInactive):
		return "room is inactive"
	case errors.Is(err, types.ErrInvalidParticipant):
		return "invalid participant"
	default:
		return "unable to join room"
	}
}

// leaveRoom removes the participant. A participant bound to some other
// connection cannot be made to leave from this one.
func (h *Hub) leaveRoom(ctx context.Context, handle types.Handle, ev *types.LeaveRoomEvent) error {
	ev.UserID = roster.NormalizeID(ev.UserID)
	current, ok := h.roster.Get(ev.RoomID, ev.UserID)
	if !ok {
		return types.ErrParticipantNotFound
	}
	if current.Bound() && *current.Handle != handle {
		return ErrNotBoundToSender
	}

	h.roster.Unbind(ev.RoomID, ev.UserID)
	p, err := h.roster.Leave(ctx, ev.RoomID, ev.UserID)
	if err != nil {
		return err
	}
	h.relay.NotifyLeft(*p, handle)
	return nil
}

// removeParticipant relays a moderator's removal notice. The target handle
// must be bound to a participant of the same room.
func (h *Hub) removeParticipant(handle types.Handle, ev *types.RemoveParticipantEvent) error {
	if !h.roster.CanModerate(ev.RoomID, handle) {
		return types.ErrForbidden
	}
	target, ok := h.roster.BoundTo(ev.RoomID, ev.TargetHandle)
	if !ok {
		return types.ErrParticipantNotFound
	}
	h.relay.NotifyRemoval(relay.Removal{
		RoomID:          ev.RoomID,
		Target:          ev.TargetHandle,
		By:              handle,
		Participant:     &target,
		ParticipantInfo: ev.ParticipantInfo,
		RemoverInfo:     ev.RemoverInfo,
	})
	return nil
}
