package types

import (
	"encoding/json"
	"time"
)

// Role identifies what kind of user a participant is.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Handle is the opaque identifier of one live WebSocket connection.
// Handles are generated by the connection registry and never reused.
type Handle string

// Creator records who created a room.
type Creator struct {
	UserID string `json:"userId"`
	Role   Role   `json:"role"`
}

// Room is a named, creator-owned space in which participants meet.
// Rooms are soft-deleted: a deactivated room stays addressable so callers can
// tell an inactive room apart from one that never existed.
type Room struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject,omitempty"`
	Chapter   string    `json:"chapter,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	CreatedBy Creator   `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	Active    bool      `json:"isActive"`
}

// Participant is a user's membership record in one room.
// Handle is nil while the participant has no live connection bound.
type Participant struct {
	RoomID   string    `json:"roomId"`
	UserID   string    `json:"userId"`
	Name     string    `json:"userName"`
	Role     Role      `json:"userType"`
	JoinedAt time.Time `json:"joinedAt"`
	Handle   *Handle   `json:"handle"`
	LastSeen time.Time `json:"-"`
}

// Bound reports whether the participant currently has a connection bound.
func (p *Participant) Bound() bool {
	return p.Handle != nil
}

// Clone returns a deep copy safe to hand out of a locked section.
func (p *Participant) Clone() Participant {
	c := *p
	if p.Handle != nil {
		h := *p.Handle
		c.Handle = &h
	}
	return c
}

// Channel event names accepted from clients.
const (
	EventJoinRoom          = "join-room"
	EventLeaveRoom         = "leave-room"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice-candidate"
	EventScreenShareStart  = "screen-share-start"
	EventScreenShareStop   = "screen-share-stop"
	EventChatMessage       = "chat-message"
	EventRemoveParticipant = "remove-participant"
)

// Channel event names emitted by the server.
const (
	EventConnected               = "connected"
	EventParticipantJoined       = "participant-joined"
	EventParticipantsList        = "participants-list"
	EventParticipantLeft         = "participant-left"
	EventParticipantDisconnected = "participant-disconnected"
	EventRemovedFromRoom         = "removed-from-room"
	EventParticipantRemoved      = "participant-removed"
	EventError                   = "error"
)

// InboundEvent is the tagged frame every client message arrives in.
// Data is decoded into the variant named by Type.
type InboundEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// JoinRoomEvent asks to join a room and bind the sending connection to it.
type JoinRoomEvent struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserType Role   `json:"userType"`
}

// LeaveRoomEvent asks to leave a room.
type LeaveRoomEvent struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// SignalEvent carries an offer, answer or ICE candidate. The payload is
// opaque and forwarded verbatim.
type SignalEvent struct {
	RoomID       string          `json:"roomId,omitempty"`
	TargetHandle Handle          `json:"targetHandle,omitempty"`
	Payload      json.RawMessage `json:"payload"`
	SenderInfo   json.RawMessage `json:"senderInfo,omitempty"`
}

// ScreenShareEvent announces the start or stop of a screen share.
type ScreenShareEvent struct {
	RoomID     string          `json:"roomId"`
	SharerInfo json.RawMessage `json:"sharerInfo,omitempty"`
}

// ChatMessageEvent is a chat line sent to everyone else in the room.
type ChatMessageEvent struct {
	RoomID     string          `json:"roomId"`
	Message    json.RawMessage `json:"message"`
	SenderInfo json.RawMessage `json:"senderInfo,omitempty"`
}

// RemoveParticipantEvent asks the server to tell a participant it was removed.
type RemoveParticipantEvent struct {
	RoomID          string          `json:"roomId"`
	TargetHandle    Handle          `json:"targetHandle"`
	ParticipantInfo json.RawMessage `json:"participantInfo,omitempty"`
	RemoverInfo     json.RawMessage `json:"removerInfo,omitempty"`
}

// Envelope is the single outbound frame shape. Payload and Sender are
// forwarded exactly as the originating client sent them.
type Envelope struct {
	Type         string          `json:"type"`
	RoomID       string          `json:"roomId,omitempty"`
	From         Handle          `json:"from,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Sender       json.RawMessage `json:"sender,omitempty"`
	Participant  *Participant    `json:"participant,omitempty"`
	Participants []Participant   `json:"participants,omitempty"`
	Message      string          `json:"message,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Journal event names.
const (
	JournalRoomCreated        = "room_created"
	JournalRoomDeactivated    = "room_deactivated"
	JournalParticipantJoined  = "participant_joined"
	JournalParticipantLeft    = "participant_left"
	JournalParticipantRemoved = "participant_removed"
	JournalParticipantPruned  = "participant_pruned"
)

// JournalEntry is one line of a room's lifecycle history. Entries are written
// for audit only and are never used to rebuild state.
type JournalEntry struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Event     string    `json:"event"`
	UserID    string    `json:"userId,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
