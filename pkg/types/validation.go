package types

import (
	"fmt"
	"strings"
)

const (
	MaxIDLength   = 128
	MaxNameLength = 200
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// ParseRole normalises user supplied role text.
func ParseRole(s string) Role {
	return Role(strings.ToLower(strings.TrimSpace(s)))
}

// CheckLength returns ErrFieldTooLong when value exceeds max bytes.
func CheckLength(field, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%s: %w", field, ErrFieldTooLong)
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, fmt.Sprintf(format, args...))
}

// Validate checks the fields needed to join and bind.
func (e *JoinRoomEvent) Validate() error {
	if e.RoomID == "" {
		return invalid("roomId is required")
	}
	if e.UserID == "" {
		return invalid("userId is required")
	}
	if !e.UserType.Valid() {
		return invalid("userType must be student or teacher")
	}
	if len(e.RoomID) > MaxIDLength || len(e.UserID) > MaxIDLength || len(e.UserName) > MaxNameLength {
		return invalid("field too long")
	}
	return nil
}

func (e *LeaveRoomEvent) Validate() error {
	if e.RoomID == "" || e.UserID == "" {
		return invalid("roomId and userId are required")
	}
	return nil
}

// Validate requires a payload and somewhere to send it. A signal with a
// target handle is delivered to that handle only; otherwise it is broadcast
// to the room.
func (e *SignalEvent) Validate() error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return invalid("payload is required")
	}
	if e.TargetHandle == "" && e.RoomID == "" {
		return invalid("roomId or targetHandle is required")
	}
	return nil
}

func (e *ScreenShareEvent) Validate() error {
	if e.RoomID == "" {
		return invalid("roomId is required")
	}
	return nil
}

func (e *ChatMessageEvent) Validate() error {
	if e.RoomID == "" {
		return invalid("roomId is required")
	}
	if len(e.Message) == 0 {
		return invalid("message is required")
	}
	return nil
}

func (e *RemoveParticipantEvent) Validate() error {
	if e.RoomID == "" || e.TargetHandle == "" {
		return invalid("roomId and targetHandle are required")
	}
	return nil
}
