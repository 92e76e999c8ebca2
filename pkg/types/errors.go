package types

import "errors"

// Domain errors shared by the room store, roster and request surface.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomInactive        = errors.New("room is inactive")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrForbidden           = errors.New("requester is not allowed to perform this action")
	ErrInvalidRoom         = errors.New("room requires creator id, creator role and name")
	ErrInvalidParticipant  = errors.New("participant requires user id and a student or teacher role")
	ErrInvalidEvent        = errors.New("invalid channel event")
	ErrUnknownEvent        = errors.New("unknown channel event type")
	ErrFieldTooLong        = errors.New("field exceeds maximum length")
)
