package interfaces

import "edurelay/pkg/types"

// Connection is one live client channel as seen by the registry and relay.
type Connection interface {
	// Enqueue hands an encoded frame to the connection's writer. It never
	// blocks; it returns false once the connection is closed.
	Enqueue(frame []byte) bool

	// Close stops the writer and releases the underlying socket.
	Close() error
}

// EventSink receives the lifecycle and inbound frames of every connection.
// The WebSocket handler calls Connected once, Dispatch for each frame in
// arrival order, and Disconnected once when the read loop ends.
type EventSink interface {
	Connected(handle types.Handle)
	Dispatch(handle types.Handle, frame []byte)
	Disconnected(handle types.Handle)
}
