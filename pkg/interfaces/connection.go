package interfaces

import "liveclass/pkg/protocol"

// Connection is one live client session as seen by the coordinator
// Implementations must make Send non-blocking and safe for concurrent use:
// it is called from other connections' read loops while a room is locked
type Connection interface {
	// ID returns the connection id assigned by the registry
	ID() string

	// SetID is called exactly once by the registry at registration time
	SetID(id string)

	// UserID returns the verified user id, empty until authenticated
	UserID() string

	// Send queues a pre-encoded frame for delivery. Droppable frames may be
	// discarded under backpressure; others are queued or the connection is
	// closed as a slow consumer
	Send(f protocol.Frame) error

	// Close closes the connection; safe to call more than once
	Close() error
}
