package websocket

import "errors"

// Connection-related errors
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrFrameDropped     = errors.New("frame dropped: outbound queue at soft limit")
	ErrSlowConsumer     = errors.New("outbound queue at hard limit")
)

// Registry-related errors
var (
	ErrNilConnection    = errors.New("connection cannot be nil")
	ErrCapacityExceeded = errors.New("connection capacity exceeded")
)

// Handler-related errors
var (
	ErrMissingIdentity = errors.New("missing user identity")
	ErrInvalidIdentity = errors.New("invalid user identity")
)
