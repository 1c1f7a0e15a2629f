package protocol

import "errors"

// Decode errors, reported back to the sender as protocol errors
var (
	ErrMalformedFrame   = errors.New("malformed frame: expected a JSON object")
	ErrMissingType      = errors.New("missing event type")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMissingRoomID    = errors.New("missing room id")
	ErrInvalidEvent     = errors.New("invalid event field")
	ErrUnknownOutbound  = errors.New("unknown outbound event type")
)
