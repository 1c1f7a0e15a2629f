package bus

import "errors"

var (
	ErrNoAddress = errors.New("redis address not configured")
	ErrClosed    = errors.New("bus closed")
)
