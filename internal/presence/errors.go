package presence

import "errors"

var (
	ErrIdentityMismatch = errors.New("join user id does not match the authenticated identity")
	ErrConnectionClosed = errors.New("connection closed before the join completed")
)
