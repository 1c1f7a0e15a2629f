package interfaces

import "errors"

// Common collaborator errors used across components
var (
	ErrClassNotFound = errors.New("live class not found")
	ErrClassNotLive  = errors.New("live class is not in progress")
	ErrNotPermitted  = errors.New("user is not permitted to join this room")
)
