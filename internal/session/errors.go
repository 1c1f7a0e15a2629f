package session

import "errors"

var (
	ErrInvalidUserID     = errors.New("invalid user id")
	ErrClassAlreadyEnded = errors.New("live class is already ended")
	ErrNoStore           = errors.New("no class store configured")
)
