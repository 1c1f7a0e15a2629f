package room

import "errors"

var (
	ErrAlreadyJoined = errors.New("connection already joined this room")
	ErrRoomFull      = errors.New("room is full")
	ErrRoomNotFound  = errors.New("room not found")
	ErrNotInRoom     = errors.New("connection is not a member of this room")
	ErrNilConnection = errors.New("member connection cannot be nil")
)
