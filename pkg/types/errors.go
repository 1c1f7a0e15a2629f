package types

import "errors"

// Validation errors shared by the protocol and storage layers
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidRoomID      = errors.New("room ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidDisplayName = errors.New("display name must be 1-100 characters")
	ErrInvalidChatType    = errors.New("chat type must be text, question or answer")
	ErrEmptyChatText      = errors.New("chat text cannot be empty")
	ErrChatTooLarge       = errors.New("chat text exceeds 4KB limit")
	ErrInvalidClassTitle  = errors.New("class title must be 1-200 characters")
)
