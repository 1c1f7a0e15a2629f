package types

import (
	"regexp"
	"unicode/utf8"
)

// Regexes compiled once at package initialization
var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// MaxChatBytes bounds a single chat message text
const MaxChatBytes = 4096

// IsValidUserID checks if a user ID meets format requirements
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks if a room (live class) ID meets format requirements
// Live class ids are uuids in practice, but any slug-like id is accepted
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 64 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidDisplayName checks length in runes, not bytes
func IsValidDisplayName(name string) bool {
	n := utf8.RuneCountInString(name)
	return n >= 1 && n <= 100
}

// Valid reports whether t is one of the known chat types
func (t ChatType) Valid() bool {
	switch t {
	case ChatText, ChatQuestion, ChatAnswer:
		return true
	default:
		return false
	}
}

// Validate checks a chat message before it is broadcast
// An empty type defaults to plain text
func (m *ChatMessage) Validate() error {
	if m.Type == "" {
		m.Type = ChatText
	}
	if !m.Type.Valid() {
		return ErrInvalidChatType
	}
	if m.Text == "" {
		return ErrEmptyChatText
	}
	if len(m.Text) > MaxChatBytes {
		return ErrChatTooLarge
	}
	return nil
}

// Validate ensures a class record is usable for admission decisions
func (c *LiveClass) Validate() error {
	if len(c.Title) < 1 || len(c.Title) > 200 {
		return ErrInvalidClassTitle
	}
	if !IsValidRoomID(c.ID) {
		return ErrInvalidRoomID
	}
	if !IsValidUserID(c.HostID) {
		return ErrInvalidUserID
	}
	for _, id := range c.AudienceIDs {
		if !IsValidUserID(id) {
			return ErrInvalidUserID
		}
	}
	return nil
}
