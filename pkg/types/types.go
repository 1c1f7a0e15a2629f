package types

import (
	"encoding/json"
	"time"
)

// Role is a member's role inside a live-class room
type Role string

const (
	RoleHost     Role = "host"
	RoleAudience Role = "audience"
)

// ChatType tags a chat message
type ChatType string

const (
	ChatText     ChatType = "text"
	ChatQuestion ChatType = "question"
	ChatAnswer   ChatType = "answer"
)

// Live class lifecycle states as stored by the class record owner
const (
	ClassStatusScheduled = "scheduled"
	ClassStatusLive      = "live"
	ClassStatusEnded     = "ended"
)

// Member is the membership relation between a connection and a room
// FUNCTIONAL DISCOVERY: ConnectionID always resolves to an open connection;
// only the presence manager removes stale members
type Member struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
	HandRaised   bool      `json:"hand_raised"`
}

// ChatMessage is an ephemeral in-room broadcast unit
// Archiving is fire-and-forget; delivery is to currently present members only
type ChatMessage struct {
	ID                 string    `json:"id" db:"id"`
	RoomID             string    `json:"room_id" db:"room_id"`
	SenderConnectionID string    `json:"sender_connection_id" db:"sender_connection_id"`
	SenderUserID       string    `json:"sender_user_id" db:"sender_user_id"`
	Sender             string    `json:"sender" db:"sender_name"`
	Text               string    `json:"text" db:"text"`
	Type               ChatType  `json:"type" db:"type"`
	SentAt             time.Time `json:"sent_at" db:"sent_at"`
}

// WhiteboardSnapshot is the latest authoritative drawing state of a room
// Elements are opaque to the server and kept in the order received
type WhiteboardSnapshot struct {
	RoomID    string            `json:"room_id"`
	Elements  []json.RawMessage `json:"elements"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// LiveClass is the externally owned class record consulted for admission
// Room ids equal live class ids
type LiveClass struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	HostID      string     `json:"host_id" db:"host_id"`
	AudienceIDs []string   `json:"audience_ids" db:"-"`
	Status      string     `json:"status" db:"status"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`
}

// IsLive reports whether members may currently be admitted
func (c *LiveClass) IsLive() bool {
	return c.Status == ClassStatusLive
}

// RoleOf resolves a user's role in the class, false if the user is not enrolled
func (c *LiveClass) RoleOf(userID string) (Role, bool) {
	if userID == c.HostID {
		return RoleHost, true
	}
	for _, id := range c.AudienceIDs {
		if id == userID {
			return RoleAudience, true
		}
	}
	return "", false
}

// Clone copies the element slice so callers cannot alias stored state
func (s WhiteboardSnapshot) Clone() WhiteboardSnapshot {
	s.Elements = append([]json.RawMessage(nil), s.Elements...)
	return s
}
