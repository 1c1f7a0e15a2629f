// Package protocol defines the live-class wire events as closed sets of
// variants. Frames are decoded once at the transport boundary; everything
// behind it works on concrete types.
package protocol

import (
	"encoding/json"
	"time"

	"liveclass/pkg/types"
)

// EventType is the `type` discriminator carried by every frame
type EventType string

// Inbound (client -> server) event types
const (
	TypeJoinRoom         EventType = "join-room"
	TypeLeaveRoom        EventType = "leave-room"
	TypeSignal           EventType = "signal"
	TypeChatMessage      EventType = "chat-message"
	TypeWhiteboardUpdate EventType = "whiteboard-update"
	TypeRaiseHand        EventType = "raise-hand"
)

// Outbound-only (server -> client) event types
const (
	TypeWelcome       EventType = "welcome"
	TypeRoomSnapshot  EventType = "room-snapshot"
	TypeMemberJoined  EventType = "member-joined"
	TypeMemberLeft    EventType = "member-left"
	TypeHandRaised    EventType = "hand-raised"
	TypeRoomClosed    EventType = "room-closed"
	TypeProtocolError EventType = "protocol-error"
)

// Inbound is implemented only by the client -> server variants below
type Inbound interface {
	EventType() EventType
	Room() string
	inbound()
}

// JoinRoom asks to enter a live-class room
type JoinRoom struct {
	RoomID      string `json:"room_id" validate:"required,roomid"`
	UserID      string `json:"user_id" validate:"required,userid"`
	DisplayName string `json:"display_name" validate:"required,displayname"`
}

// LeaveRoom explicitly leaves a room; disconnect implies it for every room
type LeaveRoom struct {
	RoomID string `json:"room_id" validate:"required,roomid"`
}

// SendSignal relays an opaque offer/answer/ICE payload to one connection
type SendSignal struct {
	RoomID             string          `json:"room_id" validate:"required,roomid"`
	TargetConnectionID string          `json:"target_connection_id" validate:"required"`
	Payload            json.RawMessage `json:"payload" validate:"required"`
}

// SendChat broadcasts a chat line to the rest of the room
type SendChat struct {
	RoomID string         `json:"room_id" validate:"required,roomid"`
	Text   string         `json:"text" validate:"required,max=4096"`
	Type   types.ChatType `json:"chat_type" validate:"omitempty,oneof=text question answer"`
}

// UpdateWhiteboard replaces the room's whiteboard state wholesale
type UpdateWhiteboard struct {
	RoomID   string            `json:"room_id" validate:"required,roomid"`
	Elements []json.RawMessage `json:"elements" validate:"max=10000"`
}

// RaiseHand toggles the sender's raised-hand flag
type RaiseHand struct {
	RoomID string `json:"room_id" validate:"required,roomid"`
	Raised bool   `json:"raised"`
}

func (JoinRoom) EventType() EventType         { return TypeJoinRoom }
func (LeaveRoom) EventType() EventType        { return TypeLeaveRoom }
func (SendSignal) EventType() EventType       { return TypeSignal }
func (SendChat) EventType() EventType         { return TypeChatMessage }
func (UpdateWhiteboard) EventType() EventType { return TypeWhiteboardUpdate }
func (RaiseHand) EventType() EventType        { return TypeRaiseHand }

func (e JoinRoom) Room() string         { return e.RoomID }
func (e LeaveRoom) Room() string        { return e.RoomID }
func (e SendSignal) Room() string       { return e.RoomID }
func (e SendChat) Room() string         { return e.RoomID }
func (e UpdateWhiteboard) Room() string { return e.RoomID }
func (e RaiseHand) Room() string        { return e.RoomID }

func (JoinRoom) inbound()         {}
func (LeaveRoom) inbound()        {}
func (SendSignal) inbound()       {}
func (SendChat) inbound()         {}
func (UpdateWhiteboard) inbound() {}
func (RaiseHand) inbound()        {}

// Outbound is implemented by the server -> client variants below
type Outbound interface {
	EventType() EventType
}

// Welcome is the first frame on every accepted connection
type Welcome struct {
	ConnectionID string `json:"connection_id"`
}

// RoomSnapshot confirms a join; it is delivered only to the joiner
type RoomSnapshot struct {
	RoomID     string                    `json:"room_id"`
	Self       types.Member              `json:"self"`
	Members    []types.Member            `json:"members"`
	Whiteboard *types.WhiteboardSnapshot `json:"whiteboard,omitempty"`
}

// MemberJoined announces a new member to the rest of the room
type MemberJoined struct {
	RoomID       string     `json:"room_id"`
	UserID       string     `json:"user_id"`
	DisplayName  string     `json:"display_name"`
	ConnectionID string     `json:"connection_id"`
	Role         types.Role `json:"role"`
}

// MemberLeft announces a departure, explicit or by disconnect
type MemberLeft struct {
	RoomID       string `json:"room_id,omitempty"`
	ConnectionID string `json:"connection_id"`
}

// SignalRelay carries a signal payload, untouched, to its target
type SignalRelay struct {
	RoomID             string          `json:"room_id,omitempty"`
	Payload            json.RawMessage `json:"payload"`
	SenderConnectionID string          `json:"sender_connection_id"`
}

// ChatBroadcast is a chat line as seen by the other members
type ChatBroadcast struct {
	ID                 string         `json:"id"`
	RoomID             string         `json:"room_id,omitempty"`
	Text               string         `json:"text"`
	Sender             string         `json:"sender"`
	SenderConnectionID string         `json:"sender_connection_id"`
	Type               types.ChatType `json:"chat_type"`
	SentAt             time.Time      `json:"sent_at"`
}

// WhiteboardBroadcast forwards a whiteboard replacement
type WhiteboardBroadcast struct {
	RoomID             string            `json:"room_id,omitempty"`
	Elements           []json.RawMessage `json:"elements"`
	SenderConnectionID string            `json:"sender_connection_id,omitempty"`
}

// HandRaised reports a member's raised-hand flag change
type HandRaised struct {
	RoomID       string `json:"room_id,omitempty"`
	ConnectionID string `json:"connection_id"`
	Raised       bool   `json:"raised"`
}

// RoomClosed tells members the room was shut down server-side
type RoomClosed struct {
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

// ProtocolError is reported only to the offending connection
type ProtocolError struct {
	Reason string    `json:"reason"`
	Event  EventType `json:"event,omitempty"`
	RoomID string    `json:"room_id,omitempty"`
}

func (Welcome) EventType() EventType             { return TypeWelcome }
func (RoomSnapshot) EventType() EventType        { return TypeRoomSnapshot }
func (MemberJoined) EventType() EventType        { return TypeMemberJoined }
func (MemberLeft) EventType() EventType          { return TypeMemberLeft }
func (SignalRelay) EventType() EventType         { return TypeSignal }
func (ChatBroadcast) EventType() EventType       { return TypeChatMessage }
func (WhiteboardBroadcast) EventType() EventType { return TypeWhiteboardUpdate }
func (HandRaised) EventType() EventType          { return TypeHandRaised }
func (RoomClosed) EventType() EventType          { return TypeRoomClosed }
func (ProtocolError) EventType() EventType       { return TypeProtocolError }

// Droppable reports whether a frame may be discarded under backpressure.
// Chat and whiteboard traffic is superseded by later frames; signaling and
// presence are never dropped.
func Droppable(ev Outbound) bool {
	switch ev.(type) {
	case ChatBroadcast, WhiteboardBroadcast:
		return true
	default:
		return false
	}
}
