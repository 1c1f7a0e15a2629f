// Package bus relays room traffic between coordinator instances.
package bus

import (
	"encoding/json"

	"liveclass/pkg/protocol"
)

// Envelope is one frame crossing instances. Target set means unicast to a
// connection id; otherwise the frame goes to every local member of RoomID
// except Exclude
type Envelope struct {
	Node      string             `json:"node"`
	RoomID    string             `json:"room_id"`
	Target    string             `json:"target,omitempty"`
	Exclude   string             `json:"exclude,omitempty"`
	Type      protocol.EventType `json:"type"`
	Droppable bool               `json:"droppable,omitempty"`
	Frame     json.RawMessage    `json:"frame"`

	// Whiteboard carries the replacement elements so remote nodes can
	// update their snapshot without decoding Frame
	Whiteboard []json.RawMessage `json:"whiteboard,omitempty"`
}

// Broadcast wraps a room-wide frame
func Broadcast(roomID, exclude string, f protocol.Frame) Envelope {
	return Envelope{RoomID: roomID, Exclude: exclude, Type: f.Type, Droppable: f.Droppable, Frame: f.Data}
}

// Unicast wraps a frame for a single connection on whichever node holds it
func Unicast(roomID, target string, f protocol.Frame) Envelope {
	return Envelope{RoomID: roomID, Target: target, Type: f.Type, Droppable: f.Droppable, Frame: f.Data}
}

// ToFrame recovers the frame for local delivery
func (e Envelope) ToFrame() protocol.Frame {
	return protocol.Frame{Data: e.Frame, Type: e.Type, Droppable: e.Droppable}
}

func channel(roomID string) string { return "liveclass:room:" + roomID }
