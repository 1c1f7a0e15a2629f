package room

import (
	"encoding/json"

	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// UpdateWhiteboard replaces roomID's snapshot wholesale with elements
// (last write wins, no merge) and fans f out to the other members. The
// sender must be a member; rooms that do not exist hold no snapshot
func (d *Directory) UpdateWhiteboard(roomID, sender string, elements []json.RawMessage, f protocol.Frame) (int, error) {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return 0, ErrNotInRoom
	}
	defer d.unlockRoom(r)

	if _, ok := r.members[sender]; !ok {
		return 0, ErrNotInRoom
	}
	r.whiteboard = &types.WhiteboardSnapshot{
		RoomID:    roomID,
		Elements:  append([]json.RawMessage(nil), elements...),
		UpdatedAt: d.now(),
	}
	return Tx{r}.Broadcast(sender, f), nil
}

// ReplaceWhiteboard stores a snapshot received from another node without
// fanning it out. No-op for rooms with no local members
func (d *Directory) ReplaceWhiteboard(roomID string, elements []json.RawMessage) bool {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return false
	}
	defer d.unlockRoom(r)
	r.whiteboard = &types.WhiteboardSnapshot{
		RoomID:    roomID,
		Elements:  append([]json.RawMessage(nil), elements...),
		UpdatedAt: d.now(),
	}
	return true
}

// SnapshotOf returns a copy of roomID's whiteboard, false if there is none
func (d *Directory) SnapshotOf(roomID string) (types.WhiteboardSnapshot, bool) {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return types.WhiteboardSnapshot{}, false
	}
	defer d.unlockRoom(r)
	if r.whiteboard == nil {
		return types.WhiteboardSnapshot{}, false
	}
	return r.whiteboard.Clone(), true
}
