package room

import (
	"sort"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// Room is one serialization domain: every mutation and every fan-out for a
// room id happens while holding its mutex
type Room struct {
	id        string
	createdAt time.Time

	mu         sync.Mutex
	members    map[string]*entry
	seq        uint64
	whiteboard *types.WhiteboardSnapshot
	closed     bool
}

type entry struct {
	member types.Member
	conn   interfaces.Connection
	seq    uint64
}

func newRoom(id string, now time.Time) *Room {
	return &Room{id: id, createdAt: now, members: make(map[string]*entry)}
}

// ordered returns entries in join order
func (r *Room) ordered() []*entry {
	out := make([]*entry, 0, len(r.members))
	for _, e := range r.members {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (r *Room) memberList() []types.Member {
	es := r.ordered()
	out := make([]types.Member, len(es))
	for i, e := range es {
		out[i] = e.member
	}
	return out
}

// Tx is a view of a locked room handed to callbacks. Callbacks must not
// block and must not call back into the Directory
type Tx struct{ r *Room }

// RoomID returns the locked room's id
func (tx Tx) RoomID() string { return tx.r.id }

// Members returns the current members in join order
func (tx Tx) Members() []types.Member { return tx.r.memberList() }

// Whiteboard returns a copy of the current snapshot, nil if none
func (tx Tx) Whiteboard() *types.WhiteboardSnapshot {
	if tx.r.whiteboard == nil {
		return nil
	}
	s := tx.r.whiteboard.Clone()
	return &s
}

// Send delivers f to one member; false if connID is not a member
func (tx Tx) Send(connID string, f protocol.Frame) bool {
	e, ok := tx.r.members[connID]
	if !ok {
		return false
	}
	_ = e.conn.Send(f)
	return true
}

// Broadcast delivers f to every member except exclude, in join order, and
// returns how many members it was handed to
func (tx Tx) Broadcast(exclude string, f protocol.Frame) int {
	n := 0
	for _, e := range tx.r.ordered() {
		if e.member.ConnectionID == exclude {
			continue
		}
		_ = e.conn.Send(f)
		n++
	}
	return n
}
