package room

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/metrics"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// Directory maps room ids to rooms. Its own lock is taken only to find,
// create or delete a room; everything else runs under the room's lock
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	idxMu  sync.Mutex
	byConn map[string]map[string]struct{}

	maxMembers int
	log        *slog.Logger
	now        func() time.Time
}

// Departure records one membership removed by LeaveAll
type Departure struct {
	RoomID string
	Member types.Member
}

// Info summarizes a room for the ops API
type Info struct {
	ID                  string     `json:"id"`
	CreatedAt           time.Time  `json:"created_at"`
	MemberCount         int        `json:"member_count"`
	WhiteboardUpdatedAt *time.Time `json:"whiteboard_updated_at,omitempty"`
}

// NewDirectory creates an empty directory. maxMembers caps each room (0 = no cap)
func NewDirectory(maxMembers int, log *slog.Logger) *Directory {
	return &Directory{
		rooms:      make(map[string]*Room),
		byConn:     make(map[string]map[string]struct{}),
		maxMembers: maxMembers,
		log:        log,
		now:        time.Now,
	}
}

// lockRoom returns roomID's room with its lock held, creating it when
// create is set. A room marked closed is on its way out of the map: it is
// forgotten here and, if creating, replaced with a fresh one
func (d *Directory) lockRoom(roomID string, create bool) *Room {
	for {
		d.mu.RLock()
		r := d.rooms[roomID]
		d.mu.RUnlock()

		if r == nil {
			if !create {
				return nil
			}
			d.mu.Lock()
			if r = d.rooms[roomID]; r == nil {
				r = newRoom(roomID, d.now())
				d.rooms[roomID] = r
				metrics.LiveRooms.Inc()
				d.log.Info("room created", "room", roomID)
			}
			d.mu.Unlock()
		}

		r.mu.Lock()
		if !r.closed {
			return r
		}
		r.mu.Unlock()
		d.forget(r)
		if !create {
			return nil
		}
	}
}

// unlockRoom releases r, deleting it first if it has no members left
// Must be called with r.mu held
func (d *Directory) unlockRoom(r *Room) {
	if len(r.members) > 0 {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.whiteboard = nil
	r.mu.Unlock()
	d.forget(r)
}

func (d *Directory) forget(r *Room) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rooms[r.id] == r {
		delete(d.rooms, r.id)
		metrics.LiveRooms.Dec()
		d.log.Info("room deleted", "room", r.id)
	}
}

func (d *Directory) index(connID, roomID string, add bool) {
	d.idxMu.Lock()
	defer d.idxMu.Unlock()
	set := d.byConn[connID]
	if add {
		if set == nil {
			set = make(map[string]struct{})
			d.byConn[connID] = set
		}
		set[roomID] = struct{}{}
		return
	}
	delete(set, roomID)
	if len(set) == 0 {
		delete(d.byConn, connID)
	}
}

// Join adds m to roomID, creating the room if needed, and returns the full
// member list with the joiner included. onJoin, if set, runs inside the
// room's serialization domain right after the member is added, so frames it
// sends are ordered before any later event in the room
func (d *Directory) Join(roomID string, m types.Member, conn interfaces.Connection, onJoin func(Tx)) ([]types.Member, error) {
	if conn == nil {
		return nil, ErrNilConnection
	}

	r := d.lockRoom(roomID, true)
	defer d.unlockRoom(r)

	if _, dup := r.members[m.ConnectionID]; dup {
		return nil, ErrAlreadyJoined
	}
	if d.maxMembers > 0 && len(r.members) >= d.maxMembers {
		return nil, ErrRoomFull
	}

	r.seq++
	r.members[m.ConnectionID] = &entry{member: m, conn: conn, seq: r.seq}
	d.index(m.ConnectionID, roomID, true)

	if onJoin != nil {
		onJoin(Tx{r})
	}
	return r.memberList(), nil
}

// Leave removes connID from roomID. It is idempotent: the second call and
// calls for unknown rooms report false. onLeave runs under the room lock
// after removal, so it only reaches the remaining members
func (d *Directory) Leave(roomID, connID string, onLeave func(Tx, types.Member)) (types.Member, bool) {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return types.Member{}, false
	}
	defer d.unlockRoom(r)

	e, ok := r.members[connID]
	if !ok {
		return types.Member{}, false
	}
	delete(r.members, connID)
	d.index(connID, roomID, false)

	if onLeave != nil {
		onLeave(Tx{r}, e.member)
	}
	return e.member, true
}

// LeaveAll removes connID from every room it is in
func (d *Directory) LeaveAll(connID string, onLeave func(Tx, types.Member)) []Departure {
	d.idxMu.Lock()
	roomIDs := make([]string, 0, len(d.byConn[connID]))
	for id := range d.byConn[connID] {
		roomIDs = append(roomIDs, id)
	}
	d.idxMu.Unlock()
	sort.Strings(roomIDs)

	var out []Departure
	for _, roomID := range roomIDs {
		if m, ok := d.Leave(roomID, connID, onLeave); ok {
			out = append(out, Departure{RoomID: roomID, Member: m})
		}
	}
	return out
}

// Evict removes every member of roomID, running onEvict before the room is
// deleted. Used when a class ends
func (d *Directory) Evict(roomID string, onEvict func(Tx)) []types.Member {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return nil
	}
	defer d.unlockRoom(r)

	if onEvict != nil {
		onEvict(Tx{r})
	}
	members := r.memberList()
	for _, m := range members {
		delete(r.members, m.ConnectionID)
		d.index(m.ConnectionID, roomID, false)
	}
	return members
}

// Broadcast sends f to every member of roomID except exclude. The sender
// must itself be a member unless sender is empty
func (d *Directory) Broadcast(roomID, sender string, f protocol.Frame) (int, error) {
	r := d.lockRoom(roomID, false)
	if r == nil {
		if sender == "" {
			return 0, ErrRoomNotFound
		}
		return 0, ErrNotInRoom
	}
	defer d.unlockRoom(r)

	if sender != "" {
		if _, ok := r.members[sender]; !ok {
			return 0, ErrNotInRoom
		}
	}
	return Tx{r}.Broadcast(sender, f), nil
}

// SetHandRaised updates a member's hand flag and runs onChange in-domain
func (d *Directory) SetHandRaised(roomID, connID string, raised bool, onChange func(Tx)) error {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return ErrNotInRoom
	}
	defer d.unlockRoom(r)

	e, ok := r.members[connID]
	if !ok {
		return ErrNotInRoom
	}
	e.member.HandRaised = raised
	if onChange != nil {
		onChange(Tx{r})
	}
	return nil
}

// MembersOf returns roomID's members in join order, nil for unknown rooms
func (d *Directory) MembersOf(roomID string) []types.Member {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return nil
	}
	defer d.unlockRoom(r)
	return r.memberList()
}

// IsMember reports whether connID is in roomID
func (d *Directory) IsMember(roomID, connID string) bool {
	r := d.lockRoom(roomID, false)
	if r == nil {
		return false
	}
	defer d.unlockRoom(r)
	_, ok := r.members[connID]
	return ok
}

// RoomsOf returns the rooms connID is currently in
func (d *Directory) RoomsOf(connID string) []string {
	d.idxMu.Lock()
	defer d.idxMu.Unlock()
	out := make([]string, 0, len(d.byConn[connID]))
	for id := range d.byConn[connID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Rooms lists every live room, sorted by id
func (d *Directory) Rooms() []Info {
	d.mu.RLock()
	rooms := make([]*Room, 0, len(d.rooms))
	for _, r := range d.rooms {
		rooms = append(rooms, r)
	}
	d.mu.RUnlock()

	out := make([]Info, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		if !r.closed {
			info := Info{ID: r.id, CreatedAt: r.createdAt, MemberCount: len(r.members)}
			if r.whiteboard != nil {
				at := r.whiteboard.UpdatedAt
				info.WhiteboardUpdatedAt = &at
			}
			out = append(out, info)
		}
		r.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomCount returns the number of live rooms
func (d *Directory) RoomCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms)
}
