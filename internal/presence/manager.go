// Package presence owns the membership lifecycle: joins, explicit leaves
// and disconnect cleanup.
package presence

import (
	"context"
	"log/slog"
	"time"

	"liveclass/internal/bus"
	"liveclass/internal/room"
	"liveclass/internal/websocket"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// Manager is the only caller of Directory.LeaveAll
type Manager struct {
	registry  *websocket.Registry
	directory *room.Directory
	admission interfaces.Admission
	relay     *bus.Publisher
	hooks     []func(connID string)
	log       *slog.Logger
	now       func() time.Time
}

// NewManager creates a presence manager
func NewManager(registry *websocket.Registry, directory *room.Directory, admission interfaces.Admission, log *slog.Logger) *Manager {
	return &Manager{
		registry:  registry,
		directory: directory,
		admission: admission,
		log:       log,
		now:       time.Now,
	}
}

// SetRelay forwards presence changes to other instances
func (m *Manager) SetRelay(p *bus.Publisher) { m.relay = p }

// OnDisconnect registers fn to run once per disconnected connection
func (m *Manager) OnDisconnect(fn func(connID string)) { m.hooks = append(m.hooks, fn) }

// Join admits conn to ev.RoomID. The joiner alone receives a room snapshot;
// everyone already present receives member-joined. Both are sent inside the
// room's serialization domain so no later room event can overtake them
func (m *Manager) Join(ctx context.Context, conn interfaces.Connection, ev protocol.JoinRoom) error {
	if uid := conn.UserID(); uid != "" && uid != ev.UserID {
		return ErrIdentityMismatch
	}
	if !m.registry.IsOpen(conn.ID()) {
		return ErrConnectionClosed
	}

	role, err := m.admission.Admit(ctx, ev.RoomID, ev.UserID)
	if err != nil {
		return err
	}

	member := types.Member{
		ConnectionID: conn.ID(),
		UserID:       ev.UserID,
		DisplayName:  ev.DisplayName,
		Role:         role,
		JoinedAt:     m.now().UTC(),
	}
	joined, err := protocol.NewFrame(protocol.MemberJoined{
		RoomID:       ev.RoomID,
		UserID:       member.UserID,
		DisplayName:  member.DisplayName,
		ConnectionID: member.ConnectionID,
		Role:         member.Role,
	})
	if err != nil {
		return err
	}

	_, err = m.directory.Join(ev.RoomID, member, conn, func(tx room.Tx) {
		snap, err := protocol.NewFrame(protocol.RoomSnapshot{
			RoomID:     ev.RoomID,
			Self:       member,
			Members:    tx.Members(),
			Whiteboard: tx.Whiteboard(),
		})
		if err != nil {
			m.log.Error("encode room snapshot", "room", ev.RoomID, "err", err)
		} else {
			_ = conn.Send(snap)
		}
		tx.Broadcast(member.ConnectionID, joined)
	})
	if err != nil {
		return err
	}

	// Disconnect unregisters before LeaveAll: a connection still open here
	// will be cleaned up by it, a closed one has already missed it
	if !m.registry.IsOpen(member.ConnectionID) {
		m.directory.Leave(ev.RoomID, member.ConnectionID, m.announceLeft)
		return ErrConnectionClosed
	}

	m.relay.Relay(bus.Broadcast(ev.RoomID, member.ConnectionID, joined))
	m.log.Debug("member joined", "room", ev.RoomID, "conn", member.ConnectionID, "user", member.UserID, "role", role)
	return nil
}

// Leave removes conn from roomID. Leaving a room one is not in is a no-op
func (m *Manager) Leave(conn interfaces.Connection, roomID string) bool {
	_, ok := m.directory.Leave(roomID, conn.ID(), m.announceLeft)
	if ok {
		m.log.Debug("member left", "room", roomID, "conn", conn.ID())
	}
	return ok
}

// Disconnect runs cleanup for a closed connection. Duplicate calls (read
// loop exit, heartbeat timeout, server shutdown) are absorbed: only the
// call that unregisters the connection proceeds
func (m *Manager) Disconnect(conn interfaces.Connection) []room.Departure {
	id := conn.ID()
	if !m.registry.Unregister(id) {
		_ = conn.Close()
		return nil
	}

	deps := m.directory.LeaveAll(id, m.announceLeft)
	for _, fn := range m.hooks {
		fn(id)
	}
	_ = conn.Close()

	m.log.Info("connection closed", "conn", id, "user", conn.UserID(), "rooms", len(deps))
	return deps
}

// announceLeft runs under the room lock after removal
func (m *Manager) announceLeft(tx room.Tx, left types.Member) {
	f, err := protocol.NewFrame(protocol.MemberLeft{RoomID: tx.RoomID(), ConnectionID: left.ConnectionID})
	if err != nil {
		return
	}
	tx.Broadcast("", f)
	m.relay.Relay(bus.Broadcast(tx.RoomID(), left.ConnectionID, f))
}
