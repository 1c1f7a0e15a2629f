package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/bus"
	"liveclass/internal/testutil"
	"liveclass/internal/websocket"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

type admitAll struct{}

func (admitAll) Admit(context.Context, string, string) (types.Role, error) {
	return types.RoleAudience, nil
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func startedHub(t *testing.T, cfg Config, opts ...Option) *Hub {
	t.Helper()
	h := New(cfg, admitAll{}, discard(), opts...)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })
	return h
}

func accept(t *testing.T, h *Hub, userID string) *testutil.FakeConn {
	t.Helper()
	c := testutil.NewFakeConn("", userID)
	id, err := h.Accept(c)
	require.NoError(t, err)
	require.Equal(t, id, c.ID())
	return c
}

func send(t *testing.T, h *Hub, c *testutil.FakeConn, ev protocol.Inbound) {
	t.Helper()
	data, err := protocol.EncodeInbound(ev)
	require.NoError(t, err)
	h.HandleFrame(context.Background(), c, data)
}

func TestStartStop(t *testing.T) {
	h := New(Config{}, admitAll{}, discard())
	assert.ErrorIs(t, h.Stop(), ErrHubNotRunning)

	require.NoError(t, h.Start(context.Background()))
	assert.ErrorIs(t, h.Start(context.Background()), ErrHubAlreadyRunning)
	assert.True(t, h.IsRunning())

	require.NoError(t, h.Stop())
	assert.False(t, h.IsRunning())
}

func TestAccept_SendsWelcome(t *testing.T) {
	h := startedHub(t, Config{})
	c := accept(t, h, "alice")
	assert.Equal(t, []protocol.Outbound{protocol.Welcome{ConnectionID: c.ID()}}, c.Events())
}

func TestAccept_RefusedWhenStoppedOrFull(t *testing.T) {
	h := New(Config{MaxConnections: 1}, admitAll{}, discard())
	_, err := h.Accept(testutil.NewFakeConn("", ""))
	assert.ErrorIs(t, err, ErrHubNotRunning)

	require.NoError(t, h.Start(context.Background()))
	defer h.Stop()
	accept(t, h, "")
	assert.True(t, h.AtCapacity())
	_, err = h.Accept(testutil.NewFakeConn("", ""))
	assert.ErrorIs(t, err, websocket.ErrCapacityExceeded)
}

func TestHandleFrame_MalformedGoesToSenderOnly(t *testing.T) {
	h := startedHub(t, Config{})
	a, b := accept(t, h, "a"), accept(t, h, "b")
	send(t, h, a, protocol.JoinRoom{RoomID: "R", UserID: "a", DisplayName: "A"})
	send(t, h, b, protocol.JoinRoom{RoomID: "R", UserID: "b", DisplayName: "B"})
	a.Reset()
	b.Reset()

	h.HandleFrame(context.Background(), a, []byte(`{"type":"teleport","room_id":"R"}`))
	h.HandleFrame(context.Background(), a, []byte(`not json`))
	h.HandleFrame(context.Background(), a, []byte(`{"type":"chat-message","text":"no room"}`))

	errs := a.OfType(protocol.TypeProtocolError)
	require.Len(t, errs, 3)
	assert.Empty(t, b.Frames())
	assert.Equal(t, []string{"a", "b"}, []string{h.Directory().MembersOf("R")[0].UserID, h.Directory().MembersOf("R")[1].UserID})
}

func TestHandleFrame_RouteErrorCarriesEventAndRoom(t *testing.T) {
	h := startedHub(t, Config{})
	a := accept(t, h, "a")
	a.Reset()

	send(t, h, a, protocol.SendChat{RoomID: "R", Text: "hello"})
	pe := a.Events()[0].(protocol.ProtocolError)
	assert.Equal(t, protocol.TypeChatMessage, pe.Event)
	assert.Equal(t, "R", pe.RoomID)
	assert.NotEmpty(t, pe.Reason)
}

// C1, C2, C3 in R; C1 chats; C2 and C3 get it, C1 does not.
// Then C2 drops; C1 and C3 each see exactly one member-left
func TestChatAndDisconnectScenario(t *testing.T) {
	h := startedHub(t, Config{})
	c1, c2, c3 := accept(t, h, "u1"), accept(t, h, "u2"), accept(t, h, "u3")
	for _, c := range []*testutil.FakeConn{c1, c2, c3} {
		send(t, h, c, protocol.JoinRoom{RoomID: "R", UserID: c.UserID(), DisplayName: c.UserID()})
	}
	for _, c := range []*testutil.FakeConn{c1, c2, c3} {
		c.Reset()
	}

	send(t, h, c1, protocol.SendChat{RoomID: "R", Text: "hi"})
	assert.Empty(t, c1.Frames())
	assert.Len(t, c2.OfType(protocol.TypeChatMessage), 1)
	assert.Len(t, c3.OfType(protocol.TypeChatMessage), 1)

	h.Disconnect(c2)
	h.Disconnect(c2)
	for _, c := range []*testutil.FakeConn{c1, c3} {
		left := c.OfType(protocol.TypeMemberLeft)
		require.Len(t, left, 1)
		assert.Equal(t, c2.ID(), left[0].(protocol.MemberLeft).ConnectionID)
	}
	assert.Len(t, h.Directory().MembersOf("R"), 2)
}

func TestCloseRoom(t *testing.T) {
	h := startedHub(t, Config{})
	a, b := accept(t, h, "a"), accept(t, h, "b")
	send(t, h, a, protocol.JoinRoom{RoomID: "R", UserID: "a", DisplayName: "A"})
	send(t, h, b, protocol.JoinRoom{RoomID: "R", UserID: "b", DisplayName: "B"})

	assert.Equal(t, 2, h.CloseRoom("R", "class ended"))
	assert.Len(t, a.OfType(protocol.TypeRoomClosed), 1)
	assert.Len(t, b.OfType(protocol.TypeRoomClosed), 1)
	assert.Equal(t, 0, h.Directory().RoomCount())
	assert.True(t, h.Registry().IsOpen(a.ID()))
	assert.Equal(t, 0, h.CloseRoom("R", "again"))
}

func TestStop_DisconnectsEveryone(t *testing.T) {
	h := New(Config{}, admitAll{}, discard())
	require.NoError(t, h.Start(context.Background()))
	a := accept(t, h, "a")

	require.NoError(t, h.Stop())
	assert.True(t, a.Closed())
	assert.Equal(t, 0, h.Registry().Count())
}

func TestDeliverRemote(t *testing.T) {
	h := startedHub(t, Config{})
	a := accept(t, h, "a")
	send(t, h, a, protocol.JoinRoom{RoomID: "R", UserID: "a", DisplayName: "A"})
	a.Reset()

	chat := protocol.MustFrame(protocol.ChatBroadcast{RoomID: "R", Text: "from afar"})
	h.deliverRemote(bus.Broadcast("R", "remote-conn", chat))

	els := []json.RawMessage{json.RawMessage(`{"id":1}`)}
	wb := bus.Broadcast("R", "remote-conn", protocol.MustFrame(protocol.WhiteboardBroadcast{RoomID: "R", Elements: els}))
	wb.Whiteboard = els
	h.deliverRemote(wb)

	h.deliverRemote(bus.Unicast("R", a.ID(), protocol.MustFrame(protocol.SignalRelay{Payload: json.RawMessage(`{}`), SenderConnectionID: "remote-conn"})))
	h.deliverRemote(bus.Broadcast("other-room", "", chat))

	assert.Equal(t, []protocol.EventType{protocol.TypeChatMessage, protocol.TypeWhiteboardUpdate, protocol.TypeSignal}, a.Types())
	snap, ok := h.Directory().SnapshotOf("R")
	require.True(t, ok)
	assert.Equal(t, els, snap.Elements)

	h.deliverRemote(bus.Broadcast("R", "", protocol.MustFrame(protocol.RoomClosed{RoomID: "R", Reason: "ended"})))
	assert.Equal(t, 0, h.Directory().RoomCount())
}

func TestWithTask_RunsUntilStop(t *testing.T) {
	done := make(chan struct{})
	h := New(Config{}, admitAll{}, discard(), WithTask(func(ctx context.Context) {
		<-ctx.Done()
		close(done)
	}))
	require.NoError(t, h.Start(context.Background()))
	require.NoError(t, h.Stop())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task not stopped")
	}
}

func TestStats(t *testing.T) {
	h := startedHub(t, Config{})
	accept(t, h, "a")
	stats := h.Stats()
	assert.Equal(t, true, stats["running"])
	assert.Equal(t, 1, stats["open_connections"])
	assert.Equal(t, 0, stats["rooms"])
}
