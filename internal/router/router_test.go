package router

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/presence"
	"liveclass/internal/room"
	"liveclass/internal/testutil"
	"liveclass/internal/websocket"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

type admitAll struct{}

func (admitAll) Admit(context.Context, string, string) (types.Role, error) {
	return types.RoleAudience, nil
}

type recordingArchive struct {
	mu   sync.Mutex
	msgs []*types.ChatMessage
}

func (a *recordingArchive) Archive(m *types.ChatMessage) {
	a.mu.Lock()
	a.msgs = append(a.msgs, m)
	a.mu.Unlock()
}

type fixture struct {
	reg     *websocket.Registry
	dir     *room.Directory
	router  *Router
	archive *recordingArchive
}

func newFixture(opts ...Option) *fixture {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := websocket.NewRegistry(0)
	dir := room.NewDirectory(0, log)
	pm := presence.NewManager(reg, dir, admitAll{}, log)
	archive := &recordingArchive{}
	opts = append([]Option{WithArchive(archive)}, opts...)
	return &fixture{reg: reg, dir: dir, router: NewRouter(reg, dir, pm, log, opts...), archive: archive}
}

func (f *fixture) connect(t *testing.T, userID string) *testutil.FakeConn {
	t.Helper()
	c := testutil.NewFakeConn("", userID)
	_, err := f.reg.Register(c)
	require.NoError(t, err)
	return c
}

func (f *fixture) route(t *testing.T, c *testutil.FakeConn, ev protocol.Inbound) error {
	t.Helper()
	return f.router.Route(context.Background(), c, ev)
}

// connectAndJoin joins every user to roomID and clears their inboxes
func (f *fixture) connectAndJoin(t *testing.T, roomID string, users ...string) []*testutil.FakeConn {
	t.Helper()
	var out []*testutil.FakeConn
	for _, u := range users {
		c := f.connect(t, u)
		require.NoError(t, f.route(t, c, protocol.JoinRoom{RoomID: roomID, UserID: u, DisplayName: "name-" + u}))
		out = append(out, c)
	}
	for _, c := range out {
		c.Reset()
	}
	return out
}

func TestChat_BroadcastExcludesSender(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2", "c3")

	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "hi"}))

	assert.Empty(t, cs[0].Frames())
	for _, c := range cs[1:] {
		evs := c.OfType(protocol.TypeChatMessage)
		require.Len(t, evs, 1)
		chat := evs[0].(protocol.ChatBroadcast)
		assert.Equal(t, "hi", chat.Text)
		assert.Equal(t, "name-c1", chat.Sender)
		assert.Equal(t, cs[0].ID(), chat.SenderConnectionID)
		assert.Equal(t, types.ChatText, chat.Type)
		assert.NotEmpty(t, chat.ID)
	}

	require.Len(t, f.archive.msgs, 1)
	assert.Equal(t, "c1", f.archive.msgs[0].SenderUserID)
	assert.Equal(t, "R", f.archive.msgs[0].RoomID)
}

func TestChat_QuestionTypeIsKept(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2")
	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "why?", Type: types.ChatQuestion}))
	assert.Equal(t, types.ChatQuestion, cs[1].Events()[0].(protocol.ChatBroadcast).Type)
}

func TestChat_NotInRoom(t *testing.T) {
	f := newFixture()
	f.connectAndJoin(t, "R", "c1")
	outsider := f.connect(t, "c9")

	err := f.route(t, outsider, protocol.SendChat{RoomID: "R", Text: "hi"})
	assert.ErrorIs(t, err, room.ErrNotInRoom)
	assert.Empty(t, f.archive.msgs)
}

func TestChat_RejectedChatKeepsQuota(t *testing.T) {
	f := newFixture(WithChatLimit(2, time.Minute))
	cs := f.connectAndJoin(t, "R", "c1", "c2")
	f.connectAndJoin(t, "other", "c3")

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, f.route(t, cs[0], protocol.SendChat{RoomID: "other", Text: "lost"}), room.ErrNotInRoom)
	}
	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "1"}))
	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "2"}))
	assert.Len(t, cs[1].OfType(protocol.TypeChatMessage), 2)
}

func TestChat_RateLimited(t *testing.T) {
	f := newFixture(WithChatLimit(2, time.Minute))
	cs := f.connectAndJoin(t, "R", "c1", "c2")

	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "1"}))
	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "2"}))
	assert.ErrorIs(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "3"}), ErrRateLimitExceeded)
	assert.Len(t, cs[1].Frames(), 2)

	// other connections have their own window
	require.NoError(t, f.route(t, cs[1], protocol.SendChat{RoomID: "R", Text: "x"}))
}

func TestSignal_UnicastPayloadUnchanged(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2", "c3")

	payload := json.RawMessage(`{"kind":"offer","sdp":"v=0 a<b"}`)
	require.NoError(t, f.route(t, cs[0], protocol.SendSignal{RoomID: "R", TargetConnectionID: cs[1].ID(), Payload: payload}))

	assert.Empty(t, cs[0].Frames())
	assert.Empty(t, cs[2].Frames())
	require.Len(t, cs[1].Frames(), 1)
	sig := cs[1].Events()[0].(protocol.SignalRelay)
	assert.JSONEq(t, string(payload), string(sig.Payload))
	assert.Equal(t, cs[0].ID(), sig.SenderConnectionID)
	assert.False(t, cs[1].Frames()[0].Droppable)
}

func TestSignal_UnknownTargetIsSilentlyDropped(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2")

	err := f.route(t, cs[0], protocol.SendSignal{RoomID: "R", TargetConnectionID: "gone", Payload: json.RawMessage(`{}`)})
	assert.NoError(t, err)
	for _, c := range cs {
		assert.Empty(t, c.Frames())
	}
}

func TestSignal_SenderMustBeMember(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1")
	outsider := f.connect(t, "c9")

	err := f.route(t, outsider, protocol.SendSignal{RoomID: "R", TargetConnectionID: cs[0].ID(), Payload: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, room.ErrNotInRoom)
	assert.Empty(t, cs[0].Frames())
}

func TestWhiteboard_StoresAndFansOut(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2")

	els := []json.RawMessage{json.RawMessage(`{"id":"a"}`), json.RawMessage(`{"id":"b"}`)}
	require.NoError(t, f.route(t, cs[0], protocol.UpdateWhiteboard{RoomID: "R", Elements: els}))

	snap, ok := f.dir.SnapshotOf("R")
	require.True(t, ok)
	assert.Equal(t, els, snap.Elements)

	assert.Empty(t, cs[0].Frames())
	wb := cs[1].Events()[0].(protocol.WhiteboardBroadcast)
	assert.Len(t, wb.Elements, 2)

	// a later joiner receives the stored snapshot
	late := f.connect(t, "c3")
	require.NoError(t, f.route(t, late, protocol.JoinRoom{RoomID: "R", UserID: "c3", DisplayName: "c3"}))
	roomSnap := late.Events()[0].(protocol.RoomSnapshot)
	require.NotNil(t, roomSnap.Whiteboard)
	assert.Len(t, roomSnap.Whiteboard.Elements, 2)
}

func TestRaiseHand(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2")

	require.NoError(t, f.route(t, cs[1], protocol.RaiseHand{RoomID: "R", Raised: true}))
	assert.Empty(t, cs[1].Frames())
	assert.Equal(t, protocol.HandRaised{RoomID: "R", ConnectionID: cs[1].ID(), Raised: true}, cs[0].Events()[0])
	assert.True(t, f.dir.MembersOf("R")[1].HandRaised)
}

func TestLeaveRoom_NotJoinedIsNoop(t *testing.T) {
	f := newFixture()
	c := f.connect(t, "c1")
	assert.NoError(t, f.route(t, c, protocol.LeaveRoom{RoomID: "R"}))
}

// Frames from one sender reach each recipient in send order, whatever the
// event kind
func TestOrderingPerSender(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2")

	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "1"}))
	require.NoError(t, f.route(t, cs[0], protocol.SendSignal{RoomID: "R", TargetConnectionID: cs[1].ID(), Payload: json.RawMessage(`{"n":2}`)}))
	require.NoError(t, f.route(t, cs[0], protocol.UpdateWhiteboard{RoomID: "R", Elements: []json.RawMessage{json.RawMessage(`{}`)}}))
	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "4"}))

	assert.Equal(t, []protocol.EventType{
		protocol.TypeChatMessage, protocol.TypeSignal, protocol.TypeWhiteboardUpdate, protocol.TypeChatMessage,
	}, cs[1].Types())
}

// A chat broadcast to a recipient whose queue is full is dropped for that
// recipient only; signaling still gets through
func TestBackpressureDropsChatNotSignals(t *testing.T) {
	f := newFixture()
	cs := f.connectAndJoin(t, "R", "c1", "c2", "c3")
	cs[1].Capacity = 1

	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "1"}))
	require.NoError(t, f.route(t, cs[0], protocol.SendChat{RoomID: "R", Text: "2"}))
	require.NoError(t, f.route(t, cs[0], protocol.SendSignal{RoomID: "R", TargetConnectionID: cs[1].ID(), Payload: json.RawMessage(`{}`)}))

	assert.Equal(t, []protocol.EventType{protocol.TypeChatMessage, protocol.TypeSignal}, cs[1].Types())
	assert.Len(t, cs[2].Frames(), 2)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(time.Minute)
	assert.True(t, rl.Allow("a"))

	now = now.Add(6 * time.Minute)
	assert.Equal(t, 2, rl.Cleanup())
	assert.Equal(t, 0, rl.Size())

	rl.Allow("c")
	rl.Forget("c")
	assert.Equal(t, 0, rl.Size())

	assert.True(t, NewRateLimiter(0, 0).Allow("x"))
}
