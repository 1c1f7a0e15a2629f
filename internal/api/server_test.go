package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/internal/hub"
	"liveclass/internal/session"
	"liveclass/internal/testutil"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	hub    *hub.Hub
	store  *testutil.MemStore
	server *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewMemStore(&types.LiveClass{
		ID: "algebra", Title: "Algebra", HostID: "teacher", AudienceIDs: []string{"ana"}, Status: types.ClassStatusLive,
	}, &types.LiveClass{
		ID: "history", Title: "History", HostID: "teacher", Status: types.ClassStatusScheduled,
	})
	classes := session.NewManager(store, false, discard())
	require.NoError(t, classes.LoadLiveClasses(context.Background()))

	h := hub.New(hub.Config{}, classes, discard())
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { _ = h.Stop() })

	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	return &fixture{hub: h, store: store, server: NewServer(h, classes, store, ws, []string{"https://school.example"}, discard())}
}

func (f *fixture) join(t *testing.T, roomID, userID string) *testutil.FakeConn {
	t.Helper()
	c := testutil.NewFakeConn("", userID)
	_, err := f.hub.Accept(c)
	require.NoError(t, err)
	data, err := protocol.EncodeInbound(protocol.JoinRoom{RoomID: roomID, UserID: userID, DisplayName: userID})
	require.NoError(t, err)
	f.hub.HandleFrame(context.Background(), c, data)
	require.NotEmpty(t, c.OfType(protocol.TypeRoomSnapshot), "join must succeed")
	return c
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, true, resp.Coordinator["running"])

	f.store.Err = errors.New("connection refused")
	w = f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	resp = decode[HealthResponse](t, w)
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Contains(t, resp.Database, "connection refused")
}

func TestListRooms(t *testing.T) {
	f := newFixture(t)

	resp := decode[ListRoomsResponse](t, f.do(t, http.MethodGet, "/api/rooms", ""))
	assert.Empty(t, resp.Rooms)

	f.join(t, "algebra", "teacher")
	f.join(t, "algebra", "ana")

	resp = decode[ListRoomsResponse](t, f.do(t, http.MethodGet, "/api/rooms", ""))
	require.Len(t, resp.Rooms, 1)
	assert.Equal(t, "algebra", resp.Rooms[0].ID)
	assert.Equal(t, 2, resp.Rooms[0].MemberCount)
}

func TestGetRoom(t *testing.T) {
	f := newFixture(t)
	f.join(t, "algebra", "teacher")

	w := f.do(t, http.MethodGet, "/api/rooms/algebra", "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[RoomResponse](t, w)
	assert.True(t, resp.Live)
	require.Len(t, resp.Members, 1)
	assert.Equal(t, types.RoleHost, resp.Members[0].Role)
	require.NotNil(t, resp.Class)
	assert.Equal(t, "Algebra", resp.Class.Title)

	resp = decode[RoomResponse](t, f.do(t, http.MethodGet, "/api/rooms/history", ""))
	assert.False(t, resp.Live)
	assert.Empty(t, resp.Members)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/rooms/nowhere", "").Code)
}

func TestRoomHistory(t *testing.T) {
	f := newFixture(t)
	base := time.Now().UTC()
	for i, text := range []string{"a", "b", "c"} {
		require.NoError(t, f.store.StoreChatMessage(context.Background(), &types.ChatMessage{
			ID: text, RoomID: "algebra", Text: text, Type: types.ChatText, SentAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	resp := decode[HistoryResponse](t, f.do(t, http.MethodGet, "/api/rooms/algebra/chat?limit=2", ""))
	require.Len(t, resp.Messages, 2)
	assert.Equal(t, "b", resp.Messages[0].Text)

	resp = decode[HistoryResponse](t, f.do(t, http.MethodGet, "/api/rooms/empty/chat", ""))
	assert.NotNil(t, resp.Messages)
	assert.Empty(t, resp.Messages)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/rooms/algebra/chat?limit=x", "").Code)
}

func TestCloseRoom(t *testing.T) {
	f := newFixture(t)
	host := f.join(t, "algebra", "teacher")
	student := f.join(t, "algebra", "ana")

	w := f.do(t, http.MethodPost, "/api/rooms/algebra/close", `{"reason":"lesson over"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, CloseResponse{RoomID: "algebra", Evicted: 2}, decode[CloseResponse](t, w))

	for _, c := range []*testutil.FakeConn{host, student} {
		closed := c.OfType(protocol.TypeRoomClosed)
		require.Len(t, closed, 1)
		assert.Equal(t, protocol.RoomClosed{RoomID: "algebra", Reason: "lesson over"}, closed[0])
		assert.False(t, c.Closed(), "members stay connected")
	}
	assert.Empty(t, f.hub.Directory().MembersOf("algebra"))

	class, err := f.store.GetClass(context.Background(), "algebra")
	require.NoError(t, err)
	assert.Equal(t, types.ClassStatusEnded, class.Status)

	w = f.do(t, http.MethodPost, "/api/rooms/algebra/close", "")
	require.Equal(t, http.StatusOK, w.Code, "closing twice is harmless")
	assert.Equal(t, 0, decode[CloseResponse](t, w).Evicted)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/rooms/nowhere/close", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/api/rooms/algebra/close", "{").Code)
}

func TestRoutes_MethodsAndMounts(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodDelete, "/api/rooms", "").Code)
	assert.Equal(t, http.StatusTeapot, f.do(t, http.MethodGet, "/ws", "").Code)

	w := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "liveclass_open_connections")
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/rooms", nil)
	req.Header.Set("Origin", "https://school.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	assert.Equal(t, "https://school.example", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/rooms", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	w = httptest.NewRecorder()
	f.server.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
