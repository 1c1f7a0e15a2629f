package websocket

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/protocol"
)

// echoHub registers connections and echoes every frame back as a
// protocol error carrying the raw text, which is enough to observe the
// transport without the real coordinator
type echoHub struct {
	reg         *Registry
	mu          sync.Mutex
	disconnects map[string]int
	accepted    chan interfaces.Connection
}

func newEchoHub(max int) *echoHub {
	return &echoHub{
		reg:         NewRegistry(max),
		disconnects: map[string]int{},
		accepted:    make(chan interfaces.Connection, 8),
	}
}

func (h *echoHub) Accept(conn interfaces.Connection) (string, error) {
	id, err := h.reg.Register(conn)
	if err != nil {
		return "", err
	}
	_ = conn.Send(protocol.MustFrame(protocol.Welcome{ConnectionID: id}))
	h.accepted <- conn
	return id, nil
}

func (h *echoHub) HandleFrame(_ context.Context, conn interfaces.Connection, data []byte) {
	_ = conn.Send(protocol.MustFrame(protocol.ProtocolError{Reason: string(data)}))
}

func (h *echoHub) Disconnect(conn interfaces.Connection) {
	h.mu.Lock()
	h.disconnects[conn.ID()]++
	h.mu.Unlock()
	h.reg.Unregister(conn.ID())
	_ = conn.Close()
}

func (h *echoHub) AtCapacity() bool { return h.reg.AtCapacity() }

func (h *echoHub) disconnectCount(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects[id]
}

type staticVerifier map[string]string

func (v staticVerifier) Verify(tok string) (string, error) {
	if uid, ok := v[tok]; ok {
		return uid, nil
	}
	return "", errors.New("bad token")
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) protocol.Outbound {
	t.Helper()
	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	ev, err := protocol.DecodeOutbound(data)
	require.NoError(t, err)
	return ev
}

func TestHandler_WelcomeThenOrderedFrames(t *testing.T) {
	hub := newEchoHub(0)
	srv := httptest.NewServer(NewHandler(hub, nil, HandlerOptions{}, discardLogger()))
	defer srv.Close()

	c := dial(t, srv, "?user_id=alice")
	welcome, ok := readEvent(t, c).(protocol.Welcome)
	require.True(t, ok)
	assert.NotEmpty(t, welcome.ConnectionID)

	conn := <-hub.accepted
	assert.Equal(t, "alice", conn.UserID())

	for _, msg := range []string{"one", "two", "three"} {
		require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	for _, want := range []string{"one", "two", "three"} {
		ev := readEvent(t, c).(protocol.ProtocolError)
		assert.Equal(t, want, ev.Reason)
	}
}

func TestHandler_DisconnectRunsOnceOnClientClose(t *testing.T) {
	hub := newEchoHub(0)
	srv := httptest.NewServer(NewHandler(hub, nil, HandlerOptions{}, discardLogger()))
	defer srv.Close()

	c := dial(t, srv, "")
	readEvent(t, c)
	conn := <-hub.accepted
	require.NoError(t, c.Close())

	assert.Eventually(t, func() bool { return hub.disconnectCount(conn.ID()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, hub.reg.IsOpen(conn.ID()))
}

func TestHandler_RejectsInvalidUserID(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newEchoHub(0), nil, HandlerOptions{}, discardLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws?user_id=" + "bad%20id!")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandler_TokenVerification(t *testing.T) {
	hub := newEchoHub(0)
	h := NewHandler(hub, staticVerifier{"good": "bob"}, HandlerOptions{}, discardLogger())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/ws?token=nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	c := dial(t, srv, "?token=good")
	readEvent(t, c)
	conn := <-hub.accepted
	assert.Equal(t, "bob", conn.UserID())
}

func TestHandler_RefusesAtCapacity(t *testing.T) {
	hub := newEchoHub(1)
	srv := httptest.NewServer(NewHandler(hub, nil, HandlerOptions{}, discardLogger()))
	defer srv.Close()

	c := dial(t, srv, "")
	readEvent(t, c)

	resp, err := http.Get(srv.URL + "/ws")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandler_CheckOrigin(t *testing.T) {
	h := NewHandler(newEchoHub(0), nil, HandlerOptions{AllowedOrigins: []string{"https://class.example"}}, discardLogger())

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://class.example")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, h.checkOrigin(r))
}

func TestHandler_OptionDefaults(t *testing.T) {
	h := NewHandler(newEchoHub(0), nil, HandlerOptions{PongWait: 10 * time.Second, PingInterval: time.Minute}, discardLogger())
	assert.Equal(t, 9*time.Second, h.opts.PingInterval)
	assert.Equal(t, int64(64<<10), h.opts.MaxMessageSize)
}
