package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Coordinator is the part of the hub the transport talks to
type Coordinator interface {
	Accept(conn interfaces.Connection) (string, error)
	HandleFrame(ctx context.Context, conn interfaces.Connection, data []byte)
	Disconnect(conn interfaces.Connection)
	AtCapacity() bool
}

// TokenVerifier turns a bearer token into a verified user id
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// HandlerOptions configures heartbeat and framing limits
type HandlerOptions struct {
	PongWait       time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string
	Connection     ConnectionOptions
}

// Handler upgrades HTTP requests and runs one read loop per connection
type Handler struct {
	hub      Coordinator
	verifier TokenVerifier
	opts     HandlerOptions
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewHandler creates a handler; verifier may be nil, in which case the
// user_id query parameter is trusted as the identity (development only)
func NewHandler(hub Coordinator, verifier TokenVerifier, opts HandlerOptions, log *slog.Logger) *Handler {
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 << 10
	}
	h := &Handler{hub: hub, verifier: verifier, opts: opts, log: log}
	h.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range h.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

// identify resolves the caller's identity before the upgrade. An empty id
// without error means an anonymous connection (no verifier, no user_id)
func (h *Handler) identify(r *http.Request) (string, error) {
	if h.verifier == nil {
		uid := r.URL.Query().Get("user_id")
		if uid != "" && !types.IsValidUserID(uid) {
			return "", ErrInvalidIdentity
		}
		return uid, nil
	}

	token := r.URL.Query().Get("token")
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}
	if token == "" {
		return "", ErrMissingIdentity
	}
	uid, err := h.verifier.Verify(token)
	if err != nil {
		return "", ErrInvalidIdentity
	}
	return uid, nil
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.identify(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	// Cheap pre-check; Register is still the authority
	if h.hub.AtCapacity() {
		http.Error(w, ErrCapacityExceeded.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "err", err)
		return
	}

	conn := NewConnection(ws, h.opts.Connection, h.log)
	conn.SetUserID(userID)

	if _, err := h.hub.Accept(conn); err != nil {
		h.log.Warn("connection refused", "err", err)
		_ = conn.CloseWith(websocket.CloseTryAgainLater, err.Error())
		return
	}

	go h.serve(conn)
}

// serve runs the read loop. Cleanup is deferred so it also runs on panic
// and on abrupt transport loss
func (h *Handler) serve(conn *Connection) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("connection handler panic", "conn", conn.ID(), "panic", rec)
		}
		h.hub.Disconnect(conn)
	}()

	ws := conn.conn
	ws.SetReadLimit(h.opts.MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	go h.heartbeat(conn)

	for {
		kind, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Info("connection read error", "conn", conn.ID(), "err", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.hub.HandleFrame(conn.ctx, conn, data)
	}
}

func (h *Handler) heartbeat(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.Connection.withDefaults().WriteTimeout)); err != nil {
				_ = conn.Close()
				return
			}
		case <-conn.Done():
			return
		}
	}
}
