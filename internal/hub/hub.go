// Package hub wires the registry, room directory, router and presence
// manager into one coordinator instance.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"liveclass/internal/bus"
	"liveclass/internal/presence"
	"liveclass/internal/room"
	"liveclass/internal/router"
	"liveclass/internal/websocket"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/metrics"
	"liveclass/pkg/protocol"
)

// Config sizes the coordinator
type Config struct {
	MaxConnections  int
	MaxRoomMembers  int
	ChatLimit       int
	ChatWindow      time.Duration
	CleanupInterval time.Duration
}

// Archiver is a ChatArchive with its own background writer
type Archiver interface {
	interfaces.ChatArchive
	Run(ctx context.Context)
}

// Hub is constructed once per process and passed to whoever needs it
type Hub struct {
	registry  *websocket.Registry
	directory *room.Directory
	presence  *presence.Manager
	router    *router.Router
	relay     *bus.Publisher
	tasks     []func(context.Context)
	cleanup   time.Duration
	log       *slog.Logger

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures optional collaborators
type Option func(*Hub, *[]router.Option)

// WithArchive archives chat through a and runs its writer while started
func WithArchive(a Archiver) Option {
	return func(h *Hub, ro *[]router.Option) {
		*ro = append(*ro, router.WithArchive(a))
		h.tasks = append(h.tasks, a.Run)
	}
}

// WithBus relays room traffic to other instances through p
func WithBus(p *bus.Publisher) Option {
	return func(h *Hub, ro *[]router.Option) {
		h.relay = p
		*ro = append(*ro, router.WithRelay(p))
		h.tasks = append(h.tasks, p.Run, func(ctx context.Context) { p.Listen(ctx, h.deliverRemote) })
	}
}

// WithTask runs fn in the background between Start and Stop
func WithTask(fn func(ctx context.Context)) Option {
	return func(h *Hub, _ *[]router.Option) { h.tasks = append(h.tasks, fn) }
}

// New builds a hub; admission decides every join
func New(cfg Config, admission interfaces.Admission, log *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		registry:  websocket.NewRegistry(cfg.MaxConnections),
		directory: room.NewDirectory(cfg.MaxRoomMembers, log),
		cleanup:   cfg.CleanupInterval,
		log:       log,
	}
	if h.cleanup <= 0 {
		h.cleanup = time.Minute
	}

	ropts := []router.Option{router.WithChatLimit(cfg.ChatLimit, cfg.ChatWindow)}
	for _, opt := range opts {
		opt(h, &ropts)
	}

	h.presence = presence.NewManager(h.registry, h.directory, admission, log)
	h.presence.SetRelay(h.relay)
	h.router = router.NewRouter(h.registry, h.directory, h.presence, log, ropts...)
	h.presence.OnDisconnect(h.router.Limiter().Forget)
	return h
}

// Directory exposes room state for read-only consumers such as the API
func (h *Hub) Directory() *room.Directory { return h.directory }

// Registry exposes the connection registry
func (h *Hub) Registry() *websocket.Registry { return h.registry }

// Start launches background tasks
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return ErrHubAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.running = true

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.cleanupLoop(ctx)
	}()
	for _, task := range h.tasks {
		h.wg.Add(1)
		go func(task func(context.Context)) {
			defer h.wg.Done()
			task(ctx)
		}(task)
	}

	h.log.Info("hub started", "node", h.relay.Node())
	return nil
}

func (h *Hub) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(h.cleanup)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.router.Limiter().Cleanup(); n > 0 {
				h.log.Debug("rate limiter cleanup", "removed", n)
			}
		}
	}
}

// Stop disconnects every client and waits for background tasks
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.cancel()
	h.mu.Unlock()

	for _, conn := range h.registry.All() {
		h.presence.Disconnect(conn)
	}
	h.wg.Wait()
	h.log.Info("hub stopped")
	return nil
}

// IsRunning reports whether Start has been called without Stop
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// AtCapacity reports whether new connections would be refused
func (h *Hub) AtCapacity() bool { return h.registry.AtCapacity() }

// Accept registers conn and greets it with its connection id
func (h *Hub) Accept(conn interfaces.Connection) (string, error) {
	if !h.IsRunning() {
		return "", ErrHubNotRunning
	}
	id, err := h.registry.Register(conn)
	if err != nil {
		return "", err
	}
	if f, err := protocol.NewFrame(protocol.Welcome{ConnectionID: id}); err == nil {
		_ = conn.Send(f)
	}
	h.log.Info("connection accepted", "conn", id, "user", conn.UserID())
	return id, nil
}

// HandleFrame decodes one text frame and routes it. Any failure becomes a
// protocol-error frame to conn alone
func (h *Hub) HandleFrame(ctx context.Context, conn interfaces.Connection, data []byte) {
	ev, err := protocol.Decode(data)
	if err != nil {
		h.reject(conn, "", "", err)
		return
	}
	metrics.InboundEvents.WithLabelValues(string(ev.EventType())).Inc()

	if err := h.router.Route(ctx, conn, ev); err != nil {
		h.reject(conn, ev.EventType(), ev.Room(), err)
	}
}

func (h *Hub) reject(conn interfaces.Connection, event protocol.EventType, roomID string, err error) {
	label := string(event)
	if label == "" {
		label = "undecodable"
	}
	metrics.ProtocolErrors.WithLabelValues(label).Inc()
	h.log.Debug("protocol error", "conn", conn.ID(), "event", event, "room", roomID, "err", err)

	f, ferr := protocol.NewFrame(protocol.ProtocolError{Reason: err.Error(), Event: event, RoomID: roomID})
	if ferr == nil {
		_ = conn.Send(f)
	}
}

// Disconnect runs presence cleanup for conn; safe to call repeatedly
func (h *Hub) Disconnect(conn interfaces.Connection) {
	h.presence.Disconnect(conn)
}

// CloseRoom tells every member the room is closed and empties it. Members
// stay connected. Returns the number evicted
func (h *Hub) CloseRoom(roomID, reason string) int {
	f, err := protocol.NewFrame(protocol.RoomClosed{RoomID: roomID, Reason: reason})
	if err != nil {
		return 0
	}
	evicted := h.directory.Evict(roomID, func(tx room.Tx) { tx.Broadcast("", f) })
	h.relay.Relay(bus.Broadcast(roomID, "", f))
	if len(evicted) > 0 {
		h.log.Info("room closed", "room", roomID, "reason", reason, "evicted", len(evicted))
	}
	return len(evicted)
}

// deliverRemote applies an envelope published by another instance to the
// local members of its room
func (h *Hub) deliverRemote(env bus.Envelope) {
	f := env.ToFrame()
	switch {
	case env.Target != "":
		if c, ok := h.registry.Get(env.Target); ok {
			_ = c.Send(f)
		}
	case env.Type == protocol.TypeRoomClosed:
		h.directory.Evict(env.RoomID, func(tx room.Tx) { tx.Broadcast("", f) })
	default:
		if env.Type == protocol.TypeWhiteboardUpdate {
			h.directory.ReplaceWhiteboard(env.RoomID, env.Whiteboard)
		}
		if _, err := h.directory.Broadcast(env.RoomID, "", f); err != nil && !errors.Is(err, room.ErrRoomNotFound) {
			h.log.Debug("remote delivery failed", "room", env.RoomID, "err", err)
		}
	}
}

// Stats returns coordinator statistics for monitoring
func (h *Hub) Stats() map[string]any {
	return map[string]any{
		"running":          h.IsRunning(),
		"node":             h.relay.Node(),
		"open_connections": h.registry.Count(),
		"rooms":            h.directory.RoomCount(),
	}
}
