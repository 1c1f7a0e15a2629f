package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"liveclass/internal/bus"
	"liveclass/internal/room"
	"liveclass/internal/websocket"
	"liveclass/pkg/interfaces"
	"liveclass/pkg/metrics"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// Presence owns join and leave; the router only dispatches to it
type Presence interface {
	Join(ctx context.Context, conn interfaces.Connection, ev protocol.JoinRoom) error
	Leave(conn interfaces.Connection, roomID string) bool
}

// Router dispatches decoded inbound events. It holds no state of its own
// beyond the chat rate limiter; all room state lives in the directory
type Router struct {
	registry  *websocket.Registry
	directory *room.Directory
	presence  Presence
	limiter   *RateLimiter
	archive   interfaces.ChatArchive
	relay     *bus.Publisher
	log       *slog.Logger
	now       func() time.Time
}

// Option configures optional collaborators
type Option func(*Router)

// WithArchive sends every chat message to a for best-effort storage
func WithArchive(a interfaces.ChatArchive) Option { return func(r *Router) { r.archive = a } }

// WithRelay forwards room traffic to other instances
func WithRelay(p *bus.Publisher) Option { return func(r *Router) { r.relay = p } }

// WithChatLimit sets the per-connection chat rate (limit per window)
func WithChatLimit(limit int, window time.Duration) Option {
	return func(r *Router) { r.limiter = NewRateLimiter(limit, window) }
}

// NewRouter creates a router
func NewRouter(registry *websocket.Registry, directory *room.Directory, presence Presence, log *slog.Logger, opts ...Option) *Router {
	r := &Router{
		registry:  registry,
		directory: directory,
		presence:  presence,
		limiter:   NewRateLimiter(100, time.Minute),
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Limiter exposes the chat limiter for periodic cleanup
func (r *Router) Limiter() *RateLimiter { return r.limiter }

// Route handles one inbound event from sender. A returned error is a
// protocol error to be reported to the sender only
func (r *Router) Route(ctx context.Context, sender interfaces.Connection, ev protocol.Inbound) error {
	switch ev := ev.(type) {
	case protocol.JoinRoom:
		return r.presence.Join(ctx, sender, ev)
	case protocol.LeaveRoom:
		r.presence.Leave(sender, ev.RoomID)
		return nil
	case protocol.SendSignal:
		return r.routeSignal(sender, ev)
	case protocol.SendChat:
		return r.routeChat(sender, ev)
	case protocol.UpdateWhiteboard:
		return r.routeWhiteboard(sender, ev)
	case protocol.RaiseHand:
		return r.routeRaiseHand(sender, ev)
	default:
		return ErrUnsupportedEvent
	}
}

// routeSignal forwards the payload unchanged to exactly one connection. A
// target that is not open anywhere is a resolution failure: dropped with
// no error to the sender
func (r *Router) routeSignal(sender interfaces.Connection, ev protocol.SendSignal) error {
	if !r.directory.IsMember(ev.RoomID, sender.ID()) {
		return room.ErrNotInRoom
	}
	f, err := protocol.NewFrame(protocol.SignalRelay{
		RoomID:             ev.RoomID,
		Payload:            ev.Payload,
		SenderConnectionID: sender.ID(),
	})
	if err != nil {
		return err
	}

	target, ok := r.registry.Get(ev.TargetConnectionID)
	if !ok {
		if r.relay.Relay(bus.Unicast(ev.RoomID, ev.TargetConnectionID, f)) {
			return nil
		}
		metrics.UnresolvedSignals.Inc()
		r.log.Debug("signal target not open", "room", ev.RoomID, "target", ev.TargetConnectionID)
		return nil
	}
	_ = target.Send(f)
	return nil
}

func (r *Router) routeChat(sender interfaces.Connection, ev protocol.SendChat) error {
	// display name comes from the sender's membership record; non-members
	// are refused before they spend any rate quota
	var self *types.Member
	for _, m := range r.directory.MembersOf(ev.RoomID) {
		if m.ConnectionID == sender.ID() {
			self = &m
			break
		}
	}
	if self == nil {
		return room.ErrNotInRoom
	}
	if !r.limiter.Allow(sender.ID()) {
		return ErrRateLimitExceeded
	}

	msg := &types.ChatMessage{
		ID:                 uuid.NewString(),
		RoomID:             ev.RoomID,
		SenderConnectionID: sender.ID(),
		SenderUserID:       sender.UserID(),
		Text:               ev.Text,
		Type:               ev.Type,
		SentAt:             r.now().UTC(),
	}
	if msg.Type == "" {
		msg.Type = types.ChatText
	}
	msg.Sender = self.DisplayName
	if msg.SenderUserID == "" {
		msg.SenderUserID = self.UserID
	}

	f, err := protocol.NewFrame(protocol.ChatBroadcast{
		ID:                 msg.ID,
		RoomID:             msg.RoomID,
		Text:               msg.Text,
		Sender:             msg.Sender,
		SenderConnectionID: msg.SenderConnectionID,
		Type:               msg.Type,
		SentAt:             msg.SentAt,
	})
	if err != nil {
		return err
	}
	if _, err := r.directory.Broadcast(ev.RoomID, sender.ID(), f); err != nil {
		return err
	}

	r.relay.Relay(bus.Broadcast(ev.RoomID, sender.ID(), f))
	if r.archive != nil {
		r.archive.Archive(msg)
	}
	return nil
}

func (r *Router) routeWhiteboard(sender interfaces.Connection, ev protocol.UpdateWhiteboard) error {
	f, err := protocol.NewFrame(protocol.WhiteboardBroadcast{
		RoomID:             ev.RoomID,
		Elements:           ev.Elements,
		SenderConnectionID: sender.ID(),
	})
	if err != nil {
		return err
	}
	if _, err := r.directory.UpdateWhiteboard(ev.RoomID, sender.ID(), ev.Elements, f); err != nil {
		return err
	}

	env := bus.Broadcast(ev.RoomID, sender.ID(), f)
	env.Whiteboard = ev.Elements
	r.relay.Relay(env)
	return nil
}

func (r *Router) routeRaiseHand(sender interfaces.Connection, ev protocol.RaiseHand) error {
	f, err := protocol.NewFrame(protocol.HandRaised{
		RoomID:       ev.RoomID,
		ConnectionID: sender.ID(),
		Raised:       ev.Raised,
	})
	if err != nil {
		return err
	}
	err = r.directory.SetHandRaised(ev.RoomID, sender.ID(), ev.Raised, func(tx room.Tx) {
		tx.Broadcast(sender.ID(), f)
	})
	if err != nil {
		return err
	}
	r.relay.Relay(bus.Broadcast(ev.RoomID, sender.ID(), f))
	return nil
}
