// Package client is a Go client for the coordinator's WebSocket protocol.
// It keeps the local view a browser would keep: roster, whiteboard and one
// negotiating Peer per remote member.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

var (
	ErrClosed      = errors.New("client is closed")
	ErrNotInRoom   = errors.New("client has not joined this room")
	ErrNoWelcome   = errors.New("server did not send a welcome frame")
	ErrUnknownPeer = errors.New("no such peer")
)

// Options configures Dial
type Options struct {
	// URL is the server base, e.g. http://localhost:8080; /ws is appended
	URL    string
	UserID string
	Token  string
	// AutoAnswer answers incoming offers with an "answer:<offer>" sdp
	AutoAnswer   bool
	Buffer       int
	WriteTimeout time.Duration
	Dialer       *websocket.Dialer
}

type roomView struct {
	self       types.Member
	members    map[string]types.Member
	whiteboard []json.RawMessage
	peers      map[string]*Peer
}

// Client is one connection to the coordinator
type Client struct {
	conn   *websocket.Conn
	id     string
	userID string
	opts   Options

	events chan protocol.Outbound
	done   chan struct{}
	quit   chan struct{}

	writeMu sync.Mutex

	mu     sync.Mutex
	rooms  map[string]*roomView
	err    error
	closed bool
}

// Dial connects and waits for the welcome frame carrying the connection id
func Dial(ctx context.Context, opts Options) (*Client, error) {
	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	q := u.Query()
	if opts.UserID != "" {
		q.Set("user_id", opts.UserID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 256
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to read welcome: %w", err)
	}
	ev, err := protocol.DecodeOutbound(data)
	welcome, ok := ev.(protocol.Welcome)
	if err != nil || !ok {
		_ = conn.Close()
		return nil, ErrNoWelcome
	}
	_ = conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:   conn,
		id:     welcome.ConnectionID,
		userID: opts.UserID,
		opts:   opts,
		events: make(chan protocol.Outbound, opts.Buffer),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
		rooms:  make(map[string]*roomView),
	}
	go c.readLoop()
	return c, nil
}

// ID is the connection id assigned by the server
func (c *Client) ID() string { return c.id }

// Events delivers every decoded server event after local state is updated.
// It is closed when the connection ends
func (c *Client) Events() <-chan protocol.Outbound { return c.events }

// Done is closed when the read loop exits
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns the error that ended the read loop, if any
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			return
		}
		ev, err := protocol.DecodeOutbound(data)
		if err != nil {
			continue
		}
		c.apply(ev)
		select {
		case c.events <- ev:
		case <-c.quit:
			return
		}
	}
}

// apply folds a server event into the local view
func (c *Client) apply(ev protocol.Outbound) {
	var reply *outgoing

	c.mu.Lock()
	switch e := ev.(type) {
	case protocol.RoomSnapshot:
		v := &roomView{self: e.Self, members: make(map[string]types.Member), peers: make(map[string]*Peer)}
		for _, m := range e.Members {
			v.members[m.ConnectionID] = m
		}
		if e.Whiteboard != nil {
			v.whiteboard = e.Whiteboard.Elements
		}
		c.rooms[e.RoomID] = v
	case protocol.MemberJoined:
		if v := c.rooms[e.RoomID]; v != nil {
			v.members[e.ConnectionID] = types.Member{
				ConnectionID: e.ConnectionID, UserID: e.UserID, DisplayName: e.DisplayName, Role: e.Role,
			}
		}
	case protocol.MemberLeft:
		for id, v := range c.rooms {
			if e.RoomID != "" && id != e.RoomID {
				continue
			}
			delete(v.members, e.ConnectionID)
			if p := v.peers[e.ConnectionID]; p != nil {
				p.Close()
				delete(v.peers, e.ConnectionID)
			}
		}
	case protocol.HandRaised:
		if v := c.rooms[e.RoomID]; v != nil {
			if m, ok := v.members[e.ConnectionID]; ok {
				m.HandRaised = e.Raised
				v.members[e.ConnectionID] = m
			}
		}
	case protocol.WhiteboardBroadcast:
		if v := c.rooms[e.RoomID]; v != nil {
			v.whiteboard = e.Elements
		}
	case protocol.SignalRelay:
		reply = c.handleSignalLocked(e)
	case protocol.RoomClosed:
		if v := c.rooms[e.RoomID]; v != nil {
			for _, p := range v.peers {
				p.Close()
			}
			delete(c.rooms, e.RoomID)
		}
	}
	c.mu.Unlock()

	if reply != nil {
		_ = c.signal(reply.roomID, reply.target, reply.sig)
	}
}

type outgoing struct {
	roomID, target string
	sig            Signal
}

func (c *Client) handleSignalLocked(e protocol.SignalRelay) *outgoing {
	v := c.rooms[e.RoomID]
	if v == nil {
		return nil
	}
	var s Signal
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return nil
	}
	p := v.peerLocked(c.id, e.SenderConnectionID)
	accepted, err := p.Handle(s)
	if err != nil || !accepted || s.Kind != KindOffer || !c.opts.AutoAnswer {
		return nil
	}
	ans, err := p.Answer("answer:" + s.SDP)
	if err != nil {
		return nil
	}
	return &outgoing{roomID: e.RoomID, target: e.SenderConnectionID, sig: ans}
}

func (v *roomView) peerLocked(self, remote string) *Peer {
	p := v.peers[remote]
	if p == nil {
		p = NewPeer(self, remote)
		v.peers[remote] = p
	}
	return p
}

func (c *Client) send(ev protocol.Inbound) error {
	data, err := protocol.EncodeInbound(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Join asks to enter roomID; the result arrives as a RoomSnapshot or
// ProtocolError event
func (c *Client) Join(roomID, displayName string) error {
	return c.send(protocol.JoinRoom{RoomID: roomID, UserID: c.userID, DisplayName: displayName})
}

// Leave leaves roomID and forgets its local view
func (c *Client) Leave(roomID string) error {
	c.mu.Lock()
	if v := c.rooms[roomID]; v != nil {
		for _, p := range v.peers {
			p.Close()
		}
		delete(c.rooms, roomID)
	}
	c.mu.Unlock()
	return c.send(protocol.LeaveRoom{RoomID: roomID})
}

func (c *Client) Chat(roomID, text string, kind types.ChatType) error {
	return c.send(protocol.SendChat{RoomID: roomID, Text: text, Type: kind})
}

func (c *Client) RaiseHand(roomID string, raised bool) error {
	return c.send(protocol.RaiseHand{RoomID: roomID, Raised: raised})
}

// Draw replaces the whiteboard locally and on the server
func (c *Client) Draw(roomID string, elements []json.RawMessage) error {
	c.mu.Lock()
	if v := c.rooms[roomID]; v != nil {
		v.whiteboard = elements
	}
	c.mu.Unlock()
	return c.send(protocol.UpdateWhiteboard{RoomID: roomID, Elements: elements})
}

// SendRaw sends a pre-encoded frame, for exercising server validation
func (c *Client) SendRaw(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) signal(roomID, target string, s Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.send(protocol.SendSignal{RoomID: roomID, TargetConnectionID: target, Payload: payload})
}

// Offer starts negotiation with target
func (c *Client) Offer(roomID, target, sdp string) error {
	p, err := c.peer(roomID, target, true)
	if err != nil {
		return err
	}
	s, err := p.Offer(sdp)
	if err != nil {
		return err
	}
	return c.signal(roomID, target, s)
}

// Answer accepts target's pending offer
func (c *Client) Answer(roomID, target, sdp string) error {
	p, err := c.peer(roomID, target, false)
	if err != nil {
		return err
	}
	s, err := p.Answer(sdp)
	if err != nil {
		return err
	}
	return c.signal(roomID, target, s)
}

// SendCandidate trickles a local ICE candidate to target
func (c *Client) SendCandidate(roomID, target string, candidate json.RawMessage) error {
	p, err := c.peer(roomID, target, true)
	if err != nil {
		return err
	}
	s, err := p.Candidate(candidate)
	if err != nil {
		return err
	}
	return c.signal(roomID, target, s)
}

func (c *Client) peer(roomID, remote string, create bool) (*Peer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.rooms[roomID]
	if v == nil {
		return nil, ErrNotInRoom
	}
	if !create {
		if p := v.peers[remote]; p != nil {
			return p, nil
		}
		return nil, ErrUnknownPeer
	}
	return v.peerLocked(c.id, remote), nil
}

// Peer returns the negotiation state with remote in roomID
func (c *Client) Peer(roomID, remote string) (*Peer, bool) {
	p, err := c.peer(roomID, remote, false)
	return p, err == nil
}

// Self returns this client's membership in roomID
func (c *Client) Self(roomID string) (types.Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.rooms[roomID]
	if v == nil {
		return types.Member{}, false
	}
	return v.self, true
}

// Roster returns the known members of roomID ordered by connection id
func (c *Client) Roster(roomID string) []types.Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := c.rooms[roomID]
	if v == nil {
		return nil
	}
	out := make([]types.Member, 0, len(v.members))
	for _, m := range v.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Whiteboard returns the local copy of roomID's elements
func (c *Client) Whiteboard(roomID string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v := c.rooms[roomID]; v != nil {
		return append([]json.RawMessage(nil), v.whiteboard...)
	}
	return nil
}

// Next returns the next event or an error when ctx ends or the connection closes
func (c *Client) Next(ctx context.Context) (protocol.Outbound, error) {
	select {
	case ev, ok := <-c.events:
		if !ok {
			return nil, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WaitFor discards events until one of type t arrives
func (c *Client) WaitFor(ctx context.Context, t protocol.EventType) (protocol.Outbound, error) {
	for {
		ev, err := c.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("waiting for %s: %w", t, err)
		}
		if ev.EventType() == t {
			return ev, nil
		}
	}
}

// Drain discards buffered events
func (c *Client) Drain() {
	for {
		select {
		case _, ok := <-c.events:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// Close sends a normal close frame and tears the connection down
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	close(c.quit)

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// Abort drops the transport without a close handshake, as a crashed tab would
func (c *Client) Abort() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.quit)
	}
	c.mu.Unlock()
	return c.conn.NetConn().Close()
}
