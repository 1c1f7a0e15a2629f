package websocket

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"liveclass/pkg/metrics"
	"liveclass/pkg/protocol"
)

// Queue limits and write timeout used when ConnectionOptions leaves them zero
const (
	DefaultSoftLimit    = 256
	DefaultHardLimit    = 1024
	DefaultWriteTimeout = 5 * time.Second
)

// ConnectionOptions bounds a connection's outbound queue
type ConnectionOptions struct {
	SoftLimit    int
	HardLimit    int
	WriteTimeout time.Duration
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.SoftLimit <= 0 {
		o.SoftLimit = DefaultSoftLimit
	}
	if o.HardLimit <= 0 {
		o.HardLimit = DefaultHardLimit
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = DefaultWriteTimeout
	}
	return o
}

// Connection implements interfaces.Connection over a gorilla/websocket conn
// All data frames go through the outbox and a single writer goroutine, so
// frames reach the peer in the order they were queued
type Connection struct {
	conn         *websocket.Conn
	out          *outbox
	writeTimeout time.Duration
	log          *slog.Logger

	mu     sync.RWMutex
	id     string
	userID string

	open      atomic.Bool
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewConnection wraps conn and starts its writer goroutine
func NewConnection(conn *websocket.Conn, opts ConnectionOptions, log *slog.Logger) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		out:          newOutbox(opts.SoftLimit, opts.HardLimit),
		writeTimeout: opts.WriteTimeout,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
	}
	c.open.Store(true)
	go c.writeLoop()
	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.out.ready:
		}
		for {
			data, ok := c.out.pop()
			if !ok {
				break
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("write failed", "conn", c.ID(), "err", err)
				_ = c.Close()
				return
			}
		}
	}
}

// ID returns the registry-assigned connection id
func (c *Connection) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// SetID is called once by the registry
func (c *Connection) SetID(id string) {
	c.mu.Lock()
	c.id = id
	c.mu.Unlock()
}

// UserID returns the verified identity, empty if none
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// SetUserID records the identity verified during the HTTP upgrade
func (c *Connection) SetUserID(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

// IsOpen reports whether Close has not been called yet
func (c *Connection) IsOpen() bool { return c.open.Load() }

// Done is closed when the connection closes
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Send queues f without blocking. A frame refused at the hard limit closes
// the connection; the read loop then runs the normal disconnect path
// Close runs asynchronously since Send may be called under a room lock
func (c *Connection) Send(f protocol.Frame) error {
	err := c.out.push(f.Data, f.Droppable)
	switch err {
	case nil:
	case ErrFrameDropped:
		metrics.DroppedFrames.WithLabelValues(string(f.Type)).Inc()
	case ErrSlowConsumer:
		c.log.Warn("closing slow consumer", "conn", c.ID(), "queued", c.out.len())
		go c.Close()
	}
	return err
}

// Close is idempotent
func (c *Connection) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith closes the connection with a close frame carrying code and
// reason. Only the first close call has any effect
func (c *Connection) CloseWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.cancel()
		c.out.close()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
