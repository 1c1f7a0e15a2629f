package bus

import (
	"context"
	"log/slog"
	"time"

	"liveclass/pkg/metrics"
)

// relayWait bounds how long a non-droppable envelope waits for queue space
const relayWait = time.Second

// Publisher decouples the hot path from redis: Relay only enqueues, and a
// background goroutine publishes. A nil *Publisher is a valid no-op.
// Like a connection outbox, droppable envelopes are refused at a soft
// limit so the rest of the queue stays free for signaling and presence
type Publisher struct {
	bus   Bus
	node  string
	queue chan Envelope
	soft  int
	wait  time.Duration
	log   *slog.Logger
}

// NewPublisher creates a publisher stamping envelopes with node
func NewPublisher(b Bus, node string, size int, log *slog.Logger) *Publisher {
	if size <= 0 {
		size = 1024
	}
	soft := size * 3 / 4
	if soft < 1 {
		soft = 1
	}
	return &Publisher{bus: b, node: node, queue: make(chan Envelope, size), soft: soft, wait: relayWait, log: log}
}

// Node returns this instance's id
func (p *Publisher) Node() string {
	if p == nil {
		return ""
	}
	return p.node
}

// Relay queues env for publishing and reports false when it was dropped.
// Droppable envelopes never block; the others wait up to p.wait for space
func (p *Publisher) Relay(env Envelope) bool {
	if p == nil {
		return false
	}
	env.Node = p.node

	if env.Droppable {
		if len(p.queue) < p.soft {
			select {
			case p.queue <- env:
				return true
			default:
			}
		}
		return p.dropped(env)
	}

	select {
	case p.queue <- env:
		return true
	default:
	}
	timer := time.NewTimer(p.wait)
	defer timer.Stop()
	select {
	case p.queue <- env:
		return true
	case <-timer.C:
		return p.dropped(env)
	}
}

func (p *Publisher) dropped(env Envelope) bool {
	metrics.RelayDropped.WithLabelValues(string(env.Type)).Inc()
	p.log.Warn("bus: publish queue full, dropping", "room", env.RoomID, "type", env.Type, "droppable", env.Droppable)
	return false
}

// Run publishes queued envelopes until ctx is done
func (p *Publisher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-p.queue:
			pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := p.bus.Publish(pctx, env); err != nil {
				p.log.Warn("bus: publish failed", "room", env.RoomID, "err", err)
			}
			cancel()
		}
	}
}

// Listen subscribes to the bus and hands every envelope from another node
// to fn, retrying the subscription until ctx is done
func (p *Publisher) Listen(ctx context.Context, fn func(Envelope)) {
	for {
		err := p.bus.Subscribe(ctx, func(env Envelope) {
			if env.Node != p.node {
				fn(env)
			}
		})
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("bus: subscription ended, retrying", "err", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
