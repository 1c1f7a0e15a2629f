package websocket

import "sync"

// outbox is the ordered outbound queue of one connection. Producers never
// block: droppable frames are refused at the soft limit, everything else is
// queued until the hard limit, at which point the consumer is considered dead
type outbox struct {
	mu     sync.Mutex
	frames [][]byte
	soft   int
	hard   int
	closed bool
	ready  chan struct{}
}

func newOutbox(soft, hard int) *outbox {
	if hard < soft {
		hard = soft
	}
	return &outbox{soft: soft, hard: hard, ready: make(chan struct{}, 1)}
}

func (o *outbox) push(data []byte, droppable bool) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrConnectionClosed
	}
	n := len(o.frames)
	if droppable && n >= o.soft {
		o.mu.Unlock()
		return ErrFrameDropped
	}
	if n >= o.hard {
		o.mu.Unlock()
		return ErrSlowConsumer
	}
	o.frames = append(o.frames, data)
	o.mu.Unlock()

	select {
	case o.ready <- struct{}{}:
	default:
	}
	return nil
}

// pop removes the oldest frame
func (o *outbox) pop() ([]byte, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.frames) == 0 {
		return nil, false
	}
	data := o.frames[0]
	o.frames[0] = nil
	o.frames = o.frames[1:]
	return data, true
}

func (o *outbox) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *outbox) close() {
	o.mu.Lock()
	o.closed = true
	o.frames = nil
	o.mu.Unlock()
}
