// Package testutil holds in-memory fakes shared by package tests.
package testutil

import (
	"encoding/json"
	"sync"

	"liveclass/pkg/protocol"
)

// FakeConn is an in-memory interfaces.Connection that records every frame
// it is sent. Capacity, when set, models a soft-limited queue
type FakeConn struct {
	mu       sync.Mutex
	id       string
	userID   string
	frames   []protocol.Frame
	closed   bool
	closes   int
	Capacity int
}

// NewFakeConn creates a fake connection with a preset id and identity
func NewFakeConn(id, userID string) *FakeConn {
	return &FakeConn{id: id, userID: userID}
}

func (f *FakeConn) ID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *FakeConn) SetID(id string) {
	f.mu.Lock()
	f.id = id
	f.mu.Unlock()
}

func (f *FakeConn) UserID() string { return f.userID }

func (f *FakeConn) Send(fr protocol.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	if fr.Droppable && f.Capacity > 0 && len(f.frames) >= f.Capacity {
		return errDropped
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *FakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.closes++
	f.mu.Unlock()
	return nil
}

// Closed reports whether Close was called
func (f *FakeConn) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Frames returns a copy of everything sent so far
func (f *FakeConn) Frames() []protocol.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.Frame(nil), f.frames...)
}

// Events decodes every recorded frame
func (f *FakeConn) Events() []protocol.Outbound {
	var out []protocol.Outbound
	for _, fr := range f.Frames() {
		ev, err := protocol.DecodeOutbound(fr.Data)
		if err != nil {
			panic(err)
		}
		out = append(out, ev)
	}
	return out
}

// Types lists the event types received, in order
func (f *FakeConn) Types() []protocol.EventType {
	var out []protocol.EventType
	for _, fr := range f.Frames() {
		out = append(out, fr.Type)
	}
	return out
}

// OfType returns the decoded events of type t, in order
func (f *FakeConn) OfType(t protocol.EventType) []protocol.Outbound {
	var out []protocol.Outbound
	for _, ev := range f.Events() {
		if ev.EventType() == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded frames
func (f *FakeConn) Reset() {
	f.mu.Lock()
	f.frames = nil
	f.mu.Unlock()
}

// Raw returns the JSON of the i-th frame as a generic map
func (f *FakeConn) Raw(i int) map[string]any {
	frames := f.Frames()
	var m map[string]any
	if err := json.Unmarshal(frames[i].Data, &m); err != nil {
		panic(err)
	}
	return m
}
