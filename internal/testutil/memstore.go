package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// MemStore is an in-memory interfaces.ClassStore
type MemStore struct {
	mu      sync.Mutex
	classes map[string]*types.LiveClass
	chat    []*types.ChatMessage
	Err     error // returned by every call when set
}

// NewMemStore creates a store preloaded with classes
func NewMemStore(classes ...*types.LiveClass) *MemStore {
	s := &MemStore{classes: map[string]*types.LiveClass{}}
	for _, c := range classes {
		s.classes[c.ID] = c
	}
	return s
}

func (s *MemStore) CreateClass(_ context.Context, c *types.LiveClass) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	cp := *c
	s.classes[c.ID] = &cp
	return nil
}

func (s *MemStore) GetClass(_ context.Context, id string) (*types.LiveClass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	c, ok := s.classes[id]
	if !ok {
		return nil, interfaces.ErrClassNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemStore) UpdateClassStatus(_ context.Context, id, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	c, ok := s.classes[id]
	if !ok {
		return interfaces.ErrClassNotFound
	}
	c.Status = status
	switch status {
	case types.ClassStatusLive:
		c.StartedAt = &at
	case types.ClassStatusEnded:
		c.EndedAt = &at
	}
	return nil
}

func (s *MemStore) ListLiveClasses(context.Context) ([]*types.LiveClass, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*types.LiveClass
	for _, c := range s.classes {
		if c.IsLive() {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemStore) StoreChatMessage(_ context.Context, m *types.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.chat = append(s.chat, m)
	return nil
}

func (s *MemStore) GetRoomHistory(_ context.Context, roomID string, limit int) ([]*types.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	var out []*types.ChatMessage
	for _, m := range s.chat {
		if m.RoomID == roomID {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemStore) HealthCheck(context.Context) error { return s.Err }

func (s *MemStore) Close() error { return nil }

// ChatCount returns the number of stored chat messages
func (s *MemStore) ChatCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chat)
}
