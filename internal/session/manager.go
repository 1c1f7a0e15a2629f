// Package session answers admission questions from a cache of live class
// records kept in sync with the class store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Manager implements interfaces.Admission
type Manager struct {
	store interfaces.ClassStore
	open  bool
	log   *slog.Logger

	mu      sync.RWMutex
	classes map[string]*types.LiveClass // live classes by id (== room id)
}

// NewManager creates an admission manager. With open set, users joining a
// room that has no class record are admitted as audience
func NewManager(store interfaces.ClassStore, open bool, log *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		open:    open,
		log:     log,
		classes: make(map[string]*types.LiveClass),
	}
}

// LoadLiveClasses fills the cache from the store
func (m *Manager) LoadLiveClasses(ctx context.Context) error {
	_, err := m.RefreshCache(ctx)
	return err
}

// RefreshCache replaces the cache with the store's live classes and returns
// the ids of classes that were live before and are not anymore
func (m *Manager) RefreshCache(ctx context.Context) ([]string, error) {
	if m.store == nil {
		return nil, nil
	}
	live, err := m.store.ListLiveClasses(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load live classes: %w", err)
	}

	next := make(map[string]*types.LiveClass, len(live))
	for _, c := range live {
		next[c.ID] = c
	}

	m.mu.Lock()
	var ended []string
	for id := range m.classes {
		if _, ok := next[id]; !ok {
			ended = append(ended, id)
		}
	}
	m.classes = next
	m.mu.Unlock()

	sort.Strings(ended)
	m.log.Debug("live classes refreshed", "live", len(next), "ended", len(ended))
	return ended, nil
}

// class looks up roomID in the cache, then the store
func (m *Manager) class(ctx context.Context, roomID string) (*types.LiveClass, error) {
	m.mu.RLock()
	c, ok := m.classes[roomID]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}
	if m.store == nil {
		return nil, interfaces.ErrClassNotFound
	}

	c, err := m.store.GetClass(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if c.IsLive() {
		m.mu.Lock()
		m.classes[c.ID] = c
		m.mu.Unlock()
	}
	return c, nil
}

// Admit decides whether userID may join roomID and with which role
func (m *Manager) Admit(ctx context.Context, roomID, userID string) (types.Role, error) {
	if !types.IsValidUserID(userID) {
		return "", ErrInvalidUserID
	}

	c, err := m.class(ctx, roomID)
	switch {
	case errors.Is(err, interfaces.ErrClassNotFound):
		if m.open {
			return types.RoleAudience, nil
		}
		return "", interfaces.ErrNotPermitted
	case err != nil:
		return "", err
	}

	if !c.IsLive() {
		return "", interfaces.ErrClassNotLive
	}
	if role, ok := c.RoleOf(userID); ok {
		return role, nil
	}
	if m.open {
		return types.RoleAudience, nil
	}
	return "", interfaces.ErrNotPermitted
}

// GetClass returns the class record for classID
func (m *Manager) GetClass(ctx context.Context, classID string) (*types.LiveClass, error) {
	return m.class(ctx, classID)
}

// EndClass marks classID ended in the store and drops it from the cache
func (m *Manager) EndClass(ctx context.Context, classID string) error {
	if m.store == nil {
		return ErrNoStore
	}
	c, err := m.class(ctx, classID)
	if err != nil {
		return err
	}
	if c.Status == types.ClassStatusEnded {
		return ErrClassAlreadyEnded
	}
	if err := m.store.UpdateClassStatus(ctx, classID, types.ClassStatusEnded, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to end class: %w", err)
	}

	m.mu.Lock()
	delete(m.classes, classID)
	m.mu.Unlock()

	m.log.Info("class ended", "class", classID)
	return nil
}

// Stats returns cache statistics
func (m *Manager) Stats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]any{
		"live_classes":   len(m.classes),
		"open_admission": m.open,
	}
}
