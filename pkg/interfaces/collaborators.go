package interfaces

import (
	"context"
	"time"

	"liveclass/pkg/types"
)

// Admission answers "may this user join this room", once per join-room
// The coordinator trusts the answer and performs no authorization itself
type Admission interface {
	Admit(ctx context.Context, roomID, userID string) (types.Role, error)
}

// ChatArchive receives chat messages for best-effort durable storage
type ChatArchive interface {
	Archive(msg *types.ChatMessage)
}

// ClassStore is the persistence collaborator for class records and chat
// history. Room ids equal live class ids
type ClassStore interface {
	// CreateClass inserts a class record
	CreateClass(ctx context.Context, class *types.LiveClass) error

	// GetClass retrieves a class by ID; ErrClassNotFound if absent
	GetClass(ctx context.Context, classID string) (*types.LiveClass, error)

	// UpdateClassStatus moves a class through scheduled -> live -> ended
	UpdateClassStatus(ctx context.Context, classID, status string, at time.Time) error

	// ListLiveClasses returns every class currently live
	ListLiveClasses(ctx context.Context) ([]*types.LiveClass, error)

	// StoreChatMessage persists one chat message
	StoreChatMessage(ctx context.Context, msg *types.ChatMessage) error

	// GetRoomHistory returns up to limit most recent messages, oldest first
	GetRoomHistory(ctx context.Context, roomID string, limit int) ([]*types.ChatMessage, error)

	// HealthCheck verifies connectivity
	HealthCheck(ctx context.Context) error

	// Close releases the underlying pool
	Close() error
}
