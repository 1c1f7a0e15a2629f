package database

import (
	"context"
	"log/slog"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/metrics"
	"liveclass/pkg/types"
)

const archiveWriteTimeout = 5 * time.Second

// Archiver decouples chat delivery from storage. Archive never blocks the
// caller; when the queue is full the message is dropped and counted
type Archiver struct {
	store interfaces.ClassStore
	queue chan *types.ChatMessage
	log   *slog.Logger
}

// NewArchiver creates an archiver with a queue of size messages
func NewArchiver(store interfaces.ClassStore, size int, log *slog.Logger) *Archiver {
	if size <= 0 {
		size = 1
	}
	return &Archiver{store: store, queue: make(chan *types.ChatMessage, size), log: log}
}

// Archive queues msg for storage
func (a *Archiver) Archive(msg *types.ChatMessage) {
	select {
	case a.queue <- msg:
	default:
		metrics.ArchivedMessages.WithLabelValues("dropped").Inc()
		a.log.Warn("chat archive queue full, dropping message", "room_id", msg.RoomID, "message_id", msg.ID)
	}
}

// Run stores queued messages until ctx is done, then drains what is left
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case msg := <-a.queue:
			a.store1(context.Background(), msg)
		case <-ctx.Done():
			for {
				select {
				case msg := <-a.queue:
					a.store1(context.Background(), msg)
				default:
					return
				}
			}
		}
	}
}

func (a *Archiver) store1(ctx context.Context, msg *types.ChatMessage) {
	ctx, cancel := context.WithTimeout(ctx, archiveWriteTimeout)
	defer cancel()
	if err := a.store.StoreChatMessage(ctx, msg); err != nil {
		metrics.ArchivedMessages.WithLabelValues("failed").Inc()
		a.log.Error("failed to archive chat message", "room_id", msg.RoomID, "message_id", msg.ID, "error", err)
		return
	}
	metrics.ArchivedMessages.WithLabelValues("stored").Inc()
}
