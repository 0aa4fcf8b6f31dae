package chat

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Append(ctx context.Context, m *Message) error

	// ListByRoom returns up to limit messages of the room in chronological
	// order. With before set, only messages sent strictly earlier are
	// considered and the latest of those are returned.
	ListByRoom(ctx context.Context, roomID uuid.UUID, limit int, before *time.Time) ([]*Message, error)
}
