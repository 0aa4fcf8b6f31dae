package chat

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("not allowed")
	ErrValidation = errors.New("validation failed")
)

const (
	MaxContent   = 2000
	DefaultLimit = 50
	MaxLimit     = 200
)

// Message is one line of a room's chat. Messages are never edited or removed.
type Message struct {
	ID      uuid.UUID `json:"id"`
	RoomID  uuid.UUID `json:"room_id"`
	UserID  uuid.UUID `json:"user_id"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}
