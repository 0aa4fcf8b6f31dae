package history

import (
	"context"

	"github.com/google/uuid"
)

// Repository stores histories and their entries. Entries cannot be changed
// or removed once written.
type Repository interface {
	// EnsureHistory returns the patient's history, creating it if needed.
	EnsureHistory(ctx context.Context, patientID uuid.UUID) (*History, error)
	AppendEntry(ctx context.Context, e *Entry) error

	// ListEntries returns the patient's entries newest first. An empty
	// entryType matches every type; limit <= 0 means no limit.
	ListEntries(ctx context.Context, patientID uuid.UUID, entryType string, limit int) ([]*Entry, error)
}
