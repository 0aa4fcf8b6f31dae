package availability

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SearchFilter narrows WindowsInRange. Nil ids match everything.
type SearchFilter struct {
	From        Date
	To          Date
	DoctorID    *uuid.UUID
	CenterID    *uuid.UUID
	SpecialtyID *uuid.UUID
}

type Repository interface {
	CreateWindow(ctx context.Context, w *Window) error
	GetWindow(ctx context.Context, id uuid.UUID) (*Window, error)
	DeleteWindow(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, from Date) ([]*Window, error)
	WindowsFor(ctx context.Context, doctorID, centerID uuid.UUID, day Date) ([]*Window, error)
	WindowsInRange(ctx context.Context, f SearchFilter) ([]*WindowView, error)

	// TakenStarts returns the start times of the doctor's pending, confirmed
	// and in-progress appointments in [from, to). exclude, when set, leaves
	// one appointment out.
	TakenStarts(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) ([]time.Time, error)
}
