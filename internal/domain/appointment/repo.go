package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows List. Nil ids and an empty status match everything.
type ListFilter struct {
	PatientID *uuid.UUID
	DoctorID  *uuid.UUID
	CenterID  *uuid.UUID
	Status    string
	From      *time.Time
}

// Reminder kinds accepted by DueReminders and MarkReminded.
const (
	Reminder24h = "24h"
	Reminder1h  = "1h"
)

type Repository interface {
	// Create inserts the appointment and its room. A live appointment already
	// holding the doctor's start time yields ErrSlotTaken.
	Create(ctx context.Context, a *Appointment) error
	Get(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetView(ctx context.Context, id uuid.UUID) (*View, error)
	// Update persists status, schedule, cancellation, notes, reminder flags
	// and the room state.
	Update(ctx context.Context, a *Appointment) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*View, int, error)
	GetByRoomToken(ctx context.Context, token string) (*Appointment, error)

	// LockDoctor serializes bookings for one doctor until the surrounding
	// transaction ends.
	LockDoctor(ctx context.Context, doctorID uuid.UUID) error
	// CountForDoctor counts the doctor's non-cancelled appointments starting
	// in [from, to).
	CountForDoctor(ctx context.Context, doctorID uuid.UUID, from, to time.Time, exclude *uuid.UUID) (int, error)

	DueReminders(ctx context.Context, kind string, from, to time.Time) ([]*View, error)
	MarkReminded(ctx context.Context, id uuid.UUID, kind string) error
	// HasAppointmentWith reports whether the doctor has ever had a
	// non-cancelled appointment with the patient.
	HasAppointmentWith(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
}
