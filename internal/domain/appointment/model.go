package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/videoconf"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrForbidden         = errors.New("not allowed to act on this appointment")
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrCannotCancel      = errors.New("appointment cannot be cancelled")
	ErrCannotReschedule  = errors.New("appointment cannot be rescheduled")
	ErrSlotTaken         = errors.New("slot is already taken")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrDailyLimit        = errors.New("doctor has reached the daily appointment limit")
	ErrOutsideStartTime  = errors.New("room can only be started 10 minutes before or after the scheduled time")
	ErrRoomState         = errors.New("invalid room state transition")
)

const (
	StatusPending    = "pending"
	StatusConfirmed  = "confirmed"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"

	TypeFirstVisit = "first_visit"
	TypeFollowUp   = "follow_up"
	TypeUrgent     = "urgent"

	RoomPending   = "pending"
	RoomActive    = "active"
	RoomClosed    = "closed"
	RoomCancelled = "cancelled"
)

const (
	DefaultDurationMinutes = 30
	DefaultRoomMinutes     = 60
	// StartTolerance bounds how far from the scheduled time a room may be
	// opened, in either direction.
	StartTolerance = 10 * time.Minute

	MinCancelReason = 10
	MaxCancelReason = 500
	MinReason       = 10
	MaxReason       = 500
)

var validStatuses = map[string]bool{
	StatusPending: true, StatusConfirmed: true, StatusInProgress: true,
	StatusCompleted: true, StatusCancelled: true,
}

var validTypes = map[string]bool{TypeFirstVisit: true, TypeFollowUp: true, TypeUrgent: true}

// ValidStatus reports whether s is a known appointment status.
func ValidStatus(s string) bool { return validStatuses[s] }

type Appointment struct {
	ID              uuid.UUID    `json:"id"`
	PatientID       uuid.UUID    `json:"patient_id"`
	DoctorID        uuid.UUID    `json:"doctor_id"`
	CenterID        uuid.UUID    `json:"center_id"`
	SpecialtyID     uuid.UUID    `json:"specialty_id"`
	StartTime       time.Time    `json:"start_time"`
	DurationMinutes int          `json:"duration_minutes"`
	Status          string       `json:"status"`
	Type            string       `json:"type"`
	Reason          string       `json:"reason"`
	CancelReason    string       `json:"cancel_reason,omitempty"`
	CancelledBy     *uuid.UUID   `json:"cancelled_by,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	Reminder24hSent bool         `json:"reminder_24h_sent"`
	Reminder1hSent  bool         `json:"reminder_1h_sent"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	Room            *VirtualRoom `json:"room,omitempty"`
}

func (a *Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

// IsParticipant reports whether userID is the patient or the doctor.
func (a *Appointment) IsParticipant(userID uuid.UUID) bool {
	return userID == a.PatientID || userID == a.DoctorID
}

// CanCancel: only pending or confirmed appointments that have not started yet.
func (a *Appointment) CanCancel(now time.Time) bool {
	return (a.Status == StatusPending || a.Status == StatusConfirmed) && a.StartTime.After(now)
}

func (a *Appointment) CanReschedule(now time.Time) bool {
	return a.CanCancel(now)
}

func (a *Appointment) Confirm() error {
	if a.Status != StatusPending {
		return fmt.Errorf("%w: cannot confirm a %s appointment", ErrInvalidTransition, a.Status)
	}
	a.Status = StatusConfirmed
	return nil
}

// Start moves a confirmed appointment into progress and opens its room.
func (a *Appointment) Start(now time.Time) error {
	if a.Status != StatusConfirmed {
		return fmt.Errorf("%w: cannot start a %s appointment", ErrInvalidTransition, a.Status)
	}
	if a.Room != nil {
		if err := a.Room.Activate(now); err != nil {
			return err
		}
	}
	a.Status = StatusInProgress
	return nil
}

// Complete finishes an in-progress appointment and closes its room.
func (a *Appointment) Complete(now time.Time) error {
	if a.Status != StatusInProgress {
		return fmt.Errorf("%w: cannot complete a %s appointment", ErrInvalidTransition, a.Status)
	}
	if a.Room != nil && a.Room.State == RoomActive {
		if err := a.Room.Close(now); err != nil {
			return err
		}
	}
	a.Status = StatusCompleted
	return nil
}

func (a *Appointment) Cancel(by uuid.UUID, reason string, now time.Time) error {
	if !a.CanCancel(now) {
		return ErrCannotCancel
	}
	a.Status = StatusCancelled
	a.CancelReason = reason
	a.CancelledBy = &by
	if a.Room != nil {
		a.Room.State = RoomCancelled
	}
	return nil
}

// Reschedule moves the appointment to newTime, clears both reminder flags and
// appends a dated note with the reason.
func (a *Appointment) Reschedule(newTime time.Time, reason string, now time.Time) error {
	if !a.CanReschedule(now) {
		return ErrCannotReschedule
	}
	if !newTime.After(now) {
		return fmt.Errorf("%w: new time must be in the future", ErrValidation)
	}
	a.StartTime = newTime
	a.Reminder24hSent = false
	a.Reminder1hSent = false
	note := fmt.Sprintf("[%s] Reprogramación: %s", now.Format("2006-01-02 15:04"), strings.TrimSpace(reason))
	if a.Notes == "" {
		a.Notes = note
	} else {
		a.Notes += "\n" + note
	}
	return nil
}

// VirtualRoom is the persisted video room of one appointment. The live
// session state is held by videoconf.Manager.
type VirtualRoom struct {
	ID                 uuid.UUID  `json:"id"`
	AppointmentID      uuid.UUID  `json:"appointment_id"`
	URL                string     `json:"url"`
	DoctorToken        string     `json:"-"`
	PatientToken       string     `json:"-"`
	State              string     `json:"state"`
	MaxDurationMinutes int        `json:"max_duration_minutes"`
	VideoEnabled       bool       `json:"video_enabled"`
	AudioEnabled       bool       `json:"audio_enabled"`
	ChatEnabled        bool       `json:"chat_enabled"`
	ScreenshareEnabled bool       `json:"screenshare_enabled"`
	RecordingAllowed   bool       `json:"recording_allowed"`
	RecordingConsent   bool       `json:"recording_consent"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// NewVirtualRoom builds a pending room with fresh tokens and url.
func NewVirtualRoom(appointmentID uuid.UUID, maxMinutes int) *VirtualRoom {
	if maxMinutes <= 0 {
		maxMinutes = DefaultRoomMinutes
	}
	return &VirtualRoom{
		ID:                 uuid.New(),
		AppointmentID:      appointmentID,
		URL:                "/rooms/" + uuid.NewString(),
		DoctorToken:        uuid.NewString(),
		PatientToken:       uuid.NewString(),
		State:              RoomPending,
		MaxDurationMinutes: maxMinutes,
		VideoEnabled:       true,
		AudioEnabled:       true,
		ChatEnabled:        true,
		ScreenshareEnabled: true,
	}
}

func (r *VirtualRoom) Activate(now time.Time) error {
	if r.State != RoomPending {
		return fmt.Errorf("%w: cannot activate a %s room", ErrRoomState, r.State)
	}
	r.State = RoomActive
	r.StartedAt = &now
	return nil
}

func (r *VirtualRoom) Close(now time.Time) error {
	if r.State != RoomActive {
		return fmt.Errorf("%w: cannot close a %s room", ErrRoomState, r.State)
	}
	r.State = RoomClosed
	r.EndedAt = &now
	return nil
}

// RemainingMinutes is the time left before the room reaches its maximum
// duration. Zero for rooms that are not active.
func (r *VirtualRoom) RemainingMinutes(now time.Time) int {
	if r.State != RoomActive || r.StartedAt == nil {
		return 0
	}
	left := time.Duration(r.MaxDurationMinutes)*time.Minute - now.Sub(*r.StartedAt)
	if left <= 0 {
		return 0
	}
	return int(left / time.Minute)
}

// RoleFor returns which side of the room token belongs to, or "".
func (r *VirtualRoom) RoleFor(token string) string {
	switch token {
	case "":
		return ""
	case r.DoctorToken:
		return videoconf.RoleDoctor
	case r.PatientToken:
		return videoconf.RolePatient
	}
	return ""
}

// View is an appointment with the display names a client needs.
type View struct {
	Appointment
	PatientName   string `json:"patient_name"`
	PatientEmail  string `json:"-"`
	PatientPhone  string `json:"-"`
	DoctorName    string `json:"doctor_name"`
	DoctorEmail   string `json:"-"`
	CenterName    string `json:"center_name"`
	SpecialtyName string `json:"specialty_name"`
}
