package availability

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("availability window not found")
	ErrDuplicate  = errors.New("availability window already exists")
	ErrForbidden  = errors.New("not allowed")
	ErrValidation = errors.New("validation failed")
	ErrInUse      = errors.New("window has active appointments")
)

// Window statuses.
const (
	StatusAvailable   = "available"
	StatusPartial     = "partial"
	StatusUnavailable = "unavailable"
)

const (
	DefaultInterval = 30
	MinInterval     = 5
	MaxInterval     = 240

	// MaxSearchDays bounds the date range of a slot search.
	MaxSearchDays = 30
)

// Date is a calendar day in UTC, serialized as YYYY-MM-DD.
type Date struct{ time.Time }

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", ErrValidation, s)
	}
	return Date{t}, nil
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(dateLayout) }

func (d Date) AddDays(n int) Date { return Date{d.AddDate(0, 0, n)} }

// At returns the instant at clock c on this day.
func (d Date) At(c Clock) time.Time {
	return d.Time.Add(time.Duration(c) * time.Minute)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a time of day in minutes since midnight, serialized as HH:MM.
type Clock int

func ParseClock(s string) (Clock, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid time %q, expected HH:MM", ErrValidation, s)
	}
	return Clock(t.Hour()*60 + t.Minute()), nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Window is a block of time a doctor offers at one center on one day.
type Window struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	CenterID        uuid.UUID `json:"center_id"`
	Day             Date      `json:"day"`
	Start           Clock     `json:"start_time"`
	End             Clock     `json:"end_time"`
	IntervalMinutes int       `json:"interval_minutes"`
	Status          string    `json:"status"`
	MaxCount        int       `json:"max_count"`
	CreatedAt       time.Time `json:"created_at"`
}

// Bounds returns the half-open interval [start, end) the window covers.
func (w *Window) Bounds() (time.Time, time.Time) {
	return w.Day.At(w.Start), w.Day.At(w.End)
}

// WindowView is a window joined with display names, used by slot search.
type WindowView struct {
	Window
	DoctorName    string     `json:"doctor_name"`
	CenterName    string     `json:"center_name"`
	SpecialtyID   *uuid.UUID `json:"specialty_id,omitempty"`
	SpecialtyName string     `json:"specialty_name,omitempty"`
}

// Slot is one bookable start time.
type Slot struct {
	Start           time.Time  `json:"start"`
	Date            string     `json:"date"`
	Time            string     `json:"time"`
	DurationMinutes int        `json:"duration_minutes"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	DoctorName      string     `json:"doctor_name"`
	CenterID        uuid.UUID  `json:"center_id"`
	CenterName      string     `json:"center_name"`
	SpecialtyID     *uuid.UUID `json:"specialty_id,omitempty"`
	SpecialtyName   string     `json:"specialty_name,omitempty"`
}

// GenerateSlots enumerates the free start times of w. It steps from the
// window start by the interval while t < end, skips any start present in
// taken and stops after maxCount slots when maxCount > 0. Unavailable
// windows yield nothing.
func GenerateSlots(w Window, taken []time.Time, maxCount int) []time.Time {
	if w.Status == StatusUnavailable || w.IntervalMinutes <= 0 {
		return nil
	}
	busy := make(map[int64]bool, len(taken))
	for _, t := range taken {
		busy[t.Unix()] = true
	}

	start, end := w.Bounds()
	step := time.Duration(w.IntervalMinutes) * time.Minute
	var out []time.Time
	for t := start; t.Before(end); t = t.Add(step) {
		if busy[t.Unix()] {
			continue
		}
		out = append(out, t)
		if maxCount > 0 && len(out) >= maxCount {
			break
		}
	}
	return out
}
