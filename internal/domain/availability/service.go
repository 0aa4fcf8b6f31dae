package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/auth"
)

// CenterLinks reports whether a doctor works at a center.
type CenterLinks interface {
	DoctorLinked(ctx context.Context, doctorID, centerID uuid.UUID) (bool, error)
}

type Service struct {
	repo  Repository
	links CenterLinks
	now   func() time.Time
}

func NewService(repo Repository, links CenterLinks) *Service {
	return &Service{
		repo:  repo,
		links: links,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// RangeInput registers the same daily window on every selected weekday of
// [From, To]. An empty Weekdays list selects every day.
type RangeInput struct {
	CenterID        uuid.UUID      `json:"center_id"`
	From            Date           `json:"from"`
	To              Date           `json:"to"`
	Weekdays        []time.Weekday `json:"weekdays"`
	Start           Clock          `json:"start_time"`
	End             Clock          `json:"end_time"`
	IntervalMinutes int            `json:"interval_minutes"`
	MaxCount        int            `json:"max_count"`
	Status          string         `json:"status"`
}

func (in *RangeInput) validate(today Date) error {
	if in.CenterID == uuid.Nil {
		return validationErr("center_id is required")
	}
	if in.From.IsZero() || in.To.IsZero() {
		return validationErr("from and to are required")
	}
	if in.From.Before(today.Time) {
		return validationErr("from cannot be in the past")
	}
	if in.To.Before(in.From.Time) {
		return validationErr("to must not be before from")
	}
	if in.To.Sub(in.From.Time) > 366*24*time.Hour {
		return validationErr("range cannot exceed one year")
	}
	if in.Start >= in.End {
		return validationErr("start_time must be before end_time")
	}
	if in.IntervalMinutes == 0 {
		in.IntervalMinutes = DefaultInterval
	}
	if in.IntervalMinutes < MinInterval || in.IntervalMinutes > MaxInterval {
		return validationErr(fmt.Sprintf("interval_minutes must be between %d and %d", MinInterval, MaxInterval))
	}
	if in.MaxCount < 0 {
		return validationErr("max_count cannot be negative")
	}
	switch in.Status {
	case "":
		in.Status = StatusAvailable
	case StatusAvailable, StatusPartial, StatusUnavailable:
	default:
		return validationErr("status must be available, partial or unavailable")
	}
	for _, d := range in.Weekdays {
		if d < time.Sunday || d > time.Saturday {
			return validationErr("weekdays must be between 0 (Sunday) and 6 (Saturday)")
		}
	}
	return nil
}

// RegisterRange creates one window per matching day. Windows that already
// exist for the same doctor, center, day and start are skipped. Returns the
// number created.
func (s *Service) RegisterRange(ctx context.Context, doctorID uuid.UUID, in RangeInput) (int, error) {
	if err := in.validate(DateOf(s.now())); err != nil {
		return 0, err
	}
	linked, err := s.links.DoctorLinked(ctx, doctorID, in.CenterID)
	if err != nil {
		return 0, err
	}
	if !linked {
		return 0, fmt.Errorf("%w: doctor does not work at this center", ErrForbidden)
	}

	days := make(map[time.Weekday]bool, len(in.Weekdays))
	for _, d := range in.Weekdays {
		days[d] = true
	}

	created := 0
	for day := in.From; !day.After(in.To.Time); day = day.AddDays(1) {
		if len(days) > 0 && !days[day.Weekday()] {
			continue
		}
		w := &Window{
			DoctorID:        doctorID,
			CenterID:        in.CenterID,
			Day:             day,
			Start:           in.Start,
			End:             in.End,
			IntervalMinutes: in.IntervalMinutes,
			Status:          in.Status,
			MaxCount:        in.MaxCount,
		}
		if err := s.repo.CreateWindow(ctx, w); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return created, fmt.Errorf("create window for %s: %w", day, err)
		}
		created++
	}
	return created, nil
}

func (s *Service) slotsForDay(ctx context.Context, doctorID, centerID uuid.UUID, day Date, exclude *uuid.UUID) ([]time.Time, error) {
	windows, err := s.repo.WindowsFor(ctx, doctorID, centerID, day)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		return nil, nil
	}
	taken, err := s.repo.TakenStarts(ctx, doctorID, day.Time, day.AddDays(1).Time, exclude)
	if err != nil {
		return nil, err
	}
	var out []time.Time
	for _, w := range windows {
		out = append(out, GenerateSlots(*w, taken, w.MaxCount)...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return dedupe(out), nil
}

// dedupe drops repeated instants from a sorted list; overlapping windows can
// produce the same start twice.
func dedupe(ts []time.Time) []time.Time {
	if len(ts) < 2 {
		return ts
	}
	out := ts[:1]
	for _, t := range ts[1:] {
		if !t.Equal(out[len(out)-1]) {
			out = append(out, t)
		}
	}
	return out
}

func (s *Service) futureOnly(ts []time.Time) []time.Time {
	now := s.now()
	out := ts[:0]
	for _, t := range ts {
		if t.After(now) {
			out = append(out, t)
		}
	}
	return out
}

// AvailableSlots returns the future free start times of a doctor at a center
// on one day.
func (s *Service) AvailableSlots(ctx context.Context, doctorID, centerID uuid.UUID, day Date) ([]time.Time, error) {
	slots, err := s.slotsForDay(ctx, doctorID, centerID, day, nil)
	if err != nil {
		return nil, err
	}
	return s.futureOnly(slots), nil
}

// IsSlotAvailable reports whether at is a free, future slot for the doctor at
// the center. exclude leaves one appointment out of the taken set so an
// appointment can be moved within its own day.
func (s *Service) IsSlotAvailable(ctx context.Context, doctorID, centerID uuid.UUID, at time.Time, exclude *uuid.UUID) (bool, error) {
	if !at.After(s.now()) {
		return false, nil
	}
	slots, err := s.slotsForDay(ctx, doctorID, centerID, DateOf(at), exclude)
	if err != nil {
		return false, err
	}
	for _, t := range slots {
		if t.Equal(at) {
			return true, nil
		}
	}
	return false, nil
}

// SearchSlots lists future free slots in [From, To] across doctors and
// centers, ordered by date, then time, then doctor.
func (s *Service) SearchSlots(ctx context.Context, f SearchFilter) ([]Slot, error) {
	if f.From.IsZero() || f.To.IsZero() {
		return nil, validationErr("from and to are required")
	}
	if f.To.Before(f.From.Time) {
		return nil, validationErr("to must not be before from")
	}
	if f.To.Sub(f.From.Time) > MaxSearchDays*24*time.Hour {
		return nil, validationErr(fmt.Sprintf("range cannot exceed %d days", MaxSearchDays))
	}

	views, err := s.repo.WindowsInRange(ctx, f)
	if err != nil {
		return nil, err
	}

	from, to := f.From.Time, f.To.AddDays(1).Time
	taken := make(map[uuid.UUID][]time.Time)
	seen := make(map[string]bool)
	now := s.now()
	var out []Slot
	for _, v := range views {
		busy, ok := taken[v.DoctorID]
		if !ok {
			if busy, err = s.repo.TakenStarts(ctx, v.DoctorID, from, to, nil); err != nil {
				return nil, err
			}
			taken[v.DoctorID] = busy
		}
		for _, t := range GenerateSlots(v.Window, busy, v.MaxCount) {
			key := v.DoctorID.String() + t.Format(time.RFC3339)
			if !t.After(now) || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Slot{
				Start:           t,
				Date:            t.Format(dateLayout),
				Time:            t.Format("15:04"),
				DurationMinutes: v.IntervalMinutes,
				DoctorID:        v.DoctorID,
				DoctorName:      v.DoctorName,
				CenterID:        v.CenterID,
				CenterName:      v.CenterName,
				SpecialtyID:     v.SpecialtyID,
				SpecialtyName:   v.SpecialtyName,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].DoctorName < out[j].DoctorName
	})
	return out, nil
}

// ListWindows returns the doctor's windows from today on.
func (s *Service) ListWindows(ctx context.Context, doctorID uuid.UUID) ([]*Window, error) {
	return s.repo.ListByDoctor(ctx, doctorID, DateOf(s.now()))
}

// DeleteWindow removes a window owned by the doctor, refusing when an active
// appointment falls inside it.
func (s *Service) DeleteWindow(ctx context.Context, actor auth.Principal, id uuid.UUID) error {
	w, err := s.repo.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	if w.DoctorID != actor.ID && !actor.IsAdmin() {
		return ErrForbidden
	}
	start, end := w.Bounds()
	taken, err := s.repo.TakenStarts(ctx, w.DoctorID, start, end, nil)
	if err != nil {
		return err
	}
	if len(taken) > 0 {
		return ErrInUse
	}
	return s.repo.DeleteWindow(ctx, id)
}
