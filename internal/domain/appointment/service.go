package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/identity"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
	"github.com/telemed/telemed/internal/platform/notification"
	"github.com/telemed/telemed/internal/platform/videoconf"
)

// SlotChecker answers whether a start time is a free slot of the doctor at
// the center.
type SlotChecker interface {
	IsSlotAvailable(ctx context.Context, doctorID, centerID uuid.UUID, at time.Time, exclude *uuid.UUID) (bool, error)
}

type DoctorLookup interface {
	DoctorProfile(ctx context.Context, doctorID uuid.UUID) (*identity.DoctorProfile, error)
}

// AdminLookup resolves the center a center admin manages.
type AdminLookup interface {
	CenterOf(ctx context.Context, adminID uuid.UUID) (uuid.UUID, error)
}

type Notifier interface {
	Enqueue(n notification.Notification) bool
}

// LiveRooms is the in-memory side of the video rooms.
type LiveRooms interface {
	Create(roomID, doctorID, patientID uuid.UUID, maxMinutes int) videoconf.RoomStatus
	End(roomID uuid.UUID) (videoconf.RoomStatus, error)
}

type Options struct {
	MaxPerDoctorDay int
	RoomMinutes     int
	ICEServers      []string
	SMSEnabled      bool
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	slots   SlotChecker
	doctors DoctorLookup
	admins  AdminLookup
	notify  Notifier
	live    LiveRooms
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, slots SlotChecker, doctors DoctorLookup, opts Options) *Service {
	if opts.MaxPerDoctorDay <= 0 {
		opts.MaxPerDoctorDay = 20
	}
	if opts.RoomMinutes <= 0 {
		opts.RoomMinutes = DefaultRoomMinutes
	}
	return &Service{
		repo:    repo,
		tx:      tx,
		slots:   slots,
		doctors: doctors,
		opts:    opts,
		logger:  zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetAdminLookup(a AdminLookup) { s.admins = a }
func (s *Service) SetNotifier(n Notifier)       { s.notify = n }
func (s *Service) SetLiveRooms(l LiveRooms)     { s.live = l }

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "appointment").Logger()
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func checkLength(field, v string, min, max int) error {
	n := utf8.RuneCountInString(v)
	if n < min || n > max {
		return validationErr(fmt.Sprintf("%s must be between %d and %d characters", field, min, max))
	}
	return nil
}

func dayBounds(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// canView: participants, admins, and the admin of the appointment's center.
func (s *Service) canView(ctx context.Context, actor auth.Principal, a *Appointment) error {
	if actor.IsAdmin() || a.IsParticipant(actor.ID) {
		return nil
	}
	if actor.Is(auth.RoleCenterAdmin) && s.admins != nil {
		center, err := s.admins.CenterOf(ctx, actor.ID)
		if err == nil && center == a.CenterID {
			return nil
		}
	}
	return ErrForbidden
}

type BookInput struct {
	DoctorID    uuid.UUID `json:"doctor_id"`
	CenterID    uuid.UUID `json:"center_id"`
	SpecialtyID uuid.UUID `json:"specialty_id"`
	StartTime   time.Time `json:"start_time"`
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
}

func (in *BookInput) validate() error {
	if in.DoctorID == uuid.Nil || in.CenterID == uuid.Nil || in.SpecialtyID == uuid.Nil {
		return validationErr("doctor_id, center_id and specialty_id are required")
	}
	if in.StartTime.IsZero() {
		return validationErr("start_time is required")
	}
	in.StartTime = in.StartTime.UTC()
	if in.Type == "" {
		in.Type = TypeFirstVisit
	}
	if !validTypes[in.Type] {
		return validationErr("type must be first_visit, follow_up or urgent")
	}
	in.Reason = strings.TrimSpace(in.Reason)
	return checkLength("reason", in.Reason, MinReason, MaxReason)
}

// Book reserves a slot for the patient. The availability check, the daily cap
// and the insert run in one transaction holding the doctor's booking lock; the
// partial unique index on (doctor_id, start_time) backs it up.
func (s *Service) Book(ctx context.Context, patientID uuid.UUID, in BookInput) (*Appointment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	prof, err := s.doctors.DoctorProfile(ctx, in.DoctorID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, validationErr("unknown doctor")
		}
		return nil, err
	}
	if !prof.Available {
		return nil, ErrSlotUnavailable
	}
	if prof.SpecialtyID != nil && *prof.SpecialtyID != in.SpecialtyID {
		return nil, validationErr("doctor does not practice this specialty")
	}

	a := &Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		DoctorID:        in.DoctorID,
		CenterID:        in.CenterID,
		SpecialtyID:     in.SpecialtyID,
		StartTime:       in.StartTime,
		DurationMinutes: DefaultDurationMinutes,
		Status:          StatusPending,
		Type:            in.Type,
		Reason:          in.Reason,
	}
	a.Room = NewVirtualRoom(a.ID, s.opts.RoomMinutes)

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.LockDoctor(ctx, a.DoctorID); err != nil {
			return err
		}
		if err := s.checkSlot(ctx, a, nil); err != nil {
			return err
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Time("start_time", a.StartTime).
		Msg("appointment booked")
	s.notifyBooked(ctx, a.ID)
	return a, nil
}

// checkSlot verifies the appointment's start is a free slot and the doctor is
// under the daily cap. exclude leaves the appointment itself out.
func (s *Service) checkSlot(ctx context.Context, a *Appointment, exclude *uuid.UUID) error {
	ok, err := s.slots.IsSlotAvailable(ctx, a.DoctorID, a.CenterID, a.StartTime, exclude)
	if err != nil {
		return err
	}
	if !ok {
		return ErrSlotUnavailable
	}
	from, to := dayBounds(a.StartTime)
	n, err := s.repo.CountForDoctor(ctx, a.DoctorID, from, to, exclude)
	if err != nil {
		return err
	}
	if n >= s.opts.MaxPerDoctorDay {
		return ErrDailyLimit
	}
	return nil
}

func (s *Service) Get(ctx context.Context, actor auth.Principal, id uuid.UUID) (*View, error) {
	v, err := s.repo.GetView(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, &v.Appointment); err != nil {
		return nil, err
	}
	return v, nil
}

// Participant loads an appointment the actor may see.
func (s *Service) Participant(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, a); err != nil {
		return nil, err
	}
	return a, nil
}

func validStatusFilter(status string) error {
	if status != "" && !ValidStatus(status) {
		return validationErr("unknown status " + status)
	}
	return nil
}

// ListMine lists the appointments of the calling patient or doctor. Center
// admins see their center and system admins see everything.
func (s *Service) ListMine(ctx context.Context, actor auth.Principal, status string, upcoming bool, limit, offset int) ([]*View, int, error) {
	if err := validStatusFilter(status); err != nil {
		return nil, 0, err
	}
	f := ListFilter{Status: status}
	if upcoming {
		now := s.now()
		f.From = &now
	}
	switch actor.Role {
	case auth.RolePatient:
		f.PatientID = &actor.ID
	case auth.RoleDoctor:
		f.DoctorID = &actor.ID
	case auth.RoleCenterAdmin:
		if s.admins == nil {
			return nil, 0, ErrForbidden
		}
		center, err := s.admins.CenterOf(ctx, actor.ID)
		if err != nil {
			return nil, 0, ErrForbidden
		}
		f.CenterID = &center
	case auth.RoleSystemAdmin:
	default:
		return nil, 0, ErrForbidden
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) ListForCenter(ctx context.Context, actor auth.Principal, centerID uuid.UUID, status string, limit, offset int) ([]*View, int, error) {
	if err := validStatusFilter(status); err != nil {
		return nil, 0, err
	}
	if !actor.IsAdmin() {
		if s.admins == nil {
			return nil, 0, ErrForbidden
		}
		center, err := s.admins.CenterOf(ctx, actor.ID)
		if err != nil || center != centerID {
			return nil, 0, ErrForbidden
		}
	}
	return s.repo.List(ctx, ListFilter{CenterID: &centerID, Status: status}, limit, offset)
}

func (s *Service) ListAll(ctx context.Context, status string, limit, offset int) ([]*View, int, error) {
	if err := validStatusFilter(status); err != nil {
		return nil, 0, err
	}
	return s.repo.List(ctx, ListFilter{Status: status}, limit, offset)
}

func (s *Service) Confirm(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DoctorID != actor.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	if err := a.Confirm(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Cancel(ctx context.Context, actor auth.Principal, id uuid.UUID, reason string) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if err := checkLength("reason", reason, MinCancelReason, MaxCancelReason); err != nil {
		return nil, err
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canView(ctx, actor, a); err != nil {
		return nil, err
	}
	if err := a.Cancel(actor.ID, reason, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.notifyCancelled(ctx, a.ID)
	return a, nil
}

type RescheduleInput struct {
	StartTime time.Time `json:"start_time"`
	Reason    string    `json:"reason"`
}

// Reschedule moves the appointment to another free slot of the same doctor
// and center.
func (s *Service) Reschedule(ctx context.Context, actor auth.Principal, id uuid.UUID, in RescheduleInput) (*Appointment, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if err := checkLength("reason", in.Reason, MinReason, MaxReason); err != nil {
		return nil, err
	}
	if in.StartTime.IsZero() {
		return nil, validationErr("start_time is required")
	}

	var (
		a       *Appointment
		oldTime time.Time
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.repo.Get(ctx, id); err != nil {
			return err
		}
		if !a.IsParticipant(actor.ID) && !actor.IsAdmin() {
			return ErrForbidden
		}
		if err := s.repo.LockDoctor(ctx, a.DoctorID); err != nil {
			return err
		}
		oldTime = a.StartTime
		if err := a.Reschedule(in.StartTime.UTC(), in.Reason, s.now()); err != nil {
			return err
		}
		if err := s.checkSlot(ctx, a, &a.ID); err != nil {
			return err
		}
		return s.repo.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	s.notifyRescheduled(ctx, a.ID, oldTime)
	return a, nil
}

// StartRoom opens the video room. Only the doctor opens it, from a confirmed
// appointment within StartTolerance of the scheduled time. A room already in
// progress is returned as is so the patient can enter.
func (s *Service) StartRoom(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsParticipant(actor.ID) {
		return nil, ErrForbidden
	}
	if a.Status == StatusInProgress && a.Room != nil && a.Room.State == RoomActive {
		s.openLive(a)
		return a, nil
	}
	if a.Status != StatusConfirmed {
		return nil, fmt.Errorf("%w: cannot start a %s appointment", ErrInvalidTransition, a.Status)
	}
	if a.DoctorID != actor.ID {
		return nil, fmt.Errorf("%w: the doctor has not opened the room yet", ErrInvalidTransition)
	}
	now := s.now()
	if now.Before(a.StartTime.Add(-StartTolerance)) || now.After(a.StartTime.Add(StartTolerance)) {
		return nil, ErrOutsideStartTime
	}
	if err := a.Start(now); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.openLive(a)
	return a, nil
}

func (s *Service) openLive(a *Appointment) {
	if s.live == nil || a.Room == nil {
		return
	}
	s.live.Create(a.Room.ID, a.DoctorID, a.PatientID, a.Room.MaxDurationMinutes)
}

func (s *Service) closeLive(a *Appointment) {
	if s.live == nil || a.Room == nil {
		return
	}
	if _, err := s.live.End(a.Room.ID); err != nil && !errors.Is(err, videoconf.ErrRoomNotFound) {
		s.logger.Warn().Err(err).Str("room_id", a.Room.ID.String()).Msg("end live room")
	}
}

// Complete finishes an in-progress appointment and ends its live room. Only
// its doctor may do so.
func (s *Service) Complete(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.MarkCompleted(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	s.closeLive(a)
	return a, nil
}

// MarkCompleted persists the completion without touching the live room.
// Callers inside a transaction end the room with EndLiveRoom once committed.
func (s *Service) MarkCompleted(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.DoctorID != actor.ID {
		return nil, ErrForbidden
	}
	if err := a.Complete(s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// EndLiveRoom disconnects the participants of the appointment's live room.
func (s *Service) EndLiveRoom(a *Appointment) {
	s.closeLive(a)
}

// FinishFromRoom completes the appointment when its doctor ends the live
// room. Appointments no longer in progress are left alone.
func (s *Service) FinishFromRoom(ctx context.Context, appointmentID, doctorID uuid.UUID) error {
	a, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return err
	}
	if a.DoctorID != doctorID {
		return ErrForbidden
	}
	if a.Status != StatusInProgress {
		return nil
	}
	if err := a.Complete(s.now()); err != nil {
		return err
	}
	return s.repo.Update(ctx, a)
}

// HasAppointmentWith reports whether doctor and patient share a
// non-cancelled appointment.
func (s *Service) HasAppointmentWith(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error) {
	return s.repo.HasAppointmentWith(ctx, doctorID, patientID)
}

// RoomDescriptor is what a participant needs to enter the video room.
type RoomDescriptor struct {
	RoomID             uuid.UUID `json:"room_id"`
	AppointmentID      uuid.UUID `json:"appointment_id"`
	URL                string    `json:"url"`
	Role               string    `json:"role"`
	Token              string    `json:"token"`
	WebSocketPath      string    `json:"websocket_path"`
	State              string    `json:"state"`
	MaxDurationMinutes int       `json:"max_duration_minutes"`
	RemainingMinutes   int       `json:"remaining_minutes"`
	VideoEnabled       bool      `json:"video_enabled"`
	AudioEnabled       bool      `json:"audio_enabled"`
	ChatEnabled        bool      `json:"chat_enabled"`
	ScreenshareEnabled bool      `json:"screenshare_enabled"`
	ICEServers         []string  `json:"ice_servers"`
}

// Room returns the caller's view of the appointment's video room, including
// the token for the websocket endpoint.
func (s *Service) Room(ctx context.Context, actor auth.Principal, id uuid.UUID) (*RoomDescriptor, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.IsParticipant(actor.ID) || a.Room == nil {
		return nil, ErrForbidden
	}
	r := a.Room
	d := &RoomDescriptor{
		RoomID:             r.ID,
		AppointmentID:      a.ID,
		URL:                r.URL,
		State:              r.State,
		MaxDurationMinutes: r.MaxDurationMinutes,
		RemainingMinutes:   r.RemainingMinutes(s.now()),
		VideoEnabled:       r.VideoEnabled,
		AudioEnabled:       r.AudioEnabled,
		ChatEnabled:        r.ChatEnabled,
		ScreenshareEnabled: r.ScreenshareEnabled,
		ICEServers:         s.opts.ICEServers,
	}
	if actor.ID == a.DoctorID {
		d.Role, d.Token = videoconf.RoleDoctor, r.DoctorToken
	} else {
		d.Role, d.Token = videoconf.RolePatient, r.PatientToken
	}
	d.WebSocketPath = "/ws/rooms/" + d.Token
	return d, nil
}
