package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/appointment"
	"github.com/telemed/telemed/internal/domain/history"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
)

type Appointments interface {
	Get(ctx context.Context, actor auth.Principal, id uuid.UUID) (*appointment.View, error)
	StartRoom(ctx context.Context, actor auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	MarkCompleted(ctx context.Context, actor auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
	EndLiveRoom(a *appointment.Appointment)
}

type History interface {
	CanRead(ctx context.Context, actor auth.Principal, patientID uuid.UUID) error
	Record(ctx context.Context, patientID, recordedBy uuid.UUID, in history.EntryInput) (*history.Entry, error)
}

type Service struct {
	repo    Repository
	tx      db.Transactor
	appts   Appointments
	history History
	logger  zerolog.Logger
	now     func() time.Time
}

func NewService(repo Repository, tx db.Transactor, appts Appointments, hist History) *Service {
	return &Service{
		repo:    repo,
		tx:      tx,
		appts:   appts,
		history: hist,
		logger:  zerolog.Nop(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "consultation").Logger()
}

func fromAppointment(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, appointment.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, appointment.ErrForbidden):
		return ErrForbidden
	case errors.Is(err, appointment.ErrInvalidTransition),
		errors.Is(err, appointment.ErrOutsideStartTime),
		errors.Is(err, appointment.ErrRoomState):
		return fmt.Errorf("%w: %v", ErrAppointmentState, err)
	}
	return err
}

// Start opens the consultation of an appointment. A confirmed appointment
// is started first, which opens its video room.
func (s *Service) Start(ctx context.Context, actor auth.Principal, appointmentID uuid.UUID) (*Consultation, error) {
	v, err := s.appts.Get(ctx, actor, appointmentID)
	if err != nil {
		return nil, fromAppointment(err)
	}
	if v.DoctorID != actor.ID {
		return nil, ErrForbidden
	}
	if _, err := s.repo.GetByAppointment(ctx, appointmentID); err == nil {
		return nil, ErrAlreadyStarted
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	switch v.Status {
	case appointment.StatusConfirmed:
		if _, err := s.appts.StartRoom(ctx, actor, appointmentID); err != nil {
			return nil, fromAppointment(err)
		}
	case appointment.StatusInProgress:
	default:
		return nil, fmt.Errorf("%w: appointment is %s", ErrAppointmentState, v.Status)
	}

	now := s.now()
	c := &Consultation{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		PatientID:     v.PatientID,
		DoctorID:      v.DoctorID,
		Reason:        v.Reason,
		CreatedAt:     now,
	}
	if err := c.Start(actor.ID, now); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("consultation_id", c.ID.String()).
		Str("appointment_id", appointmentID.String()).
		Msg("consultation started")
	return c, nil
}

// Finish closes the consultation, completes the appointment and writes the
// clinical history entry, all in one transaction.
func (s *Service) Finish(ctx context.Context, actor auth.Principal, appointmentID uuid.UUID, in FinishInput) (*Consultation, error) {
	if in.FollowUpDays != nil && *in.FollowUpDays < 0 {
		return nil, fmt.Errorf("%w: follow_up_days must not be negative", ErrValidation)
	}

	var (
		c         *Consultation
		completed *appointment.Appointment
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		c, err = s.repo.GetByAppointment(ctx, appointmentID)
		if errors.Is(err, ErrNotFound) {
			return ErrNotStarted
		}
		if err != nil {
			return err
		}
		if c.DoctorID != actor.ID {
			return ErrForbidden
		}
		if err := c.Finish(in, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, c); err != nil {
			return err
		}

		v, err := s.appts.Get(ctx, actor, appointmentID)
		if err != nil {
			return fromAppointment(err)
		}
		// The doctor may already have ended the room, which completes it.
		if v.Status == appointment.StatusInProgress {
			completed, err = s.appts.MarkCompleted(ctx, actor, appointmentID)
			if err != nil {
				return fromAppointment(err)
			}
		}

		_, err = s.history.Record(ctx, c.PatientID, actor.ID, history.EntryInput{
			Type:        history.TypeConsultation,
			Description: "Consulta con Dr. " + v.DoctorName,
			Details: map[string]interface{}{
				"reason":    c.Reason,
				"diagnosis": c.Diagnosis,
				"treatment": c.TreatmentPlan,
			},
			ConsultationID: &c.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if completed != nil {
		s.appts.EndLiveRoom(completed)
	}
	s.logger.Info().
		Str("consultation_id", c.ID.String()).
		Int("duration_minutes", *c.DurationMinutes).
		Msg("consultation finished")
	return c, nil
}

// Get returns the consultation of an appointment to anyone who can see the
// appointment.
func (s *Service) Get(ctx context.Context, actor auth.Principal, appointmentID uuid.UUID) (*Consultation, error) {
	if _, err := s.appts.Get(ctx, actor, appointmentID); err != nil {
		return nil, fromAppointment(err)
	}
	return s.repo.GetByAppointment(ctx, appointmentID)
}

// Lookup loads a consultation by id without an access check.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, actor auth.Principal, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	if err := s.history.CanRead(ctx, actor, patientID); err != nil {
		if errors.Is(err, history.ErrForbidden) {
			return nil, 0, ErrForbidden
		}
		return nil, 0, err
	}
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}
