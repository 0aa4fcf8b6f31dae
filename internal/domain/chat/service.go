package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/appointment"
	"github.com/telemed/telemed/internal/platform/auth"
)

// Appointments resolves an appointment the caller is allowed to see.
type Appointments interface {
	Participant(ctx context.Context, actor auth.Principal, id uuid.UUID) (*appointment.Appointment, error)
}

type Service struct {
	repo  Repository
	appts Appointments
	now   func() time.Time
}

func NewService(repo Repository, appts Appointments) *Service {
	return &Service{
		repo:  repo,
		appts: appts,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Append stores a message sent in a room.
func (s *Service) Append(ctx context.Context, roomID, userID uuid.UUID, content string) (*Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, validationErr("content is required")
	}
	if utf8.RuneCountInString(content) > MaxContent {
		return nil, validationErr(fmt.Sprintf("content exceeds %d characters", MaxContent))
	}
	m := &Message{
		ID:      uuid.New(),
		RoomID:  roomID,
		UserID:  userID,
		Content: content,
		SentAt:  s.now(),
	}
	if err := s.repo.Append(ctx, m); err != nil {
		return nil, fmt.Errorf("append chat message: %w", err)
	}
	return m, nil
}

// Record satisfies the websocket chat recorder.
func (s *Service) Record(ctx context.Context, roomID, userID uuid.UUID, content string) error {
	_, err := s.Append(ctx, roomID, userID, content)
	return err
}

// ListForAppointment returns the chat of the appointment's room. Only the
// two participants may read it.
func (s *Service) ListForAppointment(ctx context.Context, actor auth.Principal, appointmentID uuid.UUID, limit int, before *time.Time) ([]*Message, error) {
	a, err := s.appts.Participant(ctx, actor, appointmentID)
	switch {
	case errors.Is(err, appointment.ErrNotFound):
		return nil, ErrNotFound
	case errors.Is(err, appointment.ErrForbidden):
		return nil, ErrForbidden
	case err != nil:
		return nil, err
	}
	if !a.IsParticipant(actor.ID) || a.Room == nil {
		return nil, ErrForbidden
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	return s.repo.ListByRoom(ctx, a.Room.ID, limit, before)
}
