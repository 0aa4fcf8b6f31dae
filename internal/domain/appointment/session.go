package appointment

import (
	"context"
	"errors"

	"github.com/telemed/telemed/internal/platform/videoconf"
	"github.com/telemed/telemed/internal/platform/websocket"
)

// ResolveSession maps a room token to the participant it was issued to.
// Closed and cancelled rooms are refused.
func (s *Service) ResolveSession(ctx context.Context, token string) (*websocket.Session, error) {
	if token == "" {
		return nil, websocket.ErrSessionNotFound
	}
	a, err := s.repo.GetByRoomToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, websocket.ErrSessionNotFound
		}
		return nil, err
	}
	room := a.Room
	if room == nil {
		return nil, websocket.ErrSessionNotFound
	}
	if room.State == RoomClosed || room.State == RoomCancelled || a.Status == StatusCancelled {
		return nil, websocket.ErrRoomClosed
	}

	sess := &websocket.Session{
		RoomID:        room.ID,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		PatientID:     a.PatientID,
		Role:          room.RoleFor(token),
		MaxMinutes:    room.MaxDurationMinutes,
		Active:        room.State == RoomActive,
	}
	switch sess.Role {
	case videoconf.RoleDoctor:
		sess.UserID = a.DoctorID
	case videoconf.RolePatient:
		sess.UserID = a.PatientID
	default:
		return nil, websocket.ErrSessionNotFound
	}
	return sess, nil
}
