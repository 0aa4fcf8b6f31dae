package facility

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/auth"
)

// AdminLookup resolves the center a center admin manages.
type AdminLookup interface {
	CenterOf(ctx context.Context, adminID uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	repo   Repository
	admins AdminLookup
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) SetAdminLookup(a AdminLookup) { s.admins = a }

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// canManage reports whether actor may change the given center: system admins
// always, center admins only for their own center.
func (s *Service) canManage(ctx context.Context, actor auth.Principal, centerID uuid.UUID) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role != auth.RoleCenterAdmin || s.admins == nil {
		return ErrForbidden
	}
	own, err := s.admins.CenterOf(ctx, actor.ID)
	if err != nil {
		return ErrForbidden
	}
	if own != centerID {
		return ErrForbidden
	}
	return nil
}

// -- Centers --

func validateCenter(c *Center) error {
	c.Name = strings.TrimSpace(c.Name)
	c.City = strings.TrimSpace(c.City)
	if c.Name == "" {
		return validationErr("name is required")
	}
	if len(c.Name) > 150 {
		return validationErr("name must be at most 150 characters")
	}
	if len(c.Phone) > 20 {
		return validationErr("phone must be at most 20 characters")
	}
	if c.Latitude != nil && (*c.Latitude < -90 || *c.Latitude > 90) {
		return validationErr("latitude must be between -90 and 90")
	}
	if c.Longitude != nil && (*c.Longitude < -180 || *c.Longitude > 180) {
		return validationErr("longitude must be between -180 and 180")
	}
	return nil
}

func (s *Service) CreateCenter(ctx context.Context, actor auth.Principal, c *Center) error {
	if !actor.IsAdmin() {
		return ErrForbidden
	}
	if err := validateCenter(c); err != nil {
		return err
	}
	c.ID = uuid.Nil
	c.Active = true
	return s.repo.CreateCenter(ctx, c)
}

func (s *Service) UpdateCenter(ctx context.Context, actor auth.Principal, c *Center) error {
	if err := s.canManage(ctx, actor, c.ID); err != nil {
		return err
	}
	if err := validateCenter(c); err != nil {
		return err
	}
	return s.repo.UpdateCenter(ctx, c)
}

func (s *Service) GetCenter(ctx context.Context, id uuid.UUID) (*Center, error) {
	return s.repo.GetCenter(ctx, id)
}

func (s *Service) ListCenters(ctx context.Context, f CenterFilter, limit, offset int) ([]*Center, int, error) {
	return s.repo.ListCenters(ctx, f, limit, offset)
}

// -- Specialties --

func (s *Service) CreateSpecialty(ctx context.Context, sp *Specialty) error {
	sp.Name = strings.TrimSpace(sp.Name)
	if sp.Name == "" || len(sp.Name) > 100 {
		return validationErr("name is required and must be at most 100 characters")
	}
	sp.ID = uuid.Nil
	return s.repo.CreateSpecialty(ctx, sp)
}

func (s *Service) GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error) {
	return s.repo.GetSpecialty(ctx, id)
}

func (s *Service) ListSpecialties(ctx context.Context) ([]*Specialty, error) {
	return s.repo.ListSpecialties(ctx)
}

// SeedSpecialties inserts DefaultSpecialties, skipping names that exist.
// Returns the number inserted.
func (s *Service) SeedSpecialties(ctx context.Context) (int, error) {
	n := 0
	for _, def := range DefaultSpecialties {
		sp := def
		if err := s.CreateSpecialty(ctx, &sp); err != nil {
			if errors.Is(err, ErrDuplicate) {
				continue
			}
			return n, fmt.Errorf("seed specialty %q: %w", def.Name, err)
		}
		n++
	}
	return n, nil
}

// AttachSpecialty offers a specialty at a center, or updates its availability.
func (s *Service) AttachSpecialty(ctx context.Context, actor auth.Principal, cs *CenterSpecialty) error {
	if err := s.canManage(ctx, actor, cs.CenterID); err != nil {
		return err
	}
	if _, err := s.repo.GetCenter(ctx, cs.CenterID); err != nil {
		return err
	}
	if _, err := s.repo.GetSpecialty(ctx, cs.SpecialtyID); err != nil {
		return err
	}
	return s.repo.UpsertCenterSpecialty(ctx, cs)
}

func (s *Service) CenterSpecialties(ctx context.Context, centerID uuid.UUID) ([]*CenterSpecialty, error) {
	return s.repo.CenterSpecialties(ctx, centerID)
}

// CentersBySpecialty returns active centers currently offering the specialty.
func (s *Service) CentersBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]*Center, error) {
	return s.repo.CentersBySpecialty(ctx, specialtyID)
}

// -- Doctors --

// LinkDoctor records that a doctor works at a center. It runs inside the
// caller's transaction when one is present on ctx.
func (s *Service) LinkDoctor(ctx context.Context, centerID, doctorID uuid.UUID) error {
	return s.repo.UpsertDoctorCenter(ctx, &DoctorCenter{DoctorID: doctorID, CenterID: centerID, Active: true})
}

func (s *Service) AddDoctor(ctx context.Context, actor auth.Principal, centerID, doctorID uuid.UUID) error {
	if err := s.canManage(ctx, actor, centerID); err != nil {
		return err
	}
	if _, err := s.repo.GetCenter(ctx, centerID); err != nil {
		return err
	}
	return s.LinkDoctor(ctx, centerID, doctorID)
}

func (s *Service) DoctorLinked(ctx context.Context, doctorID, centerID uuid.UUID) (bool, error) {
	return s.repo.DoctorLinked(ctx, doctorID, centerID)
}

// DoctorsByCenter lists active, available doctors at a center, optionally
// narrowed to one specialty.
func (s *Service) DoctorsByCenter(ctx context.Context, centerID uuid.UUID, specialtyID *uuid.UUID) ([]*DoctorSummary, error) {
	return s.repo.DoctorsByCenter(ctx, centerID, specialtyID)
}

func (s *Service) DoctorCenters(ctx context.Context, doctorID uuid.UUID) ([]*Center, error) {
	return s.repo.DoctorCenters(ctx, doctorID)
}
