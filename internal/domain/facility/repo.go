package facility

import (
	"context"

	"github.com/google/uuid"
)

type CenterFilter struct {
	City       string
	ActiveOnly bool
}

type Repository interface {
	CreateCenter(ctx context.Context, c *Center) error
	UpdateCenter(ctx context.Context, c *Center) error
	GetCenter(ctx context.Context, id uuid.UUID) (*Center, error)
	ListCenters(ctx context.Context, f CenterFilter, limit, offset int) ([]*Center, int, error)

	CreateSpecialty(ctx context.Context, s *Specialty) error
	GetSpecialty(ctx context.Context, id uuid.UUID) (*Specialty, error)
	ListSpecialties(ctx context.Context) ([]*Specialty, error)

	UpsertCenterSpecialty(ctx context.Context, cs *CenterSpecialty) error
	CenterSpecialties(ctx context.Context, centerID uuid.UUID) ([]*CenterSpecialty, error)
	CentersBySpecialty(ctx context.Context, specialtyID uuid.UUID) ([]*Center, error)

	UpsertDoctorCenter(ctx context.Context, dc *DoctorCenter) error
	DoctorLinked(ctx context.Context, doctorID, centerID uuid.UUID) (bool, error)
	DoctorsByCenter(ctx context.Context, centerID uuid.UUID, specialtyID *uuid.UUID) ([]*DoctorSummary, error)
	DoctorCenters(ctx context.Context, doctorID uuid.UUID) ([]*Center, error)
}
