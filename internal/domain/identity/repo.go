package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, u *User) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	TouchLastAccess(ctx context.Context, id uuid.UUID, at time.Time) error
	List(ctx context.Context, role string, limit, offset int) ([]*User, int, error)
}

type ProfileRepository interface {
	UpsertPatient(ctx context.Context, p *PatientProfile) error
	GetPatient(ctx context.Context, userID uuid.UUID) (*PatientProfile, error)
	CreateDoctor(ctx context.Context, p *DoctorProfile) error
	UpdateDoctor(ctx context.Context, p *DoctorProfile) error
	GetDoctor(ctx context.Context, userID uuid.UUID) (*DoctorProfile, error)
	CreateCenterAdmin(ctx context.Context, p *CenterAdminProfile) error
	GetCenterAdmin(ctx context.Context, userID uuid.UUID) (*CenterAdminProfile, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, t *RefreshToken) error
	GetByHash(ctx context.Context, hash string) (*RefreshToken, error)
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) error
}
