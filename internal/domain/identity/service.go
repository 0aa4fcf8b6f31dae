package identity

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
)

// CenterLinker attaches a doctor to a medical center.
type CenterLinker interface {
	LinkDoctor(ctx context.Context, centerID, doctorID uuid.UUID) error
}

type Service struct {
	users    UserRepository
	profiles ProfileRepository
	tokens   RefreshTokenRepository
	tx       db.Transactor
	issuer   *auth.TokenIssuer
	revoked  *auth.TokenRevocationStore
	centers  CenterLinker
	now      func() time.Time
}

func NewService(users UserRepository, profiles ProfileRepository, tokens RefreshTokenRepository, tx db.Transactor, issuer *auth.TokenIssuer) *Service {
	return &Service{
		users:    users,
		profiles: profiles,
		tokens:   tokens,
		tx:       tx,
		issuer:   issuer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetRevocationStore makes Logout revoke the access token as well.
func (s *Service) SetRevocationStore(r *auth.TokenRevocationStore) { s.revoked = r }

func (s *Service) SetCenterLinker(l CenterLinker) { s.centers = l }

// -- Input types --

type RegisterInput struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Phone          string `json:"phone"`
}

type StaffInput struct {
	RegisterInput
	Role              string     `json:"role"`
	LicenseNumber     string     `json:"license_number"`
	SpecialtyID       *uuid.UUID `json:"specialty_id"`
	ProfessionalTitle string     `json:"professional_title"`
	CenterID          *uuid.UUID `json:"center_id"`
	Position          string     `json:"position"`
}

type ProfileUpdate struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Phone     *string `json:"phone"`
	Password  *string `json:"password"`

	Patient *PatientProfile `json:"patient"`

	ProfessionalTitle *string `json:"professional_title"`
	Bio               *string `json:"bio"`
	YearsExperience   *int    `json:"years_experience"`
	Available         *bool   `json:"available"`
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func (in *RegisterInput) normalize() {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.DocumentType = strings.ToUpper(strings.TrimSpace(in.DocumentType))
	in.DocumentNumber = strings.TrimSpace(in.DocumentNumber)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
}

func (in *RegisterInput) validate() error {
	if in.Email == "" {
		return validationErr("email is required")
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return validationErr("email is not valid")
	}
	if len(in.Password) < auth.MinPasswordLength {
		return validationErr(fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}
	if !validDocumentTypes[in.DocumentType] {
		return validationErr("document_type must be one of CC, TI, CE, PA")
	}
	if in.DocumentNumber == "" || len(in.DocumentNumber) > 20 {
		return validationErr("document_number is required and must be at most 20 characters")
	}
	if in.FirstName == "" || in.LastName == "" {
		return validationErr("first_name and last_name are required")
	}
	if len(in.Phone) > 20 {
		return validationErr("phone must be at most 20 characters")
	}
	return nil
}

func (s *Service) newUser(in RegisterInput, role string) (*User, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	return &User{
		Email:          in.Email,
		PasswordHash:   hash,
		DocumentType:   in.DocumentType,
		DocumentNumber: in.DocumentNumber,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Phone:          in.Phone,
		Role:           role,
		Active:         true,
	}, nil
}

// -- Registration --

// RegisterPatient creates an active patient account with an empty profile.
func (s *Service) RegisterPatient(ctx context.Context, in RegisterInput) (*User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	u, err := s.newUser(in, auth.RolePatient)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		return s.profiles.UpsertPatient(ctx, &PatientProfile{UserID: u.ID})
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateStaff creates doctors, center admins and system admins. A center
// admin may only create doctors, who are linked to the admin's own center.
func (s *Service) CreateStaff(ctx context.Context, actor auth.Principal, in StaffInput) (*User, error) {
	switch {
	case actor.IsAdmin():
	case actor.Role == auth.RoleCenterAdmin && in.Role == auth.RoleDoctor:
		admin, err := s.profiles.GetCenterAdmin(ctx, actor.ID)
		if err != nil {
			return nil, fmt.Errorf("load center admin profile: %w", err)
		}
		in.CenterID = &admin.CenterID
	default:
		return nil, ErrForbidden
	}

	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	switch in.Role {
	case auth.RoleDoctor:
		in.LicenseNumber = strings.TrimSpace(in.LicenseNumber)
		if in.LicenseNumber == "" {
			return nil, validationErr("license_number is required for doctors")
		}
	case auth.RoleCenterAdmin:
		if in.CenterID == nil {
			return nil, validationErr("center_id is required for center admins")
		}
	case auth.RoleSystemAdmin:
	default:
		return nil, validationErr("role must be doctor, center_admin or system_admin")
	}

	u, err := s.newUser(in.RegisterInput, in.Role)
	if err != nil {
		return nil, err
	}
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		switch in.Role {
		case auth.RoleDoctor:
			if err := s.profiles.CreateDoctor(ctx, &DoctorProfile{
				UserID:            u.ID,
				LicenseNumber:     in.LicenseNumber,
				SpecialtyID:       in.SpecialtyID,
				ProfessionalTitle: in.ProfessionalTitle,
				Available:         true,
			}); err != nil {
				return err
			}
			if in.CenterID != nil && s.centers != nil {
				return s.centers.LinkDoctor(ctx, *in.CenterID, u.ID)
			}
		case auth.RoleCenterAdmin:
			return s.profiles.CreateCenterAdmin(ctx, &CenterAdminProfile{
				UserID:   u.ID,
				CenterID: *in.CenterID,
				Position: in.Position,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateSuperuser creates an active system administrator. Used by the CLI.
func (s *Service) CreateSuperuser(ctx context.Context, in RegisterInput) (*User, error) {
	in.normalize()
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := s.users.GetByEmail(ctx, in.Email); err == nil {
		return nil, ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	u, err := s.newUser(in, auth.RoleSystemAdmin)
	if err != nil {
		return nil, err
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// -- Sessions --

// Login checks the credentials and issues a token pair.
func (s *Service) Login(ctx context.Context, email, password string) (*auth.TokenPair, *User, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !u.Active || !auth.CheckPassword(u.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	pair, err := s.issue(ctx, u)
	if err != nil {
		return nil, nil, err
	}
	now := s.now()
	if err := s.users.TouchLastAccess(ctx, u.ID, now); err != nil {
		return nil, nil, err
	}
	u.LastAccessAt = &now
	return pair, u, nil
}

func (s *Service) issue(ctx context.Context, u *User) (*auth.TokenPair, error) {
	pair, hash, err := s.issuer.Pair(u.ID, u.Email, u.Role)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.Create(ctx, &RefreshToken{
		UserID:    u.ID,
		TokenHash: hash,
		ExpiresAt: pair.RefreshExpiresAt,
	}); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return pair, nil
}

// Refresh exchanges a refresh token for a new pair. The presented token is
// revoked so it cannot be used twice.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	if refreshToken == "" {
		return nil, ErrInvalidToken
	}
	var pair *auth.TokenPair
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		stored, err := s.tokens.GetByHash(ctx, auth.HashToken(refreshToken))
		if err != nil {
			return err
		}
		now := s.now()
		if !stored.Usable(now) {
			return ErrInvalidToken
		}
		u, err := s.users.GetByID(ctx, stored.UserID)
		if err != nil {
			return err
		}
		if !u.Active {
			return ErrInvalidToken
		}
		if err := s.tokens.Revoke(ctx, stored.ID, now); err != nil {
			return err
		}
		pair, err = s.issue(ctx, u)
		return err
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Logout revokes the refresh token and, when a jti is given, the access
// token that made the request.
func (s *Service) Logout(ctx context.Context, refreshToken, accessJTI string, accessExpiry time.Time) error {
	if s.revoked != nil && accessJTI != "" {
		s.revoked.Revoke(accessJTI, accessExpiry)
	}
	if refreshToken == "" {
		return nil
	}
	stored, err := s.tokens.GetByHash(ctx, auth.HashToken(refreshToken))
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return nil
		}
		return err
	}
	return s.tokens.Revoke(ctx, stored.ID, s.now())
}

// -- Profiles --

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// Me returns the user with its role profile.
func (s *Service) Me(ctx context.Context, id uuid.UUID) (*Profile, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	p := &Profile{User: u}
	switch u.Role {
	case auth.RolePatient:
		p.Patient, err = s.profiles.GetPatient(ctx, id)
	case auth.RoleDoctor:
		p.Doctor, err = s.profiles.GetDoctor(ctx, id)
	case auth.RoleCenterAdmin:
		p.CenterAdmin, err = s.profiles.GetCenterAdmin(ctx, id)
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return p, nil
}

func (s *Service) UpdateMyProfile(ctx context.Context, id uuid.UUID, in ProfileUpdate) (*Profile, error) {
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if in.FirstName != nil {
			if strings.TrimSpace(*in.FirstName) == "" {
				return validationErr("first_name cannot be empty")
			}
			u.FirstName = strings.TrimSpace(*in.FirstName)
		}
		if in.LastName != nil {
			if strings.TrimSpace(*in.LastName) == "" {
				return validationErr("last_name cannot be empty")
			}
			u.LastName = strings.TrimSpace(*in.LastName)
		}
		if in.Phone != nil {
			u.Phone = strings.TrimSpace(*in.Phone)
		}
		if in.Password != nil {
			if len(*in.Password) < auth.MinPasswordLength {
				return validationErr(fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
			}
			if u.PasswordHash, err = auth.HashPassword(*in.Password); err != nil {
				return err
			}
		}
		if err := s.users.Update(ctx, u); err != nil {
			return err
		}

		switch u.Role {
		case auth.RolePatient:
			if in.Patient != nil {
				pp := *in.Patient
				pp.UserID = id
				return s.profiles.UpsertPatient(ctx, &pp)
			}
		case auth.RoleDoctor:
			dp, err := s.profiles.GetDoctor(ctx, id)
			if err != nil {
				return err
			}
			if in.ProfessionalTitle != nil {
				dp.ProfessionalTitle = *in.ProfessionalTitle
			}
			if in.Bio != nil {
				dp.Bio = *in.Bio
			}
			if in.YearsExperience != nil {
				if *in.YearsExperience < 0 {
					return validationErr("years_experience cannot be negative")
				}
				dp.YearsExperience = *in.YearsExperience
			}
			if in.Available != nil {
				dp.Available = *in.Available
			}
			return s.profiles.UpdateDoctor(ctx, dp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Me(ctx, id)
}

// CenterOf returns the center a center admin manages.
func (s *Service) CenterOf(ctx context.Context, adminID uuid.UUID) (uuid.UUID, error) {
	p, err := s.profiles.GetCenterAdmin(ctx, adminID)
	if err != nil {
		return uuid.Nil, err
	}
	return p.CenterID, nil
}

func (s *Service) DoctorProfile(ctx context.Context, doctorID uuid.UUID) (*DoctorProfile, error) {
	return s.profiles.GetDoctor(ctx, doctorID)
}

// -- Administration --

func (s *Service) ListUsers(ctx context.Context, role string, limit, offset int) ([]*User, int, error) {
	if role != "" && !auth.ValidRole(role) {
		return nil, 0, validationErr("unknown role " + role)
	}
	return s.users.List(ctx, role, limit, offset)
}

// SetActive enables or disables an account. Deactivation revokes every
// refresh token of the user.
func (s *Service) SetActive(ctx context.Context, actor auth.Principal, id uuid.UUID, active bool) error {
	if actor.ID == id && !active {
		return validationErr("you cannot deactivate your own account")
	}
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.users.SetActive(ctx, id, active); err != nil {
			return err
		}
		if !active {
			return s.tokens.RevokeAllForUser(ctx, id, s.now())
		}
		return nil
	})
}
