package identity

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound           = errors.New("user not found")
	ErrDuplicate          = errors.New("email or document already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidToken       = errors.New("invalid or expired refresh token")
	ErrForbidden          = errors.New("not allowed")
	ErrValidation         = errors.New("validation failed")
)

// Document types accepted for identification.
const (
	DocCC = "CC"
	DocTI = "TI"
	DocCE = "CE"
	DocPA = "PA"
)

var validDocumentTypes = map[string]bool{DocCC: true, DocTI: true, DocCE: true, DocPA: true}

type User struct {
	ID             uuid.UUID  `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"`
	DocumentType   string     `json:"document_type"`
	DocumentNumber string     `json:"document_number"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	Phone          string     `json:"phone"`
	Role           string     `json:"role"`
	Active         bool       `json:"active"`
	LastAccessAt   *time.Time `json:"last_access_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (u *User) FullName() string {
	return u.FirstName + " " + u.LastName
}

type PatientProfile struct {
	UserID                   uuid.UUID `json:"user_id"`
	BloodType                string    `json:"blood_type"`
	Allergies                string    `json:"allergies"`
	ChronicConditions        string    `json:"chronic_conditions"`
	EmergencyContactName     string    `json:"emergency_contact_name"`
	EmergencyContactPhone    string    `json:"emergency_contact_phone"`
	EmergencyContactRelation string    `json:"emergency_contact_relation"`
	Insurer                  string    `json:"insurer"`
	InsuranceNumber          string    `json:"insurance_number"`
}

type DoctorProfile struct {
	UserID            uuid.UUID  `json:"user_id"`
	LicenseNumber     string     `json:"license_number"`
	SpecialtyID       *uuid.UUID `json:"specialty_id,omitempty"`
	ProfessionalTitle string     `json:"professional_title"`
	Bio               string     `json:"bio"`
	YearsExperience   int        `json:"years_experience"`
	Available         bool       `json:"available"`
}

type CenterAdminProfile struct {
	UserID   uuid.UUID `json:"user_id"`
	CenterID uuid.UUID `json:"center_id"`
	Position string    `json:"position"`
}

// Profile is a user together with the profile row of its role.
type Profile struct {
	*User
	Patient     *PatientProfile     `json:"patient,omitempty"`
	Doctor      *DoctorProfile      `json:"doctor,omitempty"`
	CenterAdmin *CenterAdminProfile `json:"center_admin,omitempty"`
}

type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Usable reports whether the token can still be exchanged.
func (t *RefreshToken) Usable(now time.Time) bool {
	return t.RevokedAt == nil && now.Before(t.ExpiresAt)
}
