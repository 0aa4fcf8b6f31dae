package documents

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("not allowed")
	ErrValidation    = errors.New("validation failed")
	ErrNotActive     = errors.New("document is not active")
	ErrDuplicateCode = errors.New("validation code already in use")
	ErrNotStarted    = errors.New("consultation not started")
)

// Kinds name the document types in verification URLs.
const (
	KindPrescription = "prescription"
	KindLabOrder     = "lab-order"
)

const (
	StatusActive = "active"
	StatusVoided = "voided"
)

const (
	CodeLength       = 8
	codeAlphabet     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DiagnosisPreview = 50
	// IssuedAtLayout is the issue date format of verification answers.
	IssuedAtLayout = "2006-01-02 15:04"
)

// NewCode returns a random validation code drawn from A-Z and 0-9.
func NewCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate validation code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// NormalizeCode trims and uppercases a code typed by a user.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Header holds what prescriptions and lab orders have in common.
type Header struct {
	ID             uuid.UUID  `json:"id"`
	ConsultationID uuid.UUID  `json:"consultation_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	CenterID       uuid.UUID  `json:"center_id"`
	IssuedAt       time.Time  `json:"issued_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	Status         string     `json:"status"`
	ValidationCode string     `json:"validation_code"`
	VoidReason     string     `json:"void_reason,omitempty"`
	IssuedBy       uuid.UUID  `json:"issued_by"`

	PatientName     string `json:"patient_name,omitempty"`
	PatientDocument string `json:"-"`
	PatientEmail    string `json:"-"`
	DoctorName      string `json:"doctor_name,omitempty"`
	DoctorLicense   string `json:"-"`
	CenterName      string `json:"center_name,omitempty"`
}

// IsActive is false once the document is voided or past its expiry.
func (h *Header) IsActive(now time.Time) bool {
	if h.Status != StatusActive {
		return false
	}
	return h.ExpiresAt == nil || !now.After(*h.ExpiresAt)
}

func (h *Header) Void(reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", ErrValidation)
	}
	if h.Status != StatusActive {
		return ErrNotActive
	}
	h.Status = StatusVoided
	h.VoidReason = reason
	return nil
}

type Medication struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Presentation string    `json:"presentation"`
	Dose         string    `json:"dose"`
	Route        string    `json:"route"`
	Frequency    string    `json:"frequency"`
	Duration     string    `json:"duration"`
	Quantity     string    `json:"quantity"`
	Instructions string    `json:"instructions"`
	Position     int       `json:"position"`
}

type Prescription struct {
	Header
	Diagnosis   string       `json:"diagnosis"`
	Notes       string       `json:"notes"`
	Medications []Medication `json:"medications"`
}

const ExamPending = "pending"

type Exam struct {
	ID           uuid.UUID  `json:"id"`
	Code         string     `json:"code"`
	Name         string     `json:"name"`
	Type         string     `json:"type"`
	Description  string     `json:"description"`
	Instructions string     `json:"instructions"`
	Position     int        `json:"position"`
	Status       string     `json:"status"`
	Result       string     `json:"result,omitempty"`
	ResultAt     *time.Time `json:"result_at,omitempty"`
}

type LabOrder struct {
	Header
	PresumptiveDiagnosis string `json:"presumptive_diagnosis"`
	GeneralInstructions  string `json:"general_instructions"`
	FastingRequired      bool   `json:"fasting_required"`
	Urgent               bool   `json:"urgent"`
	Exams                []Exam `json:"exams"`
}

// Verification is the public answer for a validation code.
type Verification struct {
	Valid           bool    `json:"valid"`
	Status          string  `json:"status,omitempty"`
	IssuedAt        string  `json:"issued_at,omitempty"`
	ExpiresAt       *string `json:"expires_at,omitempty"`
	Doctor          string  `json:"doctor,omitempty"`
	Patient         string  `json:"patient,omitempty"`
	Diagnosis       string  `json:"diagnosis,omitempty"`
	MedicationCount *int    `json:"medication_count,omitempty"`
	ExamCount       *int    `json:"exam_count,omitempty"`
	Urgent          *bool   `json:"urgent,omitempty"`
	Message         string  `json:"message,omitempty"`
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func (h *Header) verification(diagnosis string, now time.Time) *Verification {
	v := &Verification{
		Valid:     h.IsActive(now),
		Status:    h.Status,
		IssuedAt:  h.IssuedAt.Format(IssuedAtLayout),
		Doctor:    h.DoctorName,
		Patient:   h.PatientName,
		Diagnosis: truncate(diagnosis, DiagnosisPreview),
	}
	if h.ExpiresAt != nil {
		exp := h.ExpiresAt.Format(IssuedAtLayout)
		v.ExpiresAt = &exp
	}
	return v
}

func (p *Prescription) Verification(now time.Time) *Verification {
	v := p.verification(p.Diagnosis, now)
	n := len(p.Medications)
	v.MedicationCount = &n
	return v
}

func (o *LabOrder) Verification(now time.Time) *Verification {
	v := o.verification(o.PresumptiveDiagnosis, now)
	n := len(o.Exams)
	urgent := o.Urgent
	v.ExamCount = &n
	v.Urgent = &urgent
	return v
}
