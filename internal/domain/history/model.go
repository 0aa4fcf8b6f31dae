package history

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("not allowed")
	ErrValidation = errors.New("validation failed")
)

// Entry types.
const (
	TypeConsultation   = "consultation"
	TypeMedication     = "medication"
	TypeAllergy        = "allergy"
	TypeChronicDisease = "chronic_disease"
	TypeFamilyHistory  = "family_history"
)

const (
	MaxDescription       = 255
	DefaultRecent        = 10
	SummaryConsultations = 5
)

func ValidType(t string) bool {
	switch t {
	case TypeConsultation, TypeMedication, TypeAllergy, TypeChronicDisease, TypeFamilyHistory:
		return true
	}
	return false
}

// History is the clinical record of one patient. It is created the first
// time something is written to it.
type History struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is an append-only line of a clinical history.
type Entry struct {
	ID             uuid.UUID              `json:"id"`
	HistoryID      uuid.UUID              `json:"history_id"`
	Type           string                 `json:"type"`
	Description    string                 `json:"description"`
	Details        map[string]interface{} `json:"details"`
	ConsultationID *uuid.UUID             `json:"consultation_id,omitempty"`
	RecordedBy     uuid.UUID              `json:"recorded_by"`
	RecordedAt     time.Time              `json:"recorded_at"`
}

type Summary struct {
	PatientID           uuid.UUID `json:"patient_id"`
	Allergies           []*Entry  `json:"allergies"`
	ChronicDiseases     []*Entry  `json:"chronic_diseases"`
	FamilyHistory       []*Entry  `json:"family_history"`
	Medications         []*Entry  `json:"medications"`
	RecentConsultations []*Entry  `json:"recent_consultations"`
}
