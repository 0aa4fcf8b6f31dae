package consultation

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("not allowed")
	ErrValidation       = errors.New("validation failed")
	ErrAlreadyStarted   = errors.New("consultation already started")
	ErrNotStarted       = errors.New("consultation not started")
	ErrAlreadyFinished  = errors.New("consultation already finished")
	ErrAppointmentState = errors.New("appointment is not in progress")
)

// Consultation is the clinical record of one attended appointment.
type Consultation struct {
	ID                   uuid.UUID  `json:"id"`
	AppointmentID        uuid.UUID  `json:"appointment_id"`
	PatientID            uuid.UUID  `json:"patient_id"`
	DoctorID             uuid.UUID  `json:"doctor_id"`
	Reason               string     `json:"reason"`
	Symptoms             string     `json:"symptoms"`
	Background           string     `json:"background"`
	Examination          string     `json:"examination"`
	Diagnosis            string     `json:"diagnosis"`
	TreatmentPlan        string     `json:"treatment_plan"`
	Recommendations      string     `json:"recommendations"`
	FollowUpRequired     bool       `json:"follow_up_required"`
	FollowUpDays         *int       `json:"follow_up_days,omitempty"`
	FollowUpInstructions string     `json:"follow_up_instructions"`
	StartedAt            *time.Time `json:"started_at,omitempty"`
	EndedAt              *time.Time `json:"ended_at,omitempty"`
	DurationMinutes      *int       `json:"duration_minutes,omitempty"`
	RecordedBy           uuid.UUID  `json:"recorded_by"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

func (c *Consultation) Started() bool  { return c.StartedAt != nil }
func (c *Consultation) Finished() bool { return c.EndedAt != nil }

// Start stamps the start time. A consultation starts once.
func (c *Consultation) Start(by uuid.UUID, now time.Time) error {
	if c.Started() {
		return ErrAlreadyStarted
	}
	c.StartedAt = &now
	c.RecordedBy = by
	c.UpdatedAt = now
	return nil
}

// FinishInput carries the clinical data written when the consultation ends.
// Nil fields keep their current value.
type FinishInput struct {
	Reason               *string `json:"reason"`
	Symptoms             *string `json:"symptoms"`
	Background           *string `json:"background"`
	Examination          *string `json:"examination"`
	Diagnosis            *string `json:"diagnosis"`
	TreatmentPlan        *string `json:"treatment_plan"`
	Recommendations      *string `json:"recommendations"`
	FollowUpRequired     *bool   `json:"follow_up_required"`
	FollowUpDays         *int    `json:"follow_up_days"`
	FollowUpInstructions *string `json:"follow_up_instructions"`
}

// Finish closes the consultation, records its whole-minute duration and
// copies the provided fields.
func (c *Consultation) Finish(in FinishInput, now time.Time) error {
	if !c.Started() {
		return ErrNotStarted
	}
	if c.Finished() {
		return ErrAlreadyFinished
	}
	minutes := int(now.Sub(*c.StartedAt) / time.Minute)
	if minutes < 0 {
		minutes = 0
	}
	c.EndedAt = &now
	c.DurationMinutes = &minutes
	c.UpdatedAt = now

	for _, f := range []struct {
		src *string
		dst *string
	}{
		{in.Reason, &c.Reason},
		{in.Symptoms, &c.Symptoms},
		{in.Background, &c.Background},
		{in.Examination, &c.Examination},
		{in.Diagnosis, &c.Diagnosis},
		{in.TreatmentPlan, &c.TreatmentPlan},
		{in.Recommendations, &c.Recommendations},
		{in.FollowUpInstructions, &c.FollowUpInstructions},
	} {
		if f.src != nil {
			*f.dst = *f.src
		}
	}
	if in.FollowUpRequired != nil {
		c.FollowUpRequired = *in.FollowUpRequired
	}
	if in.FollowUpDays != nil {
		days := *in.FollowUpDays
		c.FollowUpDays = &days
	}
	return nil
}
