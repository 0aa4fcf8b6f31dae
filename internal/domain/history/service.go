package history

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/auth"
)

// CareLookup tells whether a doctor has treated, or is due to treat, a
// patient.
type CareLookup interface {
	HasAppointmentWith(ctx context.Context, doctorID, patientID uuid.UUID) (bool, error)
}

type Service struct {
	repo Repository
	care CareLookup
	now  func() time.Time
}

func NewService(repo Repository, care CareLookup) *Service {
	return &Service{
		repo: repo,
		care: care,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// CanRead allows the patient, system admins and any doctor who has an
// appointment with the patient.
func (s *Service) CanRead(ctx context.Context, actor auth.Principal, patientID uuid.UUID) error {
	if actor.IsAdmin() {
		return nil
	}
	if actor.Role == auth.RolePatient && actor.ID == patientID {
		return nil
	}
	return s.treats(ctx, actor, patientID)
}

func (s *Service) treats(ctx context.Context, actor auth.Principal, patientID uuid.UUID) error {
	if actor.Role != auth.RoleDoctor || s.care == nil {
		return ErrForbidden
	}
	ok, err := s.care.HasAppointmentWith(ctx, actor.ID, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

type EntryInput struct {
	Type           string                 `json:"type"`
	Description    string                 `json:"description"`
	Details        map[string]interface{} `json:"details"`
	ConsultationID *uuid.UUID             `json:"consultation_id,omitempty"`
}

func (in *EntryInput) validate() error {
	in.Description = strings.TrimSpace(in.Description)
	if !ValidType(in.Type) {
		return validationErr("unknown entry type " + in.Type)
	}
	if in.Description == "" {
		return validationErr("description is required")
	}
	if utf8.RuneCountInString(in.Description) > MaxDescription {
		return validationErr(fmt.Sprintf("description exceeds %d characters", MaxDescription))
	}
	if in.Details == nil {
		in.Details = map[string]interface{}{}
	}
	return nil
}

// Append adds an entry on behalf of a treating doctor or a system admin.
func (s *Service) Append(ctx context.Context, actor auth.Principal, patientID uuid.UUID, in EntryInput) (*Entry, error) {
	if !actor.IsAdmin() {
		if err := s.treats(ctx, actor, patientID); err != nil {
			return nil, err
		}
	}
	return s.Record(ctx, patientID, actor.ID, in)
}

// Record writes an entry without an access check. It is used by flows that
// have already authorized the caller, such as finishing a consultation.
func (s *Service) Record(ctx context.Context, patientID, recordedBy uuid.UUID, in EntryInput) (*Entry, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	h, err := s.repo.EnsureHistory(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load clinical history: %w", err)
	}
	e := &Entry{
		ID:             uuid.New(),
		HistoryID:      h.ID,
		Type:           in.Type,
		Description:    in.Description,
		Details:        in.Details,
		ConsultationID: in.ConsultationID,
		RecordedBy:     recordedBy,
		RecordedAt:     s.now(),
	}
	if err := s.repo.AppendEntry(ctx, e); err != nil {
		return nil, fmt.Errorf("append history entry: %w", err)
	}
	return e, nil
}

func (s *Service) ListByType(ctx context.Context, actor auth.Principal, patientID uuid.UUID, entryType string) ([]*Entry, error) {
	if !ValidType(entryType) {
		return nil, validationErr("unknown entry type " + entryType)
	}
	if err := s.CanRead(ctx, actor, patientID); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, patientID, entryType, 0)
}

// Recent returns the latest n entries of any type.
func (s *Service) Recent(ctx context.Context, actor auth.Principal, patientID uuid.UUID, n int) ([]*Entry, error) {
	if err := s.CanRead(ctx, actor, patientID); err != nil {
		return nil, err
	}
	if n <= 0 {
		n = DefaultRecent
	}
	return s.repo.ListEntries(ctx, patientID, "", n)
}

func (s *Service) Summary(ctx context.Context, actor auth.Principal, patientID uuid.UUID) (*Summary, error) {
	if err := s.CanRead(ctx, actor, patientID); err != nil {
		return nil, err
	}
	sum := &Summary{PatientID: patientID}
	for _, part := range []struct {
		entryType string
		limit     int
		dst       *[]*Entry
	}{
		{TypeAllergy, 0, &sum.Allergies},
		{TypeChronicDisease, 0, &sum.ChronicDiseases},
		{TypeFamilyHistory, 0, &sum.FamilyHistory},
		{TypeMedication, 0, &sum.Medications},
		{TypeConsultation, SummaryConsultations, &sum.RecentConsultations},
	} {
		items, err := s.repo.ListEntries(ctx, patientID, part.entryType, part.limit)
		if err != nil {
			return nil, err
		}
		if items == nil {
			items = []*Entry{}
		}
		*part.dst = items
	}
	return sum, nil
}
