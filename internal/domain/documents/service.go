package documents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/domain/consultation"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/db"
	"github.com/telemed/telemed/internal/platform/notification"
)

// codeAttempts bounds the retries after a validation code collision.
const codeAttempts = 5

type Consultations interface {
	Lookup(ctx context.Context, id uuid.UUID) (*consultation.Consultation, error)
}

// PatientAccess decides who may read a patient's records.
type PatientAccess interface {
	CanRead(ctx context.Context, actor auth.Principal, patientID uuid.UUID) error
}

type AdminLookup interface {
	CenterOf(ctx context.Context, adminID uuid.UUID) (uuid.UUID, error)
}

type Notifier interface {
	Enqueue(n notification.Notification) bool
}

type Service struct {
	repo          Repository
	tx            db.Transactor
	consultations Consultations
	patients      PatientAccess
	admins        AdminLookup
	notify        Notifier
	opts          PDFOptions
	logger        zerolog.Logger
	newCode       func() (string, error)
	now           func() time.Time
}

func NewService(repo Repository, tx db.Transactor, consultations Consultations, patients PatientAccess, opts PDFOptions) *Service {
	return &Service{
		repo:          repo,
		tx:            tx,
		consultations: consultations,
		patients:      patients,
		opts:          opts,
		logger:        zerolog.Nop(),
		newCode:       NewCode,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) SetAdminLookup(a AdminLookup) { s.admins = a }
func (s *Service) SetNotifier(n Notifier)       { s.notify = n }

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l.With().Str("component", "documents").Logger()
}

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// issuer loads the consultation a document is issued from. Only its doctor
// may issue, and only once it has started.
func (s *Service) issuer(ctx context.Context, actor auth.Principal, consultationID uuid.UUID) (*consultation.Consultation, error) {
	c, err := s.consultations.Lookup(ctx, consultationID)
	if errors.Is(err, consultation.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.DoctorID != actor.ID {
		return nil, ErrForbidden
	}
	if !c.Started() {
		return nil, ErrNotStarted
	}
	return c, nil
}

func (s *Service) newHeader(c *consultation.Consultation, by uuid.UUID, expires *time.Time) (Header, error) {
	now := s.now()
	if expires != nil && !expires.After(now) {
		return Header{}, validationErr("expires_at must be in the future")
	}
	return Header{
		ID:             uuid.New(),
		ConsultationID: c.ID,
		PatientID:      c.PatientID,
		DoctorID:       c.DoctorID,
		IssuedAt:       now,
		ExpiresAt:      expires,
		Status:         StatusActive,
		IssuedBy:       by,
	}, nil
}

// withFreshCode assigns a new validation code to h and runs create,
// retrying with another code when the code is already taken.
func (s *Service) withFreshCode(ctx context.Context, h *Header, create func(ctx context.Context) error) error {
	for i := 0; i < codeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return err
		}
		h.ValidationCode = code
		err = s.tx.WithinTx(ctx, create)
		if !errors.Is(err, ErrDuplicateCode) {
			return err
		}
		s.logger.Warn().Str("code", code).Msg("validation code collision, retrying")
	}
	return fmt.Errorf("%w after %d attempts", ErrDuplicateCode, codeAttempts)
}

// canRead: the patient, the issuing doctor, system admins and the admin of
// the center where the consultation took place.
func (s *Service) canRead(ctx context.Context, actor auth.Principal, h *Header) error {
	if actor.IsAdmin() || actor.ID == h.PatientID || actor.ID == h.DoctorID {
		return nil
	}
	if actor.Role == auth.RoleCenterAdmin && s.admins != nil {
		if center, err := s.admins.CenterOf(ctx, actor.ID); err == nil && center == h.CenterID {
			return nil
		}
	}
	return ErrForbidden
}

func canVoid(actor auth.Principal, h *Header) error {
	if actor.IsAdmin() || actor.ID == h.DoctorID {
		return nil
	}
	return ErrForbidden
}

func (s *Service) readPatient(ctx context.Context, actor auth.Principal, patientID uuid.UUID) error {
	if err := s.patients.CanRead(ctx, actor, patientID); err != nil {
		return ErrForbidden
	}
	return nil
}

func (s *Service) mailDocument(h *Header, tpl, filename string, data map[string]string, pdf []byte) {
	if s.notify == nil || h.PatientEmail == "" {
		return
	}
	s.notify.Enqueue(notification.Notification{
		Channel:     notification.ChannelEmail,
		Recipient:   h.PatientEmail,
		TemplateID:  tpl,
		Data:        data,
		Attachments: []notification.Attachment{{Name: filename, Data: pdf}},
	})
}

// -- Prescriptions --

type MedicationInput struct {
	Name         string `json:"name"`
	Presentation string `json:"presentation"`
	Dose         string `json:"dose"`
	Route        string `json:"route"`
	Frequency    string `json:"frequency"`
	Duration     string `json:"duration"`
	Quantity     string `json:"quantity"`
	Instructions string `json:"instructions"`
}

type PrescriptionInput struct {
	Diagnosis   string            `json:"diagnosis"`
	Notes       string            `json:"notes"`
	ExpiresAt   *time.Time        `json:"expires_at"`
	Medications []MedicationInput `json:"medications"`
}

func (in PrescriptionInput) medications() ([]Medication, error) {
	if len(in.Medications) == 0 {
		return nil, validationErr("at least one medication is required")
	}
	out := make([]Medication, 0, len(in.Medications))
	for i, m := range in.Medications {
		name := strings.TrimSpace(m.Name)
		if name == "" {
			return nil, validationErr(fmt.Sprintf("medication %d: name is required", i+1))
		}
		out = append(out, Medication{
			ID:           uuid.New(),
			Name:         name,
			Presentation: strings.TrimSpace(m.Presentation),
			Dose:         strings.TrimSpace(m.Dose),
			Route:        strings.TrimSpace(m.Route),
			Frequency:    strings.TrimSpace(m.Frequency),
			Duration:     strings.TrimSpace(m.Duration),
			Quantity:     strings.TrimSpace(m.Quantity),
			Instructions: strings.TrimSpace(m.Instructions),
			Position:     i,
		})
	}
	return out, nil
}

func (s *Service) IssuePrescription(ctx context.Context, actor auth.Principal, consultationID uuid.UUID, in PrescriptionInput) (*Prescription, error) {
	meds, err := in.medications()
	if err != nil {
		return nil, err
	}
	c, err := s.issuer(ctx, actor, consultationID)
	if err != nil {
		return nil, err
	}
	h, err := s.newHeader(c, actor.ID, in.ExpiresAt)
	if err != nil {
		return nil, err
	}
	diagnosis := strings.TrimSpace(in.Diagnosis)
	if diagnosis == "" {
		diagnosis = c.Diagnosis
	}
	p := &Prescription{
		Header:      h,
		Diagnosis:   diagnosis,
		Notes:       strings.TrimSpace(in.Notes),
		Medications: meds,
	}
	if err := s.withFreshCode(ctx, &p.Header, func(ctx context.Context) error {
		return s.repo.CreatePrescription(ctx, p)
	}); err != nil {
		return nil, err
	}

	saved, err := s.repo.GetPrescription(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("prescription_id", saved.ID.String()).
		Str("code", saved.ValidationCode).
		Int("medications", len(saved.Medications)).
		Msg("prescription issued")
	s.mailPrescription(saved)
	return saved, nil
}

func (s *Service) mailPrescription(p *Prescription) {
	if s.notify == nil {
		return
	}
	pdf, err := RenderPrescription(p, s.opts)
	if err != nil {
		s.logger.Error().Err(err).Str("prescription_id", p.ID.String()).Msg("render prescription pdf")
		return
	}
	s.mailDocument(&p.Header, notification.TplPrescriptionIssued, PrescriptionFilename(p), map[string]string{
		"patient_name": p.PatientName,
		"doctor_name":  p.DoctorName,
		"code":         p.ValidationCode,
		"verify_url":   VerifyURL(s.opts.BaseURL, KindPrescription, p.ValidationCode),
	}, pdf)
}

func PrescriptionFilename(p *Prescription) string {
	return "receta_" + p.ValidationCode + ".pdf"
}

func (s *Service) GetPrescription(ctx context.Context, actor auth.Principal, id uuid.UUID) (*Prescription, error) {
	p, err := s.repo.GetPrescription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, actor, &p.Header); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) PrescriptionPDF(ctx context.Context, actor auth.Principal, id uuid.UUID) ([]byte, string, error) {
	p, err := s.GetPrescription(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}
	pdf, err := RenderPrescription(p, s.opts)
	if err != nil {
		return nil, "", err
	}
	return pdf, PrescriptionFilename(p), nil
}

func (s *Service) VoidPrescription(ctx context.Context, actor auth.Principal, id uuid.UUID, reason string) (*Prescription, error) {
	var p *Prescription
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.repo.GetPrescription(ctx, id); err != nil {
			return err
		}
		if err := canVoid(actor, &p.Header); err != nil {
			return err
		}
		if err := p.Void(reason); err != nil {
			return err
		}
		return s.repo.UpdateStatus(ctx, KindPrescription, &p.Header)
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) ListPrescriptionsByPatient(ctx context.Context, actor auth.Principal, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	if err := s.readPatient(ctx, actor, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListPrescriptionsByPatient(ctx, patientID, limit, offset)
}

// VerifyPrescription answers the public check of a prescription code.
func (s *Service) VerifyPrescription(ctx context.Context, code string) (*Verification, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	p, err := s.repo.GetPrescriptionByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return p.Verification(s.now()), nil
}

// -- Lab orders --

type ExamInput struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
}

type LabOrderInput struct {
	PresumptiveDiagnosis string      `json:"presumptive_diagnosis"`
	GeneralInstructions  string      `json:"general_instructions"`
	FastingRequired      bool        `json:"fasting_required"`
	Urgent               bool        `json:"urgent"`
	ExpiresAt            *time.Time  `json:"expires_at"`
	Exams                []ExamInput `json:"exams"`
}

func (in LabOrderInput) exams() ([]Exam, error) {
	if len(in.Exams) == 0 {
		return nil, validationErr("at least one exam is required")
	}
	out := make([]Exam, 0, len(in.Exams))
	for i, e := range in.Exams {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, validationErr(fmt.Sprintf("exam %d: name is required", i+1))
		}
		out = append(out, Exam{
			ID:           uuid.New(),
			Code:         strings.ToUpper(strings.TrimSpace(e.Code)),
			Name:         name,
			Type:         strings.TrimSpace(e.Type),
			Description:  strings.TrimSpace(e.Description),
			Instructions: strings.TrimSpace(e.Instructions),
			Position:     i,
			Status:       ExamPending,
		})
	}
	return out, nil
}

func (s *Service) IssueLabOrder(ctx context.Context, actor auth.Principal, consultationID uuid.UUID, in LabOrderInput) (*LabOrder, error) {
	exams, err := in.exams()
	if err != nil {
		return nil, err
	}
	c, err := s.issuer(ctx, actor, consultationID)
	if err != nil {
		return nil, err
	}
	h, err := s.newHeader(c, actor.ID, in.ExpiresAt)
	if err != nil {
		return nil, err
	}
	diagnosis := strings.TrimSpace(in.PresumptiveDiagnosis)
	if diagnosis == "" {
		diagnosis = c.Diagnosis
	}
	o := &LabOrder{
		Header:               h,
		PresumptiveDiagnosis: diagnosis,
		GeneralInstructions:  strings.TrimSpace(in.GeneralInstructions),
		FastingRequired:      in.FastingRequired,
		Urgent:               in.Urgent,
		Exams:                exams,
	}
	if err := s.withFreshCode(ctx, &o.Header, func(ctx context.Context) error {
		return s.repo.CreateLabOrder(ctx, o)
	}); err != nil {
		return nil, err
	}

	saved, err := s.repo.GetLabOrder(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("lab_order_id", saved.ID.String()).
		Str("code", saved.ValidationCode).
		Bool("urgent", saved.Urgent).
		Msg("lab order issued")
	s.mailLabOrder(saved)
	return saved, nil
}

func (s *Service) mailLabOrder(o *LabOrder) {
	if s.notify == nil {
		return
	}
	pdf, err := RenderLabOrder(o, s.opts)
	if err != nil {
		s.logger.Error().Err(err).Str("lab_order_id", o.ID.String()).Msg("render lab order pdf")
		return
	}
	s.mailDocument(&o.Header, notification.TplLabOrderIssued, LabOrderFilename(o), map[string]string{
		"patient_name": o.PatientName,
		"doctor_name":  o.DoctorName,
		"code":         o.ValidationCode,
		"verify_url":   VerifyURL(s.opts.BaseURL, KindLabOrder, o.ValidationCode),
	}, pdf)
}

func LabOrderFilename(o *LabOrder) string {
	return "orden_" + o.ValidationCode + ".pdf"
}

func (s *Service) GetLabOrder(ctx context.Context, actor auth.Principal, id uuid.UUID) (*LabOrder, error) {
	o, err := s.repo.GetLabOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.canRead(ctx, actor, &o.Header); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) LabOrderPDF(ctx context.Context, actor auth.Principal, id uuid.UUID) ([]byte, string, error) {
	o, err := s.GetLabOrder(ctx, actor, id)
	if err != nil {
		return nil, "", err
	}
	pdf, err := RenderLabOrder(o, s.opts)
	if err != nil {
		return nil, "", err
	}
	return pdf, LabOrderFilename(o), nil
}

func (s *Service) VoidLabOrder(ctx context.Context, actor auth.Principal, id uuid.UUID, reason string) (*LabOrder, error) {
	var o *LabOrder
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.repo.GetLabOrder(ctx, id); err != nil {
			return err
		}
		if err := canVoid(actor, &o.Header); err != nil {
			return err
		}
		if err := o.Void(reason); err != nil {
			return err
		}
		return s.repo.UpdateStatus(ctx, KindLabOrder, &o.Header)
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *Service) ListLabOrdersByPatient(ctx context.Context, actor auth.Principal, patientID uuid.UUID, limit, offset int) ([]*LabOrder, int, error) {
	if err := s.readPatient(ctx, actor, patientID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListLabOrdersByPatient(ctx, patientID, limit, offset)
}

func (s *Service) VerifyLabOrder(ctx context.Context, code string) (*Verification, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrNotFound
	}
	o, err := s.repo.GetLabOrderByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	return o.Verification(s.now()), nil
}

// QR renders the verification QR code of a document kind and code.
func (s *Service) QR(kind, code string) ([]byte, error) {
	if kind != KindPrescription && kind != KindLabOrder {
		return nil, validationErr("unknown document kind " + kind)
	}
	code = NormalizeCode(code)
	if code == "" {
		return nil, validationErr("code is required")
	}
	return QRCode(s.opts.BaseURL, kind, code, 256)
}
