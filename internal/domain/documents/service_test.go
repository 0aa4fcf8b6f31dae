package documents

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/consultation"
	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/internal/platform/notification"
)

// mockRepo stores documents in memory and fills in the names the SQL
// joins would provide.
type mockRepo struct {
	mu            sync.Mutex
	prescriptions map[uuid.UUID]*Prescription
	labOrders     map[uuid.UUID]*LabOrder
	codes         map[string]bool
	centerID      uuid.UUID
}

func newMockRepo(centerID uuid.UUID) *mockRepo {
	return &mockRepo{
		prescriptions: make(map[uuid.UUID]*Prescription),
		labOrders:     make(map[uuid.UUID]*LabOrder),
		codes:         make(map[string]bool),
		centerID:      centerID,
	}
}

func (m *mockRepo) fill(h *Header) {
	h.CenterID = m.centerID
	h.PatientName = "Ana Pérez"
	h.PatientEmail = "ana@example.com"
	h.DoctorName = "Carlos Ruiz"
	h.CenterName = "Clínica San José"
}

func (m *mockRepo) CreatePrescription(_ context.Context, p *Prescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes[p.ValidationCode] {
		return ErrDuplicateCode
	}
	m.codes[p.ValidationCode] = true
	cp := *p
	m.fill(&cp.Header)
	m.prescriptions[p.ID] = &cp
	return nil
}

func (m *mockRepo) GetPrescription(_ context.Context, id uuid.UUID) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prescriptions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *mockRepo) GetPrescriptionByCode(_ context.Context, code string) (*Prescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.prescriptions {
		if p.ValidationCode == code {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListPrescriptionsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Prescription, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Prescription
	for _, p := range m.prescriptions {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) CreateLabOrder(_ context.Context, o *LabOrder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.codes[o.ValidationCode] {
		return ErrDuplicateCode
	}
	m.codes[o.ValidationCode] = true
	cp := *o
	m.fill(&cp.Header)
	m.labOrders[o.ID] = &cp
	return nil
}

func (m *mockRepo) GetLabOrder(_ context.Context, id uuid.UUID) (*LabOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.labOrders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockRepo) GetLabOrderByCode(_ context.Context, code string) (*LabOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.labOrders {
		if o.ValidationCode == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListLabOrdersByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*LabOrder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LabOrder
	for _, o := range m.labOrders {
		if o.PatientID == patientID {
			out = append(out, o)
		}
	}
	return out, len(out), nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, kind string, h *Header) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case KindPrescription:
		p, ok := m.prescriptions[h.ID]
		if !ok {
			return ErrNotFound
		}
		p.Status, p.VoidReason = h.Status, h.VoidReason
	case KindLabOrder:
		o, ok := m.labOrders[h.ID]
		if !ok {
			return ErrNotFound
		}
		o.Status, o.VoidReason = h.Status, h.VoidReason
	}
	return nil
}

type noopTx struct{}

func (noopTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type mockConsultations map[uuid.UUID]*consultation.Consultation

func (m mockConsultations) Lookup(_ context.Context, id uuid.UUID) (*consultation.Consultation, error) {
	c, ok := m[id]
	if !ok {
		return nil, consultation.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// mockPatients lets the patient, admins and the listed doctors read.
type mockPatients struct{ doctors map[uuid.UUID]bool }

func (m mockPatients) CanRead(_ context.Context, actor auth.Principal, patientID uuid.UUID) error {
	if actor.IsAdmin() || actor.ID == patientID || m.doctors[actor.ID] {
		return nil
	}
	return errors.New("no access")
}

type mockAdmins map[uuid.UUID]uuid.UUID

func (m mockAdmins) CenterOf(_ context.Context, adminID uuid.UUID) (uuid.UUID, error) {
	c, ok := m[adminID]
	if !ok {
		return uuid.Nil, errors.New("not a center admin")
	}
	return c, nil
}

type mockNotifier struct {
	mu   sync.Mutex
	sent []notification.Notification
}

func (m *mockNotifier) Enqueue(n notification.Notification) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return true
}

type fixture struct {
	svc      *Service
	repo     *mockRepo
	notify   *mockNotifier
	consults mockConsultations
	now      time.Time

	patient     auth.Principal
	doctor      auth.Principal
	otherDoctor auth.Principal
	centerAdmin auth.Principal
	otherAdmin  auth.Principal
	sysAdmin    auth.Principal

	started    uuid.UUID
	notStarted uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	centerID := uuid.New()
	f := &fixture{
		repo:        newMockRepo(centerID),
		notify:      &mockNotifier{},
		consults:    mockConsultations{},
		now:         base,
		patient:     auth.Principal{ID: uuid.New(), Role: auth.RolePatient},
		doctor:      auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor},
		otherDoctor: auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor},
		centerAdmin: auth.Principal{ID: uuid.New(), Role: auth.RoleCenterAdmin},
		otherAdmin:  auth.Principal{ID: uuid.New(), Role: auth.RoleCenterAdmin},
		sysAdmin:    auth.Principal{ID: uuid.New(), Role: auth.RoleSystemAdmin},
	}
	startedAt := base.Add(-20 * time.Minute)
	f.started = uuid.New()
	f.consults[f.started] = &consultation.Consultation{
		ID:            f.started,
		AppointmentID: uuid.New(),
		PatientID:     f.patient.ID,
		DoctorID:      f.doctor.ID,
		StartedAt:     &startedAt,
		Diagnosis:     "Hipertensión arterial",
	}
	f.notStarted = uuid.New()
	f.consults[f.notStarted] = &consultation.Consultation{
		ID:            f.notStarted,
		AppointmentID: uuid.New(),
		PatientID:     f.patient.ID,
		DoctorID:      f.doctor.ID,
	}

	f.svc = NewService(f.repo, noopTx{}, f.consults, mockPatients{doctors: map[uuid.UUID]bool{f.doctor.ID: true}}, pdfOpts)
	f.svc.SetAdminLookup(mockAdmins{f.centerAdmin.ID: centerID, f.otherAdmin.ID: uuid.New()})
	f.svc.SetNotifier(f.notify)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) prescription(t *testing.T) *Prescription {
	t.Helper()
	p, err := f.svc.IssuePrescription(context.Background(), f.doctor, f.started, PrescriptionInput{
		Medications: []MedicationInput{{Name: " Losartán ", Dose: "50 mg", Frequency: "cada 24 horas"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) labOrder(t *testing.T) *LabOrder {
	t.Helper()
	o, err := f.svc.IssueLabOrder(context.Background(), f.doctor, f.started, LabOrderInput{
		PresumptiveDiagnosis: "Anemia",
		Urgent:               true,
		Exams:                []ExamInput{{Code: "hem01", Name: "Hemograma"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return o
}

func TestIssuePrescription(t *testing.T) {
	f := newFixture(t)
	p := f.prescription(t)

	if p.Status != StatusActive || len(p.ValidationCode) != CodeLength {
		t.Errorf("unexpected header %+v", p.Header)
	}
	if p.PatientID != f.patient.ID || p.DoctorID != f.doctor.ID || p.IssuedBy != f.doctor.ID {
		t.Error("expected parties copied from the consultation")
	}
	if p.Diagnosis != "Hipertensión arterial" {
		t.Errorf("expected the consultation diagnosis as default, got %q", p.Diagnosis)
	}
	if len(p.Medications) != 1 || p.Medications[0].Name != "Losartán" {
		t.Errorf("unexpected medications %+v", p.Medications)
	}
	if p.PatientName != "Ana Pérez" {
		t.Error("expected the reloaded document with names")
	}

	if len(f.notify.sent) != 1 {
		t.Fatalf("expected one email, got %d", len(f.notify.sent))
	}
	n := f.notify.sent[0]
	if n.TemplateID != notification.TplPrescriptionIssued || n.Recipient != "ana@example.com" || n.Channel != notification.ChannelEmail {
		t.Errorf("unexpected notification %+v", n)
	}
	if n.Data["code"] != p.ValidationCode {
		t.Errorf("expected the code in the notification data, got %q", n.Data["code"])
	}
	if len(n.Attachments) != 1 || n.Attachments[0].Name != "receta_"+p.ValidationCode+".pdf" {
		t.Errorf("unexpected attachments %+v", n.Attachments)
	}
}

func TestIssuePrescription_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	meds := []MedicationInput{{Name: "Ibuprofeno"}}
	past := base.Add(-time.Hour)

	tests := []struct {
		name   string
		actor  auth.Principal
		consID uuid.UUID
		in     PrescriptionInput
		want   error
	}{
		{"no medications", f.doctor, f.started, PrescriptionInput{}, ErrValidation},
		{"medication without name", f.doctor, f.started, PrescriptionInput{Medications: []MedicationInput{{Dose: "1 g"}}}, ErrValidation},
		{"expiry in the past", f.doctor, f.started, PrescriptionInput{Medications: meds, ExpiresAt: &past}, ErrValidation},
		{"another doctor", f.otherDoctor, f.started, PrescriptionInput{Medications: meds}, ErrForbidden},
		{"consultation not started", f.doctor, f.notStarted, PrescriptionInput{Medications: meds}, ErrNotStarted},
		{"unknown consultation", f.doctor, uuid.New(), PrescriptionInput{Medications: meds}, ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.IssuePrescription(ctx, tt.actor, tt.consID, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(f.notify.sent) != 0 {
		t.Error("failed issues must not send mail")
	}
}

func TestIssue_RetriesCodeCollision(t *testing.T) {
	f := newFixture(t)
	f.repo.codes["TAKEN000"] = true
	codes := []string{"TAKEN000", "TAKEN000", "FRESH001"}
	f.svc.newCode = func() (string, error) {
		c := codes[0]
		codes = codes[1:]
		return c, nil
	}
	p := f.prescription(t)
	if p.ValidationCode != "FRESH001" {
		t.Errorf("expected the third code, got %q", p.ValidationCode)
	}
}

func TestIssue_GivesUpAfterRepeatedCollisions(t *testing.T) {
	f := newFixture(t)
	f.repo.codes["TAKEN000"] = true
	calls := 0
	f.svc.newCode = func() (string, error) {
		calls++
		return "TAKEN000", nil
	}
	_, err := f.svc.IssueLabOrder(context.Background(), f.doctor, f.started, LabOrderInput{Exams: []ExamInput{{Name: "Glucosa"}}})
	if !errors.Is(err, ErrDuplicateCode) {
		t.Fatalf("expected ErrDuplicateCode, got %v", err)
	}
	if calls != codeAttempts {
		t.Errorf("expected %d attempts, got %d", codeAttempts, calls)
	}
}

func TestIssueLabOrder(t *testing.T) {
	f := newFixture(t)
	o := f.labOrder(t)
	if len(o.Exams) != 1 || o.Exams[0].Code != "HEM01" || o.Exams[0].Status != ExamPending {
		t.Errorf("unexpected exams %+v", o.Exams)
	}
	if !o.Urgent || o.PresumptiveDiagnosis != "Anemia" {
		t.Errorf("unexpected order %+v", o)
	}
	n := f.notify.sent[0]
	if n.TemplateID != notification.TplLabOrderIssued || n.Attachments[0].Name != "orden_"+o.ValidationCode+".pdf" {
		t.Errorf("unexpected notification %+v", n)
	}

	_, err := f.svc.IssueLabOrder(context.Background(), f.doctor, f.started, LabOrderInput{Exams: []ExamInput{{Name: " "}}})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for a nameless exam, got %v", err)
	}
}

func TestGetPrescription_Access(t *testing.T) {
	f := newFixture(t)
	p := f.prescription(t)
	ctx := context.Background()

	for _, actor := range []auth.Principal{f.patient, f.doctor, f.sysAdmin, f.centerAdmin} {
		if _, err := f.svc.GetPrescription(ctx, actor, p.ID); err != nil {
			t.Errorf("expected %s to read, got %v", actor.Role, err)
		}
	}
	for _, actor := range []auth.Principal{f.otherDoctor, f.otherAdmin, {ID: uuid.New(), Role: auth.RolePatient}} {
		if _, err := f.svc.GetPrescription(ctx, actor, p.ID); !errors.Is(err, ErrForbidden) {
			t.Errorf("expected ErrForbidden, got %v", err)
		}
	}
	if _, err := f.svc.GetPrescription(ctx, f.patient, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPrescriptionPDF(t *testing.T) {
	f := newFixture(t)
	p := f.prescription(t)
	data, name, err := f.svc.PrescriptionPDF(context.Background(), f.patient, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if name != "receta_"+p.ValidationCode+".pdf" || len(data) == 0 {
		t.Errorf("unexpected pdf %q (%d bytes)", name, len(data))
	}
	if _, _, err := f.svc.PrescriptionPDF(context.Background(), f.otherDoctor, p.ID); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestVoidPrescription(t *testing.T) {
	f := newFixture(t)
	p := f.prescription(t)
	ctx := context.Background()

	if _, err := f.svc.VoidPrescription(ctx, f.patient, p.ID, "no la necesito"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for the patient, got %v", err)
	}
	if _, err := f.svc.VoidPrescription(ctx, f.doctor, p.ID, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for a blank reason, got %v", err)
	}
	got, err := f.svc.VoidPrescription(ctx, f.doctor, p.ID, "dosis equivocada")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusVoided {
		t.Errorf("expected voided, got %s", got.Status)
	}
	if _, err := f.svc.VoidPrescription(ctx, f.sysAdmin, p.ID, "duplicada"); !errors.Is(err, ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}

	v, err := f.svc.VerifyPrescription(ctx, p.ValidationCode)
	if err != nil {
		t.Fatal(err)
	}
	if v.Valid || v.Status != StatusVoided {
		t.Errorf("expected an invalid voided answer, got %+v", v)
	}
}

func TestVoidLabOrder_SystemAdmin(t *testing.T) {
	f := newFixture(t)
	o := f.labOrder(t)
	got, err := f.svc.VoidLabOrder(context.Background(), f.sysAdmin, o.ID, "emitida por error")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusVoided || got.VoidReason != "emitida por error" {
		t.Errorf("unexpected order %+v", got.Header)
	}
	if _, err := f.svc.VoidLabOrder(context.Background(), f.centerAdmin, o.ID, "x"); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for a center admin, got %v", err)
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	p := f.prescription(t)
	o := f.labOrder(t)
	ctx := context.Background()

	v, err := f.svc.VerifyPrescription(ctx, " "+p.ValidationCode+" ")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid || v.Doctor != "Carlos Ruiz" || v.Patient != "Ana Pérez" || *v.MedicationCount != 1 {
		t.Errorf("unexpected answer %+v", v)
	}

	lv, err := f.svc.VerifyLabOrder(ctx, o.ValidationCode)
	if err != nil {
		t.Fatal(err)
	}
	if !lv.Valid || !*lv.Urgent {
		t.Errorf("unexpected answer %+v", lv)
	}

	if _, err := f.svc.VerifyPrescription(ctx, "NOPE0000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.VerifyLabOrder(ctx, "  "); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for a blank code, got %v", err)
	}
	if _, err := f.svc.VerifyLabOrder(ctx, p.ValidationCode); !errors.Is(err, ErrNotFound) {
		t.Errorf("a prescription code must not verify as a lab order, got %v", err)
	}
}

func TestVerify_LowercaseCode(t *testing.T) {
	f := newFixture(t)
	f.svc.newCode = func() (string, error) { return "AB12CD34", nil }
	f.prescription(t)
	v, err := f.svc.VerifyPrescription(context.Background(), "ab12cd34")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Error("expected a lowercase code to verify")
	}
}

func TestList_UsesPatientAccess(t *testing.T) {
	f := newFixture(t)
	f.prescription(t)
	f.labOrder(t)
	ctx := context.Background()

	items, total, err := f.svc.ListPrescriptionsByPatient(ctx, f.patient, f.patient.ID, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected one prescription, got %d", total)
	}
	if _, total, err := f.svc.ListLabOrdersByPatient(ctx, f.doctor, f.patient.ID, 20, 0); err != nil || total != 1 {
		t.Errorf("expected one lab order, got %d (%v)", total, err)
	}
	if _, _, err := f.svc.ListLabOrdersByPatient(ctx, f.otherDoctor, f.patient.ID, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestQR(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.QR("invoice", "AB12CD34"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for an unknown kind, got %v", err)
	}
	png, err := f.svc.QR(KindLabOrder, "ab12cd34")
	if err != nil {
		t.Fatal(err)
	}
	if len(png) == 0 {
		t.Error("expected an image")
	}
}
