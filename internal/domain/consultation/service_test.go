package consultation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/domain/appointment"
	"github.com/telemed/telemed/internal/domain/history"
	"github.com/telemed/telemed/internal/platform/auth"
)

type mockRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Consultation
}

func newMockRepo() *mockRepo { return &mockRepo{items: make(map[uuid.UUID]*Consultation)} }

func (m *mockRepo) Create(_ context.Context, c *Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.AppointmentID == c.AppointmentID {
			return ErrAlreadyStarted
		}
	}
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockRepo) Update(_ context.Context, c *Consultation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) GetByAppointment(_ context.Context, appointmentID uuid.UUID) (*Consultation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.items {
		if c.AppointmentID == appointmentID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Consultation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Consultation
	for _, c := range m.items {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

type noopTx struct{}

func (noopTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

// mockAppointments keeps appointment views and applies the start and
// complete transitions.
type mockAppointments struct {
	mu       sync.Mutex
	items    map[uuid.UUID]*appointment.View
	startErr error
	ended    []uuid.UUID
}

func (m *mockAppointments) Get(_ context.Context, actor auth.Principal, id uuid.UUID) (*appointment.View, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	if !v.IsParticipant(actor.ID) && !actor.IsAdmin() {
		return nil, appointment.ErrForbidden
	}
	cp := *v
	return &cp, nil
}

func (m *mockAppointments) StartRoom(_ context.Context, _ auth.Principal, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	v := m.items[id]
	v.Status = appointment.StatusInProgress
	return &v.Appointment, nil
}

func (m *mockAppointments) MarkCompleted(_ context.Context, _ auth.Principal, id uuid.UUID) (*appointment.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.items[id]
	if v.Status != appointment.StatusInProgress {
		return nil, appointment.ErrInvalidTransition
	}
	v.Status = appointment.StatusCompleted
	cp := v.Appointment
	return &cp, nil
}

func (m *mockAppointments) EndLiveRoom(a *appointment.Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ended = append(m.ended, a.ID)
}

type mockHistory struct {
	entries   []history.EntryInput
	patients  []uuid.UUID
	readers   map[uuid.UUID]bool
	recordErr error
}

func (m *mockHistory) CanRead(_ context.Context, actor auth.Principal, patientID uuid.UUID) error {
	if actor.ID == patientID || m.readers[actor.ID] {
		return nil
	}
	return history.ErrForbidden
}

func (m *mockHistory) Record(_ context.Context, patientID, _ uuid.UUID, in history.EntryInput) (*history.Entry, error) {
	if m.recordErr != nil {
		return nil, m.recordErr
	}
	m.entries = append(m.entries, in)
	m.patients = append(m.patients, patientID)
	return &history.Entry{ID: uuid.New(), Type: in.Type, Description: in.Description}, nil
}

type fixture struct {
	svc     *Service
	repo    *mockRepo
	appts   *mockAppointments
	hist    *mockHistory
	patient auth.Principal
	doctor  auth.Principal
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:    newMockRepo(),
		appts:   &mockAppointments{items: make(map[uuid.UUID]*appointment.View)},
		patient: auth.Principal{ID: uuid.New(), Role: auth.RolePatient},
		doctor:  auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor},
		now:     t0,
	}
	f.hist = &mockHistory{readers: map[uuid.UUID]bool{f.doctor.ID: true}}
	f.svc = NewService(f.repo, noopTx{}, f.appts, f.hist)
	f.svc.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) appointment(status string) uuid.UUID {
	id := uuid.New()
	f.appts.items[id] = &appointment.View{
		Appointment: appointment.Appointment{
			ID:        id,
			PatientID: f.patient.ID,
			DoctorID:  f.doctor.ID,
			StartTime: t0,
			Status:    status,
			Reason:    "control de presión arterial",
		},
		DoctorName: "Carlos Ruiz",
	}
	return id
}

func TestStart_InProgress(t *testing.T) {
	f := newFixture(t)
	id := f.appointment(appointment.StatusInProgress)

	c, err := f.svc.Start(context.Background(), f.doctor, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.Reason != "control de presión arterial" {
		t.Errorf("expected reason taken from the appointment, got %q", c.Reason)
	}
	if c.PatientID != f.patient.ID || c.RecordedBy != f.doctor.ID || !c.StartedAt.Equal(t0) {
		t.Errorf("unexpected consultation %+v", c)
	}
	if _, err := f.svc.Start(context.Background(), f.doctor, id); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestStart_ConfirmedStartsAppointment(t *testing.T) {
	f := newFixture(t)
	id := f.appointment(appointment.StatusConfirmed)

	if _, err := f.svc.Start(context.Background(), f.doctor, id); err != nil {
		t.Fatal(err)
	}
	if f.appts.items[id].Status != appointment.StatusInProgress {
		t.Errorf("expected the appointment to be started, got %s", f.appts.items[id].Status)
	}
}

func TestStart_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.appointment(appointment.StatusPending)
	if _, err := f.svc.Start(ctx, f.doctor, pending); !errors.Is(err, ErrAppointmentState) {
		t.Errorf("pending: expected ErrAppointmentState, got %v", err)
	}

	early := f.appointment(appointment.StatusConfirmed)
	f.appts.startErr = appointment.ErrOutsideStartTime
	if _, err := f.svc.Start(ctx, f.doctor, early); !errors.Is(err, ErrAppointmentState) {
		t.Errorf("outside start window: expected ErrAppointmentState, got %v", err)
	}
	f.appts.startErr = nil

	inProgress := f.appointment(appointment.StatusInProgress)
	if _, err := f.svc.Start(ctx, f.patient, inProgress); !errors.Is(err, ErrForbidden) {
		t.Errorf("patient: expected ErrForbidden, got %v", err)
	}
	other := auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor}
	if _, err := f.svc.Start(ctx, other, inProgress); !errors.Is(err, ErrForbidden) {
		t.Errorf("other doctor: expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Start(ctx, f.doctor, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown appointment: expected ErrNotFound, got %v", err)
	}
}

func TestFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.appointment(appointment.StatusInProgress)

	if _, err := f.svc.Finish(ctx, f.doctor, id, FinishInput{}); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
	if _, err := f.svc.Start(ctx, f.doctor, id); err != nil {
		t.Fatal(err)
	}

	f.now = t0.Add(31 * time.Minute)
	c, err := f.svc.Finish(ctx, f.doctor, id, FinishInput{
		Diagnosis:     strPtr("Hipertensión esencial"),
		TreatmentPlan: strPtr("Losartán 50 mg cada 24 horas"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if *c.DurationMinutes != 31 {
		t.Errorf("expected 31 minutes, got %d", *c.DurationMinutes)
	}
	if f.appts.items[id].Status != appointment.StatusCompleted {
		t.Errorf("expected the appointment completed, got %s", f.appts.items[id].Status)
	}
	if len(f.appts.ended) != 1 || f.appts.ended[0] != id {
		t.Errorf("expected the live room ended once, got %v", f.appts.ended)
	}
	if len(f.hist.entries) != 1 {
		t.Fatalf("expected one history entry, got %d", len(f.hist.entries))
	}
	e := f.hist.entries[0]
	if e.Type != history.TypeConsultation || e.Description != "Consulta con Dr. Carlos Ruiz" {
		t.Errorf("unexpected entry %+v", e)
	}
	if e.Details["diagnosis"] != "Hipertensión esencial" || e.Details["treatment"] != "Losartán 50 mg cada 24 horas" {
		t.Errorf("unexpected details %v", e.Details)
	}
	if e.ConsultationID == nil || *e.ConsultationID != c.ID || f.hist.patients[0] != f.patient.ID {
		t.Error("expected the entry linked to the consultation and patient")
	}

	if _, err := f.svc.Finish(ctx, f.doctor, id, FinishInput{}); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestFinish_AfterRoomEnded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.appointment(appointment.StatusInProgress)
	f.svc.Start(ctx, f.doctor, id)

	// Ending the room from the call completes the appointment.
	f.appts.items[id].Status = appointment.StatusCompleted
	if _, err := f.svc.Finish(ctx, f.doctor, id, FinishInput{}); err != nil {
		t.Fatalf("expected finish to succeed, got %v", err)
	}
	if len(f.appts.ended) != 0 {
		t.Errorf("expected the already ended room left alone, got %v", f.appts.ended)
	}
}

func TestFinish_FailedRecordKeepsRoomOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.appointment(appointment.StatusInProgress)
	if _, err := f.svc.Start(ctx, f.doctor, id); err != nil {
		t.Fatal(err)
	}

	f.hist.recordErr = errors.New("insert history entry: connection reset")
	if _, err := f.svc.Finish(ctx, f.doctor, id, FinishInput{}); err == nil {
		t.Fatal("expected the history failure to be returned")
	}
	if len(f.appts.ended) != 0 {
		t.Errorf("expected the live room untouched when the transaction fails, got %v", f.appts.ended)
	}
}

func TestFinish_Validation(t *testing.T) {
	f := newFixture(t)
	days := -1
	if _, err := f.svc.Finish(context.Background(), f.doctor, uuid.New(), FinishInput{FollowUpDays: &days}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestGetAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.appointment(appointment.StatusInProgress)
	started, _ := f.svc.Start(ctx, f.doctor, id)

	c, err := f.svc.Get(ctx, f.patient, id)
	if err != nil {
		t.Fatal(err)
	}
	if c.ID != started.ID {
		t.Error("expected the started consultation")
	}
	stranger := auth.Principal{ID: uuid.New(), Role: auth.RolePatient}
	if _, err := f.svc.Get(ctx, stranger, id); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	items, total, err := f.svc.ListByPatient(ctx, f.doctor, f.patient.ID, 20, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected one consultation, got %d", total)
	}
	if _, _, err := f.svc.ListByPatient(ctx, stranger, f.patient.ID, 20, 0); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
