package facility

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/telemed/telemed/internal/platform/auth"
)

type mockRepo struct {
	centers     map[uuid.UUID]*Center
	specialties map[uuid.UUID]*Specialty
	offered     map[[2]uuid.UUID]*CenterSpecialty
	links       map[[2]uuid.UUID]*DoctorCenter
	doctors     map[uuid.UUID]*DoctorSummary
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		centers:     make(map[uuid.UUID]*Center),
		specialties: make(map[uuid.UUID]*Specialty),
		offered:     make(map[[2]uuid.UUID]*CenterSpecialty),
		links:       make(map[[2]uuid.UUID]*DoctorCenter),
		doctors:     make(map[uuid.UUID]*DoctorSummary),
	}
}

func (m *mockRepo) CreateCenter(_ context.Context, c *Center) error {
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	m.centers[c.ID] = c
	return nil
}

func (m *mockRepo) UpdateCenter(_ context.Context, c *Center) error {
	if _, ok := m.centers[c.ID]; !ok {
		return ErrNotFound
	}
	m.centers[c.ID] = c
	return nil
}

func (m *mockRepo) GetCenter(_ context.Context, id uuid.UUID) (*Center, error) {
	c, ok := m.centers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockRepo) ListCenters(_ context.Context, f CenterFilter, limit, offset int) ([]*Center, int, error) {
	var out []*Center
	for _, c := range m.centers {
		if (f.City == "" || c.City == f.City) && (!f.ActiveOnly || c.Active) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, len(out), nil
}

func (m *mockRepo) CreateSpecialty(_ context.Context, s *Specialty) error {
	for _, existing := range m.specialties {
		if existing.Name == s.Name {
			return ErrDuplicate
		}
	}
	s.ID = uuid.New()
	m.specialties[s.ID] = s
	return nil
}

func (m *mockRepo) GetSpecialty(_ context.Context, id uuid.UUID) (*Specialty, error) {
	s, ok := m.specialties[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

func (m *mockRepo) ListSpecialties(_ context.Context) ([]*Specialty, error) {
	var out []*Specialty
	for _, s := range m.specialties {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *mockRepo) UpsertCenterSpecialty(_ context.Context, cs *CenterSpecialty) error {
	m.offered[[2]uuid.UUID{cs.CenterID, cs.SpecialtyID}] = cs
	return nil
}

func (m *mockRepo) CenterSpecialties(_ context.Context, centerID uuid.UUID) ([]*CenterSpecialty, error) {
	var out []*CenterSpecialty
	for k, cs := range m.offered {
		if k[0] == centerID {
			out = append(out, cs)
		}
	}
	return out, nil
}

func (m *mockRepo) CentersBySpecialty(_ context.Context, specialtyID uuid.UUID) ([]*Center, error) {
	var out []*Center
	for k, cs := range m.offered {
		if k[1] == specialtyID && cs.Available && m.centers[k[0]].Active {
			out = append(out, m.centers[k[0]])
		}
	}
	return out, nil
}

func (m *mockRepo) UpsertDoctorCenter(_ context.Context, dc *DoctorCenter) error {
	dc.StartDate = time.Now()
	m.links[[2]uuid.UUID{dc.DoctorID, dc.CenterID}] = dc
	return nil
}

func (m *mockRepo) DoctorLinked(_ context.Context, doctorID, centerID uuid.UUID) (bool, error) {
	dc, ok := m.links[[2]uuid.UUID{doctorID, centerID}]
	return ok && dc.Active, nil
}

func (m *mockRepo) DoctorsByCenter(_ context.Context, centerID uuid.UUID, specialtyID *uuid.UUID) ([]*DoctorSummary, error) {
	var out []*DoctorSummary
	for k, dc := range m.links {
		if k[1] != centerID || !dc.Active {
			continue
		}
		d, ok := m.doctors[k[0]]
		if !ok {
			continue
		}
		if specialtyID != nil && (d.SpecialtyID == nil || *d.SpecialtyID != *specialtyID) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *mockRepo) DoctorCenters(_ context.Context, doctorID uuid.UUID) ([]*Center, error) {
	var out []*Center
	for k := range m.links {
		if k[0] == doctorID {
			out = append(out, m.centers[k[1]])
		}
	}
	return out, nil
}

type mockAdmins map[uuid.UUID]uuid.UUID

func (m mockAdmins) CenterOf(_ context.Context, adminID uuid.UUID) (uuid.UUID, error) {
	if c, ok := m[adminID]; ok {
		return c, nil
	}
	return uuid.Nil, ErrNotFound
}

var sysAdmin = auth.Principal{ID: uuid.New(), Role: auth.RoleSystemAdmin}

func newTestService() (*Service, *mockRepo, mockAdmins) {
	repo := newMockRepo()
	admins := mockAdmins{}
	svc := NewService(repo)
	svc.SetAdminLookup(admins)
	return svc, repo, admins
}

func createCenter(t *testing.T, svc *Service, name string) *Center {
	t.Helper()
	c := &Center{Name: name, City: "Bogotá", Department: "Cundinamarca", Address: "Calle 1"}
	if err := svc.CreateCenter(context.Background(), sysAdmin, c); err != nil {
		t.Fatalf("create center: %v", err)
	}
	return c
}

func TestCreateCenter(t *testing.T) {
	svc, _, _ := newTestService()
	c := createCenter(t, svc, "  Clínica Norte ")
	if c.Name != "Clínica Norte" {
		t.Errorf("expected trimmed name, got %q", c.Name)
	}
	if !c.Active {
		t.Error("expected new centers to be active")
	}
	if c.FullAddress() != "Calle 1, Bogotá, Cundinamarca" {
		t.Errorf("unexpected full address %q", c.FullAddress())
	}
}

func TestCreateCenter_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	lat := 91.0
	tests := []struct {
		name   string
		center Center
	}{
		{"missing name", Center{}},
		{"bad latitude", Center{Name: "X", Latitude: &lat}},
		{"long phone", Center{Name: "X", Phone: "012345678901234567890"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.center
			if err := svc.CreateCenter(context.Background(), sysAdmin, &c); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestCreateCenter_RequiresSystemAdmin(t *testing.T) {
	svc, _, _ := newTestService()
	actor := auth.Principal{ID: uuid.New(), Role: auth.RoleCenterAdmin}
	if err := svc.CreateCenter(context.Background(), actor, &Center{Name: "X"}); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestUpdateCenter_CenterAdminScope(t *testing.T) {
	svc, _, admins := newTestService()
	own := createCenter(t, svc, "Propio")
	other := createCenter(t, svc, "Ajeno")
	adminID := uuid.New()
	admins[adminID] = own.ID
	actor := auth.Principal{ID: adminID, Role: auth.RoleCenterAdmin}

	own.Phone = "6011234567"
	if err := svc.UpdateCenter(context.Background(), actor, own); err != nil {
		t.Fatalf("expected own center update to succeed, got %v", err)
	}
	if err := svc.UpdateCenter(context.Background(), actor, other); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for other center, got %v", err)
	}
	doctor := auth.Principal{ID: uuid.New(), Role: auth.RoleDoctor}
	if err := svc.UpdateCenter(context.Background(), doctor, own); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden for doctor, got %v", err)
	}
}

func TestSeedSpecialties_Idempotent(t *testing.T) {
	svc, _, _ := newTestService()
	n, err := svc.SeedSpecialties(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != len(DefaultSpecialties) {
		t.Errorf("expected %d specialties, got %d", len(DefaultSpecialties), n)
	}
	n, err = svc.SeedSpecialties(context.Background())
	if err != nil || n != 0 {
		t.Errorf("expected second seed to insert nothing, got %d (%v)", n, err)
	}
}

func TestCreateSpecialty_Validation(t *testing.T) {
	svc, _, _ := newTestService()
	if err := svc.CreateSpecialty(context.Background(), &Specialty{Name: " "}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestAttachSpecialty_AndCentersBySpecialty(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	open := createCenter(t, svc, "Abierta")
	closed := createCenter(t, svc, "Cerrada")
	closed.Active = false
	svc.UpdateCenter(ctx, sysAdmin, closed)

	sp := &Specialty{Name: "Cardiología"}
	svc.CreateSpecialty(ctx, sp)

	for _, c := range []*Center{open, closed} {
		if err := svc.AttachSpecialty(ctx, sysAdmin, &CenterSpecialty{CenterID: c.ID, SpecialtyID: sp.ID, Available: true}); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	centers, err := svc.CentersBySpecialty(ctx, sp.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(centers) != 1 || centers[0].ID != open.ID {
		t.Errorf("expected only the active center, got %d", len(centers))
	}

	err = svc.AttachSpecialty(ctx, sysAdmin, &CenterSpecialty{CenterID: open.ID, SpecialtyID: uuid.New()})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown specialty, got %v", err)
	}
}

func TestLinkDoctor_AndDoctorsByCenter(t *testing.T) {
	svc, repo, admins := newTestService()
	ctx := context.Background()
	center := createCenter(t, svc, "Central")
	cardio := uuid.New()
	general := uuid.New()
	d1, d2 := uuid.New(), uuid.New()
	repo.doctors[d1] = &DoctorSummary{ID: d1, FirstName: "Laura", LastName: "Ríos", SpecialtyID: &cardio}
	repo.doctors[d2] = &DoctorSummary{ID: d2, FirstName: "Juan", LastName: "Mesa", SpecialtyID: &general}

	if err := svc.LinkDoctor(ctx, center.ID, d1); err != nil {
		t.Fatalf("link: %v", err)
	}
	adminID := uuid.New()
	admins[adminID] = center.ID
	if err := svc.AddDoctor(ctx, auth.Principal{ID: adminID, Role: auth.RoleCenterAdmin}, center.ID, d2); err != nil {
		t.Fatalf("add doctor: %v", err)
	}

	linked, _ := svc.DoctorLinked(ctx, d1, center.ID)
	if !linked {
		t.Error("expected doctor to be linked")
	}
	if linked, _ := svc.DoctorLinked(ctx, d1, uuid.New()); linked {
		t.Error("expected doctor not linked to unknown center")
	}

	all, _ := svc.DoctorsByCenter(ctx, center.ID, nil)
	if len(all) != 2 {
		t.Errorf("expected 2 doctors, got %d", len(all))
	}
	filtered, _ := svc.DoctorsByCenter(ctx, center.ID, &cardio)
	if len(filtered) != 1 || filtered[0].FullName() != "Laura Ríos" {
		t.Errorf("expected only the cardiologist, got %+v", filtered)
	}

	centers, _ := svc.DoctorCenters(ctx, d1)
	if len(centers) != 1 {
		t.Errorf("expected 1 center for doctor, got %d", len(centers))
	}
}

func TestAddDoctor_ForbiddenOutsideOwnCenter(t *testing.T) {
	svc, _, admins := newTestService()
	center := createCenter(t, svc, "Central")
	adminID := uuid.New()
	admins[adminID] = uuid.New()
	err := svc.AddDoctor(context.Background(), auth.Principal{ID: adminID, Role: auth.RoleCenterAdmin}, center.ID, uuid.New())
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}
