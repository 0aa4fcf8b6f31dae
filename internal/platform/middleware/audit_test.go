package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/telemed/telemed/internal/platform/auth"
)

type mockRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
	err     error
}

func (m *mockRecorder) RecordAccess(entry AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return m.err
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func runAudit(t *testing.T, rec AuditRecorder, method, path string, status int) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	ctx := context.WithValue(req.Context(), auth.UserIDKey, "doctor-1")
	ctx = context.WithValue(ctx, auth.UserRolesKey, []string{auth.RoleDoctor})
	c := e.NewContext(req.WithContext(ctx), httptest.NewRecorder())
	c.Set("request_id", "req-1")

	Audit(zerolog.Nop(), rec)(func(c echo.Context) error {
		return c.NoContent(status)
	})(c)
}

func TestAudit_RecordsClinicalAccess(t *testing.T) {
	rec := &mockRecorder{}
	patientID := uuid.NewString()
	runAudit(t, rec, http.MethodGet, "/api/v1/patients/"+patientID+"/history", http.StatusOK)

	if rec.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", rec.count())
	}
	entry := rec.entries[0]
	if entry.Resource != "patients" || entry.PatientID != patientID {
		t.Errorf("unexpected resource/patient: %+v", entry)
	}
	if entry.Action != "read" || entry.UserID != "doctor-1" || entry.RequestID != "req-1" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", entry.StatusCode)
	}
}

func TestAudit_SkipsNonClinical(t *testing.T) {
	rec := &mockRecorder{}
	runAudit(t, rec, http.MethodGet, "/api/v1/specialties", http.StatusOK)
	runAudit(t, rec, http.MethodGet, "/health", http.StatusOK)
	if rec.count() != 0 {
		t.Errorf("expected no entries, got %d", rec.count())
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	rec := &mockRecorder{err: errors.New("disk full")}
	runAudit(t, rec, http.MethodPost, "/api/v1/prescriptions/"+uuid.NewString()+"/void", http.StatusOK)
	if rec.count() != 1 {
		t.Fatalf("expected recorder to be called, got %d", rec.count())
	}
	if rec.entries[0].Action != "create" {
		t.Errorf("expected create action for POST, got %s", rec.entries[0].Action)
	}
}

func TestExtractPatientID(t *testing.T) {
	id := uuid.NewString()
	tests := map[string]string{
		"/api/v1/patients/" + id:                 id,
		"/api/v1/patients/" + id + "/lab-orders": id,
		"/api/v1/patients/not-a-uuid/history":    "",
		"/api/v1/appointments/" + id:             "",
	}
	for path, want := range tests {
		if got := extractPatientID(path); got != want {
			t.Errorf("extractPatientID(%q) = %q, want %q", path, got, want)
		}
	}
}
