package appointment

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
)

func as(req *http.Request, p auth.Principal) *http.Request {
	return req.WithContext(auth.WithPrincipal(req.Context(), p))
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError with %d, got %v", want, err)
	}
	if he.Code != want {
		t.Errorf("expected %d, got %d (%v)", want, he.Code, he.Message)
	}
}

func withID(c echo.Context, id uuid.UUID) echo.Context {
	c.SetParamNames("id")
	c.SetParamValues(id.String())
	return c
}

func (f *fixture) bookBody(at time.Time) string {
	return `{"doctor_id":"` + f.doctor.ID.String() + `","center_id":"` + f.center.String() +
		`","specialty_id":"` + f.specialty.String() + `","start_time":"` + at.Format(time.RFC3339) +
		`","type":"follow_up","reason":"control de presión arterial"}`
}

func TestHandler_Book(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	req := as(jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookBody(f.slotAt(2))), f.patient)
	rec := httptest.NewRecorder()
	if err := h.Book(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	var got Appointment
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeFollowUp || got.Status != StatusPending {
		t.Errorf("unexpected appointment %+v", got)
	}
	if strings.Contains(rec.Body.String(), "doctor_token") || strings.Contains(rec.Body.String(), "patient_token") {
		t.Error("room tokens must not be serialized")
	}

	// Same slot again.
	req = as(jsonRequest(http.MethodPost, "/api/v1/appointments", f.bookBody(f.slotAt(2))), f.patient)
	expectStatus(t, h.Book(e.NewContext(req, httptest.NewRecorder())), http.StatusConflict)
}

func TestHandler_Book_Errors(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)
	e := echo.New()

	req := as(jsonRequest(http.MethodPost, "/", f.bookBody(f.slotAt(2))), f.doctor)
	expectStatus(t, h.Book(e.NewContext(req, httptest.NewRecorder())), http.StatusForbidden)

	req = as(jsonRequest(http.MethodPost, "/", `{"doctor_id":`), f.patient)
	expectStatus(t, h.Book(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)

	req = as(jsonRequest(http.MethodPost, "/", `{"reason":"control de presión arterial"}`), f.patient)
	expectStatus(t, h.Book(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)

	req = jsonRequest(http.MethodPost, "/", f.bookBody(f.slotAt(2)))
	expectStatus(t, h.Book(e.NewContext(req, httptest.NewRecorder())), http.StatusUnauthorized)
}

func TestHandler_ListMine(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.slotAt(1))
	f.book(t, f.slotAt(2))
	h := NewHandler(f.svc)
	e := echo.New()

	req := as(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?limit=1", nil), f.patient)
	rec := httptest.NewRecorder()
	if err := h.ListMine(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	var resp struct {
		Data    []View `json:"data"`
		Total   int    `json:"total"`
		HasMore bool   `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 2 || len(resp.Data) != 1 || !resp.HasMore {
		t.Errorf("unexpected page %+v", resp)
	}
	if resp.Data[0].DoctorName != "Carlos Ruiz" {
		t.Errorf("expected doctor name in the listing, got %q", resp.Data[0].DoctorName)
	}

	req = as(httptest.NewRequest(http.MethodGet, "/api/v1/appointments?status=bogus", nil), f.patient)
	expectStatus(t, h.ListMine(e.NewContext(req, httptest.NewRecorder())), http.StatusBadRequest)
}

func TestHandler_Get(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slotAt(2))
	h := NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(as(httptest.NewRequest(http.MethodGet, "/", nil), f.doctor), rec), a.ID)
	if err := h.Get(c); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	stranger := auth.Principal{ID: uuid.New(), Role: auth.RolePatient}
	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodGet, "/", nil), stranger), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.Get(c), http.StatusForbidden)

	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodGet, "/", nil), f.doctor), httptest.NewRecorder()), uuid.New())
	expectStatus(t, h.Get(c), http.StatusNotFound)

	c = e.NewContext(as(httptest.NewRequest(http.MethodGet, "/", nil), f.doctor), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("abc")
	expectStatus(t, h.Get(c), http.StatusBadRequest)
}

func TestHandler_ConfirmStartRoomComplete(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slotAt(2))
	h := NewHandler(f.svc)
	e := echo.New()

	c := withID(e.NewContext(as(httptest.NewRequest(http.MethodPost, "/", nil), f.doctor), httptest.NewRecorder()), a.ID)
	if err := h.Confirm(c); err != nil {
		t.Fatal(err)
	}
	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodPost, "/", nil), f.doctor), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.Confirm(c), http.StatusConflict)

	// Too early.
	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodPost, "/", nil), f.patient), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.StartRoom(c), http.StatusConflict)

	// The patient cannot open the room before the doctor does.
	f.now = a.StartTime
	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodPost, "/", nil), f.patient), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.StartRoom(c), http.StatusConflict)

	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodPost, "/", nil), f.doctor), httptest.NewRecorder()), a.ID)
	if err := h.StartRoom(c); err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodPost, "/", nil), f.patient), rec), a.ID)
	if err := h.StartRoom(c); err != nil {
		t.Fatal(err)
	}
	var d RoomDescriptor
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatal(err)
	}
	if d.Role != "patient" || d.State != RoomActive || d.Token == "" {
		t.Errorf("unexpected descriptor %+v", d)
	}
	if d.RemainingMinutes != 45 {
		t.Errorf("expected 45 minutes left, got %d", d.RemainingMinutes)
	}

	rec = httptest.NewRecorder()
	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodPost, "/", nil), f.doctor), rec), a.ID)
	if err := h.Complete(c); err != nil {
		t.Fatal(err)
	}
	var done Appointment
	json.Unmarshal(rec.Body.Bytes(), &done)
	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
}

func TestHandler_Cancel(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slotAt(2))
	h := NewHandler(f.svc)
	e := echo.New()

	c := withID(e.NewContext(as(jsonRequest(http.MethodPost, "/", `{"reason":"no"}`), f.patient), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.Cancel(c), http.StatusBadRequest)

	rec := httptest.NewRecorder()
	c = withID(e.NewContext(as(jsonRequest(http.MethodPost, "/", `{"reason":"me surgió un compromiso"}`), f.patient), rec), a.ID)
	if err := h.Cancel(c); err != nil {
		t.Fatal(err)
	}
	var got Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if got.Status != StatusCancelled || got.CancelReason != "me surgió un compromiso" {
		t.Errorf("unexpected appointment %+v", got)
	}

	c = withID(e.NewContext(as(jsonRequest(http.MethodPost, "/", `{"reason":"me surgió un compromiso"}`), f.patient), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.Cancel(c), http.StatusConflict)
}

func TestHandler_Reschedule(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slotAt(2))
	h := NewHandler(f.svc)
	e := echo.New()

	body := `{"start_time":"` + f.slotAt(26).Format(time.RFC3339) + `","reason":"cambio de turno laboral"}`
	rec := httptest.NewRecorder()
	c := withID(e.NewContext(as(jsonRequest(http.MethodPost, "/", body), f.doctor), rec), a.ID)
	if err := h.Reschedule(c); err != nil {
		t.Fatal(err)
	}
	var got Appointment
	json.Unmarshal(rec.Body.Bytes(), &got)
	if !got.StartTime.Equal(f.slotAt(26)) {
		t.Errorf("expected moved appointment, got %v", got.StartTime)
	}

	body = `{"start_time":"` + f.slotAt(4).Format(time.RFC3339) + `","reason":"cambio de turno laboral"}`
	c = withID(e.NewContext(as(jsonRequest(http.MethodPost, "/", body), f.doctor), httptest.NewRecorder()), a.ID)
	expectStatus(t, h.Reschedule(c), http.StatusConflict)
}

func TestHandler_Room(t *testing.T) {
	f := newFixture(t)
	a := f.book(t, f.slotAt(2))
	h := NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(as(httptest.NewRequest(http.MethodGet, "/", nil), f.doctor), rec), a.ID)
	if err := h.Room(c); err != nil {
		t.Fatal(err)
	}
	var d RoomDescriptor
	json.Unmarshal(rec.Body.Bytes(), &d)
	if d.Token != a.Room.DoctorToken || d.State != RoomPending {
		t.Errorf("unexpected descriptor %+v", d)
	}
}

func TestHandler_ListForCenter(t *testing.T) {
	f := newFixture(t)
	f.book(t, f.slotAt(2))
	h := NewHandler(f.svc)
	e := echo.New()

	rec := httptest.NewRecorder()
	c := withID(e.NewContext(as(httptest.NewRequest(http.MethodGet, "/", nil), f.centerAdm), rec), f.center)
	if err := h.ListForCenter(c); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("expected one appointment, got %s", rec.Body.String())
	}

	c = withID(e.NewContext(as(httptest.NewRequest(http.MethodGet, "/", nil), f.centerAdm), httptest.NewRecorder()), uuid.New())
	expectStatus(t, h.ListForCenter(c), http.StatusForbidden)
}

func TestHandler_RegisterRoutes(t *testing.T) {
	f := newFixture(t)
	e := echo.New()
	NewHandler(f.svc).RegisterRoutes(e.Group("/api/v1"))

	want := map[string]bool{
		"POST /api/v1/appointments":                false,
		"GET /api/v1/appointments":                 false,
		"GET /api/v1/appointments/:id":             false,
		"POST /api/v1/appointments/:id/confirm":    false,
		"POST /api/v1/appointments/:id/cancel":     false,
		"POST /api/v1/appointments/:id/reschedule": false,
		"POST /api/v1/appointments/:id/start":      false,
		"POST /api/v1/appointments/:id/complete":   false,
		"GET /api/v1/appointments/:id/room":        false,
		"GET /api/v1/centers/:id/appointments":     false,
		"GET /api/v1/admin/appointments":           false,
	}
	for _, r := range e.Routes() {
		key := r.Method + " " + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestHTTPError_HidesInternalCause(t *testing.T) {
	cause := errors.New(`update appointments: ERROR: deadlock detected (SQLSTATE 40P01)`)
	he, ok := httpError(cause).(*echo.HTTPError)
	if !ok {
		t.Fatal("expected *echo.HTTPError")
	}
	if he.Code != http.StatusInternalServerError || he.Message != "internal server error" {
		t.Errorf("expected generic 500, got %d %v", he.Code, he.Message)
	}
	if he.Internal != cause {
		t.Error("expected the cause kept as the internal error for logging")
	}

	he = httpError(ErrSlotTaken).(*echo.HTTPError)
	if he.Code != http.StatusConflict || he.Message != ErrSlotTaken.Error() {
		t.Errorf("expected domain errors to keep their message, got %d %v", he.Code, he.Message)
	}
}
