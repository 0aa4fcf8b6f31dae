package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
)

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

func (f *fixture) request(p auth.Principal, id, query string) echo.Context {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/appointments/"+id+"/messages"+query, nil)
	req = req.WithContext(auth.WithPrincipal(req.Context(), p))
	c := echo.New().NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c
}

func TestHandler_List(t *testing.T) {
	f := newFixture(t)
	f.say(t, f.patient, "hola doctor")
	h := NewHandler(f.svc)

	c := f.request(f.patient, f.appt.ID.String(), "?limit=10")
	if err := h.List(c); err != nil {
		t.Fatal(err)
	}
	rec := c.Response().Writer.(*httptest.ResponseRecorder)
	var resp struct {
		Data []Message `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Data) != 1 || resp.Data[0].Content != "hola doctor" {
		t.Errorf("unexpected response %s", rec.Body.String())
	}
}

func TestHandler_List_Errors(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.svc)

	expectStatus(t, h.List(f.request(f.patient, "nope", "")), http.StatusBadRequest)
	expectStatus(t, h.List(f.request(f.patient, f.appt.ID.String(), "?before=yesterday")), http.StatusBadRequest)

	other := auth.Principal{ID: f.appt.ID, Role: auth.RolePatient}
	expectStatus(t, h.List(f.request(other, f.appt.ID.String(), "")), http.StatusForbidden)
}
