package availability

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	doctor := api.Group("/availability", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("", h.RegisterRange)
	doctor.GET("", h.ListWindows)
	doctor.DELETE("/:id", h.DeleteWindow)

	slots := api.Group("/slots", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleCenterAdmin))
	slots.GET("", h.AvailableSlots)
	slots.GET("/search", h.SearchSlots)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrInUse):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func (h *Handler) RegisterRange(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	var in RangeInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	n, err := h.svc.RegisterRange(c.Request().Context(), p.ID, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]int{"created": n})
}

func (h *Handler) ListWindows(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	windows, err := h.svc.ListWindows(c.Request().Context(), p.ID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, windows)
}

func (h *Handler) DeleteWindow(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteWindow(c.Request().Context(), p, id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

type slotsResponse struct {
	DoctorID uuid.UUID   `json:"doctor_id"`
	CenterID uuid.UUID   `json:"center_id"`
	Date     Date        `json:"date"`
	Slots    []time.Time `json:"slots"`
}

// AvailableSlots handles GET /slots?doctor_id&center_id&date.
func (h *Handler) AvailableSlots(c echo.Context) error {
	doctorID, err := queryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	centerID, err := queryUUID(c, "center_id")
	if err != nil {
		return err
	}
	if doctorID == nil || centerID == nil || c.QueryParam("date") == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id, center_id and date query parameters are required")
	}
	day, err := ParseDate(c.QueryParam("date"))
	if err != nil {
		return httpError(err)
	}
	slots, err := h.svc.AvailableSlots(c.Request().Context(), *doctorID, *centerID, day)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []time.Time{}
	}
	return c.JSON(http.StatusOK, slotsResponse{DoctorID: *doctorID, CenterID: *centerID, Date: day, Slots: slots})
}

// SearchSlots handles GET /slots/search?from&to[&doctor_id&center_id&specialty_id].
func (h *Handler) SearchSlots(c echo.Context) error {
	fromStr, toStr := c.QueryParam("from"), c.QueryParam("to")
	if fromStr == "" || toStr == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "from and to query parameters are required")
	}
	from, err := ParseDate(fromStr)
	if err != nil {
		return httpError(err)
	}
	to, err := ParseDate(toStr)
	if err != nil {
		return httpError(err)
	}
	f := SearchFilter{From: from, To: to}
	if f.DoctorID, err = queryUUID(c, "doctor_id"); err != nil {
		return err
	}
	if f.CenterID, err = queryUUID(c, "center_id"); err != nil {
		return err
	}
	if f.SpecialtyID, err = queryUUID(c, "specialty_id"); err != nil {
		return err
	}
	slots, err := h.svc.SearchSlots(c.Request().Context(), f)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []Slot{}
	}
	return c.JSON(http.StatusOK, slots)
}
