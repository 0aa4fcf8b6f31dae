package facility

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/telemed/telemed/internal/platform/auth"
	"github.com/telemed/telemed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleCenterAdmin))
	read.GET("/centers", h.ListCenters)
	read.GET("/centers/:id", h.GetCenter)
	read.GET("/centers/:id/specialties", h.ListCenterSpecialties)
	read.GET("/centers/:id/doctors", h.ListCenterDoctors)
	read.GET("/specialties", h.ListSpecialties)
	read.GET("/specialties/:id/centers", h.ListSpecialtyCenters)
	read.GET("/doctors/:id/centers", h.ListDoctorCenters)

	manage := api.Group("", auth.RequireRole(auth.RoleCenterAdmin))
	manage.PUT("/centers/:id", h.UpdateCenter)
	manage.PUT("/centers/:id/specialties/:specialty_id", h.AttachSpecialty)
	manage.POST("/centers/:id/doctors", h.AddDoctor)

	admin := api.Group("", auth.RequireRole(auth.RoleSystemAdmin))
	admin.POST("/centers", h.CreateCenter)
	admin.POST("/specialties", h.CreateSpecialty)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicate):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func paramID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Centers --

func (h *Handler) CreateCenter(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	var center Center
	if err := c.Bind(&center); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateCenter(c.Request().Context(), p, &center); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, center)
}

func (h *Handler) GetCenter(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	center, err := h.svc.GetCenter(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, center)
}

func (h *Handler) ListCenters(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := CenterFilter{City: c.QueryParam("city"), ActiveOnly: true}
	if v, err := strconv.ParseBool(c.QueryParam("include_inactive")); err == nil && v {
		f.ActiveOnly = false
	}
	centers, total, err := h.svc.ListCenters(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(centers, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateCenter(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	existing, err := h.svc.GetCenter(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if err := c.Bind(existing); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	existing.ID = id
	if err := h.svc.UpdateCenter(c.Request().Context(), p, existing); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, existing)
}

// -- Specialties --

func (h *Handler) CreateSpecialty(c echo.Context) error {
	var sp Specialty
	if err := c.Bind(&sp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.CreateSpecialty(c.Request().Context(), &sp); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, sp)
}

func (h *Handler) ListSpecialties(c echo.Context) error {
	items, err := h.svc.ListSpecialties(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListSpecialtyCenters(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.CentersBySpecialty(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

type attachRequest struct {
	Available *bool  `json:"available"`
	Notes     string `json:"notes"`
}

func (h *Handler) AttachSpecialty(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	centerID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	specialtyID, err := paramID(c, "specialty_id")
	if err != nil {
		return err
	}
	var req attachRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	cs := &CenterSpecialty{CenterID: centerID, SpecialtyID: specialtyID, Available: true, Notes: req.Notes}
	if req.Available != nil {
		cs.Available = *req.Available
	}
	if err := h.svc.AttachSpecialty(c.Request().Context(), p, cs); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, cs)
}

func (h *Handler) ListCenterSpecialties(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.CenterSpecialties(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

// -- Doctors --

type addDoctorRequest struct {
	DoctorID uuid.UUID `json:"doctor_id"`
}

func (h *Handler) AddDoctor(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	centerID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req addDoctorRequest
	if err := c.Bind(&req); err != nil || req.DoctorID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "doctor_id is required")
	}
	if err := h.svc.AddDoctor(c.Request().Context(), p, centerID, req.DoctorID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListCenterDoctors(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var specialty *uuid.UUID
	if raw := c.QueryParam("specialty_id"); raw != "" {
		sid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid specialty_id")
		}
		specialty = &sid
	}
	items, err := h.svc.DoctorsByCenter(c.Request().Context(), id, specialty)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListDoctorCenters(c echo.Context) error {
	id, err := paramID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.DoctorCenters(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}
