package documents

import (
	"errors"
	"net/http"

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
	readers := auth.RequireRole(auth.RolePatient, auth.RoleDoctor, auth.RoleCenterAdmin)
	doctor := auth.RequireRole(auth.RoleDoctor)

	api.POST("/consultations/:id/prescriptions", h.IssuePrescription, doctor)
	api.POST("/consultations/:id/lab-orders", h.IssueLabOrder, doctor)

	rx := api.Group("/prescriptions", readers)
	rx.GET("/:id", h.GetPrescription)
	rx.GET("/:id/pdf", h.PrescriptionPDF)
	rx.POST("/:id/void", h.VoidPrescription, doctor)

	lo := api.Group("/lab-orders", readers)
	lo.GET("/:id", h.GetLabOrder)
	lo.GET("/:id/pdf", h.LabOrderPDF)
	lo.POST("/:id/void", h.VoidLabOrder, doctor)

	api.GET("/patients/:id/prescriptions", h.ListPrescriptions, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
	api.GET("/patients/:id/lab-orders", h.ListLabOrders, auth.RequireRole(auth.RolePatient, auth.RoleDoctor))
}

// RegisterPublicRoutes mounts the verification endpoints. They need no
// credentials: pharmacies and labs check codes printed on the documents.
func (h *Handler) RegisterPublicRoutes(g *echo.Group) {
	g.GET("/prescription/:code", h.VerifyPrescription)
	g.GET("/lab-order/:code", h.VerifyLabOrder)
	g.GET("/qr/:kind/:code", h.QR)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrForbidden):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrNotActive), errors.Is(err, ErrNotStarted):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error").SetInternal(err)
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type voidRequest struct {
	Reason string `json:"reason"`
}

func sendPDF(c echo.Context, data []byte, filename string) error {
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return c.Blob(http.StatusOK, "application/pdf", data)
}

// -- Prescriptions --

func (h *Handler) IssuePrescription(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in PrescriptionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	rx, err := h.svc.IssuePrescription(c.Request().Context(), p, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, rx)
}

func (h *Handler) GetPrescription(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	rx, err := h.svc.GetPrescription(c.Request().Context(), p, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) PrescriptionPDF(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	data, name, err := h.svc.PrescriptionPDF(c.Request().Context(), p, id)
	if err != nil {
		return httpError(err)
	}
	return sendPDF(c, data, name)
}

func (h *Handler) VoidPrescription(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req voidRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	rx, err := h.svc.VoidPrescription(c.Request().Context(), p, id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rx)
}

func (h *Handler) ListPrescriptions(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	patientID, err := paramID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPrescriptionsByPatient(c.Request().Context(), p, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Lab orders --

func (h *Handler) IssueLabOrder(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var in LabOrderInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	o, err := h.svc.IssueLabOrder(c.Request().Context(), p, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetLabOrder(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetLabOrder(c.Request().Context(), p, id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) LabOrderPDF(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	data, name, err := h.svc.LabOrderPDF(c.Request().Context(), p, id)
	if err != nil {
		return httpError(err)
	}
	return sendPDF(c, data, name)
}

func (h *Handler) VoidLabOrder(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req voidRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body: "+err.Error())
	}
	o, err := h.svc.VoidLabOrder(c.Request().Context(), p, id, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListLabOrders(c echo.Context) error {
	p, err := auth.CurrentPrincipal(c)
	if err != nil {
		return err
	}
	patientID, err := paramID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListLabOrdersByPatient(c.Request().Context(), p, patientID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Public verification --

// notFoundAnswer keeps the verification body shape on unknown codes.
func notFoundAnswer(c echo.Context, what string) error {
	return c.JSON(http.StatusNotFound, Verification{Valid: false, Message: what + " not found"})
}

func (h *Handler) VerifyPrescription(c echo.Context) error {
	v, err := h.svc.VerifyPrescription(c.Request().Context(), c.Param("code"))
	if errors.Is(err, ErrNotFound) {
		return notFoundAnswer(c, "prescription")
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) VerifyLabOrder(c echo.Context) error {
	v, err := h.svc.VerifyLabOrder(c.Request().Context(), c.Param("code"))
	if errors.Is(err, ErrNotFound) {
		return notFoundAnswer(c, "lab order")
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, v)
}

func (h *Handler) QR(c echo.Context) error {
	png, err := h.svc.QR(c.Param("kind"), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.Blob(http.StatusOK, "image/png", png)
}
