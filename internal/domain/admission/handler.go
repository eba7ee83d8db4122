package admission

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	nurse := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurse.POST("/admissions", h.Admit)

	clinical := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	clinical.POST("/admissions/:id/discharge", h.Discharge)

	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleBillingClerk))
	read.GET("/admissions/:id", h.GetAdmission)
	read.GET("/wards/:id/admissions", h.ListOpenByWard)
	read.GET("/patients/:id/admissions", h.ListByPatient)
}

type dischargeRequest struct {
	Summary *string    `json:"summary,omitempty"`
	At      *time.Time `json:"discharge_date,omitempty"`
}

func (h *Handler) Admit(c echo.Context) error {
	nurse, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req AdmitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.NurseID = nurse
	res, err := h.svc.Admit(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	status := http.StatusCreated
	if res.Reassigned {
		status = http.StatusOK
	}
	return c.JSON(status, res)
}

func (h *Handler) Discharge(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req dischargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	var at time.Time
	if req.At != nil {
		at = req.At.UTC()
	}
	a, err := h.svc.Discharge(c.Request().Context(), id, req.Summary, at)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	a, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListOpenByWard(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListOpenByWard(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListByPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListByPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}
