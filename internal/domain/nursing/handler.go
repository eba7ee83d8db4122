package nursing

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/auth"
	"github.com/ehr/careflow/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	nurse := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurse.POST("/patients/:id/vitals", h.RecordVitals)

	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	read.GET("/patients/:id/vitals", h.ListVitals)
}

func (h *Handler) RecordVitals(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	nurse, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var v VitalSign
	if err := c.Bind(&v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RecordVitals(c.Request().Context(), nurse, patientID, &v); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, v)
}

func (h *Handler) ListVitals(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListVitals(c.Request().Context(), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
