package identity

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
	staffRead := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician, auth.RoleBillingClerk))
	staffRead.GET("/patients", h.ListPatients)
	staffRead.GET("/patients/:id", h.GetPatient)
	staffRead.GET("/staff", h.ListStaff)
	staffRead.GET("/staff/:id", h.GetStaff)
	staffRead.GET("/wards/:id/nurses", h.ListWardNurses)

	registration := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	registration.POST("/patients", h.RegisterPatient)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/staff", h.RegisterStaff)
	admin.POST("/wards/:id/nurses", h.AssignNurse)
	admin.DELETE("/nurse-assignments/:id", h.EndAssignment)
}

func (h *Handler) RegisterPatient(c echo.Context) error {
	var p Patient
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterPatient(c.Request().Context(), &p); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := h.svc.GetPatient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPatients(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) RegisterStaff(c echo.Context) error {
	var s Staff
	if err := c.Bind(&s); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.RegisterStaff(c.Request().Context(), &s); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, s)
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	s, err := h.svc.GetStaff(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) ListStaff(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListStaff(c.Request().Context(), c.QueryParam("role"), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type assignRequest struct {
	NurseID uuid.UUID `json:"nurse_id"`
	Shift   *string   `json:"shift,omitempty"`
}

func (h *Handler) AssignNurse(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward id")
	}
	var req assignRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.svc.AssignNurseToWard(c.Request().Context(), req.NurseID, wardID, req.Shift)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) EndAssignment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.EndAssignment(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListWardNurses(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward id")
	}
	items, err := h.svc.ListWardNurses(c.Request().Context(), wardID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}
