package ward

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
	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleBillingClerk))
	read.GET("/wards", h.ListWards)
	read.GET("/wards/:id", h.GetWard)
	read.GET("/wards/:id/beds", h.ListBeds)
	read.GET("/beds/:id", h.GetBed)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/wards", h.CreateWard)
	admin.POST("/wards/:id/beds", h.AddBed)
	admin.POST("/wards/:id/beds/bulk", h.BulkAddBeds)
	admin.PATCH("/beds/:id/status", h.UpdateBedStatus)
	admin.DELETE("/beds/:id", h.DeleteBed)
}

func (h *Handler) CreateWard(c echo.Context) error {
	var w Ward
	if err := c.Bind(&w); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateWard(c.Request().Context(), &w); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	occ, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, occ)
}

func (h *Handler) ListWards(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListWards(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type addBedRequest struct {
	BedNumber string `json:"bed_number"`
}

func (h *Handler) AddBed(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward id")
	}
	var req addBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bed, err := h.svc.AddBed(c.Request().Context(), wardID, req.BedNumber)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, bed)
}

type bulkAddRequest struct {
	Prefix string `json:"prefix"`
	Count  int    `json:"count"`
}

func (h *Handler) BulkAddBeds(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward id")
	}
	var req bulkAddRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	beds, err := h.svc.BulkAddBeds(c.Request().Context(), wardID, req.Prefix, req.Count)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, beds)
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	bed, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bed)
}

func (h *Handler) ListBeds(c echo.Context) error {
	wardID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid ward id")
	}
	list := h.svc.ListBeds
	if c.QueryParam("status") == BedAvailable {
		list = h.svc.ListAvailableBeds
	}
	beds, err := list(c.Request().Context(), wardID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, beds)
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) UpdateBedStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bed, err := h.svc.UpdateBedStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bed)
}

func (h *Handler) DeleteBed(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.DeleteBed(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}
