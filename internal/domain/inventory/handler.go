package inventory

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
	read.GET("/inventory/items", h.ListItems)
	read.GET("/inventory/items/low-stock", h.ListLowStock)
	read.GET("/inventory/items/:id", h.GetItem)
	read.GET("/inventory/items/:id/transactions", h.ListTransactions)

	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/inventory/items", h.CreateItem)
	admin.POST("/inventory/items/:id/adjustments", h.AdjustStock)
	admin.GET("/inventory/items/:id/reconcile", h.Reconcile)
}

func (h *Handler) CreateItem(c echo.Context) error {
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var item Item
	if err := c.Bind(&item); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateItem(c.Request().Context(), &item, actor); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, item)
}

func (h *Handler) GetItem(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	item, err := h.svc.GetItem(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, item)
}

func (h *Handler) ListItems(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListItems(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListLowStock(c echo.Context) error {
	items, err := h.svc.ListLowStock(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListTransactions(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListTransactions(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) AdjustStock(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var adj Adjustment
	if err := c.Bind(&adj); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	adj.ItemID = id
	adj.Actor = actor
	t, err := h.svc.AdjustStock(c.Request().Context(), adj)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, t)
}

func (h *Handler) Reconcile(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.Reconcile(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}
