package task

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
	nurse.GET("/nurse-tasks/pending", h.ListPendingNurseTasks)
	nurse.GET("/nurse-tasks/mine", h.ListMyNurseTasks)
	nurse.POST("/nurse-tasks/:id/claim", h.ClaimNurseTask)
	nurse.PATCH("/nurse-tasks/:id/status", h.UpdateNurseTaskStatus)

	lab := api.Group("", auth.RequireRole(auth.RoleLabTechnician))
	lab.GET("/lab-orders/pending", h.ListPendingLabOrders)
	lab.POST("/lab-orders/:id/claim", h.ClaimLabOrder)
	lab.PATCH("/lab-orders/:id/status", h.UpdateLabOrderStatus)
	lab.POST("/lab-orders/tests/:id/result", h.RecordLabResult)

	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse, auth.RoleLabTechnician))
	read.GET("/nurse-tasks/:id", h.GetNurseTask)
	read.GET("/lab-orders/:id", h.GetLabOrder)
}

type statusRequest struct {
	Status string  `json:"status"`
	Notes  *string `json:"notes,omitempty"`
}

type resultRequest struct {
	Result   string `json:"result"`
	Abnormal bool   `json:"abnormal"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Nurse tasks --

func (h *Handler) GetNurseTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	t, err := h.svc.GetNurseTask(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) ListPendingNurseTasks(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPendingNurseTasks(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMyNurseTasks(c echo.Context) error {
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	items, err := h.svc.ListNurseTasksByNurse(c.Request().Context(), actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ClaimNurseTask(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	t, err := h.svc.ClaimNurseTask(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

func (h *Handler) UpdateNurseTaskStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	t, err := h.svc.UpdateNurseTaskStatus(c.Request().Context(), id, actor, req.Status, req.Notes)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, t)
}

// -- Lab orders --

func (h *Handler) GetLabOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	o, err := h.svc.GetLabOrder(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) ListPendingLabOrders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListPendingLabOrders(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ClaimLabOrder(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	o, err := h.svc.ClaimLabOrder(c.Request().Context(), id, actor)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) UpdateLabOrderStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.UpdateLabOrderStatus(c.Request().Context(), id, actor, req.Status, req.Notes)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) RecordLabResult(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	actor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req resultRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	o, err := h.svc.RecordLabResult(c.Request().Context(), id, actor, req.Result, req.Abnormal)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, o)
}
