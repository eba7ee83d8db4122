package billing

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

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
	clerk := api.Group("", auth.RequireRole(auth.RoleBillingClerk))
	clerk.GET("/admissions/:id/bill/preview", h.Preview)
	clerk.POST("/admissions/:id/bill", h.GenerateBill)
	clerk.GET("/admissions/:id/bill", h.GetBillForAdmission)
	clerk.GET("/bills/:id", h.GetBill)
	clerk.POST("/bills/:id/payments", h.ProcessPayment)
}

type paymentRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Method    string          `json:"method"`
	Reference string          `json:"reference"`
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// Preview prices the admission. Optional query parameters: discharge_date
// (RFC 3339) and discount_pct.
func (h *Handler) Preview(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var at time.Time
	if v := c.QueryParam("discharge_date"); v != "" {
		if at, err = time.Parse(time.RFC3339, v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid discharge_date")
		}
	}
	pct := decimal.Zero
	if v := c.QueryParam("discount_pct"); v != "" {
		if pct, err = decimal.NewFromString(v); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid discount_pct")
		}
	}
	calc, err := h.svc.Calculate(c.Request().Context(), id, at, pct)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, calc)
}

func (h *Handler) GenerateBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	clerk, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req GenerateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.AdmissionID = id
	req.ClerkID = clerk
	bill, err := h.svc.GenerateBill(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, bill)
}

func (h *Handler) GetBill(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	bill, err := h.svc.GetBill(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) GetBillForAdmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	bill, err := h.svc.GetBillForAdmission(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bill)
}

func (h *Handler) ProcessPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	clerk, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	bill, err := h.svc.ProcessPayment(c.Request().Context(), id, req.Amount, req.Method, req.Reference, clerk)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bill)
}
