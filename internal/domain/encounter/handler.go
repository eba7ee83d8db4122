package encounter

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
	doctor := api.Group("", auth.RequireRole(auth.RoleDoctor))
	doctor.POST("/medical-records", h.CreateMedicalReport)
	doctor.POST("/medical-records/:id/prescriptions", h.PrescribeMedicines)

	nurse := api.Group("", auth.RequireRole(auth.RoleNurse))
	nurse.POST("/medical-records/:id/nursing-notes", h.AddNursingNotes)

	read := api.Group("", auth.RequireRole(auth.RoleDoctor, auth.RoleNurse))
	read.GET("/medical-records/:id", h.GetMedicalRecord)
	read.GET("/medical-records/:id/prescriptions", h.ListPrescriptionItems)
	read.GET("/patients/:id/medical-records", h.ListRecordsByPatient)
}

type prescribeRequest struct {
	Medicines []MedicineLine `json:"medicines"`
}

type noteRequest struct {
	Text string `json:"text"`
}

func (h *Handler) CreateMedicalReport(c echo.Context) error {
	doctor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var in ReportInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.DoctorID = doctor
	res, err := h.svc.CreateMedicalReport(c.Request().Context(), in)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) PrescribeMedicines(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	doctor, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req prescribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.PrescribeMedicines(c.Request().Context(), doctor, id, req.Medicines)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, items)
}

func (h *Handler) AddNursingNotes(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	nurse, err := auth.ActorID(c.Request().Context())
	if err != nil {
		return err
	}
	var req noteRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	note, err := h.svc.AddNursingNotes(c.Request().Context(), id, nurse, req.Text)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, note)
}

func (h *Handler) GetMedicalRecord(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	rec, err := h.svc.GetMedicalRecord(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) ListPrescriptionItems(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListPrescriptionItems(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ListRecordsByPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRecordsByPatient(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}
