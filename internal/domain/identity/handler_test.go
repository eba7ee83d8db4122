package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	return NewHandler(newTestService()), echo.New()
}

func TestHandler_RegisterPatient(t *testing.T) {
	h, e := newTestHandler()
	body := `{"first_name":"Asha","last_name":"Rao","serious_case":true}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := h.RegisterPatient(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var p Patient
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !p.SeriousCase {
		t.Error("expected serious_case to round-trip")
	}
}

func TestHandler_RegisterPatient_Invalid(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"first_name":"Asha"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())
	err := h.RegisterPatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetPatient_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.GetPatient(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_AssignNurse(t *testing.T) {
	h, e := newTestHandler()
	nurse := &Staff{Name: "N", Role: RoleNurse}
	if err := h.svc.RegisterStaff(context.Background(), nurse); err != nil {
		t.Fatalf("RegisterStaff: %v", err)
	}
	wardID := uuid.New()

	send := func() (*httptest.ResponseRecorder, error) {
		body := `{"nurse_id":"` + nurse.ID.String() + `","shift":"night"}`
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(wardID.String())
		return rec, h.AssignNurse(c)
	}

	rec, err := send()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	_, err = send()
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409 on duplicate, got %v", err)
	}
}

func TestHandler_ListStaff(t *testing.T) {
	h, e := newTestHandler()
	_ = h.svc.RegisterStaff(context.Background(), &Staff{Name: "D", Role: RoleDoctor})
	_ = h.svc.RegisterStaff(context.Background(), &Staff{Name: "N", Role: RoleNurse})

	req := httptest.NewRequest(http.MethodGet, "/?role=nurse", nil)
	rec := httptest.NewRecorder()
	if err := h.ListStaff(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 nurse, got %d", resp.Total)
	}
}
