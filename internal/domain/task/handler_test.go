package task_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/careflow/internal/domain/task"
	"github.com/ehr/careflow/internal/platform/auth"
)

func actorRequest(method, body string, actor uuid.UUID) *http.Request {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req.WithContext(auth.WithActor(context.Background(), actor.String(), []string{auth.RoleNurse}))
}

func TestHandler_ClaimNurseTask(t *testing.T) {
	svc, _ := newService(t)
	h := task.NewHandler(svc)
	e := echo.New()
	nt := mustNurseTask(t, svc, task.PriorityRoutine)

	rec := httptest.NewRecorder()
	c := e.NewContext(actorRequest(http.MethodPost, "", uuid.New()), rec)
	c.SetParamNames("id")
	c.SetParamValues(nt.ID.String())
	if err := h.ClaimNurseTask(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(actorRequest(http.MethodPost, "", uuid.New()), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(nt.ID.String())
	err := h.ClaimNurseTask(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusConflict {
		t.Errorf("expected 409, got %v", err)
	}
}

func TestHandler_UpdateNurseTaskStatus_Backwards(t *testing.T) {
	svc, _ := newService(t)
	h := task.NewHandler(svc)
	e := echo.New()
	nurse := uuid.New()
	nt := mustNurseTask(t, svc, task.PriorityRoutine)
	_, _ = svc.ClaimNurseTask(context.Background(), nt.ID, nurse)

	c := e.NewContext(actorRequest(http.MethodPatch, `{"status":"PENDING"}`, nurse), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(nt.ID.String())
	err := h.UpdateNurseTaskStatus(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_ClaimNurseTask_NoActor(t *testing.T) {
	svc, _ := newService(t)
	h := task.NewHandler(svc)
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())
	err := h.ClaimNurseTask(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %v", err)
	}
}
