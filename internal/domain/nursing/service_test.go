package nursing_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ehr/careflow/internal/domain/admission"
	"github.com/ehr/careflow/internal/domain/identity"
	"github.com/ehr/careflow/internal/domain/nursing"
	"github.com/ehr/careflow/internal/infra/memory"
	"github.com/ehr/careflow/internal/platform/apperr"
	"github.com/ehr/careflow/internal/platform/auth"
)

type openAdmissions map[uuid.UUID]*admission.Admission

func (o openAdmissions) OpenAdmissionForPatient(_ context.Context, patientID uuid.UUID) (*admission.Admission, error) {
	return o[patientID], nil
}

func intp(v int) *int { return &v }

func newService(t *testing.T, open openAdmissions) (*nursing.Service, *memory.Store, *identity.Patient) {
	t.Helper()
	store := memory.New()
	p := &identity.Patient{MRN: "MRN-1", FirstName: "Grace", LastName: "Hopper"}
	if err := store.Patients().Create(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return nursing.NewService(store, store.Vitals(), store.Patients(), open), store, p
}

func TestRecordVitals_LinksOpenAdmission(t *testing.T) {
	admissionID := uuid.New()
	open := openAdmissions{}
	svc, _, p := newService(t, open)
	open[p.ID] = &admission.Admission{ID: admissionID, PatientID: p.ID}
	nurse := uuid.New()

	temp := decimal.RequireFromString("37.2")
	v := &nursing.VitalSign{TemperatureC: &temp, Pulse: intp(80), Systolic: intp(120), Diastolic: intp(80)}
	if err := svc.RecordVitals(context.Background(), nurse, p.ID, v); err != nil {
		t.Fatalf("RecordVitals: %v", err)
	}
	if v.AdmissionID == nil || *v.AdmissionID != admissionID {
		t.Errorf("expected admission %s, got %v", admissionID, v.AdmissionID)
	}
	if v.NurseID != nurse || v.RecordedAt.IsZero() {
		t.Errorf("unexpected recording: %+v", v)
	}

	items, total, err := svc.ListVitals(context.Background(), p.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListVitals: %v", err)
	}
	if total != 1 || len(items) != 1 {
		t.Errorf("expected 1 recording, got %d", total)
	}
}

func TestRecordVitals_WithoutAdmission(t *testing.T) {
	svc, _, p := newService(t, openAdmissions{})
	v := &nursing.VitalSign{SpO2: intp(97)}
	if err := svc.RecordVitals(context.Background(), uuid.New(), p.ID, v); err != nil {
		t.Fatalf("RecordVitals: %v", err)
	}
	if v.AdmissionID != nil {
		t.Errorf("expected no admission, got %v", v.AdmissionID)
	}
}

func TestRecordVitals_Validation(t *testing.T) {
	svc, store, p := newService(t, openAdmissions{})
	hot := decimal.NewFromInt(47)
	tests := []struct {
		name string
		v    nursing.VitalSign
	}{
		{"empty", nursing.VitalSign{}},
		{"temperature", nursing.VitalSign{TemperatureC: &hot}},
		{"pulse", nursing.VitalSign{Pulse: intp(400)}},
		{"spo2", nursing.VitalSign{SpO2: intp(101)}},
		{"inverted pressure", nursing.VitalSign{Systolic: intp(80), Diastolic: intp(120)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.v
			if err := svc.RecordVitals(context.Background(), uuid.New(), p.ID, &v); !apperr.HasCode(err, apperr.CodeValidation) {
				t.Errorf("expected VALIDATION_ERROR, got %v", err)
			}
		})
	}
	if n := len(store.Export().Vitals); n != 0 {
		t.Errorf("expected nothing stored, got %d", n)
	}
}

func TestRecordVitals_UnknownPatient(t *testing.T) {
	svc, _, _ := newService(t, openAdmissions{})
	err := svc.RecordVitals(context.Background(), uuid.New(), uuid.New(), &nursing.VitalSign{Pulse: intp(70)})
	if !apperr.HasCode(err, apperr.CodePatientNotFound) {
		t.Errorf("expected PATIENT_NOT_FOUND, got %v", err)
	}
}

func TestCountInWindow(t *testing.T) {
	svc, _, p := newService(t, openAdmissions{})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		v := &nursing.VitalSign{Pulse: intp(72), RecordedAt: base.Add(time.Duration(i) * 24 * time.Hour)}
		if err := svc.RecordVitals(ctx, uuid.New(), p.ID, v); err != nil {
			t.Fatalf("RecordVitals: %v", err)
		}
	}
	n, err := svc.CountInWindow(ctx, p.ID, base, base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("CountInWindow: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 recordings in window, got %d", n)
	}
}

func TestHandler_RecordVitals(t *testing.T) {
	svc, _, p := newService(t, openAdmissions{})
	h := nursing.NewHandler(svc)
	e := echo.New()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"pulse":88,"spo2":98}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithActor(context.Background(), uuid.NewString(), []string{auth.RoleNurse}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(p.ID.String())

	if err := h.RecordVitals(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}

	c = e.NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")
	err := h.RecordVitals(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}
