package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/careflow/internal/platform/apperr"
)

func counterValue(t *testing.T, r *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metrics
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestObserve_RecordsOutcomeCode(t *testing.T) {
	r := NewRegistry()

	var ok error
	r.Observe("ward.add_bed", time.Now(), &ok)
	failed := error(apperr.New(apperr.CodeWardFull, "full"))
	r.Observe("ward.add_bed", time.Now(), &failed)
	internal := errors.New("conn reset")
	r.Observe("ward.add_bed", time.Now(), &internal)

	if v := counterValue(t, r, "careflow_operations_total", map[string]string{"operation": "ward.add_bed", "outcome": "ok"}); v != 1 {
		t.Errorf("expected 1 ok, got %v", v)
	}
	if v := counterValue(t, r, "careflow_operations_total", map[string]string{"operation": "ward.add_bed", "outcome": "WARD_FULL"}); v != 1 {
		t.Errorf("expected 1 WARD_FULL, got %v", v)
	}
	if v := counterValue(t, r, "careflow_operations_total", map[string]string{"operation": "ward.add_bed", "outcome": "INTERNAL_ERROR"}); v != 1 {
		t.Errorf("expected 1 INTERNAL_ERROR, got %v", v)
	}
}

func TestRelayed(t *testing.T) {
	r := NewRegistry()
	r.Relayed("bill.generated", true)
	r.Relayed("bill.generated", false)
	r.Relayed("bill.generated", false)

	if v := counterValue(t, r, "careflow_outbox_events_total", map[string]string{"event_type": "bill.generated", "result": "failed"}); v != 2 {
		t.Errorf("expected 2 failed, got %v", v)
	}
}

func TestHandler_ServesExposition(t *testing.T) {
	r := NewRegistry()
	var err error
	r.Observe("task.claim_nurse_task", time.Now(), &err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	if err := r.Handler()(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `careflow_operations_total{operation="task.claim_nurse_task",outcome="ok"} 1`) {
		t.Errorf("exposition missing counter:\n%s", rec.Body.String())
	}
}
