// Package metrics records per-operation request counts, outcome codes and
// latency for the engine's core operations, and exposes them to Prometheus.
package metrics

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ehr/careflow/internal/platform/apperr"
)

// Registry holds the engine's collectors. Tests may build their own with
// NewRegistry to avoid the process-wide default.
type Registry struct {
	reg        *prometheus.Registry
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	relayed    *prometheus.CounterVec
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Registry{
		reg: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careflow",
			Name:      "operations_total",
			Help:      "Core operations by name and outcome code.",
		}, []string{"operation", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "careflow",
			Name:      "operation_duration_seconds",
			Help:      "Latency of core operations including their unit of work.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "careflow",
			Name:      "outbox_events_total",
			Help:      "Outbox events handed to sinks by result.",
		}, []string{"event_type", "result"}),
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry { return defaultRegistry }

// Observe records one call of op that started at start. It is meant to be
// deferred with a pointer to the operation's named error result:
//
//	defer metrics.Observe("admission.admit", time.Now(), &err)
func Observe(op string, start time.Time, errp *error) {
	defaultRegistry.Observe(op, start, errp)
}

func (r *Registry) Observe(op string, start time.Time, errp *error) {
	outcome := "ok"
	if errp != nil && *errp != nil {
		outcome = string(apperr.CodeOf(*errp))
	}
	r.operations.WithLabelValues(op, outcome).Inc()
	r.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Relayed counts an outbox event delivery attempt.
func (r *Registry) Relayed(eventType string, ok bool) {
	result := "published"
	if !ok {
		result = "failed"
	}
	r.relayed.WithLabelValues(eventType, result).Inc()
}

// Gatherer exposes the underlying registry for scraping and tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))
}
