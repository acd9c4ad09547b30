// Package metrics declares the process-wide Prometheus collectors shared
// by the control plane and dispatcher, in the llm-router/metrics.go
// promauto style.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TelemetryEventsTotal counts every telemetry.Event emitted, labeled
	// by its event type.
	TelemetryEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carbon_scheduler_telemetry_events_total",
		Help: "Total telemetry events emitted, by type.",
	}, []string{"type"})

	// PlanningCycleDuration observes how long a full planning cycle took,
	// from POST /run to the Temporal workflow returning.
	PlanningCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "carbon_scheduler_planning_cycle_duration_seconds",
		Help:    "Duration of a full POST /run planning cycle.",
		Buckets: prometheus.DefBuckets,
	})
)
