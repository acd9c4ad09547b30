// Package telemetry implements C13: structured event records emitted by
// the planner, the dispatcher, and the deployment orchestrator. Events
// are logged as structured zap fields, in the enterprise_monitoring.go
// event-emission style, and also appended to a bounded in-memory ring
// buffer that Recent reads back; the control plane's /health and /run
// handlers do not read it, and there is no separate persistent telemetry
// store.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/metrics"
)

// EventType names one class of telemetry event.
type EventType string

const (
	EventPlannerCacheHit   EventType = "planner_cache_hit"
	EventPlannerWritten    EventType = "planner_written"
	EventPlannerFailed     EventType = "planner_failed"
	EventDeployFailed      EventType = "deploy_failed"
	EventDispatchForwarded EventType = "dispatch_forwarded"
	EventDispatchDeferred  EventType = "dispatch_deferred"
	EventDispatchRejected  EventType = "dispatch_rejected"
	EventRetryAttempt      EventType = "retry_attempt"
)

// Event is one telemetry record.
type Event struct {
	Type          EventType `json:"type"`
	AtUTC         time.Time `json:"at_utc"`
	Scenario      string    `json:"scenario,omitempty"`
	FunctionID    string    `json:"function_id,omitempty"`
	Region        string    `json:"region,omitempty"`
	HourStartUTC  time.Time `json:"hour_start_utc,omitempty"`
	ForecastValue float64   `json:"forecast_value,omitempty"`
	CarbonG       float64   `json:"carbon_g,omitempty"`
	CostUSD       float64   `json:"cost_usd,omitempty"`
	Detail        string    `json:"detail,omitempty"`
}

// Sink records events. Callers hold one Sink per process.
type Sink struct {
	logger *zap.Logger

	mu     sync.Mutex
	ring   []Event
	cap    int
}

// NewSink constructs a Sink with a bounded in-memory ring buffer.
func NewSink(logger *zap.Logger, capacity int) *Sink {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Sink{logger: logger, cap: capacity}
}

// Emit records ev: logs it structurally and appends it to the ring
// buffer, evicting the oldest entry once capacity is reached.
func (s *Sink) Emit(ev Event) {
	if ev.AtUTC.IsZero() {
		ev.AtUTC = time.Now().UTC()
	}

	metrics.TelemetryEventsTotal.WithLabelValues(string(ev.Type)).Inc()

	if s.logger != nil {
		s.logger.Info("telemetry",
			zap.String("type", string(ev.Type)),
			zap.String("scenario", ev.Scenario),
			zap.String("function_id", ev.FunctionID),
			zap.String("region", ev.Region),
			zap.Time("hour_start_utc", ev.HourStartUTC),
			zap.Float64("forecast_value", ev.ForecastValue),
			zap.Float64("carbon_g", ev.CarbonG),
			zap.Float64("cost_usd", ev.CostUSD),
			zap.String("detail", ev.Detail),
		)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring = append(s.ring, ev)
	if len(s.ring) > s.cap {
		s.ring = s.ring[len(s.ring)-s.cap:]
	}
}

// Recent returns up to n most recent events, newest last.
func (s *Sink) Recent(n int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.ring) {
		n = len(s.ring)
	}
	out := make([]Event, n)
	copy(out, s.ring[len(s.ring)-n:])
	return out
}
