// Package dispatch implements C10: per-request schedule loading, slot
// selection and forward-or-defer routing. The in-memory schedule cache
// (60 s TTL) is a per-process, stale-reads-tolerated optimization;
// cross-replica request idempotency is backed by Redis, in the style of
// agent-orchestrator's redis.Client usage, since a single process's
// memory cannot satisfy a rolling-24h guarantee once the dispatcher
// runs more than one replica.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/queue"
	"github.com/greenfleet-dev/carbon-scheduler/internal/resilience"
	"github.com/greenfleet-dev/carbon-scheduler/internal/telemetry"
)

// ErrUnknownFunction means no schedule exists for the requested function.
var ErrUnknownFunction = errors.New("dispatch: unknown function")

// ErrNoViableSlot means every candidate region/hour failed or none exist
// within the function's deadline.
var ErrNoViableSlot = errors.New("dispatch: no viable slot within deadline")

const scheduleCacheTTL = 60 * time.Second
const idempotencyWindow = 24 * time.Hour

// Outcome is the result of one dispatch decision, cached for idempotency.
type Outcome struct {
	Forwarded      bool            `json:"forwarded"`
	StatusCode     int             `json:"status_code,omitempty"`
	Body           json.RawMessage `json:"body,omitempty"`
	TaskID         string          `json:"task_id,omitempty"`
	ScheduledForUTC time.Time      `json:"scheduled_for_utc,omitempty"`
	Region         string          `json:"region,omitempty"`
}

type cacheEntry struct {
	sched     model.Schedule
	expiresAt time.Time
}

// Dispatcher routes one function's requests to its currently scheduled
// region, or defers them via the delayed-task queue.
type Dispatcher struct {
	store  *bucket.Store
	queue  queue.Queue
	redis  *redis.Client
	sink   *telemetry.Sink
	logger *zap.Logger
	client *http.Client

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// New constructs a Dispatcher. redisClient may be nil, in which case no
// idempotency records are kept: a repeated X-Request-Id is routed again
// as a new request.
func New(store *bucket.Store, q queue.Queue, redisClient *redis.Client, sink *telemetry.Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:  store,
		queue:  q,
		redis:  redisClient,
		sink:   sink,
		logger: logger,
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  make(map[string]cacheEntry),
	}
}

func (d *Dispatcher) loadSchedule(ctx context.Context, functionID string, now time.Time) (*model.Schedule, error) {
	d.mu.Lock()
	if entry, ok := d.cache[functionID]; ok && now.Before(entry.expiresAt) {
		d.mu.Unlock()
		sched := entry.sched
		return &sched, nil
	}
	d.mu.Unlock()

	body, err := d.store.Get(ctx, bucket.ScheduleKey(functionID))
	if err != nil {
		if errors.Is(err, bucket.ErrNotFound) {
			return nil, ErrUnknownFunction
		}
		return nil, fmt.Errorf("dispatch: load schedule for %s: %w", functionID, err)
	}
	var sched model.Schedule
	if err := json.Unmarshal(body, &sched); err != nil {
		return nil, fmt.Errorf("dispatch: decode schedule for %s: %w", functionID, err)
	}

	d.mu.Lock()
	d.cache[functionID] = cacheEntry{sched: sched, expiresAt: now.Add(scheduleCacheTTL)}
	d.mu.Unlock()

	return &sched, nil
}

// Dispatch routes one request for functionID. requestID, when non-empty,
// is the caller-supplied idempotency key from X-Request-Id.
func (d *Dispatcher) Dispatch(ctx context.Context, functionID, requestID string, payload []byte, now time.Time, deadlineHours float64) (*Outcome, error) {
	if requestID != "" {
		if cached, ok := d.lookupIdempotent(ctx, functionID, requestID); ok {
			return cached, nil
		}
	}

	sched, err := d.loadSchedule(ctx, functionID, now)
	if err != nil {
		return nil, err
	}
	if deadlineHours <= 0 {
		deadlineHours = 24
	}

	outcome, err := d.route(ctx, functionID, sched, payload, now, deadlineHours)
	if err != nil {
		return nil, err
	}

	if requestID != "" {
		d.storeIdempotent(ctx, functionID, requestID, outcome)
	}
	return outcome, nil
}

// route implements slot-selection and forward-or-defer logic, trying
// each ranked recommendation in order until one succeeds.
func (d *Dispatcher) route(ctx context.Context, functionID string, sched *model.Schedule, payload []byte, now time.Time, deadlineHours float64) (*Outcome, error) {
	deadline := now.Add(time.Duration(deadlineHours * float64(time.Hour)))

	effective, rest := selectEffectiveSlot(sched.Recommendations, now, deadline)
	candidates := rest
	if effective != nil {
		candidates = append([]model.Recommendation{*effective}, rest...)
	}

	for _, rec := range candidates {
		info, deployed := sched.Deployment[rec.Region]
		if !deployed || info.URL == "" {
			continue
		}

		isNow := !rec.HourStartUTC.After(now)
		if isNow {
			status, body, err := d.forward(ctx, info.URL, payload)
			if err != nil {
				d.sink.Emit(telemetry.Event{Type: telemetry.EventDispatchRejected, FunctionID: functionID, Region: rec.Region, Detail: err.Error()})
				continue
			}
			d.sink.Emit(telemetry.Event{Type: telemetry.EventDispatchForwarded, FunctionID: functionID, Region: rec.Region})
			return &Outcome{Forwarded: true, StatusCode: status, Body: body, Region: rec.Region}, nil
		}

		taskID, err := resilience.WithBackoff(ctx, resilience.DefaultRetryConfig(), "dispatch.enqueue", d.logger, nil, func(ctx context.Context) (string, error) {
			return d.queue.Enqueue(ctx, info.URL, payload, rec.HourStartUTC)
		})
		if err != nil {
			d.sink.Emit(telemetry.Event{Type: telemetry.EventDispatchRejected, FunctionID: functionID, Region: rec.Region, Detail: err.Error()})
			continue
		}
		d.sink.Emit(telemetry.Event{Type: telemetry.EventDispatchDeferred, FunctionID: functionID, Region: rec.Region, HourStartUTC: rec.HourStartUTC, Detail: taskID})
		return &Outcome{TaskID: taskID, ScheduledForUTC: rec.HourStartUTC, Region: rec.Region}, nil
	}

	return nil, ErrNoViableSlot
}

// selectEffectiveSlot honors the plan's priority order: it returns the
// highest-priority recommendation that is still reachable within deadline
// (not expired more than 1 hour in the past, not beyond the deadline), and
// the remaining reachable recommendations, in priority order, as fallback
// candidates. The caller decides whether the effective slot is forwarded
// now or deferred, based on whether its hour has already started. A
// lower-priority slot that merely happens to be "now" never preempts a
// cleaner, higher-priority slot that is still a future hour.
func selectEffectiveSlot(recs []model.Recommendation, now, deadline time.Time) (*model.Recommendation, []model.Recommendation) {
	var reachable []model.Recommendation

	for i := range recs {
		r := recs[i]
		expired := r.HourStartUTC.Before(now) && now.Sub(r.HourStartUTC) >= time.Hour
		if expired || r.HourStartUTC.After(deadline) {
			continue
		}
		reachable = append(reachable, r)
	}
	if len(reachable) == 0 {
		return nil, nil
	}
	effective := reachable[0]
	return &effective, reachable[1:]
}

func (d *Dispatcher) forward(ctx context.Context, url string, payload []byte) (int, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("dispatch: build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("dispatch: forward failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("dispatch: read forward response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return 0, nil, fmt.Errorf("dispatch: target returned %d", resp.StatusCode)
	}
	return resp.StatusCode, body, nil
}

func idempotencyKey(functionID, requestID string) string {
	return "dispatch:idem:" + functionID + ":" + requestID
}

func (d *Dispatcher) lookupIdempotent(ctx context.Context, functionID, requestID string) (*Outcome, bool) {
	if d.redis == nil {
		return nil, false
	}
	raw, err := d.redis.Get(ctx, idempotencyKey(functionID, requestID)).Result()
	if err != nil {
		return nil, false
	}
	var out Outcome
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false
	}
	return &out, true
}

func (d *Dispatcher) storeIdempotent(ctx context.Context, functionID, requestID string, outcome *Outcome) {
	if d.redis == nil {
		return
	}
	body, err := json.Marshal(outcome)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, idempotencyKey(functionID, requestID), body, idempotencyWindow).Err(); err != nil && d.logger != nil {
		d.logger.Warn("dispatch: failed to persist idempotency record", zap.String("function_id", functionID), zap.Error(err))
	}
}

// NewRequestID mints a server-side request id for callers that omit
// X-Request-Id, so downstream telemetry always has a correlator.
func NewRequestID() string {
	return uuid.NewString()
}

// DeadlineHours reads a function's deadline_hours from its normalized
// metadata, defaulting to 24h if the metadata is missing or unreadable
// (the dispatcher degrades gracefully rather than rejecting the request
// outright; the schedule itself is still authoritative for slot choice).
func (d *Dispatcher) DeadlineHours(ctx context.Context, functionID string) float64 {
	body, err := d.store.Get(ctx, bucket.NormalizedMetadataKey(functionID))
	if err != nil {
		return 24
	}
	var meta model.FunctionMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return 24
	}
	return meta.DeadlineHoursOrDefault()
}
