// Package model holds the data types shared across the planner, dispatcher
// and control plane: function metadata, the region catalog, carbon
// forecasts, candidate scores and the schedule document written to the
// configuration bucket.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// GPUType identifies an accelerator family a function may require.
type GPUType string

// Weights holds the three nonnegative priority weights a function places
// on carbon, cost and latency. They must sum to 1.
type Weights struct {
	Carbon  float64 `json:"carbon"`
	Cost    float64 `json:"cost"`
	Latency float64 `json:"latency"`
}

// Valid reports whether w is nonnegative, sums to ~1 and has at least one
// positive component.
func (w Weights) Valid() bool {
	const eps = 1e-6
	if w.Carbon < 0 || w.Cost < 0 || w.Latency < 0 {
		return false
	}
	sum := w.Carbon + w.Cost + w.Latency
	if sum < 1-eps || sum > 1+eps {
		return false
	}
	return w.Carbon > 0 || w.Cost > 0 || w.Latency > 0
}

// Artifact is the optional deployable source bundle for a function.
type Artifact struct {
	SourceText   string   `json:"source_text"`
	Dependencies []string `json:"dependencies"`
	Extension    string   `json:"extension"`
}

// FunctionMetadata describes one registered serverless function.
type FunctionMetadata struct {
	FunctionID         string    `json:"function_id"`
	RuntimeMS          int64     `json:"runtime_ms"`
	MemoryMiB          int64     `json:"memory_mib"`
	VCPUs              float64   `json:"vcpus"`
	GPURequired        bool      `json:"gpu_required"`
	GPUType            GPUType   `json:"gpu_type,omitempty"`
	InputBytes         int64     `json:"input_bytes"`
	OutputBytes        int64     `json:"output_bytes"`
	SourceRegion       string    `json:"source_region"`
	InvocationsPerDay  float64   `json:"invocations_per_day"`
	AllowedRegions     []string  `json:"allowed_regions"`
	Weights            Weights   `json:"weights"`
	DeadlineHours      float64   `json:"deadline_hours"`
	Artifact           *Artifact `json:"artifact,omitempty"`
	MeasuredCPUUtil    *float64  `json:"measured_cpu_util,omitempty"`
}

// DeadlineHoursOrDefault returns the function's deadline, defaulting to 24h
// as specified.
func (f FunctionMetadata) DeadlineHoursOrDefault() float64 {
	if f.DeadlineHours <= 0 {
		return 24
	}
	return f.DeadlineHours
}

// CanonicalJSON serializes f deterministically: struct field order is
// fixed by declaration order, so two equal values always produce byte
// identical output, which the plan-cache key and schedule round-tripping
// both depend on.
func (f FunctionMetadata) CanonicalJSON() ([]byte, error) {
	return json.Marshal(f)
}

// MetadataHash returns the hex SHA-256 of f's canonical JSON.
func (f FunctionMetadata) MetadataHash() (string, error) {
	b, err := f.CanonicalJSON()
	if err != nil {
		return "", fmt.Errorf("canonicalize metadata: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// RegionCatalogEntry is one row of the read-only region catalog.
type RegionCatalogEntry struct {
	Region      string             `json:"region"`
	ZoneKey     string             `json:"zone_key"`
	EgressUSDGB map[string]float64 `json:"egress_usd_gb"`
	CPUMinW     float64            `json:"cpu_min_w"`
	CPUMaxW     float64            `json:"cpu_max_w"`
	MemWPerGiB  float64            `json:"mem_w_per_gib"`
	GPUMinW     *float64           `json:"gpu_min_w,omitempty"`
	GPUMaxW     *float64           `json:"gpu_max_w,omitempty"`
	PUE         float64            `json:"pue"`
	HasGPU      bool               `json:"has_gpu"`
	NetworkKWhPerGB float64        `json:"network_kwh_per_gb"`
}

// Valid checks the catalog-entry invariants.
func (e RegionCatalogEntry) Valid() bool {
	if e.CPUMaxW < e.CPUMinW {
		return false
	}
	if e.PUE < 1.0 || e.PUE > 2.0 {
		return false
	}
	if e.HasGPU && (e.GPUMinW == nil || e.GPUMaxW == nil || *e.GPUMaxW < *e.GPUMinW) {
		return false
	}
	return true
}

// HourPoint is one hourly carbon-intensity sample.
type HourPoint struct {
	HourStartUTC time.Time `json:"hour_start_utc"`
	GCO2PerKWh   float64   `json:"g_co2_per_kwh"`
}

// ZoneForecast is the ordered hourly forecast for a single carbon zone.
type ZoneForecast struct {
	ZoneKey string      `json:"zone_key"`
	Hours   []HourPoint `json:"hours"`
}

// CarbonForecast is the merged multi-zone forecast document persisted to
// the bucket, keyed by the time it was fetched.
type CarbonForecast struct {
	FetchedAtUTC time.Time               `json:"fetched_at_utc"`
	Mode         ForecastMode            `json:"mode"`
	Zones        map[string]ZoneForecast `json:"zones"`
}

// ForecastMode records whether a forecast document holds genuine forward
// looking values or a historical-mode reinterpretation.
type ForecastMode string

const (
	ModeForecast   ForecastMode = "forecast"
	ModeHistorical ForecastMode = "historical"
)

// CIAt returns the carbon intensity for zone at hour, and whether a sample
// exists for that exact hour.
func (c CarbonForecast) CIAt(zone string, hour time.Time) (float64, bool) {
	zf, ok := c.Zones[zone]
	if !ok {
		return 0, false
	}
	for _, p := range zf.Hours {
		if p.HourStartUTC.Equal(hour) {
			return p.GCO2PerKWh, true
		}
	}
	return 0, false
}

// CandidateScore is the derived, non-persisted score of one (function,
// region, hour) triple.
type CandidateScore struct {
	FunctionID      string
	Region          string
	HourStartUTC    time.Time
	EnergyKWh       float64
	EmissionsG      float64
	TransferCostUSD float64
	LatencyPenalty  float64
	Composite       float64
}

// Recommendation is one ranked slot in a function's schedule.
type Recommendation struct {
	Priority               int       `json:"priority"`
	Region                 string    `json:"region"`
	HourStartUTC           time.Time `json:"hour_start_utc"`
	CarbonIntensityGPerKWh float64   `json:"carbon_intensity_g_per_kwh"`
	TransferCostUSD        float64   `json:"transfer_cost_usd"`
	Rationale              string    `json:"rationale"`
}

// DeploymentInfo records what is currently deployed for a function in one
// region.
type DeploymentInfo struct {
	URL           string    `json:"url"`
	CodeHash      string    `json:"code_hash"`
	DeployedAtUTC time.Time `json:"deployed_at_utc"`
}

// Schedule is the per-function planning output, written atomically to the
// bucket as schedule_<function_id>.json.
type Schedule struct {
	FunctionID      string                     `json:"function_id"`
	HorizonStartUTC time.Time                  `json:"horizon_start_utc"`
	GeneratedAtUTC  time.Time                  `json:"generated_at_utc"`
	Mode            ForecastMode               `json:"mode"`
	Recommendations []Recommendation           `json:"recommendations"`
	Deployment      map[string]DeploymentInfo  `json:"deployment"`
	MetadataHash    string                     `json:"metadata_hash"`
}

// Valid checks the schedule invariants: unique (region, hour) pairs,
// priorities forming a gapless 1..N permutation, and a first slot at or
// after the horizon start.
func (s Schedule) Valid() error {
	seen := make(map[string]struct{}, len(s.Recommendations))
	priorities := make(map[int]struct{}, len(s.Recommendations))
	for _, r := range s.Recommendations {
		key := r.Region + "@" + r.HourStartUTC.Format(time.RFC3339)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate (region, hour): %s", key)
		}
		seen[key] = struct{}{}
		if _, dup := priorities[r.Priority]; dup {
			return fmt.Errorf("duplicate priority: %d", r.Priority)
		}
		priorities[r.Priority] = struct{}{}
	}
	for i := 1; i <= len(s.Recommendations); i++ {
		if _, ok := priorities[i]; !ok {
			return fmt.Errorf("priorities are not a gapless 1..%d permutation", len(s.Recommendations))
		}
	}
	if len(s.Recommendations) > 0 {
		first := s.Recommendations[0]
		if first.HourStartUTC.Before(s.HorizonStartUTC) {
			return fmt.Errorf("first recommendation hour %s precedes horizon start %s", first.HourStartUTC, s.HorizonStartUTC)
		}
	}
	return nil
}

// PlanCacheKey identifies an interchangeable schedule.
type PlanCacheKey struct {
	FunctionID       string
	MetadataHashHex  string
	HorizonStartDate string // YYYY-MM-DD
}

// String renders the key as "function_id:hash:horizon_date".
func (k PlanCacheKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.FunctionID, k.MetadataHashHex, k.HorizonStartDate)
}

// DelayedTask is one enqueued deferred invocation.
type DelayedTask struct {
	TaskID    string    `json:"task_id"`
	TargetURL string    `json:"target_url"`
	Payload   []byte    `json:"payload"`
	NotBefore time.Time `json:"not_before"`
}
