// Package workflow wires C2-C8 into a Temporal state machine: one
// planning cycle fetches the catalog, registry and carbon forecast once,
// then runs one child workflow per function through PENDING ->
// NORMALIZED -> CACHED_HIT or SCORED -> RANKED -> WRITTEN or FAILED, in
// the staged-activity style of
// packages/workflows/internal/workflows/code_generation.go and
// packages/workflows/internal/activities.
package workflow

import (
	"time"

	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

const (
	// CycleWorkflowName is registered with the Temporal worker.
	CycleWorkflowName = "PlanningCycleWorkflow"
	// FunctionWorkflowName is the per-function child workflow.
	FunctionWorkflowName = "PlanFunctionWorkflow"
	// TaskQueue is the planner-worker's Temporal task queue.
	TaskQueue = "carbon-scheduler-planning"

	// CycleTimeout bounds one full planning cycle
	CycleTimeout = 4 * time.Minute
	// ActivityTimeout bounds any single activity invocation.
	ActivityTimeout = 45 * time.Second
	// MaxFunctionConcurrency bounds how many function child workflows run
	// at once within a cycle bounded fan-out.
	MaxFunctionConcurrency = 16
	// TopRecommendationsPerFunction bounds how many ranked slots are
	// carried back into a run summary for a single function.
	TopRecommendationsPerFunction = 5
)

// CycleRequest starts one planning cycle.
type CycleRequest struct {
	Now          time.Time
	HorizonHours int
}

// CycleResult summarizes one planning cycle's outcome.
type CycleResult struct {
	Results []FunctionOutcome
}

// Stage is one state of the per-function planning state machine.
type Stage string

const (
	StagePending       Stage = "PENDING"
	StageNormalized    Stage = "NORMALIZED"
	StageCachedHit     Stage = "CACHED_HIT"
	StageScored        Stage = "SCORED"
	StageRanked        Stage = "RANKED"
	StageWritten       Stage = "WRITTEN"
	StageFailed        Stage = "FAILED"
	StageFailedTimeout Stage = "FAILED_TIMEOUT"
)

// FunctionPlanRequest starts one function's per-function child workflow.
type FunctionPlanRequest struct {
	FunctionID      string
	Now             time.Time
	HorizonStartUTC time.Time
	HorizonHours    int
}

// FunctionOutcome is what a per-function child workflow returns.
type FunctionOutcome struct {
	FunctionID      string
	Stage           Stage
	Reason          string
	Recommendations []model.Recommendation
	Deployment      map[string]model.DeploymentInfo
}

// loadCatalogResult, loadRegistryResult and fetchForecastResult are
// activity outputs threaded through the cycle workflow; the heavy
// payloads (catalog entries, forecast zones) travel through the bucket,
// so activities only need to signal completion and hand back what the
// next stage needs directly.
type loadCatalogResult struct {
	Regions []string
}

type loadRegistryResult struct {
	FunctionIDs []string
}

type fetchForecastResult struct {
	Mode  model.ForecastMode
	Zones []string
}

type normalizeResult struct {
	Rejected bool
	Reason   string
}

type cacheLookupResult struct {
	Hit             bool
	Recommendations []model.Recommendation
	Deployment      map[string]model.DeploymentInfo
}

type scoreRankResult struct {
	CandidateCount  int
	DeployedRegions []string
	DeployFailures  []string
	Recommendations []model.Recommendation
	Deployment      map[string]model.DeploymentInfo
}

// topRecommendations returns up to the first n recommendations of recs,
// which is a prefix of the full list since schedules store recommendations
// in ascending priority order.
func topRecommendations(recs []model.Recommendation, n int) []model.Recommendation {
	if len(recs) <= n {
		return recs
	}
	return recs[:n]
}
