package workflow

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

func activityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: ActivityTimeout,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    5,
			InitialInterval:    500 * time.Millisecond,
			BackoffCoefficient: 2.0,
			MaximumInterval:    8 * time.Second,
		},
	}
}

// CycleWorkflow is the top-level workflow for one planning cycle: load the
// catalog and registry, fetch the carbon forecast once, then plan every
// function concurrently (bounded), matching the staged-activity structure
// of CodeGenerationWorkflow.
func CycleWorkflow(ctx workflow.Context, req CycleRequest) (*CycleResult, error) {
	logger := workflow.GetLogger(ctx)
	ctx, cancel := workflow.WithCancel(ctx)
	defer cancel()

	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var a *Activities // method value targets resolve via registered name; nil receiver is fine for ExecuteActivity calls that reference the method name

	logger.Info("planning cycle: loading catalog")
	var catResult loadCatalogResult
	if err := workflow.ExecuteActivity(ctx, a.LoadCatalogActivity).Get(ctx, &catResult); err != nil {
		return nil, fmt.Errorf("cycle workflow: load catalog: %w", err)
	}

	logger.Info("planning cycle: loading registry")
	var regResult loadRegistryResult
	if err := workflow.ExecuteActivity(ctx, a.LoadRegistryActivity).Get(ctx, &regResult); err != nil {
		return nil, fmt.Errorf("cycle workflow: load registry: %w", err)
	}

	logger.Info("planning cycle: fetching carbon forecast")
	var forecastResult fetchForecastResult
	if err := workflow.ExecuteActivity(ctx, a.FetchForecastActivity, req.Now).Get(ctx, &forecastResult); err != nil {
		return nil, fmt.Errorf("cycle workflow: fetch forecast: %w", err)
	}

	horizonHours := req.HorizonHours
	if horizonHours <= 0 {
		horizonHours = 24
	}
	horizonStart := req.Now.UTC().Truncate(time.Hour)

	sel := workflow.NewSelector(ctx)
	results := make([]FunctionOutcome, 0, len(regResult.FunctionIDs))
	inFlight := 0

	childOptions := func(functionID string) workflow.ChildWorkflowOptions {
		return workflow.ChildWorkflowOptions{
			WorkflowID:        fmt.Sprintf("plan-%s-%s", functionID, horizonStart.Format("2006-01-02T15")),
			WorkflowRunTimeout: ActivityTimeout * 6,
		}
	}

	launch := func(functionID string) {
		cctx := workflow.WithChildOptions(ctx, childOptions(functionID))
		future := workflow.ExecuteChildWorkflow(cctx, FunctionWorkflowName, FunctionPlanRequest{
			FunctionID:      functionID,
			Now:             req.Now,
			HorizonStartUTC: horizonStart,
			HorizonHours:    horizonHours,
		})
		inFlight++
		sel.AddFuture(future, func(f workflow.Future) {
			inFlight--
			var outcome FunctionOutcome
			if err := f.Get(ctx, &outcome); err != nil {
				outcome = FunctionOutcome{FunctionID: functionID, Stage: StageFailed, Reason: err.Error()}
			}
			results = append(results, outcome)
		})
	}

	pending := append([]string(nil), regResult.FunctionIDs...)
	for len(pending) > 0 || inFlight > 0 {
		for len(pending) > 0 && inFlight < MaxFunctionConcurrency {
			launch(pending[0])
			pending = pending[1:]
		}
		if inFlight > 0 {
			sel.Select(ctx)
		}
	}

	return &CycleResult{Results: results}, nil
}

// FunctionWorkflow runs one function through the per-function state
// machine: NORMALIZED -> CACHED_HIT or SCORED -> RANKED/WRITTEN -> FAILED.
func FunctionWorkflow(ctx workflow.Context, req FunctionPlanRequest) (*FunctionOutcome, error) {
	logger := workflow.GetLogger(ctx)
	ctx = workflow.WithActivityOptions(ctx, activityOptions())

	var a *Activities

	var normResult normalizeResult
	if err := workflow.ExecuteActivity(ctx, a.NormalizeFunctionActivity, req.FunctionID).Get(ctx, &normResult); err != nil {
		return &FunctionOutcome{FunctionID: req.FunctionID, Stage: StageFailed, Reason: err.Error()}, nil
	}
	if normResult.Rejected {
		logger.Warn("function rejected at normalization", "function_id", req.FunctionID, "reason", normResult.Reason)
		return &FunctionOutcome{FunctionID: req.FunctionID, Stage: StageFailed, Reason: normResult.Reason}, nil
	}

	var cacheResult cacheLookupResult
	if err := workflow.ExecuteActivity(ctx, a.CacheLookupActivity, req).Get(ctx, &cacheResult); err != nil {
		return &FunctionOutcome{FunctionID: req.FunctionID, Stage: StageFailed, Reason: err.Error()}, nil
	}
	if cacheResult.Hit {
		return &FunctionOutcome{
			FunctionID:      req.FunctionID,
			Stage:           StageCachedHit,
			Recommendations: cacheResult.Recommendations,
			Deployment:      cacheResult.Deployment,
		}, nil
	}

	var scoreResult scoreRankResult
	if err := workflow.ExecuteActivity(ctx, a.ScoreAndRankActivity, req).Get(ctx, &scoreResult); err != nil {
		if isTimeoutErr(err) {
			return &FunctionOutcome{FunctionID: req.FunctionID, Stage: StageFailedTimeout, Reason: err.Error()}, nil
		}
		return &FunctionOutcome{FunctionID: req.FunctionID, Stage: StageFailed, Reason: err.Error()}, nil
	}

	return &FunctionOutcome{
		FunctionID:      req.FunctionID,
		Stage:           StageWritten,
		Recommendations: scoreResult.Recommendations,
		Deployment:      scoreResult.Deployment,
	}, nil
}

// isTimeoutErr classifies an activity error as a timeout, following the
// message-based error classification in
// packages/workflows/internal/activities/error_recovery.go rather than
// type-asserting on the SDK's internal error types.
func isTimeoutErr(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "timeout") ||
		strings.Contains(strings.ToLower(err.Error()), "deadline exceeded")
}
