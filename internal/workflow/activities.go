package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/catalog"
	"github.com/greenfleet-dev/carbon-scheduler/internal/deployer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/forecast"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/normalizer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/plancache"
	"github.com/greenfleet-dev/carbon-scheduler/internal/planner"
	"github.com/greenfleet-dev/carbon-scheduler/internal/registry"
	"github.com/greenfleet-dev/carbon-scheduler/internal/scorer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/telemetry"
	"go.uber.org/zap"
)

// Activities bundles the dependencies every planning activity needs.
// Its methods are registered with the Temporal worker as activities; the
// workflow only ever calls them through workflow.ExecuteActivity, never
// directly, following the pattern of a dependency-holding struct whose
// bound methods are the registered activities (see
// packages/workflows/internal/activities/deployment_activities.go).
type Activities struct {
	Store      *bucket.Store
	Normalizer *normalizer.Normalizer
	Ranker     planner.Ranker
	Deployer   *deployer.Orchestrator
	Sink       *telemetry.Sink
	Logger     *zap.Logger

	cat *catalog.Catalog
	reg *registry.Document

	ForecastFetcher *forecast.Fetcher
	ForecastZones   func(*catalog.Catalog) []string

	PlanCache *plancache.Cache

	ScorerOpts scorer.Options
}

// LoadCatalogActivity loads the region catalog and caches it on the
// Activities instance, where the later activities of the cycle read it;
// the cached catalog stays there until the next call replaces it.
func (a *Activities) LoadCatalogActivity(ctx context.Context) (loadCatalogResult, error) {
	cat, err := catalog.Load(ctx, a.Store)
	if err != nil {
		return loadCatalogResult{}, fmt.Errorf("activities: load catalog: %w", err)
	}
	a.cat = cat
	return loadCatalogResult{Regions: cat.Regions()}, nil
}

// LoadRegistryActivity loads the function registry document.
func (a *Activities) LoadRegistryActivity(ctx context.Context) (loadRegistryResult, error) {
	doc, err := registry.Load(ctx, a.Store)
	if err != nil {
		return loadRegistryResult{}, fmt.Errorf("activities: load registry: %w", err)
	}
	a.reg = doc
	ids := make([]string, len(doc.Functions))
	for i, d := range doc.Functions {
		ids[i] = d.FunctionID
	}
	return loadRegistryResult{FunctionIDs: ids}, nil
}

// FetchForecastActivity fetches and persists the merged carbon forecast
// for every zone the catalog knows about.
func (a *Activities) FetchForecastActivity(ctx context.Context, now time.Time) (fetchForecastResult, error) {
	if a.cat == nil {
		return fetchForecastResult{}, fmt.Errorf("activities: catalog not loaded before forecast fetch")
	}
	zones := a.ForecastZones(a.cat)
	result, err := a.ForecastFetcher.FetchAndPersist(ctx, zones, now)
	if err != nil {
		return fetchForecastResult{}, fmt.Errorf("activities: fetch forecast: %w", err)
	}
	return fetchForecastResult{Mode: result.Mode, Zones: zones}, nil
}

func (a *Activities) descriptorFor(functionID string) (registry.Descriptor, bool) {
	if a.reg == nil {
		return registry.Descriptor{}, false
	}
	for _, d := range a.reg.Functions {
		if d.FunctionID == functionID {
			return d, true
		}
	}
	return registry.Descriptor{}, false
}

// NormalizeFunctionActivity turns one function's descriptor into
// canonical metadata and persists it so later activities (which run as
// independent Temporal activity invocations, possibly on another worker
// process) can read it back by function id.
func (a *Activities) NormalizeFunctionActivity(ctx context.Context, functionID string) (normalizeResult, error) {
	desc, ok := a.descriptorFor(functionID)
	if !ok {
		return normalizeResult{Rejected: true, Reason: "function not found in registry"}, nil
	}

	meta, err := a.Normalizer.Normalize(ctx, desc)
	if err != nil {
		if rej, ok := err.(*normalizer.Rejection); ok {
			return normalizeResult{Rejected: true, Reason: rej.Reason}, nil
		}
		return normalizeResult{}, fmt.Errorf("activities: normalize %s: %w", functionID, err)
	}

	if err := a.putFunctionMetadata(ctx, *meta); err != nil {
		return normalizeResult{}, err
	}
	return normalizeResult{}, nil
}

func (a *Activities) putFunctionMetadata(ctx context.Context, meta model.FunctionMetadata) error {
	body, err := meta.CanonicalJSON()
	if err != nil {
		return fmt.Errorf("activities: canonicalize metadata for %s: %w", meta.FunctionID, err)
	}
	return a.Store.PutAtomic(ctx, bucket.NormalizedMetadataKey(meta.FunctionID), body)
}

func (a *Activities) getFunctionMetadata(ctx context.Context, functionID string) (model.FunctionMetadata, error) {
	body, err := a.Store.Get(ctx, bucket.NormalizedMetadataKey(functionID))
	if err != nil {
		return model.FunctionMetadata{}, fmt.Errorf("activities: load normalized metadata for %s: %w", functionID, err)
	}
	var meta model.FunctionMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return model.FunctionMetadata{}, fmt.Errorf("activities: decode normalized metadata for %s: %w", functionID, err)
	}
	return meta, nil
}

// CacheLookupActivity checks the plan cache for an interchangeable
// schedule before spending a scoring/ranking pass.
func (a *Activities) CacheLookupActivity(ctx context.Context, req FunctionPlanRequest) (cacheLookupResult, error) {
	meta, err := a.getFunctionMetadata(ctx, req.FunctionID)
	if err != nil {
		return cacheLookupResult{}, err
	}
	key, err := plancache.Key(meta, req.HorizonStartUTC)
	if err != nil {
		return cacheLookupResult{}, fmt.Errorf("activities: compute cache key for %s: %w", req.FunctionID, err)
	}
	sched, hit := a.PlanCache.Lookup(ctx, key, req.Now)
	if !hit {
		return cacheLookupResult{}, nil
	}

	a.emitPlannerEvent(telemetry.EventPlannerCacheHit, req.FunctionID, string(sched.Mode), sched)
	return cacheLookupResult{
		Hit:             true,
		Recommendations: topRecommendations(sched.Recommendations, TopRecommendationsPerFunction),
		Deployment:      sched.Deployment,
	}, nil
}

// emitPlannerEvent records one C13 planner-run telemetry record: the
// scenario tag, the chosen (top-ranked) region and hour, the forecast
// value that drove the choice, and the transfer cost attributed to it;
// CarbonG is left unset. A nil Sink (e.g. in unit tests that construct a bare Activities) is a
// no-op.
func (a *Activities) emitPlannerEvent(eventType telemetry.EventType, functionID, scenario string, sched *model.Schedule) {
	if a.Sink == nil {
		return
	}
	ev := telemetry.Event{Type: eventType, FunctionID: functionID, Scenario: scenario}
	if sched != nil && len(sched.Recommendations) > 0 {
		top := sched.Recommendations[0]
		ev.Region = top.Region
		ev.HourStartUTC = top.HourStartUTC
		ev.ForecastValue = top.CarbonIntensityGPerKWh
		ev.CostUSD = top.TransferCostUSD
	}
	a.Sink.Emit(ev)
}

// ScoreAndRankActivity scores every viable candidate, ranks them, builds
// the resulting Schedule and persists it.
func (a *Activities) ScoreAndRankActivity(ctx context.Context, req FunctionPlanRequest) (scoreRankResult, error) {
	if a.cat == nil {
		return scoreRankResult{}, fmt.Errorf("activities: catalog not loaded before scoring")
	}
	meta, err := a.getFunctionMetadata(ctx, req.FunctionID)
	if err != nil {
		return scoreRankResult{}, err
	}

	cf, err := a.loadForecast(ctx)
	if err != nil {
		return scoreRankResult{}, err
	}

	candidates := scorer.Candidates(meta, a.cat, *cf, req.HorizonStartUTC, req.HorizonHours, a.ScorerOpts)
	if len(candidates) == 0 {
		err := fmt.Errorf("activities: no viable candidates for %s (allowed regions/GPU filter/forecast coverage)", req.FunctionID)
		a.emitPlannerFailed(req.FunctionID, string(cf.Mode), err)
		return scoreRankResult{}, err
	}

	ranked, rationales, err := a.Ranker.Rank(ctx, meta, candidates)
	if err != nil {
		wrapped := fmt.Errorf("activities: rank candidates for %s: %w", req.FunctionID, err)
		a.emitPlannerFailed(req.FunctionID, string(cf.Mode), wrapped)
		return scoreRankResult{}, wrapped
	}

	sched, err := planner.BuildSchedule(meta, req.HorizonStartUTC, req.Now, cf.Mode, ranked, rationales, nil)
	if err != nil {
		wrapped := fmt.Errorf("activities: build schedule for %s: %w", req.FunctionID, err)
		a.emitPlannerFailed(req.FunctionID, string(cf.Mode), wrapped)
		return scoreRankResult{}, wrapped
	}

	result := scoreRankResult{CandidateCount: len(candidates)}
	if a.Deployer != nil && meta.Artifact != nil {
		deployment, events := a.Deployer.Reconcile(ctx, meta, sched)
		sched.Deployment = deployment
		for _, ev := range events {
			if ev.Success {
				result.DeployedRegions = append(result.DeployedRegions, ev.Region)
				continue
			}
			result.DeployFailures = append(result.DeployFailures, ev.Region)
			if a.Logger != nil {
				a.Logger.Warn("activities: deploy_failed", zap.String("function_id", ev.FunctionID), zap.String("region", ev.Region), zap.String("reason", ev.Reason))
			}
			if a.Sink != nil {
				a.Sink.Emit(telemetry.Event{Type: telemetry.EventDeployFailed, FunctionID: ev.FunctionID, Region: ev.Region, Detail: ev.Reason})
			}
		}
	}

	if err := a.PlanCache.Store(ctx, sched); err != nil {
		wrapped := fmt.Errorf("activities: store schedule for %s: %w", req.FunctionID, err)
		a.emitPlannerFailed(req.FunctionID, string(cf.Mode), wrapped)
		return scoreRankResult{}, wrapped
	}

	result.Recommendations = topRecommendations(sched.Recommendations, TopRecommendationsPerFunction)
	result.Deployment = sched.Deployment

	top := ranked[0]
	event := telemetry.Event{
		Type:       telemetry.EventPlannerWritten,
		FunctionID: req.FunctionID,
		Scenario:   string(cf.Mode),
		CarbonG:    top.EmissionsG,
		CostUSD:    top.TransferCostUSD,
	}
	if len(sched.Recommendations) > 0 {
		event.Region = sched.Recommendations[0].Region
		event.HourStartUTC = sched.Recommendations[0].HourStartUTC
		event.ForecastValue = sched.Recommendations[0].CarbonIntensityGPerKWh
	}
	if a.Sink != nil {
		a.Sink.Emit(event)
	}

	return result, nil
}

// emitPlannerFailed records a C13 planner-run failure, carrying the error
// detail since a failed run has no chosen slot to attribute carbon/cost to.
func (a *Activities) emitPlannerFailed(functionID, scenario string, cause error) {
	if a.Sink == nil {
		return
	}
	a.Sink.Emit(telemetry.Event{Type: telemetry.EventPlannerFailed, FunctionID: functionID, Scenario: scenario, Detail: cause.Error()})
}

func (a *Activities) loadForecast(ctx context.Context) (*model.CarbonForecast, error) {
	body, err := a.Store.Get(ctx, bucket.CarbonForecastsKey)
	if err != nil {
		return nil, fmt.Errorf("activities: load carbon forecast: %w", err)
	}
	var cf model.CarbonForecast
	if err := json.Unmarshal(body, &cf); err != nil {
		return nil, fmt.Errorf("activities: decode carbon forecast: %w", err)
	}
	return &cf, nil
}
