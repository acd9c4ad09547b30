// Package planner implements C6: selecting and ordering the top-K
// (region, hour) candidates per function, in either deterministic mode
// (sort by composite score) or oracle mode (delegate the permutation to
// the LLM ranking oracle, falling back to deterministic on any
// validation failure)
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/oracle"
	"github.com/greenfleet-dev/carbon-scheduler/internal/scorer"
	"go.uber.org/zap"
)

// Stage is one state of the per-function planning state machine.
type Stage string

const (
	StagePending    Stage = "PENDING"
	StageNormalized Stage = "NORMALIZED"
	StageCachedHit  Stage = "CACHED_HIT"
	StageScored     Stage = "SCORED"
	StageRanked     Stage = "RANKED"
	StageWritten    Stage = "WRITTEN"
	StageFailed     Stage = "FAILED"
	StageFailedTimeout Stage = "FAILED_TIMEOUT"
)

// Result records how one function's planning cycle concluded.
type Result struct {
	FunctionID string
	Stage      Stage
	Schedule   *model.Schedule
	Err        error
}

// Ranker decides the order of a function's candidates.
type Ranker interface {
	Rank(ctx context.Context, fn model.FunctionMetadata, candidates []model.CandidateScore) ([]model.CandidateScore, []string, error)
}

// DeterministicRanker keeps only candidates whose region is in
// fn.AllowedRegions (when that list is non-empty), sorts them by composite
// score ascending and takes the top-N, at most one per (region, hour),
// which scorer.Candidates already guarantees by construction.
type DeterministicRanker struct {
	TopN int
}

// Rank implements Ranker.
func (d DeterministicRanker) Rank(_ context.Context, fn model.FunctionMetadata, candidates []model.CandidateScore) ([]model.CandidateScore, []string, error) {
	topN := d.TopN
	if topN <= 0 {
		topN = 24
	}
	if len(fn.AllowedRegions) > 0 {
		allowed := make(map[string]struct{}, len(fn.AllowedRegions))
		for _, r := range fn.AllowedRegions {
			allowed[r] = struct{}{}
		}
		kept := make([]model.CandidateScore, 0, len(candidates))
		for _, c := range candidates {
			if _, ok := allowed[c.Region]; ok {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}
	scorer.SortForRanking(candidates)
	if len(candidates) > topN {
		candidates = candidates[:topN]
	}
	rationales := make([]string, len(candidates))
	for i, c := range candidates {
		rationales[i] = fmt.Sprintf("deterministic: composite=%.4f emissions=%.2fg cost=$%.4f", c.Composite, c.EmissionsG, c.TransferCostUSD)
	}
	return candidates, rationales, nil
}

// OracleRanker delegates ranking to the LLM oracle and checks the result
// with validateOrder (allowed regions, no duplicate (region, hour) pairs)
// before accepting it; on an oracle error or a validation failure it falls
// back to deterministic mode.
type OracleRanker struct {
	Oracle     oracle.Oracle
	TopN       int
	Fallback   DeterministicRanker
	Logger     *zap.Logger
}

// Rank implements Ranker.
func (o OracleRanker) Rank(ctx context.Context, fn model.FunctionMetadata, candidates []model.CandidateScore) ([]model.CandidateScore, []string, error) {
	scorer.SortForRanking(candidates)
	topN := o.TopN
	if topN <= 0 {
		topN = 24
	}
	pool := candidates
	if len(pool) > topN*2 && topN*2 > 0 {
		// Keep the oracle's input bounded: it only needs a generous
		// superset of the top-N to have room to reorder within.
		pool = pool[:topN*2]
	}

	req := oracle.RankingRequest{
		FunctionID:     fn.FunctionID,
		Weights:        [3]float64{fn.Weights.Carbon, fn.Weights.Cost, fn.Weights.Latency},
		AllowedRegions: fn.AllowedRegions,
		RequiresGPU:    fn.GPURequired,
	}
	for i, c := range pool {
		req.Candidates = append(req.Candidates, oracle.RankingCandidate{
			Index:        i,
			Region:       c.Region,
			HourStartUTC: c.HourStartUTC.Format(time.RFC3339),
			Emissions:    c.EmissionsG,
			Cost:         c.TransferCostUSD,
			Latency:      c.LatencyPenalty,
		})
	}

	result, err := o.Oracle.Rank(ctx, req)
	if err != nil {
		o.logFallback(fn.FunctionID, fmt.Sprintf("oracle call failed: %v", err))
		return o.Fallback.Rank(ctx, fn, candidates)
	}

	ordered := make([]model.CandidateScore, 0, len(result.Order))
	for _, idx := range result.Order {
		ordered = append(ordered, pool[idx])
	}

	if err := validateOrder(fn, ordered); err != nil {
		o.logFallback(fn.FunctionID, fmt.Sprintf("oracle order failed validation: %v", err))
		return o.Fallback.Rank(ctx, fn, candidates)
	}

	if len(ordered) > topN {
		ordered = ordered[:topN]
	}
	rationales := result.Rationales
	if len(rationales) > len(ordered) {
		rationales = rationales[:len(ordered)]
	}
	for len(rationales) < len(ordered) {
		rationales = append(rationales, "")
	}
	return ordered, rationales, nil
}

func (o OracleRanker) logFallback(functionID, reason string) {
	if o.Logger != nil {
		o.Logger.Warn("planner: oracle ranking falling back to deterministic mode",
			zap.String("function_id", functionID), zap.String("reason", reason))
	}
}

// validateOrder checks that an oracle-proposed order names only allowed
// regions and contains no duplicate (region, hour) pairs. GPU capability
// is not rechecked here; candidates come from scorer.Candidates, which
// already drops non-GPU regions for GPU functions.
func validateOrder(fn model.FunctionMetadata, ordered []model.CandidateScore) error {
	allowed := make(map[string]struct{}, len(fn.AllowedRegions))
	for _, r := range fn.AllowedRegions {
		allowed[r] = struct{}{}
	}
	seen := make(map[string]struct{}, len(ordered))
	for _, c := range ordered {
		if _, ok := allowed[c.Region]; !ok {
			return fmt.Errorf("region %q not in allowed_regions", c.Region)
		}
		key := c.Region + "@" + c.HourStartUTC.Format(time.RFC3339)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate (region, hour) %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// BuildSchedule assembles a model.Schedule from a ranked candidate list.
func BuildSchedule(fn model.FunctionMetadata, horizonStart, generatedAt time.Time, mode model.ForecastMode, ranked []model.CandidateScore, rationales []string, deployment map[string]model.DeploymentInfo) (model.Schedule, error) {
	hash, err := fn.MetadataHash()
	if err != nil {
		return model.Schedule{}, fmt.Errorf("planner: hash metadata: %w", err)
	}

	recs := make([]model.Recommendation, len(ranked))
	for i, c := range ranked {
		rationale := ""
		if i < len(rationales) {
			rationale = rationales[i]
		}
		recs[i] = model.Recommendation{
			Priority:               i + 1,
			Region:                 c.Region,
			HourStartUTC:           c.HourStartUTC,
			CarbonIntensityGPerKWh: safeDivide(c.EmissionsG, c.EnergyKWh),
			TransferCostUSD:        c.TransferCostUSD,
			Rationale:              rationale,
		}
	}

	sched := model.Schedule{
		FunctionID:      fn.FunctionID,
		HorizonStartUTC: horizonStart,
		GeneratedAtUTC:  generatedAt,
		Mode:            mode,
		Recommendations: recs,
		Deployment:      deployment,
		MetadataHash:    hash,
	}
	if deployment == nil {
		sched.Deployment = map[string]model.DeploymentInfo{}
	}
	if err := sched.Valid(); err != nil {
		return model.Schedule{}, fmt.Errorf("planner: built an invalid schedule: %w", err)
	}
	return sched, nil
}

func safeDivide(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}
