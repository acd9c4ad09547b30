package planner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/oracle"
)

func candidate(region string, hour time.Time, composite float64) model.CandidateScore {
	return model.CandidateScore{
		Region:       region,
		HourStartUTC: hour,
		Composite:    composite,
		EmissionsG:   composite * 100,
		EnergyKWh:    1,
	}
}

func TestDeterministicRankerOrdersByCompositeAndCaps(t *testing.T) {
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candidates := []model.CandidateScore{
		candidate("us-east-1", horizon, 0.8),
		candidate("eu-west-1", horizon.Add(time.Hour), 0.1),
		candidate("ap-south-1", horizon.Add(2*time.Hour), 0.5),
	}
	ranker := DeterministicRanker{TopN: 2}
	ranked, rationales, err := ranker.Rank(context.Background(), model.FunctionMetadata{}, candidates)
	require.NoError(t, err)
	require.Len(t, ranked, 2, "expected TopN=2 to cap the result")
	assert.Equal(t, "eu-west-1", ranked[0].Region)
	assert.Equal(t, "ap-south-1", ranked[1].Region)
	assert.Len(t, rationales, 2, "expected one rationale per ranked candidate")
}

type fakeOracle struct {
	rankResult *oracle.RankingResult
	rankErr    error
}

func (f fakeOracle) Extract(ctx context.Context, req oracle.ExtractionRequest) (*oracle.ExtractionResult, error) {
	return nil, nil
}

func (f fakeOracle) Rank(ctx context.Context, req oracle.RankingRequest) (*oracle.RankingResult, error) {
	return f.rankResult, f.rankErr
}

func TestOracleRankerFallsBackOnError(t *testing.T) {
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candidates := []model.CandidateScore{
		candidate("us-east-1", horizon, 0.8),
		candidate("eu-west-1", horizon.Add(time.Hour), 0.1),
	}
	fn := model.FunctionMetadata{AllowedRegions: []string{"us-east-1", "eu-west-1"}}
	ranker := OracleRanker{
		Oracle:   fakeOracle{rankErr: context.DeadlineExceeded},
		TopN:     2,
		Fallback: DeterministicRanker{TopN: 2},
	}
	ranked, _, err := ranker.Rank(context.Background(), fn, candidates)
	require.NoError(t, err)
	assert.Equal(t, "eu-west-1", ranked[0].Region, "expected fallback to deterministic ordering")
}

func TestOracleRankerAcceptsValidOrder(t *testing.T) {
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candidates := []model.CandidateScore{
		candidate("us-east-1", horizon, 0.8),
		candidate("eu-west-1", horizon.Add(time.Hour), 0.1),
	}
	fn := model.FunctionMetadata{AllowedRegions: []string{"us-east-1", "eu-west-1"}}
	ranker := OracleRanker{
		Oracle: fakeOracle{rankResult: &oracle.RankingResult{
			Order:      []int{0, 1},
			Rationales: []string{"oracle says so", "oracle says so too"},
		}},
		TopN:     2,
		Fallback: DeterministicRanker{TopN: 2},
	}
	// After SortForRanking pool[0] is eu-west-1 (composite 0.1), so ordering
	// [0,1] is the composite order and a valid permutation; accept it to
	// prove the oracle path is taken before exercising the fallback case.
	ranked, rationales, err := ranker.Rank(context.Background(), fn, candidates)
	require.NoError(t, err)
	assert.Len(t, ranked, 2)
	assert.Len(t, rationales, 2)
}

func TestOracleRankerFallsBackOnDisallowedRegion(t *testing.T) {
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	candidates := []model.CandidateScore{
		candidate("us-east-1", horizon, 0.8),
		candidate("eu-west-1", horizon.Add(time.Hour), 0.1),
	}
	fn := model.FunctionMetadata{AllowedRegions: []string{"us-east-1"}}
	ranker := OracleRanker{
		Oracle: fakeOracle{rankResult: &oracle.RankingResult{
			Order: []int{1, 0}, // sorted pool is [eu-west-1, us-east-1]; eu-west-1 is not in allowed_regions
		}},
		TopN:     2,
		Fallback: DeterministicRanker{TopN: 2},
	}
	ranked, _, err := ranker.Rank(context.Background(), fn, candidates)
	require.NoError(t, err)
	for _, c := range ranked {
		assert.Equal(t, "us-east-1", c.Region, "expected fallback to filter out the disallowed region")
	}
}

func TestBuildScheduleProducesValidSchedule(t *testing.T) {
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	fn := model.FunctionMetadata{FunctionID: "fn-a", Weights: model.Weights{Carbon: 1}}
	ranked := []model.CandidateScore{
		{Region: "us-east-1", HourStartUTC: horizon.Add(time.Hour), EmissionsG: 40, EnergyKWh: 0.1, TransferCostUSD: 0.02},
		{Region: "eu-west-1", HourStartUTC: horizon.Add(2 * time.Hour), EmissionsG: 12, EnergyKWh: 0.1, TransferCostUSD: 0.01},
	}
	sched, err := BuildSchedule(fn, horizon, horizon, model.ModeForecast, ranked, []string{"r1", "r2"}, nil)
	require.NoError(t, err)
	assert.NoError(t, sched.Valid(), "built schedule should satisfy its own invariants")
	assert.Equal(t, 1, sched.Recommendations[0].Priority)
	assert.Equal(t, 2, sched.Recommendations[1].Priority)
	assert.Equal(t, 400.0, sched.Recommendations[0].CarbonIntensityGPerKWh, "40g / 0.1kWh")
	assert.NotNil(t, sched.Deployment, "expected BuildSchedule to default a nil deployment map to an empty map")
}

func TestSafeDivideByZero(t *testing.T) {
	assert.Zero(t, safeDivide(5, 0))
}
