package scorer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greenfleet-dev/carbon-scheduler/internal/catalog"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	gMin, gMax := 50.0, 300.0
	cat, err := catalog.FromEntries([]model.RegionCatalogEntry{
		{
			Region: "us-east-1", ZoneKey: "US-EAST", CPUMinW: 10, CPUMaxW: 95, MemWPerGiB: 0.3,
			PUE: 1.2, NetworkKWhPerGB: 0.006, EgressUSDGB: map[string]float64{"us-east-1": 0.0, "eu-west-1": 0.02},
		},
		{
			Region: "eu-west-1", ZoneKey: "EU-WEST", CPUMinW: 8, CPUMaxW: 80, MemWPerGiB: 0.28,
			PUE: 1.1, NetworkKWhPerGB: 0.005, EgressUSDGB: map[string]float64{"us-east-1": 0.01, "eu-west-1": 0.0},
		},
		{
			Region: "us-west-2", ZoneKey: "US-WEST", CPUMinW: 10, CPUMaxW: 95, MemWPerGiB: 0.3,
			PUE: 1.2, NetworkKWhPerGB: 0.006, HasGPU: true, GPUMinW: &gMin, GPUMaxW: &gMax,
			EgressUSDGB: map[string]float64{"us-east-1": 0.01},
		},
	})
	require.NoError(t, err)
	return cat
}

func testForecast(horizon time.Time) model.CarbonForecast {
	hours := func(start float64, vals ...float64) []model.HourPoint {
		pts := make([]model.HourPoint, len(vals))
		for i, v := range vals {
			pts[i] = model.HourPoint{HourStartUTC: horizon.Add(time.Duration(i) * time.Hour), GCO2PerKWh: v}
		}
		return pts
	}
	return model.CarbonForecast{
		Mode: model.ModeForecast,
		Zones: map[string]model.ZoneForecast{
			"US-EAST": {ZoneKey: "US-EAST", Hours: hours(0, 400, 350, 300)},
			"EU-WEST": {ZoneKey: "EU-WEST", Hours: hours(0, 120, 100, 90)},
			"US-WEST": {ZoneKey: "US-WEST", Hours: hours(0, 500, 450, 420)},
		},
	}
}

func TestCandidatesFiltersByAllowedRegionsAndGPU(t *testing.T) {
	cat := testCatalog(t)
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cf := testForecast(horizon)

	fn := model.FunctionMetadata{
		FunctionID:     "fn-a",
		RuntimeMS:      1000,
		MemoryMiB:      512,
		VCPUs:          1,
		AllowedRegions: []string{"us-east-1", "eu-west-1"},
		SourceRegion:   "us-east-1",
		Weights:        model.Weights{Carbon: 0.6, Cost: 0.2, Latency: 0.2},
	}
	cands := Candidates(fn, cat, cf, horizon, 3, Options{DefaultCPUUtil: 0.5, DefaultGPUUtil: 0.5})

	for _, c := range cands {
		assert.NotEqual(t, "us-west-2", c.Region, "candidate should not appear in a region outside allowed_regions")
	}
	require.Len(t, cands, 6, "expected 2 regions x 3 hours = 6 candidates")
}

func TestCandidatesRejectsGPURequiredWithoutGPURegion(t *testing.T) {
	cat := testCatalog(t)
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cf := testForecast(horizon)

	fn := model.FunctionMetadata{
		FunctionID:     "fn-gpu",
		RuntimeMS:      1000,
		MemoryMiB:      512,
		VCPUs:          1,
		GPURequired:    true,
		AllowedRegions: []string{"us-east-1", "eu-west-1"},
		SourceRegion:   "us-east-1",
		Weights:        model.Weights{Carbon: 1},
	}
	cands := Candidates(fn, cat, cf, horizon, 3, Options{})
	assert.Empty(t, cands, "expected no candidates when no allowed region has GPU")
}

func TestCandidatesAllowsGPURequiredWithGPURegion(t *testing.T) {
	cat := testCatalog(t)
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cf := testForecast(horizon)

	fn := model.FunctionMetadata{
		FunctionID:     "fn-gpu",
		RuntimeMS:      1000,
		MemoryMiB:      512,
		VCPUs:          1,
		GPURequired:    true,
		AllowedRegions: []string{"us-east-1", "us-west-2"},
		SourceRegion:   "us-east-1",
		Weights:        model.Weights{Carbon: 1},
	}
	cands := Candidates(fn, cat, cf, horizon, 3, Options{})
	for _, c := range cands {
		assert.Equal(t, "us-west-2", c.Region, "expected only the GPU-capable region to survive")
	}
	require.Len(t, cands, 3, "expected 3 candidates from the one GPU region")
}

func TestNormalizeAndScoreZeroSpreadIsNeutral(t *testing.T) {
	candidates := []model.CandidateScore{
		{EmissionsG: 10, TransferCostUSD: 1, LatencyPenalty: 0},
		{EmissionsG: 10, TransferCostUSD: 1, LatencyPenalty: 0},
	}
	normalizeAndScore(candidates, model.Weights{Carbon: 0.5, Cost: 0.3, Latency: 0.2})
	for _, c := range candidates {
		assert.Zero(t, c.Composite, "expected zero-spread dimensions to produce a zero composite")
	}
}

func TestSortForRankingTieBreaks(t *testing.T) {
	hourA := time.Date(2026, 8, 1, 1, 0, 0, 0, time.UTC)
	hourB := time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC)
	candidates := []model.CandidateScore{
		{Region: "eu-west-1", HourStartUTC: hourB, Composite: 0.5, TransferCostUSD: 0.01},
		{Region: "us-east-1", HourStartUTC: hourA, Composite: 0.5, TransferCostUSD: 0.02},
		{Region: "ap-south-1", HourStartUTC: hourA, Composite: 0.2, TransferCostUSD: 0.05},
	}
	SortForRanking(candidates)

	assert.Equal(t, "ap-south-1", candidates[0].Region, "lowest composite should sort first")
	assert.Equal(t, "us-east-1", candidates[1].Region, "equal composite should break tie by earlier hour")
	assert.Equal(t, "eu-west-1", candidates[2].Region)
}

func TestCandidatesRespectHorizonHours(t *testing.T) {
	cat := testCatalog(t)
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cf := testForecast(horizon)

	fn := model.FunctionMetadata{
		FunctionID:     "fn-short",
		RuntimeMS:      1000,
		MemoryMiB:      512,
		VCPUs:          1,
		AllowedRegions: []string{"us-east-1"},
		SourceRegion:   "us-east-1",
		Weights:        model.Weights{Carbon: 1},
	}
	cands := Candidates(fn, cat, cf, horizon, 1, Options{})
	require.Len(t, cands, 1, "expected horizon_hours=1 to yield exactly 1 candidate")
}
