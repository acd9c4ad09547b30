package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsValid(t *testing.T) {
	cases := []struct {
		name string
		w    Weights
		want bool
	}{
		{"balanced", Weights{Carbon: 0.34, Cost: 0.33, Latency: 0.33}, true},
		{"carbon only", Weights{Carbon: 1}, true},
		{"negative", Weights{Carbon: -0.1, Cost: 0.6, Latency: 0.5}, false},
		{"sums to zero", Weights{}, false},
		{"sums over one", Weights{Carbon: 0.5, Cost: 0.5, Latency: 0.5}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.w.Valid())
		})
	}
}

func TestDeadlineHoursOrDefault(t *testing.T) {
	assert.Equal(t, 24.0, (FunctionMetadata{}).DeadlineHoursOrDefault(), "zero deadline should default to 24")
	assert.Equal(t, 6.0, (FunctionMetadata{DeadlineHours: 6}).DeadlineHoursOrDefault(), "explicit deadline should not be overridden")
}

func TestMetadataHashDeterministicAndChangeSensitive(t *testing.T) {
	meta := FunctionMetadata{
		FunctionID:        "fn-a",
		RuntimeMS:         1200,
		MemoryMiB:         512,
		VCPUs:             1,
		AllowedRegions:    []string{"us-east-1", "eu-west-1"},
		Weights:           Weights{Carbon: 0.5, Cost: 0.25, Latency: 0.25},
		InvocationsPerDay: 1000,
	}
	h1, err := meta.MetadataHash()
	require.NoError(t, err)
	h2, err := meta.MetadataHash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2, "hash should be deterministic across calls")

	mutated := meta
	mutated.MemoryMiB = 1024
	h3, err := mutated.MetadataHash()
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3, "changing memory_mib should change the metadata hash")
}

func TestRegionCatalogEntryValid(t *testing.T) {
	gMin, gMax := 50.0, 300.0
	cases := []struct {
		name string
		e    RegionCatalogEntry
		want bool
	}{
		{"no gpu ok", RegionCatalogEntry{CPUMinW: 10, CPUMaxW: 95, PUE: 1.2}, true},
		{"cpu max below min", RegionCatalogEntry{CPUMinW: 100, CPUMaxW: 10, PUE: 1.2}, false},
		{"pue out of range", RegionCatalogEntry{CPUMinW: 10, CPUMaxW: 95, PUE: 3.0}, false},
		{"gpu missing bounds", RegionCatalogEntry{CPUMinW: 10, CPUMaxW: 95, PUE: 1.2, HasGPU: true}, false},
		{"gpu ok", RegionCatalogEntry{CPUMinW: 10, CPUMaxW: 95, PUE: 1.2, HasGPU: true, GPUMinW: &gMin, GPUMaxW: &gMax}, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.e.Valid())
		})
	}
}

func TestCarbonForecastCIAt(t *testing.T) {
	hour := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cf := CarbonForecast{
		Zones: map[string]ZoneForecast{
			"US-EAST": {ZoneKey: "US-EAST", Hours: []HourPoint{{HourStartUTC: hour, GCO2PerKWh: 350}}},
		},
	}
	got, ok := cf.CIAt("US-EAST", hour)
	assert.True(t, ok)
	assert.Equal(t, 350.0, got)

	_, ok = cf.CIAt("US-EAST", hour.Add(time.Hour))
	assert.False(t, ok, "should not match an hour with no sample")

	_, ok = cf.CIAt("EU-WEST", hour)
	assert.False(t, ok, "should not match a zone that isn't in the forecast")
}

func TestScheduleValid(t *testing.T) {
	horizon := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	base := Schedule{
		FunctionID:      "fn-a",
		HorizonStartUTC: horizon,
		Recommendations: []Recommendation{
			{Priority: 1, Region: "us-east-1", HourStartUTC: horizon.Add(2 * time.Hour)},
			{Priority: 2, Region: "eu-west-1", HourStartUTC: horizon.Add(3 * time.Hour)},
		},
	}
	require.NoError(t, base.Valid())

	dupRegionHour := base
	dupRegionHour.Recommendations = append([]Recommendation{}, base.Recommendations...)
	dupRegionHour.Recommendations[1] = dupRegionHour.Recommendations[0]
	dupRegionHour.Recommendations[1].Priority = 2
	assert.Error(t, dupRegionHour.Valid(), "expected duplicate (region, hour) to be rejected")

	gapPriority := base
	gapPriority.Recommendations = append([]Recommendation{}, base.Recommendations...)
	gapPriority.Recommendations[1].Priority = 3
	assert.Error(t, gapPriority.Valid(), "expected non-gapless priorities to be rejected")

	beforeHorizon := base
	beforeHorizon.Recommendations = append([]Recommendation{}, base.Recommendations...)
	beforeHorizon.Recommendations[0].HourStartUTC = horizon.Add(-time.Hour)
	assert.Error(t, beforeHorizon.Valid(), "expected a first slot before the horizon start to be rejected")
}

func TestPlanCacheKeyString(t *testing.T) {
	k := PlanCacheKey{FunctionID: "fn-a", MetadataHashHex: "abc123", HorizonStartDate: "2026-08-01"}
	assert.Equal(t, "fn-a:abc123:2026-08-01", k.String())
}
