// Package scorer implements C5: for every (function, region, hour)
// triple in the planning horizon, compute expected energy, emissions,
// transfer cost and the latency penalty, then the min-max normalized
// composite score the planner ranks by.
package scorer

import (
	"math"
	"sort"
	"time"

	"github.com/greenfleet-dev/carbon-scheduler/internal/catalog"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

const bytesPerGB = 1e9

// Options carries the default utilization assumptions used when a
// function's declared CPU/GPU utilization is unset.
type Options struct {
	DefaultCPUUtil float64
	DefaultGPUUtil float64
}

// Candidates computes every viable (region, hour) candidate for fn over
// the given horizon and forecast, filtered by allowed_regions and GPU
// availability, then fills in the normalized composite score.
func Candidates(fn model.FunctionMetadata, cat *catalog.Catalog, cf model.CarbonForecast, horizonStart time.Time, horizonHours int, opts Options) []model.CandidateScore {
	var raw []model.CandidateScore

	for _, region := range fn.AllowedRegions {
		entry, ok := cat.Region(region)
		if !ok {
			continue
		}
		if fn.GPURequired && !entry.HasGPU {
			continue
		}

		zone, ok := cat.ZoneOf(region)
		if !ok {
			continue
		}
		zf, ok := cf.Zones[zone]
		if !ok {
			continue
		}

		energy := energyKWh(fn, entry, opts)
		transferCost := transferCostUSD(fn, cat, region)

		for i, hp := range zf.Hours {
			if i >= horizonHours {
				break
			}
			if hp.HourStartUTC.Before(horizonStart) {
				continue
			}
			hourOffset := hp.HourStartUTC.Sub(horizonStart).Hours()
			if hourOffset >= float64(horizonHours) {
				continue
			}

			emissions := energy * hp.GCO2PerKWh
			latencyPenalty := fn.Weights.Latency * math.Max(0, hourOffset) / fn.DeadlineHoursOrDefault()

			raw = append(raw, model.CandidateScore{
				FunctionID:      fn.FunctionID,
				Region:          region,
				HourStartUTC:    hp.HourStartUTC,
				EnergyKWh:       energy,
				EmissionsG:      emissions,
				TransferCostUSD: transferCost,
				LatencyPenalty:  latencyPenalty,
			})
		}
	}

	normalizeAndScore(raw, fn.Weights)
	return raw
}

// energyKWh implements the energy(f,r) formula: compute power plus
// memory power plus GPU power, scaled by runtime and PUE, plus the
// network transfer energy for input/output bytes.
func energyKWh(fn model.FunctionMetadata, entry model.RegionCatalogEntry, opts Options) float64 {
	cpuUtil := opts.DefaultCPUUtil
	if fn.MeasuredCPUUtil != nil {
		cpuUtil = *fn.MeasuredCPUUtil
	}
	gpuUtil := opts.DefaultGPUUtil

	cpuPower := fn.VCPUs * (entry.CPUMinW + cpuUtil*(entry.CPUMaxW-entry.CPUMinW))
	memGiB := float64(fn.MemoryMiB) / 1024.0
	memPower := memGiB * entry.MemWPerGiB

	gpuPower := 0.0
	if fn.GPURequired && entry.GPUMinW != nil && entry.GPUMaxW != nil {
		gpuPower = *entry.GPUMinW + gpuUtil*(*entry.GPUMaxW-*entry.GPUMinW)
	}

	runtimeHours := float64(fn.RuntimeMS) / 1000.0 / 3600.0
	computeEnergy := (cpuPower + memPower + gpuPower) * runtimeHours * entry.PUE / 1000.0 // W*h -> kWh

	bytesTotal := float64(fn.InputBytes + fn.OutputBytes)
	networkEnergy := (bytesTotal / bytesPerGB) * entry.NetworkKWhPerGB

	return computeEnergy + networkEnergy
}

// transferCostUSD implements the transfer_cost(f,r) formula: output
// bytes times the egress rate from the function's source region.
func transferCostUSD(fn model.FunctionMetadata, cat *catalog.Catalog, region string) float64 {
	rate, ok := cat.EgressRate(region, fn.SourceRegion)
	if !ok {
		return 0
	}
	return (float64(fn.OutputBytes) / bytesPerGB) * rate
}

// normalizeAndScore min-max normalizes emissions, cost and latency
// penalty across the candidate set for one function/horizon, then
// computes the weighted composite score to minimize. When a dimension
// has zero spread, its normalized value is 0 for every candidate so it
// cannot dominate the composite by division noise.
func normalizeAndScore(candidates []model.CandidateScore, w model.Weights) {
	if len(candidates) == 0 {
		return
	}

	minMax := func(get func(model.CandidateScore) float64) (float64, float64) {
		min, max := get(candidates[0]), get(candidates[0])
		for _, c := range candidates[1:] {
			v := get(c)
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		return min, max
	}

	eMin, eMax := minMax(func(c model.CandidateScore) float64 { return c.EmissionsG })
	cMin, cMax := minMax(func(c model.CandidateScore) float64 { return c.TransferCostUSD })
	lMin, lMax := minMax(func(c model.CandidateScore) float64 { return c.LatencyPenalty })

	norm := func(v, min, max float64) float64 {
		if max-min < 1e-12 {
			return 0
		}
		return (v - min) / (max - min)
	}

	for i := range candidates {
		e := norm(candidates[i].EmissionsG, eMin, eMax)
		c := norm(candidates[i].TransferCostUSD, cMin, cMax)
		l := norm(candidates[i].LatencyPenalty, lMin, lMax)
		candidates[i].Composite = w.Carbon*e + w.Cost*c + w.Latency*l
	}
}

// SortForRanking orders candidates ascending by composite score, then
// breaks ties by earlier hour, then lower egress, then lexicographic
// region key.
func SortForRanking(candidates []model.CandidateScore) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Composite != b.Composite {
			return a.Composite < b.Composite
		}
		if !a.HourStartUTC.Equal(b.HourStartUTC) {
			return a.HourStartUTC.Before(b.HourStartUTC)
		}
		if a.TransferCostUSD != b.TransferCostUSD {
			return a.TransferCostUSD < b.TransferCostUSD
		}
		return a.Region < b.Region
	})
}
