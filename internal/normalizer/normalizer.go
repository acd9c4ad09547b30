// Package normalizer implements C3: turning a registry.Descriptor into a
// canonical model.FunctionMetadata, invoking the LLM oracle for free-text
// descriptions and validating the invariants requires of every
// FunctionMetadata record before it reaches the planner.
package normalizer

import (
	"context"
	"fmt"

	"github.com/greenfleet-dev/carbon-scheduler/internal/catalog"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/oracle"
	"github.com/greenfleet-dev/carbon-scheduler/internal/registry"
	"go.uber.org/zap"
)

// Rejection explains why a descriptor could not be normalized this cycle;
// the caller logs it and skips the function without aborting the cycle.
type Rejection struct {
	FunctionID string
	Reason     string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("normalizer: function %s rejected: %s", r.FunctionID, r.Reason)
}

// Normalizer turns descriptors into canonical metadata.
type Normalizer struct {
	oracle          oracle.Oracle
	catalog         *catalog.Catalog
	confidenceFloor float64
	logger          *zap.Logger
}

// New constructs a Normalizer.
func New(o oracle.Oracle, cat *catalog.Catalog, confidenceFloor float64, logger *zap.Logger) *Normalizer {
	if confidenceFloor <= 0 {
		confidenceFloor = 0.5
	}
	return &Normalizer{oracle: o, catalog: cat, confidenceFloor: confidenceFloor, logger: logger}
}

// Normalize returns the canonical metadata for one descriptor, or a
// *Rejection if the function should be skipped this cycle.
func (n *Normalizer) Normalize(ctx context.Context, d registry.Descriptor) (*model.FunctionMetadata, error) {
	var meta model.FunctionMetadata

	switch {
	case d.Structured != nil:
		meta = *d.Structured
		meta.FunctionID = d.FunctionID

	case d.FreeText != "":
		extracted, err := n.extractFromText(ctx, d.FunctionID, d.FreeText)
		if err != nil {
			return nil, err
		}
		meta = *extracted

	default:
		return nil, &Rejection{FunctionID: d.FunctionID, Reason: "descriptor has neither structured record nor free text"}
	}

	if err := n.validate(meta); err != nil {
		return nil, &Rejection{FunctionID: d.FunctionID, Reason: err.Error()}
	}
	return &meta, nil
}

func (n *Normalizer) extractFromText(ctx context.Context, functionID, text string) (*model.FunctionMetadata, error) {
	result, err := n.oracle.Extract(ctx, oracle.ExtractionRequest{
		Text:           text,
		AllowedRegions: n.catalog.Regions(),
	})
	if err != nil {
		return nil, fmt.Errorf("normalizer: oracle extraction failed for %s: %w", functionID, err)
	}

	if result.Confidence < n.confidenceFloor {
		return nil, &Rejection{
			FunctionID: functionID,
			Reason:     fmt.Sprintf("oracle extraction confidence %.2f below floor %.2f", result.Confidence, n.confidenceFloor),
		}
	}

	if n.logger != nil && len(result.Assumptions) > 0 {
		n.logger.Info("normalizer: oracle extraction made assumptions",
			zap.String("function_id", functionID),
			zap.Strings("assumptions", result.Assumptions),
			zap.Strings("warnings", result.Warnings),
		)
	}

	rec := result.Record
	return &model.FunctionMetadata{
		FunctionID:        functionID,
		RuntimeMS:         rec.RuntimeMS,
		MemoryMiB:         rec.MemoryMiB,
		VCPUs:             rec.VCPUs,
		GPURequired:       rec.GPURequired,
		GPUType:           model.GPUType(rec.GPUType),
		InputBytes:        rec.InputBytes,
		OutputBytes:       rec.OutputBytes,
		SourceRegion:      rec.SourceRegion,
		InvocationsPerDay: rec.InvocationsPerDay,
		AllowedRegions:    rec.AllowedRegions,
		Weights: model.Weights{
			Carbon:  rec.Weights.Carbon,
			Cost:    rec.Weights.Cost,
			Latency: rec.Weights.Latency,
		},
		DeadlineHours: rec.DeadlineHours,
	}, nil
}

// validate enforces the FunctionMetadata invariants: allowed regions is
// a nonempty subset of catalog regions; if GPU is
// required, at least one allowed region has GPU; weights are nonnegative
// with at least one positive, summing to 1.
func (n *Normalizer) validate(m model.FunctionMetadata) error {
	if len(m.AllowedRegions) == 0 {
		return fmt.Errorf("allowed_regions is empty")
	}
	hasGPURegion := false
	for _, r := range m.AllowedRegions {
		if !n.catalog.KnownRegion(r) {
			return fmt.Errorf("allowed region %q is not a known catalog region", r)
		}
		if n.catalog.HasGPU(r) {
			hasGPURegion = true
		}
	}
	if m.GPURequired && !hasGPURegion {
		return fmt.Errorf("gpu_required but no allowed region has GPU capacity")
	}
	if !m.Weights.Valid() {
		return fmt.Errorf("weights must be nonnegative, sum to 1, and have at least one positive component")
	}
	return nil
}
