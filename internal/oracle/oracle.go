// Package oracle wraps an LLM ranking/extraction provider (accepts a
// prompt+schema, returns JSON obeying the schema) behind a single
// interface with two concrete backends: AWS Bedrock (Claude), patterned
// on services/llm-router/main.go's callAWSBedrock, and OpenAI-compatible,
// using the sashabaranov/go-openai dependency also found in
// packages/llm-router's go.mod. Resilient (resilient.go) wraps either
// backend in retry-with-backoff and a circuit breaker; cmd/planner-worker
// and cmd/control-plane build that wrapper.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExtractionRequest asks the oracle to turn free text into a structured
// FunctionMetadata-shaped record.
type ExtractionRequest struct {
	Text           string   `json:"text"`
	AllowedRegions []string `json:"allowed_regions_catalog"`
}

// ExtractionResult is the oracle's structured answer to an
// ExtractionRequest.
type ExtractionResult struct {
	Record struct {
		RuntimeMS         int64    `json:"runtime_ms"`
		MemoryMiB         int64    `json:"memory_mib"`
		VCPUs             float64  `json:"vcpus"`
		GPURequired       bool     `json:"gpu_required"`
		GPUType           string   `json:"gpu_type,omitempty"`
		InputBytes        int64    `json:"input_bytes"`
		OutputBytes       int64    `json:"output_bytes"`
		SourceRegion      string   `json:"source_region"`
		InvocationsPerDay float64  `json:"invocations_per_day"`
		AllowedRegions    []string `json:"allowed_regions"`
		Weights           struct {
			Carbon  float64 `json:"carbon"`
			Cost    float64 `json:"cost"`
			Latency float64 `json:"latency"`
		} `json:"weights"`
		DeadlineHours float64 `json:"deadline_hours"`
	} `json:"record"`
	Confidence  float64  `json:"confidence"`
	Assumptions []string `json:"assumptions"`
	Warnings    []string `json:"warnings"`
}

// RankingRequest asks the oracle to permute a function's candidate slots.
type RankingRequest struct {
	FunctionID     string              `json:"function_id"`
	Weights        [3]float64          `json:"weights"` // carbon, cost, latency
	AllowedRegions []string            `json:"allowed_regions"`
	RequiresGPU    bool                `json:"requires_gpu"`
	Candidates     []RankingCandidate  `json:"candidates"`
}

// RankingCandidate is one (region, hour) input to the ranking oracle.
type RankingCandidate struct {
	Index        int     `json:"index"`
	Region       string  `json:"region"`
	HourStartUTC string  `json:"hour_start_utc"`
	Emissions    float64 `json:"emissions_g"`
	Cost         float64 `json:"cost_usd"`
	Latency      float64 `json:"latency_penalty"`
}

// RankingResult is the oracle's proposed ordering.
type RankingResult struct {
	Order      []int    `json:"order"` // permutation of candidate indices, priority 1 first
	Rationales []string `json:"rationales"`
}

// Oracle is the black-box ranking/extraction collaborator.
type Oracle interface {
	Extract(ctx context.Context, req ExtractionRequest) (*ExtractionResult, error)
	Rank(ctx context.Context, req RankingRequest) (*RankingResult, error)
}

// extractionSchemaPrompt and rankingSchemaPrompt are the strict output
// schemas sent alongside each prompt, so that a conforming model has no
// ambiguity about field names or types.
const extractionSchemaPrompt = `Respond with ONLY a JSON object of this exact shape, no prose:
{"record":{"runtime_ms":int,"memory_mib":int,"vcpus":number,"gpu_required":bool,"gpu_type":string,"input_bytes":int,"output_bytes":int,"source_region":string,"invocations_per_day":number,"allowed_regions":[string],"weights":{"carbon":number,"cost":number,"latency":number},"deadline_hours":number},"confidence":number 0..1,"assumptions":[string],"warnings":[string]}`

const rankingSchemaPrompt = `Respond with ONLY a JSON object of this exact shape, no prose:
{"order":[int,...permutation of the given candidate indices, highest priority first],"rationales":[string,...one per entry in order]}`

// ParseExtraction parses raw oracle output into an ExtractionResult,
// returning an error if it does not conform to the schema.
func ParseExtraction(raw []byte) (*ExtractionResult, error) {
	var out ExtractionResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("oracle: extraction output does not match schema: %w", err)
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return nil, fmt.Errorf("oracle: confidence %v out of [0,1]", out.Confidence)
	}
	return &out, nil
}

// ParseRanking parses raw oracle output into a RankingResult.
func ParseRanking(raw []byte, candidateCount int) (*RankingResult, error) {
	var out RankingResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("oracle: ranking output does not match schema: %w", err)
	}
	if len(out.Order) != candidateCount {
		return nil, fmt.Errorf("oracle: ranking returned %d indices, want %d", len(out.Order), candidateCount)
	}
	seen := make(map[int]struct{}, candidateCount)
	for _, idx := range out.Order {
		if idx < 0 || idx >= candidateCount {
			return nil, fmt.Errorf("oracle: ranking index %d out of range", idx)
		}
		if _, dup := seen[idx]; dup {
			return nil, fmt.Errorf("oracle: ranking index %d repeated", idx)
		}
		seen[idx] = struct{}{}
	}
	return &out, nil
}
