// Package registry implements C2: loading the registry document of
// function descriptors from the bucket at the start of each planning
// cycle. Each descriptor is either already structured or free text,
// the latter handled by internal/normalizer.
package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

// Descriptor is one entry of the registry document: either Structured is
// populated, or FreeText is, never both.
type Descriptor struct {
	FunctionID string                  `json:"function_id"`
	FreeText   string                  `json:"free_text,omitempty"`
	Structured *model.FunctionMetadata `json:"structured,omitempty"`
}

// Document is the full registry document stored at function_metadata.json.
type Document struct {
	Functions []Descriptor `json:"functions"`
}

// Load fetches and parses the registry document. A missing or malformed
// document is a configuration error: fatal to the calling
// planning cycle.
func Load(ctx context.Context, store *bucket.Store) (*Document, error) {
	body, err := store.Get(ctx, bucket.FunctionMetadataKey)
	if err != nil {
		return nil, fmt.Errorf("registry: load: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("registry: malformed function_metadata.json: %w", err)
	}
	return &doc, nil
}
