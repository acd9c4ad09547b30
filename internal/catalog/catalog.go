// Package catalog implements C1: the read-only static catalog of
// per-region carbon-zone mapping, egress rates, pricing/power constants
// and GPU availability. It is loaded once at startup from the bucket;
// a load failure is fatal since nothing downstream can plan without it.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

// Catalog provides read-only lookups over the region table.
type Catalog struct {
	entries map[string]model.RegionCatalogEntry
}

// Load fetches static_config.json from store and validates every entry.
func Load(ctx context.Context, store *bucket.Store) (*Catalog, error) {
	body, err := store.Get(ctx, bucket.StaticConfigKey)
	if err != nil {
		return nil, fmt.Errorf("catalog: load: %w", err)
	}

	var raw struct {
		Regions []model.RegionCatalogEntry `json:"regions"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("catalog: malformed static_config.json: %w", err)
	}

	entries := make(map[string]model.RegionCatalogEntry, len(raw.Regions))
	for _, e := range raw.Regions {
		if !e.Valid() {
			return nil, fmt.Errorf("catalog: region %q fails invariants (cpu max>=min, PUE in [1,2], GPU power present when has_gpu)", e.Region)
		}
		entries[e.Region] = e
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("catalog: static_config.json has no regions")
	}

	return &Catalog{entries: entries}, nil
}

// FromEntries builds a Catalog directly from entries, without reading the
// bucket; it is used by tests.
func FromEntries(entries []model.RegionCatalogEntry) (*Catalog, error) {
	c := &Catalog{entries: make(map[string]model.RegionCatalogEntry, len(entries))}
	for _, e := range entries {
		if !e.Valid() {
			return nil, fmt.Errorf("catalog: region %q fails invariants", e.Region)
		}
		c.entries[e.Region] = e
	}
	return c, nil
}

// Region looks up one catalog entry.
func (c *Catalog) Region(region string) (model.RegionCatalogEntry, bool) {
	e, ok := c.entries[region]
	return e, ok
}

// ZoneOf returns the carbon-forecast zone key for region.
func (c *Catalog) ZoneOf(region string) (string, bool) {
	e, ok := c.entries[region]
	if !ok {
		return "", false
	}
	return e.ZoneKey, true
}

// EgressRate returns the USD/GB egress rate from region to toRegion.
func (c *Catalog) EgressRate(fromRegion, toRegion string) (float64, bool) {
	e, ok := c.entries[fromRegion]
	if !ok {
		return 0, false
	}
	rate, ok := e.EgressUSDGB[toRegion]
	return rate, ok
}

// HasGPU reports whether region has GPU hardware.
func (c *Catalog) HasGPU(region string) bool {
	e, ok := c.entries[region]
	return ok && e.HasGPU
}

// KnownRegion reports whether region exists in the catalog.
func (c *Catalog) KnownRegion(region string) bool {
	_, ok := c.entries[region]
	return ok
}

// Regions returns every catalog region key, sorted, for deterministic
// iteration order.
func (c *Catalog) Regions() []string {
	out := make([]string, 0, len(c.entries))
	for r := range c.entries {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}
