// Package plancache implements C7: before planning a function, compute
// its cache key (function id, SHA-256 of canonical metadata, horizon
// start date) and reuse an existing schedule when the key matches and
// the schedule is no older than 7 days.
package plancache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
)

const DefaultMaxAge = 7 * 24 * time.Hour

// Cache looks up and stores schedules in the bucket.
type Cache struct {
	store  *bucket.Store
	maxAge time.Duration
}

// New constructs a Cache with the given max schedule age.
func New(store *bucket.Store, maxAge time.Duration) *Cache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Cache{store: store, maxAge: maxAge}
}

// Key computes the plan-cache key for fn at horizonStart.
func Key(fn model.FunctionMetadata, horizonStart time.Time) (model.PlanCacheKey, error) {
	hash, err := fn.MetadataHash()
	if err != nil {
		return model.PlanCacheKey{}, fmt.Errorf("plancache: hash metadata: %w", err)
	}
	return model.PlanCacheKey{
		FunctionID:       fn.FunctionID,
		MetadataHashHex:  hash,
		HorizonStartDate: horizonStart.UTC().Format("2006-01-02"),
	}, nil
}

// Lookup returns the cached schedule for key if one exists, matches, and
// is within maxAge of now. The second return value is false on any cache
// miss (absent, corrupt read, mismatched hash/date, or stale): torn or
// colliding reads degrade to a cache miss rather than surfacing an error.
func (c *Cache) Lookup(ctx context.Context, key model.PlanCacheKey, now time.Time) (*model.Schedule, bool) {
	body, err := c.store.Get(ctx, bucket.ScheduleKey(key.FunctionID))
	if err != nil {
		return nil, false
	}

	var sched model.Schedule
	if err := json.Unmarshal(body, &sched); err != nil {
		return nil, false
	}

	if sched.MetadataHash != key.MetadataHashHex {
		return nil, false
	}
	if sched.HorizonStartUTC.UTC().Format("2006-01-02") != key.HorizonStartDate {
		return nil, false
	}
	if now.Sub(sched.GeneratedAtUTC) > c.maxAge {
		return nil, false
	}

	return &sched, true
}

// Store persists sched atomically, keyed by function id.
func (c *Cache) Store(ctx context.Context, sched model.Schedule) error {
	if err := sched.Valid(); err != nil {
		return fmt.Errorf("plancache: refusing to store invalid schedule: %w", err)
	}
	body, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("plancache: marshal schedule: %w", err)
	}
	return c.store.PutAtomic(ctx, bucket.ScheduleKey(sched.FunctionID), body)
}
