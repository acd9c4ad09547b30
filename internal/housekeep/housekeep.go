// Package housekeep implements a supplemented bucket-hygiene sweep: purge
// dated carbon-forecast snapshots older than 7 days, schedule objects
// whose generated_at_utc is older than 24 hours, and deployments left
// behind for functions that have since been removed from the registry.
// It never produces or mutates a schedule; it only deletes stale objects
// the planner and dispatcher have already superseded.
package housekeep

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/deployer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/registry"
)

const (
	forecastSnapshotPrefix = "carbon_forecasts_"
	forecastMaxAge         = 7 * 24 * time.Hour
	scheduleMaxAge         = 24 * time.Hour
)

// Sweeper purges stale bucket objects on a cadence. deployerClient is
// optional: when nil, retired-function deployments are left in place and
// only their schedule/forecast objects are swept.
type Sweeper struct {
	store          *bucket.Store
	deployerClient *deployer.Client
	logger         *zap.Logger
}

// New constructs a Sweeper. deployerClient may be nil.
func New(store *bucket.Store, deployerClient *deployer.Client, logger *zap.Logger) *Sweeper {
	return &Sweeper{store: store, deployerClient: deployerClient, logger: logger}
}

// Result summarizes one sweep pass.
type Result struct {
	ForecastsDeleted    int
	SchedulesDeleted    int
	DeploymentsTornDown int
}

// Run performs one sweep pass.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Result, error) {
	var result Result

	forecastKeys, err := s.store.List(ctx, forecastSnapshotPrefix)
	if err != nil {
		return result, fmt.Errorf("housekeep: list forecast snapshots: %w", err)
	}
	for _, key := range forecastKeys {
		date, ok := dateFromForecastKey(key)
		if !ok {
			continue
		}
		if now.Sub(date) > forecastMaxAge {
			if err := s.store.Delete(ctx, key); err != nil {
				s.logger.Warn("housekeep: failed to delete stale forecast snapshot", zap.String("key", key), zap.Error(err))
				continue
			}
			result.ForecastsDeleted++
		}
	}

	liveFunctions := s.loadLiveFunctionSet(ctx)

	scheduleKeys, err := s.store.List(ctx, "schedule_")
	if err != nil {
		return result, fmt.Errorf("housekeep: list schedules: %w", err)
	}
	for _, key := range scheduleKeys {
		body, err := s.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var sched model.Schedule
		if err := json.Unmarshal(body, &sched); err != nil {
			continue
		}

		if liveFunctions != nil {
			if _, live := liveFunctions[sched.FunctionID]; !live {
				result.DeploymentsTornDown += s.tearDownDeployments(ctx, sched)
			}
		}

		if now.Sub(sched.GeneratedAtUTC) > scheduleMaxAge {
			if err := s.store.Delete(ctx, key); err != nil {
				s.logger.Warn("housekeep: failed to delete stale schedule", zap.String("key", key), zap.Error(err))
				continue
			}
			result.SchedulesDeleted++
		}
	}

	s.logger.Info("housekeep: sweep complete",
		zap.Int("forecasts_deleted", result.ForecastsDeleted),
		zap.Int("schedules_deleted", result.SchedulesDeleted),
		zap.Int("deployments_torn_down", result.DeploymentsTornDown))
	return result, nil
}

// loadLiveFunctionSet returns the set of function ids currently in the
// registry, or nil if the registry or deployer client isn't available,
// in which case retired-deployment teardown is skipped entirely rather
// than risk deleting deployments for functions that simply failed to
// load this pass.
func (s *Sweeper) loadLiveFunctionSet(ctx context.Context) map[string]struct{} {
	if s.deployerClient == nil {
		return nil
	}
	doc, err := registry.Load(ctx, s.store)
	if err != nil {
		s.logger.Warn("housekeep: could not load registry, skipping deployment teardown this pass", zap.Error(err))
		return nil
	}
	live := make(map[string]struct{}, len(doc.Functions))
	for _, d := range doc.Functions {
		live[d.FunctionID] = struct{}{}
	}
	return live
}

// tearDownDeployments deletes every region deployment recorded for a
// schedule whose function no longer exists in the registry.
func (s *Sweeper) tearDownDeployments(ctx context.Context, sched model.Schedule) int {
	torn := 0
	for region := range sched.Deployment {
		_, err := deployer.WithRetry(ctx, s.logger, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.deployerClient.Delete(ctx, deployer.DeleteParams{FunctionID: sched.FunctionID, Region: region})
		})
		if err != nil {
			s.logger.Warn("housekeep: failed to tear down retired function's deployment",
				zap.String("function_id", sched.FunctionID), zap.String("region", region), zap.Error(err))
			continue
		}
		torn++
	}
	return torn
}

func dateFromForecastKey(key string) (time.Time, bool) {
	if !strings.HasPrefix(key, forecastSnapshotPrefix) || !strings.HasSuffix(key, ".json") {
		return time.Time{}, false
	}
	dateStr := strings.TrimSuffix(strings.TrimPrefix(key, forecastSnapshotPrefix), ".json")
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return time.Time{}, false
	}
	return date, true
}
