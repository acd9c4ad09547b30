// Command planner-worker hosts the Temporal worker that runs the planning
// cycle workflow: one worker process per replica, following the shape of
// packages/workflows/cmd/worker/main.go.
package main

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/catalog"
	"github.com/greenfleet-dev/carbon-scheduler/internal/config"
	"github.com/greenfleet-dev/carbon-scheduler/internal/deployer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/forecast"
	"github.com/greenfleet-dev/carbon-scheduler/internal/logging"
	"github.com/greenfleet-dev/carbon-scheduler/internal/model"
	"github.com/greenfleet-dev/carbon-scheduler/internal/normalizer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/oracle"
	"github.com/greenfleet-dev/carbon-scheduler/internal/plancache"
	"github.com/greenfleet-dev/carbon-scheduler/internal/planner"
	"github.com/greenfleet-dev/carbon-scheduler/internal/scorer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/telemetry"
	wf "github.com/greenfleet-dev/carbon-scheduler/internal/workflow"
)

func main() {
	logger, err := logging.New("planner-worker")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load("planner-worker")
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	if missing := cfg.RequireSecrets(); len(missing) > 0 {
		logger.Fatal("missing required configuration", zap.Strings("missing", missing))
	}

	ctx := context.Background()

	store, err := bucket.New(ctx, bucket.Config{
		Bucket:    cfg.Bucket.Name,
		Region:    cfg.Bucket.Region,
		Endpoint:  cfg.Bucket.Endpoint,
		AccessKey: cfg.Bucket.AccessKey,
		SecretKey: cfg.Bucket.SecretKey,
	})
	if err != nil {
		logger.Fatal("construct bucket store", zap.Error(err))
	}

	oracleBackend, err := oracle.New(ctx, cfg.Oracle)
	if err != nil {
		logger.Fatal("construct oracle backend", zap.Error(err))
	}
	resilientOracle := oracle.NewResilient(oracleBackend, logger)

	cat, err := catalog.Load(ctx, store)
	if err != nil {
		logger.Fatal("load catalog", zap.Error(err))
	}

	norm := normalizer.New(resilientOracle, cat, cfg.Planner.OracleConfidenceFloor, logger)

	forecastProvider := forecast.WrapResilient(
		forecast.NewHTTPProvider(cfg.Forecast.Endpoint, cfg.Forecast.Token, time.Duration(cfg.Planner.ExternalCallTimeoutSec)*time.Second),
		logger,
	)
	forecastMode := model.ModeForecast
	if cfg.Forecast.Mode == config.ModeHistorical {
		forecastMode = model.ModeHistorical
	}
	fetcher := forecast.New(forecastProvider, store, forecastMode, cfg.Planner.ConcurrencyCap, logger)

	var ranker planner.Ranker
	deterministic := planner.DeterministicRanker{TopN: cfg.Planner.TopN}
	if cfg.Planner.UseOracleRanking {
		ranker = planner.OracleRanker{Oracle: resilientOracle, TopN: cfg.Planner.TopN, Fallback: deterministic, Logger: logger}
	} else {
		ranker = deterministic
	}

	var deployOrchestrator *deployer.Orchestrator
	if cfg.Deployer.Endpoint != "" {
		deployClient := deployer.New(cfg.Deployer.Endpoint, cfg.Deployer.Token, time.Duration(cfg.Planner.ExternalCallTimeoutSec)*time.Second)
		deployOrchestrator = deployer.NewOrchestrator(deployClient, cfg.Planner.DeploymentTopM, logger)
	}

	cache := plancache.New(store, time.Duration(cfg.Planner.CacheMaxAgeDays)*24*time.Hour)
	sink := telemetry.NewSink(logger, 2000)

	activities := &wf.Activities{
		Store:           store,
		Normalizer:      norm,
		Ranker:          ranker,
		Deployer:        deployOrchestrator,
		Sink:            sink,
		Logger:          logger,
		ForecastFetcher: fetcher,
		ForecastZones: func(cat *catalog.Catalog) []string {
			zoneSet := make(map[string]struct{})
			for _, region := range cat.Regions() {
				if zone, ok := cat.ZoneOf(region); ok {
					zoneSet[zone] = struct{}{}
				}
			}
			zones := make([]string, 0, len(zoneSet))
			for z := range zoneSet {
				zones = append(zones, z)
			}
			return zones
		},
		PlanCache: cache,
		ScorerOpts: scorer.Options{
			DefaultCPUUtil: cfg.Planner.DefaultCPUUtil,
			DefaultGPUUtil: cfg.Planner.DefaultGPUUtil,
		},
	}

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer c.Close()

	taskQueue := cfg.Temporal.TaskQueue
	if taskQueue == "" {
		taskQueue = wf.TaskQueue
	}

	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     cfg.Planner.ConcurrencyCap,
		MaxConcurrentWorkflowTaskExecutionSize:  cfg.Planner.ConcurrencyCap,
	})

	w.RegisterWorkflowWithOptions(wf.CycleWorkflow, workflow.RegisterOptions{Name: wf.CycleWorkflowName})
	w.RegisterWorkflowWithOptions(wf.FunctionWorkflow, workflow.RegisterOptions{Name: wf.FunctionWorkflowName})
	w.RegisterActivity(activities.LoadCatalogActivity)
	w.RegisterActivity(activities.LoadRegistryActivity)
	w.RegisterActivity(activities.FetchForecastActivity)
	w.RegisterActivity(activities.NormalizeFunctionActivity)
	w.RegisterActivity(activities.CacheLookupActivity)
	w.RegisterActivity(activities.ScoreAndRankActivity)

	logger.Info("starting planner-worker", zap.String("task_queue", taskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Fatal("worker run", zap.Error(err))
	}
}
