// Command control-plane hosts the gin HTTP surface for driving and
// inspecting planning cycles: /health, /run, /submit.
package main

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/catalog"
	"github.com/greenfleet-dev/carbon-scheduler/internal/config"
	"github.com/greenfleet-dev/carbon-scheduler/internal/controlplane"
	"github.com/greenfleet-dev/carbon-scheduler/internal/deployer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/logging"
	"github.com/greenfleet-dev/carbon-scheduler/internal/normalizer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/oracle"
	"github.com/greenfleet-dev/carbon-scheduler/internal/planner"
	"github.com/greenfleet-dev/carbon-scheduler/internal/telemetry"
)

func main() {
	logger, err := logging.New("control-plane")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load("control-plane")
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
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

	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		logger.Fatal("dial temporal", zap.Error(err))
	}
	defer temporalClient.Close()

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

	deterministic := planner.DeterministicRanker{TopN: cfg.Planner.TopN}
	var ranker planner.Ranker = deterministic
	if cfg.Planner.UseOracleRanking {
		ranker = planner.OracleRanker{Oracle: resilientOracle, TopN: cfg.Planner.TopN, Fallback: deterministic, Logger: logger}
	}

	var deployOrchestrator *deployer.Orchestrator
	if cfg.Deployer.Endpoint != "" {
		deployClient := deployer.New(cfg.Deployer.Endpoint, cfg.Deployer.Token, 0)
		deployOrchestrator = deployer.NewOrchestrator(deployClient, cfg.Planner.DeploymentTopM, logger)
	}

	sink := telemetry.NewSink(logger, 2000)

	server := controlplane.New(cfg, store, temporalClient, norm, ranker, deployOrchestrator, sink, logger)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("starting control-plane", zap.String("addr", addr))
	if err := server.Router().Run(addr); err != nil {
		logger.Fatal("server run", zap.Error(err))
	}
}
