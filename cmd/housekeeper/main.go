// Command housekeeper runs the bucket-hygiene sweep on a cron schedule,
// purging carbon-forecast snapshots and schedules past their retention
// window (internal/housekeep). This is a supplemented retention concern:
// object lifecycle rules exist independently of any single request path
// and need their own enforcement process.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/config"
	"github.com/greenfleet-dev/carbon-scheduler/internal/deployer"
	"github.com/greenfleet-dev/carbon-scheduler/internal/housekeep"
	"github.com/greenfleet-dev/carbon-scheduler/internal/logging"
)

func main() {
	logger, err := logging.New("housekeeper")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load("housekeeper")
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	var deployerClient *deployer.Client
	if cfg.Deployer.Endpoint != "" {
		deployerClient = deployer.New(cfg.Deployer.Endpoint, cfg.Deployer.Token, 30*time.Second)
	}

	sweeper := housekeep.New(store, deployerClient, logger)

	c := cron.New()
	_, err = c.AddFunc("@hourly", func() {
		runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if _, err := sweeper.Run(runCtx, time.Now().UTC()); err != nil {
			logger.Error("housekeep sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("schedule sweep", zap.Error(err))
	}

	logger.Info("starting housekeeper")
	c.Start()
	defer c.Stop()

	<-ctx.Done()
	logger.Info("housekeeper shutting down")
}
