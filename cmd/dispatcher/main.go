// Command dispatcher hosts the HTTP surface for routing a function
// invocation to its currently scheduled region: POST /dispatch/<function_id>.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/greenfleet-dev/carbon-scheduler/internal/bucket"
	"github.com/greenfleet-dev/carbon-scheduler/internal/config"
	"github.com/greenfleet-dev/carbon-scheduler/internal/dispatch"
	"github.com/greenfleet-dev/carbon-scheduler/internal/logging"
	"github.com/greenfleet-dev/carbon-scheduler/internal/queue"
	"github.com/greenfleet-dev/carbon-scheduler/internal/telemetry"
)

func main() {
	logger, err := logging.New("dispatcher")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load("dispatcher")
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

	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("parse redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(opt)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis connection failed, idempotency degrades to best-effort", zap.Error(err))
		}
	}

	q := queue.New(cfg.Queue.Endpoint, cfg.Queue.Token, time.Duration(cfg.Planner.ExternalCallTimeoutSec)*time.Second)
	sink := telemetry.NewSink(logger, 2000)

	d := dispatch.New(store, q, redisClient, sink, logger)

	router := d.Router(func(functionID string) float64 {
		return d.DeadlineHours(context.Background(), functionID)
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	logger.Info("starting dispatcher", zap.String("addr", addr))
	if err := router.Run(addr); err != nil {
		logger.Fatal("server run", zap.Error(err))
	}
}
