// Package main runs the background frame check worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/aura-classroom/backend/config"
	"github.com/aura-classroom/backend/internal/proctoring"
	"github.com/aura-classroom/backend/internal/realtime"
	"github.com/aura-classroom/backend/internal/worker"
	"github.com/aura-classroom/backend/pkg/database"
	"github.com/aura-classroom/backend/pkg/logger"
	"github.com/aura-classroom/backend/pkg/metrics"
	"github.com/aura-classroom/backend/pkg/queue"
	"github.com/aura-classroom/backend/pkg/redis"
	"github.com/aura-classroom/backend/pkg/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{}).Fatal("load config", zap.Error(err))
	}
	log := logger.New(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	defer log.Sync()

	metrics.Init()

	if cfg.Store.Driver != "postgres" {
		log.Fatal("worker requires STORE_DRIVER=postgres")
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), log)
	if err != nil {
		log.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
	if err != nil {
		log.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		Endpoint:        cfg.AWS.Endpoint,
		FramesBucket:    cfg.AWS.FramesBucket,
	}, log)
	if err != nil {
		log.Fatal("s3", zap.Error(err))
	}

	// Alerts raised here reach tutors through the server instances' Redis subscriptions.
	bridge := realtime.NewRedisPubSub(rdb.Client, log)
	notifier := realtime.NewRouter(log, bridge, nil)

	jobQueue := queue.NewQueue(rdb.Client, log)
	detector := proctoring.NewHTTPDetector(cfg.Detector.URL, time.Duration(cfg.Detector.TimeoutSec)*time.Second)
	engine := proctoring.NewEngine(proctoring.NewRepository(pool), notifier, log,
		proctoring.WithDetector(detector),
		proctoring.WithFrameQueue(s3Client, jobQueue))
	processor := worker.NewFrameCheckProcessor(engine, s3Client, jobQueue, log)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go processor.Run(workerCtx)
	log.Info("frame check worker started", zap.String("detector", cfg.Detector.URL))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	log.Info("worker stopped")
}
