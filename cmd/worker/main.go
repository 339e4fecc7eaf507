package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/config"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository/postgresql"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/storage/s3"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/worker"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgresql.NewPool(ctx, cfg.Database.Url)
	if err != nil {
		slog.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	store, err := s3.NewArtifactStore(
		cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey,
		cfg.Storage.Bucket, cfg.Storage.UseSSL,
	)
	if err != nil {
		slog.Error("artifact store init failed", "error", err)
		os.Exit(1)
	}

	repo := postgresql.NewJobRepository(pool)
	queue := service.NewRedisWakeQueue(rdb, cfg.Redis.WakeKey)
	workerSvc := service.NewWorkerService(repo, cfg.Export.ArtifactTTL)

	// TODO: swap the stub for the rendering-service client once its API is stable
	processor := worker.NewProcessor(workerSvc, store, &worker.StubRenderer{})
	wpool := worker.NewPool(queue, workerSvc, processor, cfg.Export.Workers)

	slog.Info("export worker started", "workers", cfg.Export.Workers)
	wpool.Run(ctx)
	slog.Info("export worker stopped")
}
