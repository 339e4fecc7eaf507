package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/config"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository/postgresql"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/storage/s3"
	httptransport "github.com/Webictbyleo/iamgickpro-sub001/internal/transport/http"
)

// @title Export Queue API
// @version 1.0
// @description Asynchronous design-export job queue: submit, track, cancel, retry and download exports.
// @BasePath /
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

	jobSvc := service.NewJobService(repo, store, queue, nil,
		cfg.Export.MaxRetries, cfg.Export.DownloadTTL)
	statsSvc := service.NewStatsService(repo, cfg.Export.HealthWindow, service.HealthThresholds{
		Fair: cfg.Export.HealthFair,
		Poor: cfg.Export.HealthPoor,
	})
	reclaimer := service.NewReclaimer(repo, store,
		cfg.Export.StuckThreshold, cfg.Export.MaxRetries,
		cfg.Export.ArtifactTTL, cfg.Export.SweepInterval)

	handler := httptransport.NewHandler(jobSvc, statsSvc, reclaimer)
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: httptransport.Routes(handler),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reclaimer.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
