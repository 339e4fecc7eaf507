package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/storage"
)

const expiredBatchSize = 100

// Reclaimer runs the two maintenance sweeps: requeueing jobs whose worker
// went silent and purging expired artifacts. Both passes are idempotent and
// only touch jobs outside the active window, so they are safe to run
// alongside normal processing.
type Reclaimer struct {
	repo           Repository
	store          storage.ArtifactStore
	stuckThreshold time.Duration
	maxRetries     int
	artifactTTL    time.Duration
	interval       time.Duration
}

func NewReclaimer(repo Repository, store storage.ArtifactStore, stuckThreshold time.Duration, maxRetries int, artifactTTL, interval time.Duration) *Reclaimer {
	if stuckThreshold <= 0 {
		stuckThreshold = 30 * time.Minute
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if artifactTTL <= 0 {
		artifactTTL = 7 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Reclaimer{
		repo:           repo,
		store:          store,
		stuckThreshold: stuckThreshold,
		maxRetries:     maxRetries,
		artifactTTL:    artifactTTL,
		interval:       interval,
	}
}

type SweepResult struct {
	StuckReset     int64 `json:"stuck_reset"`
	StuckFailed    int64 `json:"stuck_failed"`
	ExpiredDeleted int64 `json:"expired_deleted"`
}

// RunSweep executes one pass of both sweeps. Storage errors on individual
// expired jobs are logged and the batch continues; the row is kept so the
// next sweep retries the deletion.
func (r *Reclaimer) RunSweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	reset, failed, err := r.repo.ResetStuck(ctx, r.stuckThreshold, r.maxRetries, r.artifactTTL)
	if err != nil {
		return result, err
	}
	result.StuckReset = reset
	result.StuckFailed = failed
	if reset > 0 || failed > 0 {
		slog.InfoContext(ctx, "stuck jobs reclaimed", "reset", reset, "failed", failed)
	}

	for {
		expired, err := r.repo.FindExpired(ctx, time.Now(), expiredBatchSize)
		if err != nil {
			return result, err
		}
		if len(expired) == 0 {
			break
		}

		deletedAny := false
		for _, job := range expired {
			if job.FilePath != nil {
				if err := r.store.Delete(ctx, *job.FilePath); err != nil {
					slog.ErrorContext(ctx, "expired artifact deletion failed, keeping row",
						"job_id", job.ID, "file_path", *job.FilePath, "error", err)
					continue
				}
			}
			if err := r.repo.Delete(ctx, job.ID); err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					slog.ErrorContext(ctx, "expired job row deletion failed",
						"job_id", job.ID, "error", err)
				}
				continue
			}
			result.ExpiredDeleted++
			deletedAny = true
		}

		// every remaining candidate failed to delete; stop instead of spinning
		if !deletedAny {
			break
		}
	}

	if result.ExpiredDeleted > 0 {
		slog.InfoContext(ctx, "expired jobs purged", "deleted", result.ExpiredDeleted)
	}
	return result, nil
}

// Run executes sweeps on a ticker until the context is cancelled.
func (r *Reclaimer) Run(ctx context.Context) {
	slog.InfoContext(ctx, "reclaimer started",
		"interval", r.interval, "stuck_threshold", r.stuckThreshold)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "reclaimer stopped")
			return
		case <-ticker.C:
			if _, err := r.RunSweep(ctx); err != nil {
				slog.ErrorContext(ctx, "reclaim sweep failed", "error", err)
			}
		}
	}
}
