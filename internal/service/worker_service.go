package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
)

// WorkerService is the worker-facing side of the job lifecycle: claim,
// progress, completion, failure. Workers are trusted processes, there is no
// ownership check on this path.
type WorkerService struct {
	repo        Repository
	artifactTTL time.Duration
}

func NewWorkerService(repo Repository, artifactTTL time.Duration) *WorkerService {
	if artifactTTL <= 0 {
		artifactTTL = 7 * 24 * time.Hour
	}
	return &WorkerService{repo: repo, artifactTTL: artifactTTL}
}

// ClaimNext hands out at most one queued job, highest priority first, FIFO
// within a tier. Returns (nil, nil) when the queue is empty.
func (s *WorkerService) ClaimNext(ctx context.Context) (*entity.ExportJob, error) {
	job, err := s.repo.ClaimNext(ctx)
	if err != nil || job == nil {
		return nil, err
	}
	slog.InfoContext(ctx, "export job claimed", "job_id", job.ID, "priority", job.Priority)
	return job, nil
}

func (s *WorkerService) ReportProgress(ctx context.Context, id uuid.UUID, progress int) error {
	if progress < 0 || progress > entity.MaxProgress {
		return &ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	if err := s.repo.UpdateProgress(ctx, id, progress); err != nil {
		return s.transitionErr(ctx, id, "report progress on", err)
	}
	return nil
}

func (s *WorkerService) ReportCompletion(ctx context.Context, id uuid.UUID, res repository.CompletionResult) (*entity.ExportJob, error) {
	if res.FilePath == "" {
		return nil, &ValidationError{Field: "file_path", Reason: "required"}
	}
	if res.FileSize < 0 {
		return nil, &ValidationError{Field: "file_size", Reason: "must not be negative"}
	}

	job, err := s.repo.MarkCompleted(ctx, id, res, s.artifactTTL)
	if err != nil {
		return nil, s.transitionErr(ctx, id, "complete", err)
	}

	slog.InfoContext(ctx, "export job completed",
		"job_id", id, "file_size", res.FileSize, "processing_time_ms", res.ProcessingTimeMs)
	return job, nil
}

func (s *WorkerService) ReportFailure(ctx context.Context, id uuid.UUID, msg string, details json.RawMessage) (*entity.ExportJob, error) {
	if msg == "" {
		msg = "export failed"
	}

	job, err := s.repo.MarkFailed(ctx, id, msg, details, s.artifactTTL)
	if err != nil {
		return nil, s.transitionErr(ctx, id, "fail", err)
	}

	slog.WarnContext(ctx, "export job failed", "job_id", id, "error_message", msg)
	return job, nil
}

func (s *WorkerService) transitionErr(ctx context.Context, id uuid.UUID, event string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	if !errors.Is(err, repository.ErrConflict) {
		return err
	}
	job, getErr := s.repo.GetByID(ctx, id)
	if getErr != nil {
		return ErrNotFound
	}
	return &InvalidTransitionError{Status: job.Status, Event: event}
}
