package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/storage"
)

// Lifecycle is the slice of the worker service the processor needs.
type Lifecycle interface {
	ReportProgress(ctx context.Context, id uuid.UUID, progress int) error
	ReportCompletion(ctx context.Context, id uuid.UUID, res repository.CompletionResult) (*entity.ExportJob, error)
	ReportFailure(ctx context.Context, id uuid.UUID, msg string, details json.RawMessage) (*entity.ExportJob, error)
}

type Processor struct {
	lifecycle Lifecycle
	store     storage.ArtifactStore
	renderer  Renderer
}

func NewProcessor(lifecycle Lifecycle, store storage.ArtifactStore, renderer Renderer) *Processor {
	return &Processor{lifecycle: lifecycle, store: store, renderer: renderer}
}

// Process drives one claimed job from processing to a terminal state.
// Progress reports double as the cooperative cancellation check: once the job
// leaves processing (user cancel, stuck reset), the report is rejected and
// the in-flight work is discarded.
func (p *Processor) Process(ctx context.Context, job *entity.ExportJob) error {
	start := time.Now()

	if err := p.lifecycle.ReportProgress(ctx, job.ID, 10); err != nil {
		return p.abandoned(ctx, job.ID, "before render", err)
	}

	result, err := p.renderer.Render(ctx, job)
	if err != nil {
		details, _ := json.Marshal(map[string]string{"stage": "render"})
		if _, failErr := p.lifecycle.ReportFailure(ctx, job.ID, err.Error(), details); failErr != nil {
			slog.ErrorContext(ctx, "failed to record render failure",
				"job_id", job.ID, "error", failErr)
		}
		return err
	}

	if err := p.lifecycle.ReportProgress(ctx, job.ID, 80); err != nil {
		return p.abandoned(ctx, job.ID, "after render", err)
	}

	key := artifactKey(job, result.FileName)
	if err := p.store.Put(ctx, key, result.Body, result.Size, result.MimeType); err != nil {
		details, _ := json.Marshal(map[string]string{"stage": "upload"})
		if _, failErr := p.lifecycle.ReportFailure(ctx, job.ID, err.Error(), details); failErr != nil {
			slog.ErrorContext(ctx, "failed to record upload failure",
				"job_id", job.ID, "error", failErr)
		}
		return err
	}

	_, err = p.lifecycle.ReportCompletion(ctx, job.ID, repository.CompletionResult{
		FilePath:         key,
		FileName:         result.FileName,
		FileSize:         result.Size,
		MimeType:         result.MimeType,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
	if err != nil {
		// job was cancelled between upload and completion: the row will never
		// reference the artifact, so remove it here
		var transition *service.InvalidTransitionError
		if errors.As(err, &transition) || errors.Is(err, service.ErrNotFound) {
			if delErr := p.store.Delete(ctx, key); delErr != nil {
				slog.ErrorContext(ctx, "orphaned artifact cleanup failed",
					"job_id", job.ID, "key", key, "error", delErr)
			}
			return p.abandoned(ctx, job.ID, "at completion", err)
		}
		return err
	}
	return nil
}

func (p *Processor) abandoned(ctx context.Context, id uuid.UUID, stage string, err error) error {
	var transition *service.InvalidTransitionError
	if errors.As(err, &transition) || errors.Is(err, service.ErrNotFound) {
		slog.InfoContext(ctx, "job left processing, discarding work",
			"job_id", id, "stage", stage)
		return nil
	}
	return err
}

func artifactKey(job *entity.ExportJob, fileName string) string {
	return fmt.Sprintf("exports/%s/%s/%s", job.UserID, job.ID, fileName)
}
