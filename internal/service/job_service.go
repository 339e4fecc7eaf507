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
	"github.com/Webictbyleo/iamgickpro-sub001/internal/storage"
)

// Repository is the persistence port (implementations: postgresql, memory).
type Repository interface {
	Create(ctx context.Context, j *entity.ExportJob) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ExportJob, error)
	FindByUser(ctx context.Context, userID uuid.UUID, f repository.ListFilter) ([]*entity.ExportJob, error)
	CountByUser(ctx context.Context, userID uuid.UUID, f repository.ListFilter) (int64, error)
	FindByDesign(ctx context.Context, designID uuid.UUID, limit int) ([]*entity.ExportJob, error)
	FindByFormat(ctx context.Context, format entity.ExportFormat, limit int) ([]*entity.ExportJob, error)
	FindByFileSizeRange(ctx context.Context, min, max int64, limit int) ([]*entity.ExportJob, error)

	ClaimNext(ctx context.Context) (*entity.ExportJob, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error
	MarkCompleted(ctx context.Context, id uuid.UUID, res repository.CompletionResult, ttl time.Duration) (*entity.ExportJob, error)
	MarkFailed(ctx context.Context, id uuid.UUID, msg string, details json.RawMessage, ttl time.Duration) (*entity.ExportJob, error)
	MarkCancelled(ctx context.Context, id uuid.UUID) (*entity.ExportJob, error)
	ResetForRetry(ctx context.Context, id uuid.UUID, maxRetries int) (*entity.ExportJob, error)
	ResetStuck(ctx context.Context, threshold time.Duration, maxRetries int, failTTL time.Duration) (reset, failed int64, err error)
	FindExpired(ctx context.Context, now time.Time, limit int) ([]*entity.ExportJob, error)
	Delete(ctx context.Context, id uuid.UUID) error

	CountByStatus(ctx context.Context, userID uuid.UUID) (map[entity.JobStatus]int64, error)
	FormatBreakdown(ctx context.Context, userID uuid.UUID) (map[entity.ExportFormat]int64, error)
	QueueStats(ctx context.Context, window time.Duration) (repository.QueueStats, error)
}

// Notifier wakes workers after a job enters the queue. Delivery is advisory:
// the authoritative claim happens in the repository, so a lost notification
// only delays pickup until the next poll.
type Notifier interface {
	Enqueue(ctx context.Context, jobID string) error
}

// DesignAccess is the external design collaborator. It decides whether the
// caller may export the given design.
type DesignAccess interface {
	CanExport(ctx context.Context, userID, designID uuid.UUID) error
}

// Caller identifies who is invoking an operation. Authentication itself
// happens upstream; ownership enforcement happens here.
type Caller struct {
	UserID uuid.UUID
	Admin  bool
}

func (c Caller) owns(j *entity.ExportJob) bool {
	return c.Admin || c.UserID == j.UserID
}

type JobService struct {
	repo        Repository
	store       storage.ArtifactStore
	notify      Notifier
	designs     DesignAccess
	maxRetries  int
	downloadTTL time.Duration
}

func NewJobService(repo Repository, store storage.ArtifactStore, notify Notifier, designs DesignAccess, maxRetries int, downloadTTL time.Duration) *JobService {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if downloadTTL <= 0 {
		downloadTTL = 15 * time.Minute
	}
	if notify == nil {
		notify = NopNotifier{}
	}
	return &JobService{
		repo:        repo,
		store:       store,
		notify:      notify,
		designs:     designs,
		maxRetries:  maxRetries,
		downloadTTL: downloadTTL,
	}
}

type CreateJobRequest struct {
	DesignID uuid.UUID
	Format   entity.ExportFormat
	Priority int
	Params   entity.ExportParams
}

func validateCreate(req CreateJobRequest) error {
	if req.DesignID == uuid.Nil {
		return &ValidationError{Field: "design_id", Reason: "required"}
	}
	if !req.Format.Valid() {
		return &ValidationError{Field: "format", Reason: "unknown format"}
	}
	if req.Params.Width < 0 || req.Params.Height < 0 {
		return &ValidationError{Field: "dimensions", Reason: "must not be negative"}
	}
	if req.Params.Quality < 0 || req.Params.Quality > 100 {
		return &ValidationError{Field: "quality", Reason: "must be between 0 and 100"}
	}
	if req.Params.Scale < 0 {
		return &ValidationError{Field: "scale", Reason: "must not be negative"}
	}
	return nil
}

// CreateJob validates parameters, checks design access with the external
// collaborator, persists the job as queued and wakes a worker.
func (s *JobService) CreateJob(ctx context.Context, caller Caller, req CreateJobRequest) (*entity.ExportJob, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if s.designs != nil {
		if err := s.designs.CanExport(ctx, caller.UserID, req.DesignID); err != nil {
			return nil, err
		}
	}

	job := &entity.ExportJob{
		ID:        uuid.New(),
		UserID:    caller.UserID,
		DesignID:  req.DesignID,
		Format:    req.Format,
		Status:    entity.StatusQueued,
		Priority:  req.Priority,
		Params:    req.Params,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, job); err != nil {
		return nil, err
	}

	if err := s.notify.Enqueue(ctx, job.ID.String()); err != nil {
		slog.WarnContext(ctx, "job created but worker notification failed",
			"job_id", job.ID, "error", err)
	}

	slog.InfoContext(ctx, "export job created",
		"job_id", job.ID, "design_id", job.DesignID, "format", job.Format, "priority", job.Priority)
	return job, nil
}

// GetJob collapses missing and inaccessible jobs into the same signal.
func (s *JobService) GetJob(ctx context.Context, caller Caller, id uuid.UUID) (*entity.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !caller.owns(job) {
		return nil, ErrNotFound
	}
	return job, nil
}

// GetDownloadURL returns a short-lived artifact URL. Expired jobs read as
// not found even though the row may still be awaiting cleanup.
func (s *JobService) GetDownloadURL(ctx context.Context, caller Caller, id uuid.UUID) (string, error) {
	job, err := s.GetJob(ctx, caller, id)
	if err != nil {
		return "", err
	}
	if job.Status != entity.StatusCompleted || job.FilePath == nil {
		return "", &InvalidTransitionError{Status: job.Status, Event: "download"}
	}
	if job.Expired(time.Now()) {
		return "", ErrNotFound
	}

	url, err := s.store.PresignedURL(ctx, *job.FilePath, s.downloadTTL)
	if err != nil {
		return "", &StorageError{Op: "presign", Key: *job.FilePath, Err: err}
	}
	return url, nil
}

// ListJobs returns a page of the given user's jobs plus the filtered total.
func (s *JobService) ListJobs(ctx context.Context, caller Caller, userID uuid.UUID, f repository.ListFilter) ([]*entity.ExportJob, int64, error) {
	if !caller.Admin && caller.UserID != userID {
		return nil, 0, ErrAccessDenied
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, &ValidationError{Field: "status", Reason: "unknown status"}
	}
	if f.Format != "" && !f.Format.Valid() {
		return nil, 0, &ValidationError{Field: "format", Reason: "unknown format"}
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	jobs, err := s.repo.FindByUser(ctx, userID, f)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.CountByUser(ctx, userID, f)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// CancelJob is cooperative: a processing job is only marked cancelled, the
// in-flight worker notices on its next status check.
func (s *JobService) CancelJob(ctx context.Context, caller Caller, id uuid.UUID) (*entity.ExportJob, error) {
	job, err := s.mutableJob(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !job.CanCancel() {
		return nil, &InvalidTransitionError{Status: job.Status, Event: "cancel"}
	}

	cancelled, err := s.repo.MarkCancelled(ctx, id)
	if err != nil {
		return nil, s.transitionErr(ctx, id, "cancel", err)
	}
	slog.InfoContext(ctx, "export job cancelled", "job_id", id, "was", job.Status)
	return cancelled, nil
}

// RetryJob re-enters a failed job at queued, bumping its retry count.
func (s *JobService) RetryJob(ctx context.Context, caller Caller, id uuid.UUID) (*entity.ExportJob, error) {
	job, err := s.mutableJob(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if !job.CanRetry() {
		return nil, &InvalidTransitionError{Status: job.Status, Event: "retry"}
	}
	if job.RetryCount >= s.maxRetries {
		return nil, ErrRetryLimitExceeded
	}

	retried, err := s.repo.ResetForRetry(ctx, id, s.maxRetries)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// lost a race with another retry hitting the cap
			return nil, ErrRetryLimitExceeded
		}
		return nil, s.transitionErr(ctx, id, "retry", err)
	}

	if err := s.notify.Enqueue(ctx, id.String()); err != nil {
		slog.WarnContext(ctx, "job retried but worker notification failed",
			"job_id", id, "error", err)
	}

	slog.InfoContext(ctx, "export job retried", "job_id", id, "retry_count", retried.RetryCount)
	return retried, nil
}

// DeleteJob removes the artifact first, then the row. A row without a file is
// harmless and retried by cleanup; an orphaned file would not be.
func (s *JobService) DeleteJob(ctx context.Context, caller Caller, id uuid.UUID) error {
	job, err := s.mutableJob(ctx, caller, id)
	if err != nil {
		return err
	}
	if !job.CanDelete() {
		return &InvalidTransitionError{Status: job.Status, Event: "delete"}
	}

	if job.FilePath != nil {
		if err := s.store.Delete(ctx, *job.FilePath); err != nil {
			return &StorageError{Op: "delete", Key: *job.FilePath, Err: err}
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		// a worker may have claimed the job since the CanDelete check
		return s.transitionErr(ctx, id, "delete", err)
	}

	slog.InfoContext(ctx, "export job deleted", "job_id", id)
	return nil
}

// mutableJob loads a job for a mutating call: unknown ids read as not found,
// foreign ids as access denied.
func (s *JobService) mutableJob(ctx context.Context, caller Caller, id uuid.UUID) (*entity.ExportJob, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !caller.owns(job) {
		return nil, ErrAccessDenied
	}
	return job, nil
}

// transitionErr turns a repository conflict into a typed transition error by
// re-reading the job's current status.
func (s *JobService) transitionErr(ctx context.Context, id uuid.UUID, event string, err error) error {
	if !errors.Is(err, repository.ErrConflict) {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	job, getErr := s.repo.GetByID(ctx, id)
	if getErr != nil {
		return ErrNotFound
	}
	return &InvalidTransitionError{Status: job.Status, Event: event}
}
