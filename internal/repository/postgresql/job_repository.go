package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
)

const jobColumns = `
id, user_id, design_id, format, status, priority, progress,
quality, width, height, scale, transparent, background_color, animation_settings,
retry_count, error_message, error_details,
file_path, file_name, file_size, mime_type, processing_time_ms,
created_at, started_at, completed_at, failed_at, expires_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func scanJob(row pgx.Row) (*entity.ExportJob, error) {
	var (
		j          entity.ExportJob
		statusText string
		formatText string
		animBytes  []byte
		errDetails []byte
	)

	err := row.Scan(
		&j.ID,
		&j.UserID,
		&j.DesignID,
		&formatText,
		&statusText,
		&j.Priority,
		&j.Progress,
		&j.Params.Quality,
		&j.Params.Width,
		&j.Params.Height,
		&j.Params.Scale,
		&j.Params.Transparent,
		&j.Params.BackgroundColor,
		&animBytes,
		&j.RetryCount,
		&j.ErrorMessage,
		&errDetails,
		&j.FilePath,
		&j.FileName,
		&j.FileSize,
		&j.MimeType,
		&j.ProcessingTimeMs,
		&j.CreatedAt,
		&j.StartedAt,
		&j.CompletedAt,
		&j.FailedAt,
		&j.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	j.Status = entity.JobStatus(statusText)
	j.Format = entity.ExportFormat(formatText)
	if animBytes != nil {
		j.Params.AnimationSettings = json.RawMessage(animBytes)
	}
	if errDetails != nil {
		j.ErrorDetails = json.RawMessage(errDetails)
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*entity.ExportJob, error) {
	defer rows.Close()

	var jobs []*entity.ExportJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *JobRepository) Create(ctx context.Context, j *entity.ExportJob) error {
	anim := j.Params.AnimationSettings
	if len(anim) == 0 {
		anim = nil
	}

	const q = `
INSERT INTO export_jobs
	(id, user_id, design_id, format, status, priority, progress,
	 quality, width, height, scale, transparent, background_color, animation_settings,
	 retry_count, created_at)
VALUES ($1, $2, $3, $4, 'queued', $5, 0, $6, $7, $8, $9, $10, $11, $12, 0, $13)
RETURNING created_at;
`
	return r.pool.QueryRow(ctx, q,
		j.ID, j.UserID, j.DesignID, string(j.Format), j.Priority,
		j.Params.Quality, j.Params.Width, j.Params.Height, j.Params.Scale,
		j.Params.Transparent, j.Params.BackgroundColor, anim,
		j.CreatedAt,
	).Scan(&j.CreatedAt)
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.ExportJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM export_jobs WHERE id = $1;`
	return scanJob(r.pool.QueryRow(ctx, q, id))
}

func (r *JobRepository) FindByUser(ctx context.Context, userID uuid.UUID, f repository.ListFilter) ([]*entity.ExportJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM export_jobs
WHERE user_id = $1
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR format = $3)
ORDER BY created_at DESC
LIMIT $4 OFFSET $5;
`
	rows, err := r.pool.Query(ctx, q, userID, string(f.Status), string(f.Format), f.Limit, f.Offset())
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (r *JobRepository) CountByUser(ctx context.Context, userID uuid.UUID, f repository.ListFilter) (int64, error) {
	const q = `
SELECT count(*)
FROM export_jobs
WHERE user_id = $1
  AND ($2 = '' OR status = $2)
  AND ($3 = '' OR format = $3);
`
	var n int64
	err := r.pool.QueryRow(ctx, q, userID, string(f.Status), string(f.Format)).Scan(&n)
	return n, err
}

func (r *JobRepository) FindByDesign(ctx context.Context, designID uuid.UUID, limit int) ([]*entity.ExportJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM export_jobs
WHERE design_id = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, designID, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (r *JobRepository) FindByFormat(ctx context.Context, format entity.ExportFormat, limit int) ([]*entity.ExportJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM export_jobs
WHERE format = $1
ORDER BY created_at DESC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, string(format), limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

func (r *JobRepository) FindByFileSizeRange(ctx context.Context, min, max int64, limit int) ([]*entity.ExportJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM export_jobs
WHERE file_size IS NOT NULL AND file_size >= $1 AND file_size <= $2
ORDER BY file_size DESC
LIMIT $3;
`
	rows, err := r.pool.Query(ctx, q, min, max, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// ClaimNext atomically moves the best queued candidate to processing.
// FOR UPDATE SKIP LOCKED keeps two workers from claiming the same row.
// Returns (nil, nil) when the queue is empty.
func (r *JobRepository) ClaimNext(ctx context.Context) (*entity.ExportJob, error) {
	const q = `
UPDATE export_jobs
SET status = 'processing', started_at = now()
WHERE id = (
	SELECT id FROM export_jobs
	WHERE status = 'queued'
	ORDER BY priority DESC, created_at ASC
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return j, err
}

func (r *JobRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int) error {
	const q = `UPDATE export_jobs SET progress = $2 WHERE id = $1 AND status = 'processing';`

	tag, err := r.pool.Exec(ctx, q, id, progress)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id uuid.UUID, res repository.CompletionResult, ttl time.Duration) (*entity.ExportJob, error) {
	const q = `
UPDATE export_jobs
SET status = 'completed',
    progress = 100,
    file_path = $2,
    file_name = $3,
    file_size = $4,
    mime_type = $5,
    processing_time_ms = $6,
    completed_at = now(),
    expires_at = now() + make_interval(secs => $7)
WHERE id = $1 AND status = 'processing'
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id,
		res.FilePath, res.FileName, res.FileSize, res.MimeType, res.ProcessingTimeMs, ttl.Seconds()))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, r.conflictOrNotFound(ctx, id)
	}
	return j, err
}

func (r *JobRepository) MarkFailed(ctx context.Context, id uuid.UUID, msg string, details json.RawMessage, ttl time.Duration) (*entity.ExportJob, error) {
	var det []byte
	if len(details) > 0 {
		det = details
	}

	const q = `
UPDATE export_jobs
SET status = 'failed',
    error_message = $2,
    error_details = $3,
    failed_at = now(),
    expires_at = now() + make_interval(secs => $4)
WHERE id = $1 AND status = 'processing'
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id, msg, det, ttl.Seconds()))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, r.conflictOrNotFound(ctx, id)
	}
	return j, err
}

func (r *JobRepository) MarkCancelled(ctx context.Context, id uuid.UUID) (*entity.ExportJob, error) {
	const q = `
UPDATE export_jobs
SET status = 'cancelled'
WHERE id = $1 AND status IN ('queued', 'processing')
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, r.conflictOrNotFound(ctx, id)
	}
	return j, err
}

func (r *JobRepository) ResetForRetry(ctx context.Context, id uuid.UUID, maxRetries int) (*entity.ExportJob, error) {
	const q = `
UPDATE export_jobs
SET status = 'queued',
    progress = 0,
    retry_count = retry_count + 1,
    error_message = NULL,
    error_details = NULL,
    started_at = NULL,
    failed_at = NULL,
    expires_at = NULL
WHERE id = $1 AND status = 'failed' AND retry_count < $2
RETURNING ` + jobColumns + `;`

	j, err := scanJob(r.pool.QueryRow(ctx, q, id, maxRetries))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, r.conflictOrNotFound(ctx, id)
	}
	return j, err
}

// ResetStuck requeues processing jobs whose worker went silent past the
// threshold. Each reset counts against retry_count; a job already at the
// retry cap is failed instead so a broken input cannot loop forever.
func (r *JobRepository) ResetStuck(ctx context.Context, threshold time.Duration, maxRetries int, failTTL time.Duration) (reset, failed int64, err error) {
	const requeue = `
UPDATE export_jobs
SET status = 'queued',
    progress = 0,
    retry_count = retry_count + 1,
    started_at = NULL,
    error_message = NULL
WHERE status = 'processing'
  AND started_at IS NOT NULL
  AND started_at < now() - make_interval(secs => $1)
  AND retry_count < $2;
`
	tag, err := r.pool.Exec(ctx, requeue, threshold.Seconds(), maxRetries)
	if err != nil {
		return 0, 0, err
	}
	reset = tag.RowsAffected()

	const giveUp = `
UPDATE export_jobs
SET status = 'failed',
    error_message = 'processing timed out',
    failed_at = now(),
    expires_at = now() + make_interval(secs => $3)
WHERE status = 'processing'
  AND started_at IS NOT NULL
  AND started_at < now() - make_interval(secs => $1)
  AND retry_count >= $2;
`
	tag, err = r.pool.Exec(ctx, giveUp, threshold.Seconds(), maxRetries, failTTL.Seconds())
	if err != nil {
		return reset, 0, err
	}
	return reset, tag.RowsAffected(), nil
}

func (r *JobRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]*entity.ExportJob, error) {
	const q = `
SELECT ` + jobColumns + `
FROM export_jobs
WHERE status IN ('completed', 'failed') AND expires_at IS NOT NULL AND expires_at < $1
ORDER BY expires_at ASC
LIMIT $2;
`
	rows, err := r.pool.Query(ctx, q, now, limit)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// Delete refuses processing rows: a worker claimed between the caller's
// status check and this statement still owns the job.
func (r *JobRepository) Delete(ctx context.Context, id uuid.UUID) error {
	const q = `DELETE FROM export_jobs WHERE id = $1 AND status <> 'processing';`

	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, id)
	}
	return nil
}

func (r *JobRepository) CountByStatus(ctx context.Context, userID uuid.UUID) (map[entity.JobStatus]int64, error) {
	const q = `SELECT status, count(*) FROM export_jobs WHERE user_id = $1 GROUP BY status;`

	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entity.JobStatus]int64)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[entity.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func (r *JobRepository) FormatBreakdown(ctx context.Context, userID uuid.UUID) (map[entity.ExportFormat]int64, error) {
	const q = `SELECT format, count(*) FROM export_jobs WHERE user_id = $1 GROUP BY format;`

	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[entity.ExportFormat]int64)
	for rows.Next() {
		var (
			format string
			n      int64
		)
		if err := rows.Scan(&format, &n); err != nil {
			return nil, err
		}
		counts[entity.ExportFormat(format)] = n
	}
	return counts, rows.Err()
}

func (r *JobRepository) QueueStats(ctx context.Context, window time.Duration) (repository.QueueStats, error) {
	const q = `
SELECT
	count(*) FILTER (WHERE status = 'queued'     AND created_at > now() - make_interval(secs => $1)),
	count(*) FILTER (WHERE status = 'processing' AND created_at > now() - make_interval(secs => $1)),
	coalesce(avg(processing_time_ms) FILTER (
		WHERE status = 'completed' AND started_at IS NOT NULL AND completed_at IS NOT NULL
	), 0)::bigint
FROM export_jobs;
`
	stats := repository.QueueStats{Window: window}
	err := r.pool.QueryRow(ctx, q, window.Seconds()).Scan(&stats.Pending, &stats.Processing, &stats.AvgProcessingMs)
	return stats, err
}

// conflictOrNotFound disambiguates a guarded update that matched nothing:
// either the row is gone or it is in a different status.
func (r *JobRepository) conflictOrNotFound(ctx context.Context, id uuid.UUID) error {
	const q = `SELECT 1 FROM export_jobs WHERE id = $1;`

	var one int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotFound
		}
		return err
	}
	return repository.ErrConflict
}
