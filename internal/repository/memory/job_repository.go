// Package memory holds an in-memory JobRepository with the same claim and
// ordering semantics as the postgres implementation. It backs the unit tests
// and local development without a database.
package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
)

type JobRepository struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.ExportJob
	seq  map[uuid.UUID]int64
	next int64

	// Now is swappable so tests can move the clock.
	Now func() time.Time
}

func NewJobRepository() *JobRepository {
	return &JobRepository{
		jobs: make(map[uuid.UUID]*entity.ExportJob),
		seq:  make(map[uuid.UUID]int64),
		Now:  time.Now,
	}
}

func clone(j *entity.ExportJob) *entity.ExportJob {
	cp := *j
	return &cp
}

func (r *JobRepository) Create(_ context.Context, j *entity.ExportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	r.seq[j.ID] = r.next
	r.jobs[j.ID] = clone(j)
	return nil
}

func (r *JobRepository) GetByID(_ context.Context, id uuid.UUID) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(j), nil
}

func matches(j *entity.ExportJob, f repository.ListFilter) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Format != "" && j.Format != f.Format {
		return false
	}
	return true
}

func (r *JobRepository) byUser(userID uuid.UUID, f repository.ListFilter) []*entity.ExportJob {
	var out []*entity.ExportJob
	for _, j := range r.jobs {
		if j.UserID == userID && matches(j, f) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].CreatedAt.After(out[b].CreatedAt)
		}
		return r.seq[out[a].ID] > r.seq[out[b].ID]
	})
	return out
}

func (r *JobRepository) FindByUser(_ context.Context, userID uuid.UUID, f repository.ListFilter) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := r.byUser(userID, f)
	off := f.Offset()
	if off >= len(all) {
		return nil, nil
	}
	all = all[off:]
	if f.Limit > 0 && len(all) > f.Limit {
		all = all[:f.Limit]
	}

	out := make([]*entity.ExportJob, len(all))
	for i, j := range all {
		out[i] = clone(j)
	}
	return out, nil
}

func (r *JobRepository) CountByUser(_ context.Context, userID uuid.UUID, f repository.ListFilter) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, j := range r.jobs {
		if j.UserID == userID && matches(j, f) {
			n++
		}
	}
	return n, nil
}

func (r *JobRepository) FindByDesign(_ context.Context, designID uuid.UUID, limit int) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.ExportJob
	for _, j := range r.jobs {
		if j.DesignID == designID {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepository) FindByFormat(_ context.Context, format entity.ExportFormat, limit int) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.ExportJob
	for _, j := range r.jobs {
		if j.Format == format {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobRepository) FindByFileSizeRange(_ context.Context, min, max int64, limit int) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.ExportJob
	for _, j := range r.jobs {
		if j.FileSize != nil && *j.FileSize >= min && *j.FileSize <= max {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return *out[a].FileSize > *out[b].FileSize })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimNext picks the highest-priority queued job, oldest first within a tier,
// and flips it to processing under the lock.
func (r *JobRepository) ClaimNext(_ context.Context) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *entity.ExportJob
	for _, j := range r.jobs {
		if j.Status != entity.StatusQueued {
			continue
		}
		if best == nil || claimBefore(r, j, best) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}

	now := r.Now()
	best.Status = entity.StatusProcessing
	best.StartedAt = &now
	return clone(best), nil
}

func claimBefore(r *JobRepository, a, b *entity.ExportJob) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return r.seq[a.ID] < r.seq[b.ID]
}

func (r *JobRepository) guarded(id uuid.UUID, want ...entity.JobStatus) (*entity.ExportJob, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	for _, s := range want {
		if j.Status == s {
			return j, nil
		}
	}
	return nil, repository.ErrConflict
}

func (r *JobRepository) UpdateProgress(_ context.Context, id uuid.UUID, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.guarded(id, entity.StatusProcessing)
	if err != nil {
		return err
	}
	j.Progress = progress
	return nil
}

func (r *JobRepository) MarkCompleted(_ context.Context, id uuid.UUID, res repository.CompletionResult, ttl time.Duration) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.guarded(id, entity.StatusProcessing)
	if err != nil {
		return nil, err
	}

	now := r.Now()
	expires := now.Add(ttl)
	j.Status = entity.StatusCompleted
	j.Progress = entity.MaxProgress
	j.FilePath = &res.FilePath
	j.FileName = &res.FileName
	j.FileSize = &res.FileSize
	j.MimeType = &res.MimeType
	j.ProcessingTimeMs = &res.ProcessingTimeMs
	j.CompletedAt = &now
	j.ExpiresAt = &expires
	return clone(j), nil
}

func (r *JobRepository) MarkFailed(_ context.Context, id uuid.UUID, msg string, details json.RawMessage, ttl time.Duration) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.guarded(id, entity.StatusProcessing)
	if err != nil {
		return nil, err
	}

	now := r.Now()
	expires := now.Add(ttl)
	j.Status = entity.StatusFailed
	j.ErrorMessage = &msg
	if len(details) > 0 {
		j.ErrorDetails = details
	}
	j.FailedAt = &now
	j.ExpiresAt = &expires
	return clone(j), nil
}

func (r *JobRepository) MarkCancelled(_ context.Context, id uuid.UUID) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.guarded(id, entity.StatusQueued, entity.StatusProcessing)
	if err != nil {
		return nil, err
	}
	j.Status = entity.StatusCancelled
	return clone(j), nil
}

func (r *JobRepository) ResetForRetry(_ context.Context, id uuid.UUID, maxRetries int) (*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, err := r.guarded(id, entity.StatusFailed)
	if err != nil {
		return nil, err
	}
	if j.RetryCount >= maxRetries {
		return nil, repository.ErrConflict
	}

	j.Status = entity.StatusQueued
	j.Progress = 0
	j.RetryCount++
	j.ErrorMessage = nil
	j.ErrorDetails = nil
	j.StartedAt = nil
	j.FailedAt = nil
	j.ExpiresAt = nil
	return clone(j), nil
}

func (r *JobRepository) ResetStuck(_ context.Context, threshold time.Duration, maxRetries int, failTTL time.Duration) (reset, failed int64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.Now()
	cutoff := now.Add(-threshold)
	for _, j := range r.jobs {
		if j.Status != entity.StatusProcessing || j.StartedAt == nil || !j.StartedAt.Before(cutoff) {
			continue
		}
		if j.RetryCount < maxRetries {
			j.Status = entity.StatusQueued
			j.Progress = 0
			j.RetryCount++
			j.StartedAt = nil
			j.ErrorMessage = nil
			reset++
		} else {
			msg := "processing timed out"
			expires := now.Add(failTTL)
			j.Status = entity.StatusFailed
			j.ErrorMessage = &msg
			j.FailedAt = &now
			j.ExpiresAt = &expires
			failed++
		}
	}
	return reset, failed, nil
}

func (r *JobRepository) FindExpired(_ context.Context, now time.Time, limit int) ([]*entity.ExportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*entity.ExportJob
	for _, j := range r.jobs {
		if (j.Status == entity.StatusCompleted || j.Status == entity.StatusFailed) &&
			j.ExpiresAt != nil && j.ExpiresAt.Before(now) {
			out = append(out, clone(j))
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ExpiresAt.Before(*out[b].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Delete refuses processing rows, matching the guarded postgres statement.
func (r *JobRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return repository.ErrNotFound
	}
	if j.Status == entity.StatusProcessing {
		return repository.ErrConflict
	}
	delete(r.jobs, id)
	delete(r.seq, id)
	return nil
}

func (r *JobRepository) CountByStatus(_ context.Context, userID uuid.UUID) (map[entity.JobStatus]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[entity.JobStatus]int64)
	for _, j := range r.jobs {
		if j.UserID == userID {
			counts[j.Status]++
		}
	}
	return counts, nil
}

func (r *JobRepository) FormatBreakdown(_ context.Context, userID uuid.UUID) (map[entity.ExportFormat]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := make(map[entity.ExportFormat]int64)
	for _, j := range r.jobs {
		if j.UserID == userID {
			counts[j.Format]++
		}
	}
	return counts, nil
}

func (r *JobRepository) QueueStats(_ context.Context, window time.Duration) (repository.QueueStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := repository.QueueStats{Window: window}
	cutoff := r.Now().Add(-window)

	var totalMs, completed int64
	for _, j := range r.jobs {
		switch j.Status {
		case entity.StatusQueued:
			if j.CreatedAt.After(cutoff) {
				stats.Pending++
			}
		case entity.StatusProcessing:
			if j.CreatedAt.After(cutoff) {
				stats.Processing++
			}
		case entity.StatusCompleted:
			if j.ProcessingTimeMs != nil && j.StartedAt != nil && j.CompletedAt != nil {
				totalMs += *j.ProcessingTimeMs
				completed++
			}
		}
	}
	if completed > 0 {
		stats.AvgProcessingMs = totalMs / completed
	}
	return stats, nil
}
