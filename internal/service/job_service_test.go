package service_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository/memory"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
)

// ---- fakes ----

type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (s *fakeStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, _ := io.ReadAll(body)
	s.objects[key] = b
	return nil
}

func (s *fakeStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.objects, key)
	return nil
}

func (s *fakeStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *fakeStore) PresignedURL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.local/" + key, nil
}

func (s *fakeStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}

type fakeNotifier struct {
	mu  sync.Mutex
	ids []string
}

func (n *fakeNotifier) Enqueue(_ context.Context, jobID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, jobID)
	return nil
}

// ---- helpers ----

type fixture struct {
	repo   *memory.JobRepository
	store  *fakeStore
	notify *fakeNotifier
	jobs   *service.JobService
	worker *service.WorkerService
	owner  service.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memory.NewJobRepository()
	store := newFakeStore()
	notify := &fakeNotifier{}
	return &fixture{
		repo:   repo,
		store:  store,
		notify: notify,
		jobs:   service.NewJobService(repo, store, notify, nil, 3, 0),
		worker: service.NewWorkerService(repo, 7*24*time.Hour),
		owner:  service.Caller{UserID: uuid.New()},
	}
}

func (f *fixture) createJob(t *testing.T, priority int) *entity.ExportJob {
	t.Helper()

	job, err := f.jobs.CreateJob(context.Background(), f.owner, service.CreateJobRequest{
		DesignID: uuid.New(),
		Format:   entity.FormatPNG,
		Priority: priority,
	})
	require.NoError(t, err)
	return job
}

// completeJob drives a job through claim -> completion, placing an artifact
// in the fake store.
func (f *fixture) completeJob(t *testing.T, job *entity.ExportJob) *entity.ExportJob {
	t.Helper()

	ctx := context.Background()
	claimed, err := f.worker.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, job.ID, claimed.ID)

	key := fmt.Sprintf("exports/%s/%s/design.png", job.UserID, job.ID)
	require.NoError(t, f.store.Put(ctx, key, strings.NewReader("artifact"), 8, "image/png"))

	done, err := f.worker.ReportCompletion(ctx, job.ID, repository.CompletionResult{
		FilePath:         key,
		FileName:         "design.png",
		FileSize:         1234,
		MimeType:         "image/png",
		ProcessingTimeMs: 250,
	})
	require.NoError(t, err)
	return done
}

func (f *fixture) failJob(t *testing.T, job *entity.ExportJob) *entity.ExportJob {
	t.Helper()

	ctx := context.Background()
	claimed, err := f.worker.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	failed, err := f.worker.ReportFailure(ctx, job.ID, "render exploded", nil)
	require.NoError(t, err)
	return failed
}

// ---- tests ----

func TestCreateJob_DefaultsAndNotification(t *testing.T) {
	f := newFixture(t)

	job := f.createJob(t, 5)

	assert.Equal(t, entity.StatusQueued, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, 0, job.RetryCount)
	assert.Equal(t, 5, job.Priority)
	assert.Nil(t, job.FilePath)
	require.Len(t, f.notify.ids, 1)
	assert.Equal(t, job.ID.String(), f.notify.ids[0])
}

func TestCreateJob_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  service.CreateJobRequest
	}{
		{"unknown format", service.CreateJobRequest{DesignID: uuid.New(), Format: "bmp"}},
		{"missing design", service.CreateJobRequest{Format: entity.FormatPNG}},
		{"negative width", service.CreateJobRequest{
			DesignID: uuid.New(), Format: entity.FormatPNG,
			Params: entity.ExportParams{Width: -10},
		}},
		{"quality out of range", service.CreateJobRequest{
			DesignID: uuid.New(), Format: entity.FormatJPEG,
			Params: entity.ExportParams{Quality: 150},
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.jobs.CreateJob(ctx, f.owner, tc.req)
			var verr *service.ValidationError
			require.ErrorAs(t, err, &verr)
		})
	}
}

func TestGetJob_OwnershipCollapsesToNotFound(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, 0)

	stranger := service.Caller{UserID: uuid.New()}
	_, err := f.jobs.GetJob(context.Background(), stranger, job.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)

	admin := service.Caller{UserID: uuid.New(), Admin: true}
	got, err := f.jobs.GetJob(context.Background(), admin, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestCancelJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("queued job cancels", func(t *testing.T) {
		job := f.createJob(t, 0)
		cancelled, err := f.jobs.CancelJob(ctx, f.owner, job.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusCancelled, cancelled.Status)
	})

	t.Run("completed job rejects cancel", func(t *testing.T) {
		job := f.createJob(t, 0)
		f.completeJob(t, job)

		_, err := f.jobs.CancelJob(ctx, f.owner, job.ID)
		var terr *service.InvalidTransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, entity.StatusCompleted, terr.Status)
	})

	t.Run("stranger gets access denied", func(t *testing.T) {
		job := f.createJob(t, 0)
		stranger := service.Caller{UserID: uuid.New()}
		_, err := f.jobs.CancelJob(ctx, stranger, job.ID)
		assert.ErrorIs(t, err, service.ErrAccessDenied)
	})
}

func TestRetryJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("failed job retries and resets", func(t *testing.T) {
		job := f.createJob(t, 0)
		f.failJob(t, job)

		retried, err := f.jobs.RetryJob(ctx, f.owner, job.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusQueued, retried.Status)
		assert.Equal(t, 1, retried.RetryCount)
		assert.Equal(t, 0, retried.Progress)
		assert.Nil(t, retried.ErrorMessage)
		assert.Nil(t, retried.FailedAt)
	})

	t.Run("queued job rejects retry", func(t *testing.T) {
		job := f.createJob(t, 0)
		_, err := f.jobs.RetryJob(ctx, f.owner, job.ID)
		var terr *service.InvalidTransitionError
		require.ErrorAs(t, err, &terr)
	})

	t.Run("retry cap", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t, 0)

		for i := 0; i < 3; i++ {
			f.failJob(t, job)
			_, err := f.jobs.RetryJob(ctx, f.owner, job.ID)
			require.NoError(t, err, "retry %d", i+1)
		}

		f.failJob(t, job)
		_, err := f.jobs.RetryJob(ctx, f.owner, job.ID)
		assert.ErrorIs(t, err, service.ErrRetryLimitExceeded)
	})
}

func TestDeleteJob(t *testing.T) {
	ctx := context.Background()

	t.Run("processing job rejects delete", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t, 0)
		_, err := f.worker.ClaimNext(ctx)
		require.NoError(t, err)

		err = f.jobs.DeleteJob(ctx, f.owner, job.ID)
		var terr *service.InvalidTransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, entity.StatusProcessing, terr.Status)
	})

	t.Run("completed job removes row and file", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t, 0)
		done := f.completeJob(t, job)
		require.NotNil(t, done.FilePath)
		require.True(t, f.store.has(*done.FilePath))

		require.NoError(t, f.jobs.DeleteJob(ctx, f.owner, job.ID))

		assert.False(t, f.store.has(*done.FilePath))
		_, err := f.jobs.GetJob(ctx, f.owner, job.ID)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("row delete refuses a freshly claimed job", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t, 0)
		_, err := f.worker.ClaimNext(ctx)
		require.NoError(t, err)

		// a worker claiming after the service's status check must win the race
		err = f.repo.Delete(ctx, job.ID)
		assert.ErrorIs(t, err, repository.ErrConflict)

		got, err := f.jobs.GetJob(ctx, f.owner, job.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusProcessing, got.Status)
	})

	t.Run("storage failure keeps the row", func(t *testing.T) {
		f := newFixture(t)
		job := f.createJob(t, 0)
		f.completeJob(t, job)
		f.store.deleteErr = errors.New("s3 down")

		err := f.jobs.DeleteJob(ctx, f.owner, job.ID)
		var serr *service.StorageError
		require.ErrorAs(t, err, &serr)

		// row must survive so the delete can be retried
		_, err = f.jobs.GetJob(ctx, f.owner, job.ID)
		assert.NoError(t, err)
	})
}

func TestGetDownloadURL_ExpiredReadsAsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// retention lapsed: completed 8 days ago with a 7-day TTL
	f.repo.Now = func() time.Time { return time.Now().Add(-8 * 24 * time.Hour) }
	expired := f.completeJob(t, f.createJob(t, 0))

	f.repo.Now = time.Now
	fresh := f.completeJob(t, f.createJob(t, 0))

	url, err := f.jobs.GetDownloadURL(ctx, f.owner, fresh.ID)
	require.NoError(t, err)
	assert.Contains(t, url, *fresh.FilePath)

	_, err = f.jobs.GetDownloadURL(ctx, f.owner, expired.ID)
	assert.ErrorIs(t, err, service.ErrNotFound,
		"expired job must read as missing even while the row awaits cleanup")
}

func TestTerminalStateInvariants(t *testing.T) {
	f := newFixture(t)

	completed := f.completeJob(t, f.createJob(t, 0))
	assert.Equal(t, entity.StatusCompleted, completed.Status)
	assert.NotNil(t, completed.FilePath)
	assert.NotNil(t, completed.FileSize)
	assert.NotNil(t, completed.CompletedAt)
	assert.NotNil(t, completed.ExpiresAt)
	assert.Nil(t, completed.ErrorMessage)

	failed := f.failJob(t, f.createJob(t, 0))
	assert.Equal(t, entity.StatusFailed, failed.Status)
	assert.NotNil(t, failed.ErrorMessage)
	assert.NotNil(t, failed.FailedAt)
	assert.NotNil(t, failed.ExpiresAt)
	assert.Nil(t, failed.FilePath)
}
