package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/repository"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
)

func TestClaimNext_PriorityThenFIFO(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// priorities submitted in order: 5, 1, 5, 3
	job1 := f.createJob(t, 5)
	job2 := f.createJob(t, 1)
	job3 := f.createJob(t, 5)
	job4 := f.createJob(t, 3)

	want := []uuid.UUID{job1.ID, job3.ID, job4.ID, job2.ID}
	for i, expected := range want {
		claimed, err := f.worker.ClaimNext(ctx)
		require.NoError(t, err)
		require.NotNil(t, claimed, "claim %d", i)
		assert.Equal(t, expected, claimed.ID, "claim %d", i)
		assert.Equal(t, entity.StatusProcessing, claimed.Status)
		assert.NotNil(t, claimed.StartedAt)
	}

	empty, err := f.worker.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestClaimNext_NoDoubleClaimUnderConcurrency(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const jobs = 20
	const claimers = 50

	for i := 0; i < jobs; i++ {
		f.createJob(t, i%3)
	}

	var (
		mu      sync.Mutex
		claimed []uuid.UUID
		wg      sync.WaitGroup
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := f.worker.ClaimNext(ctx)
			if err != nil || job == nil {
				return
			}
			mu.Lock()
			claimed = append(claimed, job.ID)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, claimed, jobs, "exactly min(claimers, jobs) claims must succeed")

	seen := make(map[uuid.UUID]bool, len(claimed))
	for _, id := range claimed {
		assert.False(t, seen[id], "job %s claimed twice", id)
		seen[id] = true
	}
}

func TestReportProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.createJob(t, 0)
	_, err := f.worker.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, f.worker.ReportProgress(ctx, job.ID, 42))

	got, err := f.jobs.GetJob(ctx, f.owner, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Progress)

	t.Run("out of range", func(t *testing.T) {
		var verr *service.ValidationError
		assert.ErrorAs(t, f.worker.ReportProgress(ctx, job.ID, 101), &verr)
		assert.ErrorAs(t, f.worker.ReportProgress(ctx, job.ID, -1), &verr)
	})

	t.Run("requires processing state", func(t *testing.T) {
		queued := f.createJob(t, 0)
		err := f.worker.ReportProgress(ctx, queued.ID, 10)
		var terr *service.InvalidTransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, entity.StatusQueued, terr.Status)
	})

	t.Run("unknown job", func(t *testing.T) {
		err := f.worker.ReportProgress(ctx, uuid.New(), 10)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestReportCompletion_RequiresProcessing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.createJob(t, 0)
	_, err := f.worker.ReportCompletion(ctx, job.ID, repository.CompletionResult{
		FilePath: "exports/x", FileName: "x.png", FileSize: 1, MimeType: "image/png",
	})
	var terr *service.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
}

func TestReportCompletion_SetsExpiry(t *testing.T) {
	f := newFixture(t)
	ttl := 48 * time.Hour
	f.worker = service.NewWorkerService(f.repo, ttl)

	job := f.createJob(t, 0)
	done := f.completeJob(t, job)

	require.NotNil(t, done.ExpiresAt)
	require.NotNil(t, done.CompletedAt)
	assert.WithinDuration(t, done.CompletedAt.Add(ttl), *done.ExpiresAt, time.Second)
}

func TestReportFailure_AfterCancelIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job := f.createJob(t, 0)
	_, err := f.worker.ClaimNext(ctx)
	require.NoError(t, err)

	_, err = f.jobs.CancelJob(ctx, f.owner, job.ID)
	require.NoError(t, err)

	_, err = f.worker.ReportFailure(ctx, job.ID, "boom", nil)
	var terr *service.InvalidTransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, entity.StatusCancelled, terr.Status)
}
