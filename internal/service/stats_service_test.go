package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
)

func TestUserStats_EmptyUser(t *testing.T) {
	f := newFixture(t)
	stats := service.NewStatsService(f.repo, time.Hour, service.HealthThresholds{})

	got, err := stats.UserStats(context.Background(), f.owner, f.owner.UserID)
	require.NoError(t, err)

	assert.Zero(t, got.Total)
	assert.Zero(t, got.SuccessRate, "no jobs must not divide by zero")
	assert.Empty(t, got.ByFormat)
}

func TestUserStats_CountsAndSuccessRate(t *testing.T) {
	f := newFixture(t)
	stats := service.NewStatsService(f.repo, time.Hour, service.HealthThresholds{})
	ctx := context.Background()

	f.completeJob(t, f.createJob(t, 0))
	f.completeJob(t, f.createJob(t, 0))
	f.failJob(t, f.createJob(t, 0))
	f.createJob(t, 0) // stays queued

	// another user's jobs must not leak into the stats
	other := service.Caller{UserID: uuid.New()}
	_, err := f.jobs.CreateJob(ctx, other, service.CreateJobRequest{
		DesignID: uuid.New(), Format: entity.FormatSVG,
	})
	require.NoError(t, err)

	got, err := stats.UserStats(ctx, f.owner, f.owner.UserID)
	require.NoError(t, err)

	assert.EqualValues(t, 4, got.Total)
	assert.EqualValues(t, 2, got.Completed)
	assert.EqualValues(t, 1, got.Failed)
	assert.EqualValues(t, 1, got.Queued)
	assert.InDelta(t, 50.0, got.SuccessRate, 0.01)
	assert.EqualValues(t, 4, got.ByFormat["png"])

	t.Run("non-admin cannot read another user", func(t *testing.T) {
		_, err := stats.UserStats(ctx, other, f.owner.UserID)
		assert.ErrorIs(t, err, service.ErrAccessDenied)
	})
}

func TestQueueHealth_Labels(t *testing.T) {
	ctx := context.Background()
	thresholds := service.HealthThresholds{Fair: 2, Poor: 5}

	t.Run("good", func(t *testing.T) {
		f := newFixture(t)
		stats := service.NewStatsService(f.repo, 24*time.Hour, thresholds)
		f.createJob(t, 0)

		health, err := stats.QueueHealth(ctx)
		require.NoError(t, err)
		assert.Equal(t, service.HealthGood, health.Health)
		assert.EqualValues(t, 1, health.Pending)
	})

	t.Run("fair", func(t *testing.T) {
		f := newFixture(t)
		stats := service.NewStatsService(f.repo, 24*time.Hour, thresholds)
		for i := 0; i < 3; i++ {
			f.createJob(t, 0)
		}

		health, err := stats.QueueHealth(ctx)
		require.NoError(t, err)
		assert.Equal(t, service.HealthFair, health.Health)
	})

	t.Run("poor", func(t *testing.T) {
		f := newFixture(t)
		stats := service.NewStatsService(f.repo, 24*time.Hour, thresholds)
		for i := 0; i < 6; i++ {
			f.createJob(t, 0)
		}

		health, err := stats.QueueHealth(ctx)
		require.NoError(t, err)
		assert.Equal(t, service.HealthPoor, health.Health)
	})
}

func TestSearchJobs_AdminAnalytics(t *testing.T) {
	f := newFixture(t)
	stats := service.NewStatsService(f.repo, time.Hour, service.HealthThresholds{})
	ctx := context.Background()
	admin := service.Caller{UserID: uuid.New(), Admin: true}

	// completed first so its claim does not race the queued fixtures below
	f.completeJob(t, f.createJob(t, 0)) // file size 1234

	designID := uuid.New()
	for i := 0; i < 2; i++ {
		_, err := f.jobs.CreateJob(ctx, f.owner, service.CreateJobRequest{
			DesignID: designID, Format: entity.FormatPNG,
		})
		require.NoError(t, err)
	}
	_, err := f.jobs.CreateJob(ctx, f.owner, service.CreateJobRequest{
		DesignID: uuid.New(), Format: entity.FormatSVG,
	})
	require.NoError(t, err)

	t.Run("non-admin denied", func(t *testing.T) {
		_, err := stats.SearchJobs(ctx, f.owner, service.SearchFilter{DesignID: designID})
		assert.ErrorIs(t, err, service.ErrAccessDenied)
	})

	t.Run("by design", func(t *testing.T) {
		jobs, err := stats.SearchJobs(ctx, admin, service.SearchFilter{DesignID: designID})
		require.NoError(t, err)
		assert.Len(t, jobs, 2)
		for _, j := range jobs {
			assert.Equal(t, designID, j.DesignID)
		}
	})

	t.Run("by format", func(t *testing.T) {
		jobs, err := stats.SearchJobs(ctx, admin, service.SearchFilter{Format: entity.FormatSVG})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		assert.Equal(t, entity.FormatSVG, jobs[0].Format)
	})

	t.Run("by file size range", func(t *testing.T) {
		jobs, err := stats.SearchJobs(ctx, admin, service.SearchFilter{
			MinFileSize: 1000, MaxFileSize: 2000,
		})
		require.NoError(t, err)
		require.Len(t, jobs, 1)
		require.NotNil(t, jobs[0].FileSize)
		assert.EqualValues(t, 1234, *jobs[0].FileSize)
	})

	t.Run("empty filter rejected", func(t *testing.T) {
		_, err := stats.SearchJobs(ctx, admin, service.SearchFilter{})
		var verr *service.ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

func TestQueueHealth_AvgProcessingTime(t *testing.T) {
	f := newFixture(t)
	stats := service.NewStatsService(f.repo, 24*time.Hour, service.HealthThresholds{})

	f.completeJob(t, f.createJob(t, 0)) // reports 250ms

	health, err := stats.QueueHealth(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 250, health.AvgProcessingMs)
}
