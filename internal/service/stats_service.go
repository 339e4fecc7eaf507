package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
)

const (
	HealthGood = "good"
	HealthFair = "fair"
	HealthPoor = "poor"
)

type UserStats struct {
	Total       int64            `json:"total"`
	Queued      int64            `json:"queued"`
	Processing  int64            `json:"processing"`
	Completed   int64            `json:"completed"`
	Failed      int64            `json:"failed"`
	Cancelled   int64            `json:"cancelled"`
	ByFormat    map[string]int64 `json:"by_format"`
	SuccessRate float64          `json:"success_rate"`
}

type QueueHealth struct {
	Pending         int64  `json:"pending"`
	Processing      int64  `json:"processing"`
	AvgProcessingMs int64  `json:"avg_processing_ms"`
	Health          string `json:"health"`
}

// HealthThresholds label the queue from its pending depth. Values are
// configuration, not constants.
type HealthThresholds struct {
	Fair int64
	Poor int64
}

type StatsService struct {
	repo       Repository
	window     time.Duration
	thresholds HealthThresholds
}

func NewStatsService(repo Repository, window time.Duration, thresholds HealthThresholds) *StatsService {
	if window <= 0 {
		window = 24 * time.Hour
	}
	if thresholds.Fair <= 0 {
		thresholds.Fair = 50
	}
	if thresholds.Poor <= 0 {
		thresholds.Poor = 100
	}
	return &StatsService{repo: repo, window: window, thresholds: thresholds}
}

// UserStats aggregates per-status and per-format counts for one user.
// SuccessRate is 0 for a user with no jobs.
func (s *StatsService) UserStats(ctx context.Context, caller Caller, userID uuid.UUID) (*UserStats, error) {
	if !caller.Admin && caller.UserID != userID {
		return nil, ErrAccessDenied
	}

	byStatus, err := s.repo.CountByStatus(ctx, userID)
	if err != nil {
		return nil, err
	}
	byFormat, err := s.repo.FormatBreakdown(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &UserStats{
		Queued:     byStatus[entity.StatusQueued],
		Processing: byStatus[entity.StatusProcessing],
		Completed:  byStatus[entity.StatusCompleted],
		Failed:     byStatus[entity.StatusFailed],
		Cancelled:  byStatus[entity.StatusCancelled],
		ByFormat:   make(map[string]int64, len(byFormat)),
	}
	for _, n := range byStatus {
		stats.Total += n
	}
	for format, n := range byFormat {
		stats.ByFormat[string(format)] = n
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Completed) / float64(stats.Total) * 100
	}
	return stats, nil
}

// SearchFilter selects exactly one analytics axis: a design, a format, or an
// artifact size range.
type SearchFilter struct {
	DesignID    uuid.UUID
	Format      entity.ExportFormat
	MinFileSize int64
	MaxFileSize int64
	Limit       int
}

// SearchJobs runs an admin analytics query across all users.
func (s *StatsService) SearchJobs(ctx context.Context, caller Caller, f SearchFilter) ([]*entity.ExportJob, error) {
	if !caller.Admin {
		return nil, ErrAccessDenied
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}

	switch {
	case f.DesignID != uuid.Nil:
		return s.repo.FindByDesign(ctx, f.DesignID, f.Limit)
	case f.Format != "":
		if !f.Format.Valid() {
			return nil, &ValidationError{Field: "format", Reason: "unknown format"}
		}
		return s.repo.FindByFormat(ctx, f.Format, f.Limit)
	case f.MaxFileSize > 0:
		if f.MinFileSize < 0 || f.MinFileSize > f.MaxFileSize {
			return nil, &ValidationError{Field: "min_size", Reason: "must be between 0 and max_size"}
		}
		return s.repo.FindByFileSizeRange(ctx, f.MinFileSize, f.MaxFileSize, f.Limit)
	default:
		return nil, &ValidationError{Field: "query", Reason: "one of design_id, format or max_size is required"}
	}
}

// QueueHealth reports queue depth within the trailing window and the average
// completed-job processing time, summarized as a good/fair/poor label.
func (s *StatsService) QueueHealth(ctx context.Context) (*QueueHealth, error) {
	raw, err := s.repo.QueueStats(ctx, s.window)
	if err != nil {
		return nil, err
	}

	health := HealthGood
	switch {
	case raw.Pending > s.thresholds.Poor:
		health = HealthPoor
	case raw.Pending > s.thresholds.Fair:
		health = HealthFair
	}

	return &QueueHealth{
		Pending:         raw.Pending,
		Processing:      raw.Processing,
		AvgProcessingMs: raw.AvgProcessingMs,
		Health:          health,
	}, nil
}
