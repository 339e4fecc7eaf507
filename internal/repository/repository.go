package repository

import (
	"errors"
	"time"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
)

var (
	// ErrNotFound is returned when no job row matches the given id.
	ErrNotFound = errors.New("export job not found")

	// ErrConflict is returned when a guarded update matched the id but not the
	// expected status, i.e. the job moved under a concurrent writer.
	ErrConflict = errors.New("export job state changed concurrently")
)

// ListFilter narrows user-scoped listings. Zero values mean "no filter".
type ListFilter struct {
	Status entity.JobStatus
	Format entity.ExportFormat
	Page   int
	Limit  int
}

func (f ListFilter) Offset() int {
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * f.Limit
}

// CompletionResult carries the artifact metadata reported by a worker.
type CompletionResult struct {
	FilePath         string
	FileName         string
	FileSize         int64
	MimeType         string
	ProcessingTimeMs int64
}

// QueueStats is the raw material for the queue-health report.
type QueueStats struct {
	Pending         int64
	Processing      int64
	AvgProcessingMs int64
	Window          time.Duration
}
