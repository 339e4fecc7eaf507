package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further worker activity is expected for the job.
// A failed job can still re-enter the queue via retry.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type ExportFormat string

const (
	FormatPNG  ExportFormat = "png"
	FormatJPEG ExportFormat = "jpeg"
	FormatSVG  ExportFormat = "svg"
	FormatPDF  ExportFormat = "pdf"
	FormatMP4  ExportFormat = "mp4"
	FormatGIF  ExportFormat = "gif"
)

func (f ExportFormat) Valid() bool {
	switch f {
	case FormatPNG, FormatJPEG, FormatSVG, FormatPDF, FormatMP4, FormatGIF:
		return true
	}
	return false
}

const (
	DefaultPriority = 0
	MaxProgress     = 100
)

// ExportParams are fixed at creation time; the service rejects any attempt
// to change them afterwards.
type ExportParams struct {
	Quality           int             `json:"quality,omitempty"`
	Width             int             `json:"width,omitempty"`
	Height            int             `json:"height,omitempty"`
	Scale             float64         `json:"scale,omitempty"`
	Transparent       bool            `json:"transparent,omitempty"`
	BackgroundColor   string          `json:"background_color,omitempty"`
	AnimationSettings json.RawMessage `json:"animation_settings,omitempty"`
}

type ExportJob struct {
	ID       uuid.UUID    `json:"id"`
	UserID   uuid.UUID    `json:"user_id"`
	DesignID uuid.UUID    `json:"design_id"`
	Format   ExportFormat `json:"format"`
	Status   JobStatus    `json:"status"`
	Priority int          `json:"priority"`
	Progress int          `json:"progress"`
	Params   ExportParams `json:"params"`

	RetryCount   int             `json:"retry_count"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty"`

	FilePath         *string `json:"file_path,omitempty"`
	FileName         *string `json:"file_name,omitempty"`
	FileSize         *int64  `json:"file_size,omitempty"`
	MimeType         *string `json:"mime_type,omitempty"`
	ProcessingTimeMs *int64  `json:"processing_time_ms,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// CanCancel: cancellation only makes sense before a terminal state.
func (j *ExportJob) CanCancel() bool {
	return j.Status == StatusQueued || j.Status == StatusProcessing
}

func (j *ExportJob) CanRetry() bool {
	return j.Status == StatusFailed
}

// CanDelete: a processing job still owns its backing file; deletion must wait
// for a terminal state.
func (j *ExportJob) CanDelete() bool {
	return j.Status != StatusProcessing
}

// Expired reports whether the artifact retention window has passed.
func (j *ExportJob) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && j.ExpiresAt.Before(now)
}
