package storage

import (
	"context"
	"io"
	"time"
)

// ArtifactStore abstracts the object storage holding finished export files.
// The job row and its artifact are deleted together: file first, then row,
// so a partial failure leaves at most a deletable row behind.
type ArtifactStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}
