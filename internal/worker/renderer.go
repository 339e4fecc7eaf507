package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
)

// Renderer produces the export artifact for a claimed job. The real encoders
// (PNG/SVG/MP4 and friends) live in an external rendering service; this
// interface is the seam they plug into.
type Renderer interface {
	Render(ctx context.Context, job *entity.ExportJob) (*RenderResult, error)
}

type RenderResult struct {
	Body     io.Reader
	Size     int64
	FileName string
	MimeType string
}

// FormatMime maps an export format to its content type and file extension.
func FormatMime(f entity.ExportFormat) (mime, ext string) {
	switch f {
	case entity.FormatPNG:
		return "image/png", "png"
	case entity.FormatJPEG:
		return "image/jpeg", "jpg"
	case entity.FormatSVG:
		return "image/svg+xml", "svg"
	case entity.FormatPDF:
		return "application/pdf", "pdf"
	case entity.FormatMP4:
		return "video/mp4", "mp4"
	case entity.FormatGIF:
		return "image/gif", "gif"
	default:
		return "application/octet-stream", "bin"
	}
}

// StubRenderer emits a small placeholder artifact. Used until the rendering
// service is wired in, and by the tests.
type StubRenderer struct {
	// Delay simulates render time.
	Delay time.Duration
}

func (r *StubRenderer) Render(ctx context.Context, job *entity.ExportJob) (*RenderResult, error) {
	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Delay):
		}
	}

	mime, ext := FormatMime(job.Format)
	body := fmt.Sprintf("placeholder %s export of design %s", job.Format, job.DesignID)

	return &RenderResult{
		Body:     bytes.NewReader([]byte(body)),
		Size:     int64(len(body)),
		FileName: fmt.Sprintf("design-%s.%s", job.DesignID, ext),
		MimeType: mime,
	}, nil
}
