package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Webictbyleo/iamgickpro-sub001/internal/entity"
	"github.com/Webictbyleo/iamgickpro-sub001/internal/service"
)

// Claimer is the slice of the worker service the pool listener needs.
type Claimer interface {
	ClaimNext(ctx context.Context) (*entity.ExportJob, error)
}

type Pool struct {
	queue     service.WakeQueue
	claimer   Claimer
	processor *Processor
	workers   int
	waitSlot  time.Duration
}

func NewPool(queue service.WakeQueue, claimer Claimer, processor *Processor, workers int) *Pool {
	if workers <= 0 {
		workers = 4
	}
	return &Pool{
		queue:     queue,
		claimer:   claimer,
		processor: processor,
		workers:   workers,
		waitSlot:  5 * time.Second,
	}
}

// Run starts N processing goroutines fed by a single listener. The listener
// blocks on the Redis wake-up queue but the claim itself goes through the
// repository, so a spurious or missing signal never hands the same job to
// two workers.
func (p *Pool) Run(ctx context.Context) {
	slog.InfoContext(ctx, "worker pool started", "workers", p.workers)

	jobCh := make(chan *entity.ExportJob)

	for i := 0; i < p.workers; i++ {
		go func(n int) {
			for job := range jobCh {
				if err := p.processor.Process(ctx, job); err != nil {
					slog.ErrorContext(ctx, "job processing error",
						"worker", n, "job_id", job.ID, "error", err)
				}
			}
		}(i + 1)
	}

	for {
		select {
		case <-ctx.Done():
			close(jobCh)
			slog.InfoContext(ctx, "worker pool stopped")
			return
		default:
		}

		// wake-up or timeout, either way try to claim; the timeout doubles as
		// a poll for jobs whose notification was lost
		if _, err := p.queue.Wait(ctx, p.waitSlot); err != nil {
			if ctx.Err() != nil {
				continue
			}
			slog.WarnContext(ctx, "wake queue wait failed", "error", err)
			time.Sleep(time.Second)
		}

		// drain everything claimable before blocking again
		for {
			job, err := p.claimer.ClaimNext(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.ErrorContext(ctx, "claim failed", "error", err)
				}
				break
			}
			if job == nil {
				break
			}
			select {
			case jobCh <- job:
			case <-ctx.Done():
				close(jobCh)
				return
			}
		}
	}
}
