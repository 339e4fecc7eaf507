package service

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// WakeQueue is the message boundary between job creation and worker pickup.
// It carries wake-up signals only; job state lives in the repository and the
// repository's atomic claim decides who gets which job. Duplicate or lost
// signals are therefore harmless.
type WakeQueue interface {
	Notifier
	// Wait blocks up to timeout for a signal. Returns ("", nil) on timeout.
	Wait(ctx context.Context, timeout time.Duration) (string, error)
}

type redisWakeQueue struct {
	rdb *redis.Client
	key string
}

func NewRedisWakeQueue(rdb *redis.Client, key string) WakeQueue {
	if key == "" {
		key = "export:jobs:wake"
	}
	return &redisWakeQueue{rdb: rdb, key: key}
}

func (q *redisWakeQueue) Enqueue(ctx context.Context, jobID string) error {
	return q.rdb.LPush(ctx, q.key, jobID).Err()
}

func (q *redisWakeQueue) Wait(ctx context.Context, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = time.Second
	}

	res, err := q.rdb.BRPop(ctx, timeout, q.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}
	// BRPop returns [key, value]
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// NopNotifier is used when no Redis is configured; workers fall back to
// polling the repository.
type NopNotifier struct{}

func (NopNotifier) Enqueue(context.Context, string) error { return nil }
