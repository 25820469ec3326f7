// Package queue is the Redis list carrying persona kicks from the API to the
// worker.
package queue

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dopple/internal/pkg/errors"
)

type RedisQueue struct {
	rdb       redis.UniversalClient
	queueName string
}

func NewRedisQueue(rdb redis.UniversalClient, queueName string) *RedisQueue {
	return &RedisQueue{rdb: rdb, queueName: queueName}
}

// Push enqueues a persona id.
func (q *RedisQueue) Push(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.Validation("persona id is required")
	}
	if err := q.rdb.LPush(ctx, q.queueName, id).Err(); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "queue.push", "queue push failed")
	}
	return nil
}

// Pop blocks up to timeout for the oldest id (BRPOP). It returns "" with a
// nil error when the wait timed out.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.rdb.BRPop(ctx, timeout, q.queueName).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", errors.WrapWithCode(err, errors.CodeUnavailable, "queue.pop", "queue pop failed")
	}
	if len(res) < 2 {
		return "", nil
	}
	return res[1], nil
}

// Drain pops up to max further ids without blocking.
func (q *RedisQueue) Drain(ctx context.Context, max int) ([]string, error) {
	if max <= 0 {
		return nil, nil
	}
	ids, err := q.rdb.RPopCount(ctx, q.queueName, max).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "queue.drain", "queue drain failed")
	}
	return ids, nil
}
