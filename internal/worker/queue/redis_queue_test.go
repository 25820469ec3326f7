package queue

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/pkg/errors"
)

func newTestQueue(t *testing.T) *RedisQueue {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	name := "dopple:test:kicks:" + t.Name()
	t.Cleanup(func() { rdb.Del(context.Background(), name) })
	return NewRedisQueue(rdb, name)
}

func TestPushPopOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, id), "Push(%s)", id)
	}
	got, err := q.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	rest, err := q.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, rest)
}

func TestPopTimesOut(t *testing.T) {
	q := newTestQueue(t)
	got, err := q.Pop(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestPushRejectsEmptyID(t *testing.T) {
	q := NewRedisQueue(nil, "unused")
	err := q.Push(context.Background(), "  ")
	assert.True(t, errors.IsCode(err, errors.CodeValidation), "Push empty = %v", err)
}
