package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/pkg/errors"
)

// newTestStore connects to REDIS_TEST_ADDR; the test is skipped without it.
func newTestStore(t *testing.T) *Store {
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
	ns := "dopple:test:" + t.Name() + ":"
	t.Cleanup(func() {
		keys, _ := rdb.Keys(context.Background(), ns+"*").Result()
		if len(keys) > 0 {
			rdb.Del(context.Background(), keys...)
		}
	})
	return New(rdb, ns)
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Set(ctx, "personas/a.json", []byte("{}")))
	got, err := s.Get(ctx, "personas/a.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))

	keys, err := s.List(ctx, "personas/")
	require.NoError(t, err)
	assert.Equal(t, []string{"personas/a.json"}, keys)

	_, err = s.Get(ctx, "personas/none.json")
	assert.True(t, errors.IsNotFound(err), "expected not found, got %v", err)
}

func TestGlobEscape(t *testing.T) {
	assert.Equal(t, `a\*b\?\[c\]`, globEscape("a*b?[c]"))
}
