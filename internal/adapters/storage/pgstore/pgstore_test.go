package pgstore

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/pkg/errors"
)

func TestLikeEscape(t *testing.T) {
	assert.Equal(t, `per\_sonas\%\\`, likeEscape(`per_sonas%\`))
}

func TestClassifyUndefinedTable(t *testing.T) {
	err := classify(&pgconn.PgError{Code: "42P01"}, "op")
	assert.True(t, errors.IsNotConfigured(err), "expected not configured, got %v", err)
	assert.True(t, errors.IsTransient(classify(&pgconn.PgError{Code: "57P01"}, "op")), "other pg errors should be transient")
}

// TestRoundTrip runs against PGSTORE_TEST_URL and is skipped without it.
func TestRoundTrip(t *testing.T) {
	url := os.Getenv("PGSTORE_TEST_URL")
	if url == "" {
		t.Skip("PGSTORE_TEST_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	defer pool.Close()

	s := New(pool)
	require.NoError(t, s.EnsureSchema(ctx))
	key := "test/" + t.Name() + ".json"
	t.Cleanup(func() { _, _ = pool.Exec(ctx, `DELETE FROM blobs WHERE key=$1`, key) })

	require.NoError(t, s.Set(ctx, key, []byte("one")))
	require.NoError(t, s.Set(ctx, key, []byte("two")))
	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))

	keys, err := s.List(ctx, "test/")
	require.NoError(t, err)
	assert.Contains(t, keys, key)
}
