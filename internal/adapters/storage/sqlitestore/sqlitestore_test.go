package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/pkg/errors"
)

func open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "blobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := open(t)

	for _, k := range []string{"personas/b.json", "personas/a.json", "personasX/c.json", "uploads/a.jpg"} {
		require.NoError(t, s.Set(ctx, k, []byte(k)), "Set(%q)", k)
	}
	require.NoError(t, s.Set(ctx, "personas/a.json", []byte("v2")))

	got, err := s.Get(ctx, "personas/a.json")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	keys, err := s.List(ctx, "personas/")
	require.NoError(t, err)
	assert.Equal(t, []string{"personas/a.json", "personas/b.json"}, keys)
}

func TestGetMissing(t *testing.T) {
	_, err := open(t).Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFound(err), "expected not found, got %v", err)
}
