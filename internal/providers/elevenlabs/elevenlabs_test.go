package elevenlabs

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/pkg/errors"
)

func TestCloneVoice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/voices/add", r.URL.Path)
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "Ada", r.FormValue("name"))
		f, hdr, err := r.FormFile("files")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "RIFF....", string(data))
		assert.Equal(t, "sample.wav", hdr.Filename)

		_, _ = w.Write([]byte(`{"voice_id":"v-123"}`))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "key", APIBase: srv.URL}, srv.Client())
	id, err := c.CloneVoice(context.Background(), []byte("RIFF...."), "audio/wav", "Ada")

	require.NoError(t, err)
	assert.Equal(t, "v-123", id)
}

func TestCloneVoiceErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		_, err := New(Config{}, nil).CloneVoice(context.Background(), []byte("x"), "audio/wav", "Ada")
		assert.True(t, errors.IsNotConfigured(err))
	})

	t.Run("empty sample", func(t *testing.T) {
		_, err := New(Config{APIKey: "k"}, nil).CloneVoice(context.Background(), nil, "audio/wav", "Ada")
		assert.True(t, errors.IsPermanent(err))
	})

	t.Run("sample rejected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"detail":{"status":"voice_too_short","message":"sample too short"}}`))
		}))
		defer srv.Close()

		_, err := New(Config{APIKey: "k", APIBase: srv.URL}, srv.Client()).CloneVoice(context.Background(), []byte("x"), "audio/wav", "Ada")
		assert.True(t, errors.IsPermanent(err))
		assert.Contains(t, err.Error(), "sample too short")
	})
}
