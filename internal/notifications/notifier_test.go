package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/config"
	"dopple/internal/pkg/errors"
)

func TestNewWithoutTransportsIsNoop(t *testing.T) {
	n := New(config.Notifications{})

	assert.IsType(t, Noop{}, n)
	assert.NoError(t, n.NotifyReady(context.Background(), "p1", "a@b.c", "Ada"))
}

func TestNtfyPublishesMessage(t *testing.T) {
	var got *http.Request
	var body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got, body = r, string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(config.Notifications{NtfyTopic: srv.URL + "/dopple", PublicURL: "https://dopple.example"})
	require.NoError(t, n.NotifyReady(context.Background(), "p1", "ada@example.com", "Ada"))

	require.NotNil(t, got)
	assert.Equal(t, "/dopple", got.URL.Path)
	assert.Equal(t, "Your dopple is ready", got.Header.Get("Title"))
	assert.Equal(t, "https://dopple.example/chat.html?id=p1", got.Header.Get("Click"))
	assert.Equal(t, "ada@example.com", got.Header.Get("X-Email"))
	assert.Regexp(t, `^Ada is ready to chat\.`, body)
}

func TestWebhookPostsJSON(t *testing.T) {
	var payload WebhookPayload
	var contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(config.Notifications{WebhookURL: srv.URL})
	require.NoError(t, n.NotifyReady(context.Background(), "p9", "", "Grace"))

	assert.Equal(t, "application/json", contentType)
	assert.Equal(t, WebhookPayload{Event: "persona.ready", PersonaID: "p9", DisplayName: "Grace"}, payload)
}

func TestNotifyFailureStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic locked", http.StatusForbidden)
	}))
	defer srv.Close()

	err := New(config.Notifications{NtfyTopic: srv.URL}).NotifyReady(context.Background(), "p1", "", "Ada")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "topic locked")
	assert.Equal(t, errors.CodeUnavailable, errors.GetCode(err))
}

func TestBothTransports(t *testing.T) {
	hits := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits[r.URL.Path]++
	}))
	defer srv.Close()

	n := New(config.Notifications{NtfyTopic: srv.URL + "/push", WebhookURL: srv.URL + "/hook"})
	require.NoError(t, n.NotifyReady(context.Background(), "p1", "", "Ada"))

	assert.Equal(t, map[string]int{"/push": 1, "/hook": 1}, hits)
}
