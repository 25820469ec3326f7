package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dopple/internal/pkg/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		code   errors.Code
	}{
		{"ok", 200, `{}`, ""},
		{"unauthorized", 401, `{"message":"invalid api key"}`, errors.CodeNotConfigured},
		{"rate limited", 429, ``, errors.CodeResourceExhaust},
		{"bad gateway", 502, `<html>`, errors.CodeUnavailable},
		{"timeout", 408, ``, errors.CodeTimeout},
		{"rejected", 400, `{"error":{"message":"image has no face"}}`, errors.CodeRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("test.op", tt.status, http.Header{}, []byte(tt.body))
			if tt.code == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.code, errors.GetCode(err))
		})
	}
}

func TestClassifyKeepsProviderMessage(t *testing.T) {
	err := Classify("heygen.submit_render", 400, http.Header{}, []byte(`{"error":{"message":"voice not found"}}`))
	assert.Contains(t, err.Error(), "voice not found")
	assert.True(t, errors.IsPermanent(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 7*time.Second, ParseRetryAfter("7", now))
	assert.Equal(t, 30*time.Second, ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon", now))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("", now))
}

func TestDoRetryAfterHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("test", srv.Client(), map[string]string{"X-Api-Key": "secret"})
	err := c.Do(context.Background(), Request{Op: "test.get", Method: http.MethodGet, URL: srv.URL}, nil)

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, 3*time.Second, errors.GetRetryAfter(err))
}

func TestDoDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"data":{"id":"x1"}}`))
	}))
	defer srv.Close()

	var out struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	c := NewClient("test", srv.Client(), nil)
	err := c.Do(context.Background(), Request{Op: "test.post", Method: http.MethodPost, URL: srv.URL, JSON: map[string]string{"a": "b"}}, &out)

	require.NoError(t, err)
	assert.Equal(t, "x1", out.Data.ID)
}

func TestDoNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	err := NewClient("test", nil, nil).Do(context.Background(), Request{Op: "x", Method: http.MethodGet, URL: url}, nil)
	assert.True(t, errors.IsTransient(err))
}
