// Package providers holds the HTTP plumbing shared by the provider
// adapters: one-shot requests and classification of responses into coded
// errors the pipeline can act on.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dopple/internal/pkg/errors"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Client issues single-attempt JSON requests against one provider.
type Client struct {
	name    string
	http    *http.Client
	headers http.Header
}

// NewClient builds a client. headers are sent on every request.
func NewClient(name string, httpClient *http.Client, headers map[string]string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	h := make(http.Header, len(headers))
	for k, v := range headers {
		h.Set(k, v)
	}
	return &Client{name: name, http: httpClient, headers: h}
}

func (c *Client) Name() string { return c.name }

// Request describes one call.
type Request struct {
	Op          string
	Method      string
	URL         string
	Body        io.Reader
	ContentType string
	// JSON, when set, is marshaled as the body.
	JSON any
}

// Do performs req and decodes a 2xx JSON body into out (when non-nil).
// Non-2xx answers become coded errors via Classify.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	body, contentType := req.Body, req.ContentType
	if req.JSON != nil {
		encoded, err := json.Marshal(req.JSON)
		if err != nil {
			return errors.Wrap(err, req.Op, "encode request")
		}
		body, contentType = bytes.NewReader(encoded), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return errors.Wrap(err, req.Op, "build request")
	}
	for k, v := range c.headers {
		httpReq.Header[k] = v
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, req.Op, c.name+" unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, req.Op, "read response")
	}
	if err := Classify(req.Op, resp.StatusCode, resp.Header, raw); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, req.Op, "decode response")
	}
	return nil
}

// Classify maps an HTTP answer onto the error taxonomy:
//
//	2xx          nil
//	401, 403     CodeNotConfigured (credentials absent or revoked)
//	408, 425     CodeTimeout
//	429          CodeResourceExhaust with Retry-After
//	5xx          CodeUnavailable with Retry-After
//	other 4xx    CodeRejected
func Classify(op string, status int, header http.Header, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := fmt.Sprintf("http %d: %s", status, snippet(body))
	retryAfter := ParseRetryAfter(header.Get("Retry-After"), time.Now())

	var e *errors.Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = errors.New(errors.CodeNotConfigured, "credentials rejected: "+msg)
	case status == http.StatusRequestTimeout || status == http.StatusTooEarly:
		e = errors.New(errors.CodeTimeout, msg)
	case status == http.StatusTooManyRequests:
		e = errors.New(errors.CodeResourceExhaust, msg).WithRetryAfter(retryAfter)
	case status >= 500:
		e = errors.New(errors.CodeUnavailable, msg).WithRetryAfter(retryAfter)
	default:
		e = errors.New(errors.CodeRejected, msg)
	}
	e.Op = op
	return e.WithField("http_status", status)
}

// ParseRetryAfter accepts delta-seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// ErrorMessage extracts a human reason from common provider error bodies.
func ErrorMessage(body []byte) string {
	var envelope struct {
		Message string `json:"message"`
		Detail  any    `json:"detail"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil {
		switch {
		case envelope.Message != "":
			return envelope.Message
		case envelope.Error != nil:
			if m, ok := envelope.Error.(map[string]any); ok {
				if s, ok := m["message"].(string); ok {
					return s
				}
			}
			if s, ok := envelope.Error.(string); ok {
				return s
			}
		case envelope.Detail != nil:
			if m, ok := envelope.Detail.(map[string]any); ok {
				if s, ok := m["message"].(string); ok {
					return s
				}
			}
			if s, ok := envelope.Detail.(string); ok {
				return s
			}
		}
	}
	return ""
}

func snippet(body []byte) string {
	if m := ErrorMessage(body); m != "" {
		return m
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody] + "..."
	}
	return s
}

// NotConfigured is returned by adapters built without credentials.
func NotConfigured(name string) error {
	return errors.NotConfigured(name)
}
