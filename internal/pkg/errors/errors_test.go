package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	err := New(CodeValidation, "scripts must not be empty")

	assert.Equal(t, CodeValidation, err.Code)
	assert.NotEmpty(t, err.Stack, "expected stack trace to be captured")
}

func TestErrorString(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name:     "simple error",
			err:      New(CodeRejected, "photo has no face"),
			contains: []string{"REJECTED", "photo has no face"},
		},
		{
			name:     "error with op",
			err:      &Error{Code: CodeUnavailable, Message: "upstream down", Op: "heygen.upload_asset"},
			contains: []string{"heygen.upload_asset", "UNAVAILABLE", "upstream down"},
		},
		{
			name:     "error with underlying",
			err:      &Error{Code: CodeInternal, Message: "wrapper", Err: fmt.Errorf("connection reset")},
			contains: []string{"wrapper", "connection reset"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			str := tt.err.Error()
			for _, c := range tt.contains {
				assert.Contains(t, str, c)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	original := fmt.Errorf("dial tcp: i/o timeout")
	wrapped := Wrap(original, "store.get", "read failed")

	assert.Equal(t, CodeInternal, wrapped.Code)
	assert.Equal(t, original, errors.Unwrap(wrapped), "Unwrap should return original error")
	assert.Nil(t, Wrap(nil, "op", "message"))
}

func TestWrapPreservesCodeAndRetryAfter(t *testing.T) {
	original := New(CodeResourceExhaust, "rate limited").WithRetryAfter(3 * time.Second)
	wrapped := Wrap(original, "pipeline.submit", "submit failed")

	assert.Equal(t, CodeResourceExhaust, wrapped.Code)
	assert.Equal(t, 3*time.Second, wrapped.RetryAfter)
}

func TestGetRetryAfter(t *testing.T) {
	inner := New(CodeResourceExhaust, "slow down").WithRetryAfter(2 * time.Second)
	chained := fmt.Errorf("outer: %w", inner)

	assert.Equal(t, 2*time.Second, GetRetryAfter(chained))
	assert.Zero(t, GetRetryAfter(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code   Code
		status int
	}{
		{CodeValidation, 400},
		{CodeMalformed, 400},
		{CodeUnauthorized, 401},
		{CodeNotFound, 404},
		{CodeRejected, 422},
		{CodeResourceExhaust, 429},
		{CodeInternal, 500},
		{CodeUnavailable, 503},
		{CodeNotConfigured, 503},
		{CodeTimeout, 504},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.status, New(tt.code, "test").HTTPStatus())
		})
	}
}

func TestClassification(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		transient     bool
		permanent     bool
		notConfigured bool
	}{
		{"nil", nil, false, false, false},
		{"rate limited", New(CodeResourceExhaust, "429"), true, false, false},
		{"server error", New(CodeUnavailable, "502"), true, false, false},
		{"timeout", New(CodeTimeout, "deadline"), true, false, false},
		{"network", fmt.Errorf("connection refused"), true, false, false},
		{"rejected", Rejected("heygen.submit_render", "bad voice"), false, true, false},
		{"validation", Validation("bad"), false, true, false},
		{"missing key", NotConfigured("heygen"), false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err), "IsTransient")
			assert.Equal(t, tt.permanent, IsPermanent(tt.err), "IsPermanent")
			assert.Equal(t, tt.notConfigured, IsNotConfigured(tt.err), "IsNotConfigured")
		})
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		err := NotFound("persona", "p1")
		assert.Equal(t, "persona", err.Fields["resource"])
		assert.Equal(t, "p1", err.Fields["id"])
	})

	t.Run("Malformed", func(t *testing.T) {
		err := Malformed("personas/x.json", fmt.Errorf("unexpected end of JSON input"))
		assert.True(t, IsMalformed(err))
		assert.Equal(t, "personas/x.json", err.Fields["key"])
	})

	t.Run("Rejected", func(t *testing.T) {
		err := Rejected("elevenlabs.clone_voice", "sample too short")
		assert.Equal(t, "elevenlabs.clone_voice", err.Op)
	})
}

func TestStackTrace(t *testing.T) {
	stack := New(CodeInternal, "test error").StackTrace()
	assert.Contains(t, stack, ".go:")
}

func TestErrorIs(t *testing.T) {
	err1 := New(CodeNotFound, "error 1")
	err2 := New(CodeNotFound, "error 2")
	err3 := New(CodeValidation, "error 3")

	assert.ErrorIs(t, err1, err2, "same code should match")
	assert.NotErrorIs(t, err1, err3, "different codes should not match")

	var target *Error
	require.True(t, As(fmt.Errorf("wrapped: %w", err1), &target), "As should find Error in chain")
	assert.Equal(t, CodeNotFound, target.Code)
}
