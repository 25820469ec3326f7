package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(Config{Level: level, Format: "json", Output: &buf, ServiceName: "dopple-test"}), &buf
}

func TestLoggerOutput(t *testing.T) {
	log, buf := newBufferLogger("debug")

	log.Info("pass finished", "processed", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "log output should be JSON")
	assert.Equal(t, "pass finished", entry["msg"])
	assert.Equal(t, float64(3), entry["processed"])
	assert.Equal(t, "dopple-test", entry["service"])
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	log.Info("hello")

	assert.Contains(t, buf.String(), "msg=hello")
}

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		logFn     func(*Logger)
		shouldLog bool
	}{
		{"info level logs info", "info", func(l *Logger) { l.Info("x") }, true},
		{"info level drops debug", "info", func(l *Logger) { l.Debug("x") }, false},
		{"debug level logs debug", "debug", func(l *Logger) { l.Debug("x") }, true},
		{"error level drops warn", "error", func(l *Logger) { l.Warn("x") }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBufferLogger(tt.level)
			tt.logFn(log)
			assert.Equal(t, tt.shouldLog, buf.Len() > 0)
		})
	}
}

func TestWithHelpers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(*Logger) *Logger
		want string
	}{
		{"request id", func(l *Logger) *Logger { return l.WithRequestID("req-123") }, `"request_id":"req-123"`},
		{"run id", func(l *Logger) *Logger { return l.WithRunID("run-9") }, `"run_id":"run-9"`},
		{"persona id", func(l *Logger) *Logger { return l.WithPersonaID("p-1") }, `"persona_id":"p-1"`},
		{"component", func(l *Logger) *Logger { return l.WithComponent("scheduler") }, `"component":"scheduler"`},
		{"fields", func(l *Logger) *Logger { return l.WithFields(map[string]any{"mode": "sweep"}) }, `"mode":"sweep"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, buf := newBufferLogger("info")
			tt.fn(log).Info("msg")
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestWithError(t *testing.T) {
	log, buf := newBufferLogger("info")

	assert.Same(t, log, log.WithError(nil), "WithError(nil) should return same logger")

	log.WithError(context.DeadlineExceeded).Info("budget spent")
	assert.Contains(t, buf.String(), "deadline exceeded")
}

func TestFromContext(t *testing.T) {
	log, buf := newBufferLogger("info")

	ctx := ContextWithRequestID(context.Background(), "req-abc")
	ctx = ContextWithRunID(ctx, "run-xyz")
	ctx = ContextWithPersonaID(ctx, "persona-1")

	log.FromContext(ctx).Info("advance")

	for _, want := range []string{"req-abc", "run-xyz", "persona-1"} {
		assert.Contains(t, buf.String(), want)
	}
}

func TestDiscard(t *testing.T) {
	// must not panic and must not write anywhere observable
	Discard().WithPersonaID("p").Error("ignored")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"debug", "DEBUG"},
		{"INFO", "INFO"},
		{"warning", "WARN"},
		{"error", "ERROR"},
		{"unknown", "INFO"},
		{"", "INFO"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input).String())
		})
	}
}
