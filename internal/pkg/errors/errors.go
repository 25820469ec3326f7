// Package errors provides coded errors for the dopple orchestrator.
// Codes drive both the HTTP envelope and the retry classification used by
// the pipeline (transient, permanent, not configured).
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Code categorizes an error.
type Code string

const (
	CodeInternal        Code = "INTERNAL_ERROR"
	CodeValidation      Code = "VALIDATION_ERROR"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeTimeout         Code = "TIMEOUT"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeBadRequest      Code = "BAD_REQUEST"
	CodeResourceExhaust Code = "RESOURCE_EXHAUSTED"
	// CodeNotConfigured marks a collaborator with missing credentials.
	CodeNotConfigured Code = "NOT_CONFIGURED"
	// CodeMalformed marks a stored record that cannot be decoded.
	CodeMalformed Code = "MALFORMED"
	// CodeRejected marks a provider refusing a request for good.
	CodeRejected Code = "REJECTED"
)

// Error carries a code, the failing operation and optional context fields.
type Error struct {
	Code    Code
	Message string
	// Op is the operation that failed (e.g., "heygen.upload_asset").
	Op     string
	Err    error
	Fields map[string]any
	// RetryAfter is the provider-advertised wait before the next attempt.
	RetryAfter time.Duration
	Stack      []Frame
}

// Frame is a single captured stack frame.
type Frame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Code != "" {
		b.WriteString("[")
		b.WriteString(string(e.Code))
		b.WriteString("] ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithField attaches a context field.
func (e *Error) WithField(key string, value any) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]any)
	}
	e.Fields[key] = value
	return e
}

// WithRetryAfter records a provider-supplied backoff hint.
func (e *Error) WithRetryAfter(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// HTTPStatus maps the code onto a response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeValidation, CodeBadRequest, CodeMalformed:
		return 400
	case CodeUnauthorized:
		return 401
	case CodeForbidden:
		return 403
	case CodeNotFound:
		return 404
	case CodeConflict:
		return 409
	case CodeRejected:
		return 422
	case CodeResourceExhaust:
		return 429
	case CodeTimeout:
		return 504
	case CodeUnavailable, CodeNotConfigured:
		return 503
	default:
		return 500
	}
}

// StackTrace formats the captured stack, one frame per line.
func (e *Error) StackTrace() string {
	if len(e.Stack) == 0 {
		return ""
	}
	var b strings.Builder
	for _, f := range e.Stack {
		fmt.Fprintf(&b, "  %s:%d %s\n", f.File, f.Line, f.Function)
	}
	return b.String()
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Stack: captureStack(2)}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Stack: captureStack(2)}
}

// Wrap adds op context to err. An existing code and retry hint are kept;
// foreign errors become CodeInternal.
func Wrap(err error, op string, message string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{
			Code:       e.Code,
			Message:    message,
			Op:         op,
			Err:        err,
			Fields:     e.Fields,
			RetryAfter: e.RetryAfter,
			Stack:      captureStack(2),
		}
	}
	return &Error{Code: CodeInternal, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

func Wrapf(err error, op string, format string, args ...any) *Error {
	return Wrap(err, op, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps err and forces code.
func WrapWithCode(err error, code Code, op string, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Op: op, Err: err, Stack: captureStack(2)}
}

func NotFound(resource string, id string) *Error {
	return New(CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id)).
		WithField("resource", resource).
		WithField("id", id)
}

func Validation(message string) *Error { return New(CodeValidation, message) }

func Validationf(format string, args ...any) *Error { return Newf(CodeValidation, format, args...) }

func Malformed(key string, err error) *Error {
	return WrapWithCode(err, CodeMalformed, "record.decode", "malformed record").WithField("key", key)
}

// NotConfigured reports a provider or transport whose credentials are absent.
func NotConfigured(service string) *Error {
	return New(CodeNotConfigured, fmt.Sprintf("provider unavailable: %s", service)).
		WithField("service", service)
}

func Rejected(op string, reason string) *Error {
	e := New(CodeRejected, reason)
	e.Op = op
	return e
}

func Unavailable(service string) *Error {
	return New(CodeUnavailable, fmt.Sprintf("service unavailable: %s", service)).
		WithField("service", service)
}

// GetCode returns the outermost code, or CodeInternal for foreign errors.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

func GetHTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.HTTPStatus()
	}
	return 500
}

// GetRetryAfter returns the first retry hint found in the chain.
func GetRetryAfter(err error) time.Duration {
	for err != nil {
		if e, ok := err.(*Error); ok && e.RetryAfter > 0 {
			return e.RetryAfter
		}
		err = errors.Unwrap(err)
	}
	return 0
}

// GetFields returns the structured fields attached to err, if any.
func GetFields(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

func IsCode(err error, code Code) bool { return GetCode(err) == code }

func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }

func IsNotConfigured(err error) bool { return IsCode(err, CodeNotConfigured) }

func IsMalformed(err error) bool { return IsCode(err, CodeMalformed) }

// IsTransient reports whether a later attempt may succeed. Network failures
// and context deadlines wrapped as foreign errors count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case CodeTimeout, CodeUnavailable, CodeResourceExhaust, CodeInternal:
		return true
	}
	return false
}

// IsPermanent reports whether retrying the same request is pointless.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	switch GetCode(err) {
	case CodeRejected, CodeValidation, CodeBadRequest, CodeUnauthorized, CodeForbidden, CodeNotFound:
		return true
	}
	return false
}

func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr
	n := runtime.Callers(skip+1, pcs[:])

	frames := make([]Frame, 0, n)
	it := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := it.Next()
		if !strings.Contains(frame.File, "runtime/") {
			frames = append(frames, Frame{File: frame.File, Line: frame.Line, Function: frame.Function})
		}
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

func As(err error, target any) bool { return errors.As(err, target) }

func Is(err, target error) bool { return errors.Is(err, target) }
