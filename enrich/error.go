package enrich

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/arcform/reverb/errors"
)

// ErrorCode represents the classification of a stage error
type ErrorCode string

const (
	ErrorCodeFileNotFound  ErrorCode = "file_not_found"
	ErrorCodeParseError    ErrorCode = "parse_error"
	ErrorCodeNetworkError  ErrorCode = "network_error"
	ErrorCodeDatabaseError ErrorCode = "database_error"
	ErrorCodeProviderError ErrorCode = "provider_error"
	ErrorCodeMediaError    ErrorCode = "media_error"
	ErrorCodeTimeout       ErrorCode = "timeout"
	ErrorCodeUnknown       ErrorCode = "unknown"
)

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Stage     string    // Where the error occurred
	Code      ErrorCode // Error classification
	Message   string    // Human-readable message
	Retryable bool      // Transient errors retry, terminal errors do not
}

// ClassifyStageError categorizes a stage error and wraps it with a transient
// or terminal mark so the queue's retry policy can act on it. Errors already
// marked by a stage keep their mark.
func ClassifyStageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errors.ErrTransientStage) || errors.Is(err, errors.ErrTerminalStage) {
		return errors.Wrapf(err, "%s stage failed", stage)
	}

	ctx := Classify(stage, err)
	wrapped := errors.Wrapf(err, "%s stage failed", stage)
	if ctx.Retryable {
		return errors.Transient(wrapped)
	}
	return errors.Terminal(wrapped)
}

// Classify categorizes an error based on its type and message
func Classify(stage string, err error) ErrorContext {
	if err == nil {
		return ErrorContext{Stage: stage, Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{
		Stage:   stage,
		Message: err.Error(),
	}

	var netErr net.Error
	errLower := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		ctx.Code = ErrorCodeTimeout
		ctx.Retryable = true

	case errors.As(err, &netErr):
		ctx.Code = ErrorCodeNetworkError
		ctx.Retryable = true

	case strings.Contains(errLower, "no such file") || strings.Contains(errLower, "file not found"):
		ctx.Code = ErrorCodeFileNotFound
		ctx.Retryable = false

	case strings.Contains(errLower, "parse") || strings.Contains(errLower, "unmarshal") || strings.Contains(errLower, "invalid json"):
		ctx.Code = ErrorCodeParseError
		ctx.Retryable = false

	case strings.Contains(errLower, "connection") || strings.Contains(errLower, "network") || strings.Contains(errLower, "timeout"):
		ctx.Code = ErrorCodeNetworkError
		ctx.Retryable = true

	case errors.Is(err, errors.ErrStorage) || strings.Contains(errLower, "database") || strings.Contains(errLower, "sql"):
		ctx.Code = ErrorCodeDatabaseError
		ctx.Retryable = true

	case strings.Contains(errLower, "ffmpeg") || strings.Contains(errLower, "ffprobe"):
		ctx.Code = ErrorCodeMediaError
		ctx.Retryable = false

	default:
		ctx.Code = ErrorCodeUnknown
		ctx.Retryable = true
	}

	return ctx
}

// RetryableHTTPStatus reports whether an upstream HTTP status should be
// retried. Server errors and throttling retry; other client errors do not.
func RetryableHTTPStatus(status int) bool {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return true
	case status >= 500:
		return true
	default:
		return false
	}
}

// ClassifyHTTPError wraps an upstream HTTP failure with the right retry mark
func ClassifyHTTPError(status int, err error) error {
	if err == nil {
		return nil
	}
	if RetryableHTTPStatus(status) {
		return errors.Transient(err)
	}
	return errors.Terminal(err)
}
