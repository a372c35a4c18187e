// Package errors provides error handling for reverb.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Mark attaches a sentinel to an error without changing its message,
// so Is(err, sentinel) holds on the result.
var Mark = crdb.Mark

// Sentinel errors for use across reverb.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrStorage indicates the durable job store failed to read or write.
	// Always surfaced to the caller, never silently dropped.
	ErrStorage = New("storage failure")

	// ErrDuplicateActiveJob indicates an enqueue was attempted while a
	// non-terminal job already exists for the same session
	ErrDuplicateActiveJob = New("active enrichment job already exists for session")

	// ErrTransientStage marks a stage failure worth retrying
	// (timeouts, rate limits, temporary I/O)
	ErrTransientStage = New("transient stage failure")

	// ErrTerminalStage marks a stage failure that retrying cannot fix
	// (invalid input, unrecoverable media corruption)
	ErrTerminalStage = New("terminal stage failure")

	// ErrShuttingDown indicates the manager is no longer accepting work
	ErrShuttingDown = New("manager is shutting down")
)

// IsNotFound checks if an error is or wraps ErrNotFound
func IsNotFound(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsStorage checks if an error is or wraps ErrStorage
func IsStorage(err error) bool {
	return err != nil && Is(err, ErrStorage)
}

// IsDuplicateActiveJob checks if an error is or wraps ErrDuplicateActiveJob
func IsDuplicateActiveJob(err error) bool {
	return err != nil && Is(err, ErrDuplicateActiveJob)
}

// Transient marks err as a retryable stage failure, preserving its message.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrTransientStage)
}

// Terminal marks err as a non-retryable stage failure, preserving its message.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return Mark(err, ErrTerminalStage)
}
