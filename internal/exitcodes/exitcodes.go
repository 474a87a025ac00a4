// Package exitcodes defines standard exit codes for CLI operations, kept
// stable so Airflow and Kubernetes operators can branch on them.
package exitcodes

import (
	"errors"
	"os"
	"strings"
)

const (
	// Success - run completed; partition-level warnings do not change this
	Success = 0

	// ConfigError - configuration/YAML parsing errors (non-recoverable, don't retry)
	ConfigError = 1

	// SourceError - bronze catalog could not be enumerated (recoverable once source returns)
	SourceError = 2

	// ProcessError - one or more partitions failed transform or merge (retryable per key)
	ProcessError = 3

	// ValidationError - structural validation blocked a commit (non-recoverable)
	ValidationError = 4

	// Cancelled - user cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - corrupt or unreadable state store (non-recoverable, must not guess)
	StateError = 6

	// IOError - file I/O errors (recoverable)
	IOError = 7
)

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// It examines error messages and types to classify the error.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	// State corruption first: "state" appears in many messages, but corrupt
	// state must never be misclassified as retryable
	if containsAny(errStr, []string{
		"corrupt state",
		"state file",
		"parsing state",
		"state store",
	}) {
		return StateError
	}

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{
		"source unavailable",
		"enumerating",
		"bronze",
		"catalog",
	}) {
		return SourceError
	}

	if containsAny(errStr, []string{
		"zero rows",
		"produced no rows",
		"row count",
		"validation failed",
	}) {
		return ValidationError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid config",
		"parsing config",
		"missing required",
		"invalid value",
	}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
		"context canceled",
		"context deadline",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"transform",
		"merge",
		"segment",
		"write failure",
		"partition",
	}) {
		return ProcessError
	}

	// Default to process error for unknown errors
	return ProcessError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case SourceError, Cancelled, IOError, ProcessError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
func Description(code int) string {
	switch code {
	case Success:
		return "success"
	case ConfigError:
		return "configuration error"
	case SourceError:
		return "source error (recoverable)"
	case ProcessError:
		return "processing error (retryable per partition)"
	case ValidationError:
		return "validation error"
	case Cancelled:
		return "cancelled (recoverable)"
	case StateError:
		return "state error"
	case IOError:
		return "I/O error (recoverable)"
	default:
		return "unknown error"
	}
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
