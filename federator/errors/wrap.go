package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted message
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is checks if an error is of a specific type
func Is(err error, target error) bool {
	return errors.Is(err, target)
}

// As checks if an error can be assigned to a target type
func As(err error, target any) bool {
	return errors.As(err, target)
}

// IsChainError checks if an error is a ChainError with specific code
func IsChainError(err error, code ErrorCode) bool {
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Code == code
	}
	return false
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"eof",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
	"header not found",
	"circuit breaker is open",
}

// IsRetryable checks if an error is retryable.
// Context cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.IsRetryable()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal reports whether err carries a fatal ChainError code.
func IsFatal(err error) bool {
	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.IsFatal()
	}
	return false
}

// GetSeverity returns the severity of an error
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityInfo
	}

	var chainErr *ChainError
	if errors.As(err, &chainErr) {
		return chainErr.Severity
	}
	return SeverityHigh
}
