package errors

import (
	"fmt"
)

// ErrorCode represents different categories of errors
type ErrorCode string

const (
	// ErrCodeValidation indicates malformed input, e.g. an event that does not decode
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNetwork indicates network-related errors
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeDatabase indicates local store errors
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeTransaction indicates a vote or heartbeat submission that reverted or was not mined
	ErrCodeTransaction ErrorCode = "TRANSACTION"

	// ErrCodeConfig indicates configuration errors
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeRPC indicates RPC-related errors
	ErrCodeRPC ErrorCode = "RPC"

	// ErrCodeVersion indicates an unsupported or undetectable contract version
	ErrCodeVersion ErrorCode = "VERSION"

	// ErrCodeTimeout indicates timeout errors
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeInternal indicates internal system errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Severity represents the severity level of an error
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
	SeverityInfo     Severity = "INFO"
)

// ChainError is an error raised while talking to one side of the bridge.
type ChainError struct {
	Code     ErrorCode      `json:"code"`
	Message  string         `json:"message"`
	Chain    string         `json:"chain,omitempty"`
	Severity Severity       `json:"severity"`
	Cause    error          `json:"-"`
	Context  map[string]any `json:"context,omitempty"`
}

// NewChainError creates a new ChainError
func NewChainError(code ErrorCode, chain, message string, cause error) *ChainError {
	return &ChainError{
		Code:     code,
		Message:  message,
		Chain:    chain,
		Severity: determineSeverity(code),
		Cause:    cause,
		Context:  make(map[string]any),
	}
}

// Error implements the error interface
func (e *ChainError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	if e.Chain != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Chain, e.Code, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause
func (e *ChainError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *ChainError) WithContext(key string, value any) *ChainError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSeverity overrides the default severity
func (e *ChainError) WithSeverity(severity Severity) *ChainError {
	e.Severity = severity
	return e
}

// IsRetryable reports whether the same call may succeed if repeated shortly.
func (e *ChainError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return true
	case ErrCodeDatabase:
		return e.Severity != SeverityCritical
	default:
		return false
	}
}

// IsFatal reports whether the error stops the process or the current direction for good.
func (e *ChainError) IsFatal() bool {
	switch e.Code {
	case ErrCodeConfig, ErrCodeValidation, ErrCodeVersion:
		return true
	default:
		return false
	}
}

func determineSeverity(code ErrorCode) Severity {
	switch code {
	case ErrCodeInternal, ErrCodeConfig, ErrCodeVersion:
		return SeverityCritical
	case ErrCodeDatabase, ErrCodeTransaction, ErrCodeValidation:
		return SeverityHigh
	case ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return SeverityMedium
	default:
		return SeverityInfo
	}
}

// ErrorGroup represents a collection of errors
type ErrorGroup struct {
	Errors []error
}

// NewErrorGroup creates a new error group
func NewErrorGroup() *ErrorGroup {
	return &ErrorGroup{
		Errors: make([]error, 0),
	}
}

// Add adds an error to the group
func (eg *ErrorGroup) Add(err error) {
	if err != nil {
		eg.Errors = append(eg.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (eg *ErrorGroup) HasErrors() bool {
	return len(eg.Errors) > 0
}

// Error implements the error interface
func (eg *ErrorGroup) Error() string {
	if len(eg.Errors) == 0 {
		return ""
	}
	if len(eg.Errors) == 1 {
		return eg.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %v", len(eg.Errors), eg.Errors[0])
}

// Unwrap exposes the grouped errors to errors.Is and errors.As.
func (eg *ErrorGroup) Unwrap() []error {
	return eg.Errors
}

// ErrOrNil returns the group as an error, or nil when empty.
func (eg *ErrorGroup) ErrOrNil() error {
	if eg.HasErrors() {
		return eg
	}
	return nil
}

// NewValidationError creates a validation error
func NewValidationError(chain, message string) *ChainError {
	return NewChainError(ErrCodeValidation, chain, message, nil)
}

// NewNetworkError creates a network error
func NewNetworkError(chain, message string, cause error) *ChainError {
	return NewChainError(ErrCodeNetwork, chain, message, cause)
}

// NewDatabaseError creates a database error
func NewDatabaseError(chain, message string, cause error) *ChainError {
	return NewChainError(ErrCodeDatabase, chain, message, cause)
}

// NewTransactionError creates a transaction error
func NewTransactionError(chain, message string, cause error) *ChainError {
	return NewChainError(ErrCodeTransaction, chain, message, cause)
}

// NewConfigError creates a configuration error
func NewConfigError(chain, message string) *ChainError {
	return NewChainError(ErrCodeConfig, chain, message, nil)
}

// NewRPCError creates an RPC error
func NewRPCError(chain, message string, cause error) *ChainError {
	return NewChainError(ErrCodeRPC, chain, message, cause)
}

// NewVersionError creates a contract version error
func NewVersionError(chain, message string, cause error) *ChainError {
	return NewChainError(ErrCodeVersion, chain, message, cause)
}

// NewTimeoutError creates a timeout error
func NewTimeoutError(chain, message string) *ChainError {
	return NewChainError(ErrCodeTimeout, chain, message, nil)
}

// NewInternalError creates an internal error
func NewInternalError(chain, message string, cause error) *ChainError {
	return NewChainError(ErrCodeInternal, chain, message, cause)
}
