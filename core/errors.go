package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Circuit breaker errors
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// Tool invocation errors
	ErrToolTimeout = errors.New("tool timeout")
	ErrToolFailed  = errors.New("tool execution failed")

	// Chain errors
	ErrUnknownChain       = errors.New("unknown chain")
	ErrEmptyChain         = errors.New("chain has no steps")
	ErrRetriesExhausted   = errors.New("retries and fallbacks exhausted")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

	// State errors
	ErrNotInitialized    = errors.New("not initialized")
	ErrAlreadyRegistered = errors.New("already registered")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// Operation errors
	ErrContextCanceled = errors.New("context canceled")
)

// ToolError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type ToolError struct {
	Op      string // Operation that failed (e.g., "chain.ExecuteStep")
	Tool    string // Tool name involved, if any
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *ToolError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.Tool != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.Tool, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "tool error"
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *ToolError) Unwrap() error {
	return e.Err
}

// NewToolError creates a new ToolError
func NewToolError(op, tool string, err error) *ToolError {
	return &ToolError{
		Op:   op,
		Tool: tool,
		Err:  err,
	}
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient network or availability issues.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrToolTimeout) ||
		errors.Is(err, ErrToolFailed)
}

// IsStateError checks if an error is related to invalid state
func IsStateError(err error) bool {
	return errors.Is(err, ErrNotInitialized) ||
		errors.Is(err, ErrAlreadyRegistered)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration)
}
