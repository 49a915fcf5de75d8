// Package apperr defines the error taxonomy shared across the engine:
// a stable Code for programmatic matching, a human Message, and an
// optional wrapped cause.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error category.
type Code string

const (
	CodeInvalidInput     Code = "INVALID_INPUT"
	CodeNotFound         Code = "NOT_FOUND"
	CodeAlreadyExists    Code = "ALREADY_EXISTS"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeForbidden        Code = "FORBIDDEN"
	CodeInternal         Code = "INTERNAL_ERROR"
	CodeServiceUnavail   Code = "SERVICE_UNAVAILABLE"
	CodeContextOverflow  Code = "CONTEXT_WINDOW_EXCEEDED"
	CodeCompactionFailed Code = "COMPACTION_FAILED"
	CodeConfigManaged    Code = "CONFIG_MANAGED_CONSTRAINT"
	CodeConfigParse      Code = "CONFIG_PARSE_ERROR"
	CodeNetworkBlocked   Code = "NETWORK_BLOCKED"
	CodeSandboxDenied    Code = "SANDBOX_DENIED"
	CodeInterrupted      Code = "INTERRUPTED"
	CodeRateLimited      Code = "RATE_LIMITED"
)

// AppError is the engine-wide error type. It always carries a Code so
// callers across process boundaries (app-server JSON-RPC responses,
// exec-event aggregation) can match on it without string parsing.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func NewInvalidInput(message string) *AppError   { return New(CodeInvalidInput, message) }
func NewNotFound(message string) *AppError       { return New(CodeNotFound, message) }
func NewInternal(message string) *AppError       { return New(CodeInternal, message) }
func NewContextOverflow(message string) *AppError { return New(CodeContextOverflow, message) }
func NewManagedConstraint(message string) *AppError {
	return New(CodeConfigManaged, message)
}
func NewNetworkBlocked(message string) *AppError { return New(CodeNetworkBlocked, message) }
func NewSandboxDenied(message string) *AppError  { return New(CodeSandboxDenied, message) }
func NewInterrupted(message string) *AppError    { return New(CodeInterrupted, message) }

// Is reports whether err is an *AppError carrying the given code.
func Is(err error, code Code) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
