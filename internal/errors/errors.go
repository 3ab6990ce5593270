package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Malaise error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrCancelled      ErrorCode = "CANCELLED"       // 499
	ErrInternal       ErrorCode = "INTERNAL"        // 500
	ErrAnalysisFailed ErrorCode = "ANALYSIS_FAILED" // 502
)

// MalaiseError represents a structured error with code, status, and details.
type MalaiseError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *MalaiseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *MalaiseError {
	return &MalaiseError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing record of the given kind.
func NewNotFound(kind, identifier string) *MalaiseError {
	return &MalaiseError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *MalaiseError {
	return &MalaiseError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewCancelled creates a 499 error when an operation's context is cancelled.
func NewCancelled(operation string) *MalaiseError {
	return &MalaiseError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", operation),
		Details: map[string]any{"operation": operation},
	}
}

// NewAnalysisFailed creates a 502 error when every analyzer failed.
func NewAnalysisFailed(attempted []string, err error) *MalaiseError {
	msg := "symptom analysis failed, please try again"
	if err != nil {
		msg = fmt.Sprintf("symptom analysis failed: %v", err)
	}
	return &MalaiseError{
		Code:    ErrAnalysisFailed,
		Status:  502,
		Message: msg,
		Details: map[string]any{"analyzers": attempted},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The underlying error is kept in Details for logging; Message stays generic.
func NewInternal(err error) *MalaiseError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &MalaiseError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or anything it wraps) is a MalaiseError with the given code.
func Is(err error, code ErrorCode) bool {
	var mErr *MalaiseError
	if stderrors.As(err, &mErr) {
		return mErr.Code == code
	}
	return false
}
