package contracts

import (
	"errors"
	"fmt"
)

// ErrorCode tags an ExecutionError. Codes follow the NAMESPACE/AREA/KIND layout.
type ErrorCode string

const (
	CodeValidation         ErrorCode = "BLOSSOM/INTENT/VALIDATION"
	CodeNotFound           ErrorCode = "BLOSSOM/ACCOUNT/NOT_FOUND"
	CodeDuplicateExecution ErrorCode = "BLOSSOM/INTENT/DUPLICATE_EXECUTION"
	CodeInsufficientFunds  ErrorCode = "BLOSSOM/ACCOUNT/INSUFFICIENT_FUNDS"
)

// Classification constants
const (
	ClassificationNonRetryable   = "NON_RETRYABLE"
	ClassificationIdempotentSafe = "IDEMPOTENT_SAFE"
)

// ExecutionError is the only error type surfaced by ExecuteIntent for a rejected intent.
// Every ExecutionError is terminal for the attempt and leaves persisted state untouched.
type ExecutionError struct {
	Code     ErrorCode
	Reason   string
	IntentID string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := string(e.Code)
	if e.IntentID != "" {
		msg += fmt.Sprintf(" (intent %s)", e.IntentID)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is matches on Code so that errors.Is(err, ErrValidation) works for any validation failure.
func (e *ExecutionError) Is(target error) bool {
	var t *ExecutionError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Classification reports whether the caller may safely resubmit.
func (e *ExecutionError) Classification() string {
	if e.Code == CodeDuplicateExecution {
		return ClassificationIdempotentSafe
	}
	return ClassificationNonRetryable
}

// WithIntent returns a copy of e tagged with the intent ID.
func (e *ExecutionError) WithIntent(id string) *ExecutionError {
	cp := *e
	cp.IntentID = id
	return &cp
}

// Sentinels for errors.Is.
var (
	ErrValidation         = &ExecutionError{Code: CodeValidation}
	ErrNotFound           = &ExecutionError{Code: CodeNotFound}
	ErrDuplicateExecution = &ExecutionError{Code: CodeDuplicateExecution}
	ErrInsufficientFunds  = &ExecutionError{Code: CodeInsufficientFunds}
)

func ValidationError(format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: CodeValidation, Reason: fmt.Sprintf(format, args...)}
}

func NotFoundError(actor string) *ExecutionError {
	return &ExecutionError{Code: CodeNotFound, Reason: fmt.Sprintf("account %s not found", actor)}
}

func DuplicateExecutionError(intentID string) *ExecutionError {
	return &ExecutionError{Code: CodeDuplicateExecution, Reason: "intent already executed", IntentID: intentID}
}

func InsufficientFundsError(actor string, balance, amount uint64) *ExecutionError {
	return &ExecutionError{
		Code:   CodeInsufficientFunds,
		Reason: fmt.Sprintf("account %s balance %d < amount %d", actor, balance, amount),
	}
}

// AsExecutionError extracts the ExecutionError from err, if any.
func AsExecutionError(err error) (*ExecutionError, bool) {
	var e *ExecutionError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
