package model

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUserRejected        = errors.New("user rejected request")
	ErrNetwork             = errors.New("network error")
	ErrValidation          = errors.New("invalid input")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrReverted            = errors.New("transaction reverted")
	ErrNotFound            = errors.New("transaction not found")
	ErrUnsupportedFlow     = errors.New("unsupported flow type")
)

type ErrorKind string

const (
	ERROR_KIND_REJECTED   ErrorKind = "rejected"
	ERROR_KIND_NETWORK    ErrorKind = "network"
	ERROR_KIND_VALIDATION ErrorKind = "validation"
	ERROR_KIND_TIMEOUT    ErrorKind = "timeout"
	ERROR_KIND_REVERTED   ErrorKind = "reverted"
	ERROR_KIND_UNKNOWN    ErrorKind = "unknown"
)

// StepFailure is a retryable failure captured on a step.
type StepFailure struct {
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
	Cause  error     `json:"-"`
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *StepFailure) Unwrap() error {
	return e.Cause
}

func NewStepFailure(err error) *StepFailure {
	var se *StepFailure
	if errors.As(err, &se) {
		return se
	}
	kind := ClassifyError(err)
	reason := err.Error()
	if kind == ERROR_KIND_TIMEOUT {
		reason = string(ERROR_KIND_TIMEOUT)
	}
	return &StepFailure{
		Kind:   kind,
		Reason: reason,
		Cause:  err,
	}
}

func ClassifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConfirmationTimeout), errors.Is(err, context.DeadlineExceeded):
		return ERROR_KIND_TIMEOUT
	case errors.Is(err, ErrUserRejected):
		return ERROR_KIND_REJECTED
	case errors.Is(err, ErrValidation):
		return ERROR_KIND_VALIDATION
	case errors.Is(err, ErrReverted), errors.Is(err, ErrNotFound):
		return ERROR_KIND_REVERTED
	case errors.Is(err, ErrNetwork):
		return ERROR_KIND_NETWORK
	}
	return ERROR_KIND_UNKNOWN
}

// StructuralError collapses the whole flow. It is not retryable.
type StructuralError struct {
	Message string
	Cause   error
}

func (e StructuralError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("structural error %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("structural error %s", e.Message)
}

func (e StructuralError) Unwrap() error {
	return e.Cause
}
