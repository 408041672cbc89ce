package entity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateID  = errors.New("duplicate id")
	ErrInvalidState = errors.New("invalid state")

	// ErrCancellationRequested short-circuits the stage loop. It is not a failure.
	ErrCancellationRequested = errors.New("cancellation requested")
)

// Machine-readable codes carried by API errors and JobError records.
const (
	CodeValidation      = "VALIDATION_FAILED"
	CodeInvalidID       = "INVALID_ID"
	CodeNotFound        = "NOT_FOUND"
	CodeInvalidState    = "INVALID_STATE"
	CodeRetryNotAllowed = "RETRY_NOT_ALLOWED"
	CodeInternal        = "INTERNAL"
	CodeTransient       = "PROVIDER_TRANSIENT"
	CodeStageFailed     = "STAGE_FAILED"
	CodeInterrupted     = "INTERRUPTED"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// TransientError marks a provider failure worth retrying inside the stage.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	if e.Provider == "" {
		return "transient: " + e.Err.Error()
	}
	return fmt.Sprintf("transient (%s): %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable.
func Transient(provider string, err error) error {
	return &TransientError{Provider: provider, Err: err}
}

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// UnrecoverableError escalates the job to Failed without within-stage retries.
type UnrecoverableError struct {
	Code        string
	Message     string
	Remediation string
	// RequiresRestart means outputs of earlier stages can't be reused.
	RequiresRestart bool
	Err             error
}

func (e *UnrecoverableError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

type RetryDenyReason string

const (
	RetryDenyCooldown RetryDenyReason = "cooldown"
	RetryDenyCeiling  RetryDenyReason = "ceiling"
)

type RetryNotAllowedError struct {
	Reason     RetryDenyReason
	RetryCount int
	MaxRetries int
	Remaining  time.Duration
}

func (e *RetryNotAllowedError) Error() string {
	if e.Reason == RetryDenyCeiling {
		return fmt.Sprintf("retry not allowed: %d of %d retries used", e.RetryCount, e.MaxRetries)
	}
	return fmt.Sprintf("retry not allowed: cool-down has %s remaining", e.Remaining.Round(time.Second))
}

func (e *RetryNotAllowedError) Remediation() string {
	if e.Reason == RetryDenyCeiling {
		return "retry limit reached; create a new job"
	}
	return "wait before retrying"
}
