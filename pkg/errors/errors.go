package errors

import (
	"errors"
	"fmt"
)

var (
	ErrScannerNotFound      = errors.New("scanner binary not found")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrStoreUnreachable     = errors.New("store unreachable")
	ErrNotConfigured        = errors.New("component not configured")
	ErrScanNotFound         = errors.New("scan not found")
	ErrScanNotFinished      = errors.New("scan not finished")
	ErrScanFinished         = errors.New("scan already finished")
	ErrTooManyFailures      = errors.New("too many consecutive failures")
	ErrDiscordNotConfigured = errors.New("discord client not configured")
)

// PhaseError ties a failure to the scan phase that produced it.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("phase %s failed: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}

func NewPhaseError(phase string, err error) *PhaseError {
	return &PhaseError{
		Phase: phase,
		Err:   err,
	}
}

// ValidationError marks a record field that failed mapping into a
// persistent entity. Callers skip the record and log the error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s (value: %v): %s", e.Field, e.Value, e.Message)
}

func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}
