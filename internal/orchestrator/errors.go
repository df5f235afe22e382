package orchestrator

import (
	"errors"
	"fmt"
)

// ValidationError is returned for requests rejected before any collaborator
// is called.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// StoreError wraps a persistence failure.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// AIServiceError wraps a failure from the AI client.
type AIServiceError struct {
	Op  string
	Err error
}

func (e *AIServiceError) Error() string {
	return fmt.Sprintf("ai %s: %v", e.Op, e.Err)
}

func (e *AIServiceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsStore reports whether err is a StoreError.
func IsStore(err error) bool {
	var s *StoreError
	return errors.As(err, &s)
}

// IsAIService reports whether err is an AIServiceError.
func IsAIService(err error) bool {
	var a *AIServiceError
	return errors.As(err, &a)
}

func validationf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

func aiErr(op string, err error) error {
	return &AIServiceError{Op: op, Err: err}
}
