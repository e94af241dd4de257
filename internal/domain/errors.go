// Package domain contains the request-diagnostics model and its errors.
// Domain errors describe registry-level failures, NOT HTTP errors.
// They are infrastructure-agnostic and mapped to HTTP by adapters.
package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a state conflict such as a duplicate entry.
	ErrConflict = errors.New("conflict")

	// ErrValidation indicates a precondition on input failed.
	ErrValidation = errors.New("validation failed")

	// ErrRegistryClosed indicates the registry has been torn down.
	ErrRegistryClosed = errors.New("request registry closed")

	// ErrObserverFault indicates an event subscriber failed.
	ErrObserverFault = errors.New("observer fault")
)

// ContextNotFoundError is returned when a flow carries a request identifier
// that has no matching registry entry.
type ContextNotFoundError struct {
	RequestID RequestID

	// RemovedAt is when the entry was removed, if the registry remembers it.
	RemovedAt time.Time
}

// Error implements the error interface.
func (e *ContextNotFoundError) Error() string {
	if !e.RemovedAt.IsZero() {
		return fmt.Sprintf("request context %s not found: removed at %s",
			e.RequestID, e.RemovedAt.Format(time.RFC3339Nano))
	}

	return fmt.Sprintf("request context %s not found", e.RequestID)
}

// Unwrap returns the sentinel error for errors.Is() support.
func (e *ContextNotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewContextNotFoundError creates a not found error for a request identifier.
func NewContextNotFoundError(id RequestID, removedAt time.Time) error {
	return &ContextNotFoundError{RequestID: id, RemovedAt: removedAt}
}

// DuplicateIdentifierError is returned when a request identifier is
// registered twice. It always indicates a caller bug.
type DuplicateIdentifierError struct {
	RequestID RequestID
}

// Error implements the error interface.
func (e *DuplicateIdentifierError) Error() string {
	return fmt.Sprintf("request context %s already registered", e.RequestID)
}

// Unwrap returns the sentinel error for errors.Is() support.
func (e *DuplicateIdentifierError) Unwrap() error {
	return ErrConflict
}

// NewDuplicateIdentifierError creates a duplicate identifier error.
func NewDuplicateIdentifierError(id RequestID) error {
	return &DuplicateIdentifierError{RequestID: id}
}

// ValidationError provides context for validation errors.
type ValidationError struct {
	Field   string
	Message string
	Value   any
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}

	return "validation failed: " + e.Message
}

// Unwrap returns the sentinel error for errors.Is() support.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError creates a validation error with context.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// NewValidationErrorWithValue creates a validation error including the invalid value.
func NewValidationErrorWithValue(field, message string, value any) error {
	return &ValidationError{Field: field, Message: message, Value: value}
}

// ObserverFaultError describes a subscriber that panicked or returned an
// error while handling a registry event. It is logged, never returned to
// callers of the registry.
type ObserverFaultError struct {
	Event     string
	RequestID RequestID
	Cause     error
	Panic     any
	Stack     []byte
}

// Error implements the error interface.
func (e *ObserverFaultError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("observer of %s for %s panicked: %v", e.Event, e.RequestID, e.Panic)
	}

	return fmt.Sprintf("observer of %s for %s failed: %v", e.Event, e.RequestID, e.Cause)
}

// Unwrap exposes both the sentinel and the subscriber's own error.
func (e *ObserverFaultError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrObserverFault}
	}

	return []error{ErrObserverFault, e.Cause}
}

// IsNotFound checks if an error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if an error is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsRegistryClosed checks if an error reports a closed registry.
func IsRegistryClosed(err error) bool {
	return errors.Is(err, ErrRegistryClosed)
}

// IsObserverFault checks if an error is an observer fault.
func IsObserverFault(err error) bool {
	return errors.Is(err, ErrObserverFault)
}
