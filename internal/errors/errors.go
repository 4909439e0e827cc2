// Package errors holds the error definitions shared by every rigwatch package.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - HTTP status mapping for the API boundary
// - Error wrapping utilities
// - A collector for multi-field validation
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Not found errors
	ErrNotFound        = errors.New("not found")
	ErrMachineNotFound = errors.New("machine not found")
	ErrSettingNotFound = errors.New("setting not found")

	// Validation errors
	ErrInvalidRange      = errors.New("invalid time range")
	ErrInvalidResolution = errors.New("invalid resolution")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidValue      = errors.New("invalid value")

	// State errors
	ErrStoreClosed      = errors.New("store is closed")
	ErrServiceStopped   = errors.New("service is not running")
	ErrAlreadyRunning   = errors.New("already running")
	ErrFlushInProgress  = errors.New("flush in progress")
	ErrSchedulerStopped = errors.New("scheduler is stopped")

	// Transient errors
	ErrTimeout = errors.New("timeout")

	// Internal errors
	ErrInternal = errors.New("internal error")
	ErrDatabase = errors.New("database error")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrMachineNotFound) ||
		errors.Is(err, ErrSettingNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidResolution) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidValue)
}

// IsStateError returns true if err is a lifecycle error.
func IsStateError(err error) bool {
	return errors.Is(err, ErrStoreClosed) ||
		errors.Is(err, ErrServiceStopped) ||
		errors.Is(err, ErrAlreadyRunning) ||
		errors.Is(err, ErrSchedulerStopped)
}

// IsRetriable returns true if the error is potentially retriable.
// Store I/O failures fall in this class: the ingestion path requeues and
// the scheduler retries on its next firing.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrDatabase) ||
		errors.Is(err, ErrFlushInProgress) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ============================================================================
// Error to HTTP status mapping
// ============================================================================

// HTTPStatus maps an error to the status code returned by the API.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyRunning), errors.Is(err, ErrFlushInProgress):
		return http.StatusConflict
	case IsStateError(err), IsRetriable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Database marks err as a store failure while keeping the original chain.
func Database(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrDatabase, err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewMachineNotFound creates a machine-not-found error.
func NewMachineNotFound(id string) error {
	return fmt.Errorf("machine '%s': %w", id, ErrMachineNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidValue)
}

// NewInvalidRange creates a range error.
func NewInvalidRange(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrInvalidRange)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap exposes every collected error to errors.Is/As.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
