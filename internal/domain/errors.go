package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates that an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrForbidden indicates that the caller may not see or change the entity.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that a dependency is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrInvalidTransition indicates that a lifecycle precondition was not met.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrDuplicateControlNumber indicates that a composed control number
	// collided with one already persisted for the tenant.
	ErrDuplicateControlNumber = errors.New("duplicate control number")

	// ErrAllocationConflict indicates that allocation kept colliding after a
	// retry. The caller may retry the classification.
	ErrAllocationConflict = errors.New("allocation conflict")

	// ErrLockNotObtained indicates that a bucket lock could not be acquired in time.
	ErrLockNotObtained = errors.New("lock not obtained")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// AlreadyExistsError provides details about a duplicate entity.
type AlreadyExistsError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s already exists: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *AlreadyExistsError) Unwrap() error {
	return ErrAlreadyExists
}

// InvalidTransitionError names the lifecycle transition that was rejected
// and the precondition it failed.
type InvalidTransitionError struct {
	Transition   string
	Precondition string
}

// Error implements the error interface.
func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %q: %s", e.Transition, e.Precondition)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// DuplicateControlNumberError carries the colliding control number.
type DuplicateControlNumberError struct {
	TenantID      string
	ControlNumber string
}

// Error implements the error interface.
func (e *DuplicateControlNumberError) Error() string {
	return fmt.Sprintf("control number %s already issued for tenant %s", e.ControlNumber, e.TenantID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *DuplicateControlNumberError) Unwrap() error {
	return ErrDuplicateControlNumber
}

// AllocationConflictError is returned when allocation still collides after retrying.
type AllocationConflictError struct {
	Bucket   string
	Attempts int
	Cause    error
}

// Error implements the error interface.
func (e *AllocationConflictError) Error() string {
	return fmt.Sprintf("allocation conflict in bucket %s after %d attempts: %v", e.Bucket, e.Attempts, e.Cause)
}

// Is reports the conflict sentinel for errors.Is.
func (e *AllocationConflictError) Is(target error) bool {
	return target == ErrAllocationConflict
}

// Unwrap returns the last collision.
func (e *AllocationConflictError) Unwrap() error {
	return e.Cause
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(entity, id string) *AlreadyExistsError {
	return &AlreadyExistsError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewInvalidTransitionError creates a new InvalidTransitionError.
func NewInvalidTransitionError(transition, precondition string) *InvalidTransitionError {
	return &InvalidTransitionError{
		Transition:   transition,
		Precondition: precondition,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}
