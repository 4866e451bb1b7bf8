// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureDate      = errors.New("date is too far in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrOutOfScope   = errors.New("caller is not a member of the requested scope")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	// ErrRaceLost marks a write-once insert that another writer already made.
	// Callers treat it as success.
	ErrRaceLost = errors.New("race lost on write-once insert")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "activity", "badge", "leaderboard"
	Op      string // Operation that failed, e.g., "Submit", "Reverse"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// ValidationError lists every problem found in a single input.
// It matches ErrValidation with errors.Is.
type ValidationError struct {
	Domain   string
	Problems []FieldProblem
}

// FieldProblem is a single rejected field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidationError creates a validation error with a single problem.
func NewValidationError(domain, field, message string) *ValidationError {
	return &ValidationError{Domain: domain, Problems: []FieldProblem{{Field: field, Message: message}}}
}

// Add appends a problem.
func (e *ValidationError) Add(field, message string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: message})
}

// OrNil returns nil when no problem was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("%s: invalid %s: %s", e.Domain, e.Problems[0].Field, e.Problems[0].Message)
	}
	return fmt.Sprintf("%s: %d invalid fields (first: %s: %s)",
		e.Domain, len(e.Problems), e.Problems[0].Field, e.Problems[0].Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewScopeError reports that the caller is outside the requested scope.
func NewScopeError(domain, op, scope string) *DomainError {
	return NewDomainError(domain, op, ErrOutOfScope, fmt.Sprintf("no access to scope %q", scope))
}

// Activity domain errors
var (
	ErrEventNotFound       = NewDomainError("activity", "Find", ErrNotFound, "event not found")
	ErrEventAlreadyReverse = NewDomainError("activity", "Reverse", ErrAlreadyProcessed, "event already reversed")
)

// Member domain errors
var (
	ErrMemberNotFound = NewDomainError("member", "Find", ErrNotFound, "member not found")
)

// Badge domain errors
var (
	ErrBadgeNotFound = NewDomainError("badge", "Find", ErrNotFound, "badge not found")
)

// Challenge domain errors
var (
	ErrChallengeNotFound = NewDomainError("challenge", "Find", ErrNotFound, "challenge not found")
	ErrChallengeExists   = NewDomainError("challenge", "Create", ErrAlreadyExists, "challenge already exists")
)

// Leaderboard domain errors
var (
	ErrInvalidMetric = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "unknown leaderboard metric")
	ErrInvalidWindow = NewDomainError("leaderboard", "Validate", ErrInvalidInput, "invalid leaderboard window")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrFutureDate)
}

// IsScope checks if the error is a scope (authorization) error.
func IsScope(err error) bool {
	return errors.Is(err, ErrOutOfScope) || errors.Is(err, ErrForbidden)
}

// IsRaceLost checks if a write-once insert lost a race.
func IsRaceLost(err error) bool {
	return errors.Is(err, ErrRaceLost)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConcurrentModification)
}
