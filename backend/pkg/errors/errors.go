package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeValidation represents malformed identities, degree bounds or self references
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeNotFound represents unknown users or missing paths
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeGraph represents graph store errors
	ErrorTypeGraph ErrorType = "graph"
	// ErrorTypeConsistency represents a broken store invariant (half-written match, one-way edge)
	ErrorTypeConsistency ErrorType = "consistency"
	// ErrorTypeCache represents candidate cache errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Validation Errors

// ErrValidation is returned when input is rejected before any store call
type ErrValidation struct {
	*BaseError
	Field  string
	Reason string
}

func NewValidation(field, reason string) *ErrValidation {
	return &ErrValidation{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("invalid %s: %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrSelfReference is returned for like(A, A) and connect(A, A)
type ErrSelfReference struct {
	*BaseError
	Operation string
	UserID    string
}

func NewSelfReference(operation, userID string) *ErrSelfReference {
	return &ErrSelfReference{
		BaseError: NewBaseError(ErrorTypeValidation, fmt.Sprintf("%s: source and target are the same user", operation), nil),
		Operation: operation,
		UserID:    userID,
	}
}

// Not Found Errors

// ErrUserNotFound is returned when a user is not found in the graph
type ErrUserNotFound struct {
	*BaseError
	UserID string
}

func NewUserNotFound(userID string) *ErrUserNotFound {
	return &ErrUserNotFound{
		BaseError: NewBaseError(ErrorTypeNotFound, fmt.Sprintf("user not found: %s", userID), nil),
		UserID:    userID,
	}
}

// Graph Errors

// ErrGraphConnectionFailed is returned when Neo4j connection fails
type ErrGraphConnectionFailed struct {
	*BaseError
	URI string
}

func NewGraphConnectionFailed(uri string, err error) *ErrGraphConnectionFailed {
	return &ErrGraphConnectionFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("failed to connect to Neo4j: %s", uri), err),
		URI:       uri,
	}
}

// ErrGraphQueryFailed is returned when a graph operation fails
type ErrGraphQueryFailed struct {
	*BaseError
	Operation string
	Retryable bool
}

func NewGraphQueryFailed(operation string, retryable bool, err error) *ErrGraphQueryFailed {
	return &ErrGraphQueryFailed{
		BaseError: NewBaseError(ErrorTypeGraph, fmt.Sprintf("%s failed", operation), err),
		Operation: operation,
		Retryable: retryable,
	}
}

// Consistency Errors

// ErrConsistencyViolation is returned when the store holds only one half of a paired edge
type ErrConsistencyViolation struct {
	*BaseError
	Relationship string
	UserA        string
	UserB        string
}

func NewConsistencyViolation(relationship, userA, userB string) *ErrConsistencyViolation {
	return &ErrConsistencyViolation{
		BaseError: NewBaseError(ErrorTypeConsistency,
			fmt.Sprintf("one-directional %s edge between %s and %s", relationship, userA, userB), nil),
		Relationship: relationship,
		UserA:        userA,
		UserB:        userB,
	}
}

// Cache Errors

// ErrCacheFailed is returned when the candidate cache cannot be read or written
type ErrCacheFailed struct {
	*BaseError
	Key string
}

func NewCacheFailed(key string, err error) *ErrCacheFailed {
	return &ErrCacheFailed{
		BaseError: NewBaseError(ErrorTypeCache, fmt.Sprintf("cache operation failed: %s", key), err),
		Key:       key,
	}
}

// Context Errors

// ErrContextTimeout is returned when a store call exceeds its deadline
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration, err error) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), err),
		Operation: operation,
		Timeout:   timeout,
	}
}

// ErrContextCancelled is returned when the caller cancelled the operation
type ErrContextCancelled struct {
	*BaseError
	Operation string
}

func NewContextCancelled(operation string, err error) *ErrContextCancelled {
	return &ErrContextCancelled{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context cancelled: %s", operation), err),
		Operation: operation,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

type baseCarrier interface {
	base() *BaseError
}

func (e *BaseError) base() *BaseError { return e }

// TypeOf returns the ErrorType of the first BaseError in the chain, or "" if none
func TypeOf(err error) ErrorType {
	var carrier baseCarrier
	if stderrors.As(err, &carrier) {
		return carrier.base().Type
	}
	return ""
}

// IsErrorType checks if an error is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	return err != nil && TypeOf(err) == errType
}

// IsValidation reports whether err was raised before any store call
func IsValidation(err error) bool { return IsErrorType(err, ErrorTypeValidation) }

// IsNotFound reports whether err means an unknown user or a missing path
func IsNotFound(err error) bool { return IsErrorType(err, ErrorTypeNotFound) }

// IsConsistency reports whether err is a detected invariant violation
func IsConsistency(err error) bool { return IsErrorType(err, ErrorTypeConsistency) }

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation is final, deadlines are not
	var cancelled *ErrContextCancelled
	if stderrors.As(err, &cancelled) {
		return false
	}
	var timeout *ErrContextTimeout
	if stderrors.As(err, &timeout) {
		return true
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var queryErr *ErrGraphQueryFailed
	if stderrors.As(err, &queryErr) {
		return queryErr.Retryable
	}
	var connErr *ErrGraphConnectionFailed
	if stderrors.As(err, &connErr) {
		return true
	}
	return IsErrorType(err, ErrorTypeCache)
}
