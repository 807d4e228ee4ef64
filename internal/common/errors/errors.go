// Package errors provides standardized error handling for the entitlement engine.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Quota denials. Normal outcomes, not infrastructure failures.
	ErrCodeQuotaExceededDaily   ErrorCode = "QUOTA_EXCEEDED_DAILY"
	ErrCodeQuotaExceededMonthly ErrorCode = "QUOTA_EXCEEDED_MONTHLY"
	ErrCodeQuotaExceededGroup   ErrorCode = "QUOTA_EXCEEDED_GROUP"

	// Infrastructure failures. Resolved toward denial, never toward allowance.
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeCommitConflict   ErrorCode = "COMMIT_CONFLICT"

	// Lifecycle event failures. Operator-facing only.
	ErrCodeEventAuthenticationFailed ErrorCode = "EVENT_AUTHENTICATION_FAILED"
	ErrCodeEventMalformed            ErrorCode = "EVENT_MALFORMED"
	ErrCodeEventProcessingFailed     ErrorCode = "EVENT_PROCESSING_FAILED"

	// Lazily detected premium-past-expiry. Triggers a correction, not an error to the caller.
	ErrCodeStaleExpiryObserved ErrorCode = "STALE_EXPIRY_OBSERVED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewStoreUnavailableError creates a retryable infrastructure error for a failed
// read or write against the quota cache or the entitlement store.
func NewStoreUnavailableError(store string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Backing store unavailable",
		Details:   fmt.Sprintf("store: %s, error: %s", store, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewCommitConflictError creates a retryable conditional-commit conflict error.
func NewCommitConflictError(userID int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeCommitConflict,
		Message:   "Counter commit lost a concurrent update race",
		Details:   fmt.Sprintf("userId: %d", userID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventAuthenticationFailedError creates a non-retryable event boundary error.
func NewEventAuthenticationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventAuthenticationFailed,
		Message:   "Lifecycle event signature verification failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventMalformedError creates a non-retryable payload validation error.
func NewEventMalformedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventMalformed,
		Message:   "Lifecycle event payload failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEventProcessingFailedError creates a retryable event processing error.
func NewEventProcessingFailedError(eventID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEventProcessingFailed,
		Message:   "Failed to apply lifecycle event",
		Details:   fmt.Sprintf("eventId: %s, error: %s", eventID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStaleExpiryObservedError records a premium record observed past its expiry.
func NewStaleExpiryObservedError(userID int64, expiredAt time.Time) *StandardError {
	return &StandardError{
		Code:      ErrCodeStaleExpiryObserved,
		Message:   "Premium entitlement observed past expiry",
		Details:   fmt.Sprintf("userId: %d, expiredAt: %s", userID, expiredAt.Format(time.RFC3339)),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
