// Package errors provides standardized error handling for the notification engine.
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
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	ErrCodeFilterRejected ErrorCode = "FILTER_REJECTED"
	ErrCodeFilterPanic    ErrorCode = "FILTER_PANIC"

	ErrCodeDeliveryFailed ErrorCode = "DELIVERY_FAILED"

	ErrCodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeThrottleStore     ErrorCode = "THROTTLE_STORE_FAILED"

	ErrCodeSchedulerStopTimeout ErrorCode = "SCHEDULER_STOP_TIMEOUT"
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

// NewValidationError creates a non-retryable argument validation error.
// Nothing is persisted when one of these is returned.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Invalid notification arguments",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewFilterRejectedError records a pre-send filter vetoing the entire send.
func NewFilterRejectedError(filterName string) *StandardError {
	return &StandardError{
		Code:      ErrCodeFilterRejected,
		Message:   "Notification blocked by pre-send filter",
		Details:   fmt.Sprintf("filter: %s", filterName),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewFilterPanicError records a pre-send filter panicking. Filters are a
// gate, so this aborts the send (fail-closed).
func NewFilterPanicError(filterName string, recovered interface{}) *StandardError {
	return &StandardError{
		Code:      ErrCodeFilterPanic,
		Message:   "Pre-send filter panicked",
		Details:   fmt.Sprintf("filter: %s, panic: %v", filterName, recovered),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeliveryError creates a retryable single-recipient channel error.
func NewDeliveryError(recipient string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeliveryFailed,
		Message:   "Channel send failed",
		Details:   fmt.Sprintf("recipient: %s, error: %s", recipient, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceError creates a retryable storage error.
func NewPersistenceError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Storage operation failed",
		Details:   fmt.Sprintf("op: %s, error: %s", op, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewThrottleStoreError creates a retryable throttle backend error.
func NewThrottleStoreError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeThrottleStore,
		Message:   "Throttle state backend failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchedulerStopTimeoutError reports that StopScheduler gave up waiting
// for the in-flight poll batch. Delivery is never force-killed.
func NewSchedulerStopTimeoutError(waited time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchedulerStopTimeout,
		Message:   "Scheduler stop timed out waiting for poll batch",
		Details:   fmt.Sprintf("waited: %s", waited),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}
