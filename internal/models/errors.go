package models

import (
	"errors"
	"fmt"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth       = "AUTH_ERROR"
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeNetwork    = "NETWORK_ERROR"
	ErrCodeStorage    = "STORAGE_ERROR"
	ErrCodeConfig     = "CONFIG_ERROR"
	ErrCodeRateLimit  = "RATE_LIMIT"
	ErrCodeServer     = "SERVER_ERROR"
)

// Sentinel errors
var (
	ErrSyncInProgress   = errors.New("sync already in progress")
	ErrSyncPaused       = errors.New("sync is paused")
	ErrNoStrategy       = errors.New("no strategy registered for domain")
	ErrPayloadNotFound  = errors.New("payload not found")
	ErrPayloadExhausted = errors.New("payload retries exhausted")
	ErrNotExhausted     = errors.New("payload has not exhausted its retries")
	ErrQueueNotReady    = errors.New("sync queue not initialized")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrOffline          = errors.New("device is offline")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// APIError represents an error from the PlateWise API.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
	RequestID  string `json:"request_id,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// Retryable reports whether the failure is transient: timeouts, rate
// limits, and server-side errors. Client errors never resolve by
// replaying the same request.
func (e *APIError) Retryable() bool {
	if e.StatusCode == 408 || e.StatusCode == 429 {
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode < 600
}

// Conflict reports whether the server rejected the request because the
// resource already exists. Strategies treat known conflicts as an
// alternate success path rather than a retry.
func (e *APIError) Conflict() bool {
	return e.StatusCode == 409 || e.Code == ErrCodeConflict
}

// ValidationError reports malformed domain data rejected before enqueue.
type ValidationError struct {
	Domain Domain
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validate %s payload: %s: %s", e.Domain, e.Field, e.Reason)
	}
	return fmt.Sprintf("validate %s payload: %s", e.Domain, e.Reason)
}

// SyncError provides detailed drain failure information for one payload.
type SyncError struct {
	PayloadID string
	Domain    Domain
	Attempt   int
	Err       error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s [%s attempt %d]: %v", e.PayloadID, e.Domain, e.Attempt, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
