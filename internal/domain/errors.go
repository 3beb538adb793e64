package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a store or job does not exist or is not visible to the caller.
	ErrNotFound = errors.New("storesync: not found")
	// ErrForbidden is returned when the caller does not own the resource.
	// Callers facing clients should report it as ErrNotFound.
	ErrForbidden = errors.New("storesync: forbidden")
	// ErrUnsupportedPlatform is returned when no adapter is registered for a platform.
	ErrUnsupportedPlatform = errors.New("storesync: unsupported platform")
	// ErrStoreDeleted is returned when a write targets a store that no longer exists.
	ErrStoreDeleted = errors.New("storesync: store deleted")
)

// DetectionError reports that a storefront could not be probed.
type DetectionError struct {
	URL string
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("failed to detect platform for %s: %v", e.URL, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// ValidationError reports a caller input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConfigError reports that an adapter was given unusable configuration.
type ConfigError struct {
	Platform Platform
	Message  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s adapter configuration: %s", e.Platform.DisplayName(), e.Message)
}

// AdapterConnectionError reports a failed authentication round-trip.
type AdapterConnectionError struct {
	Platform   Platform
	StatusCode int
	Err        error
}

func (e *AdapterConnectionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("failed to connect to %s (status %d): %v", e.Platform.DisplayName(), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("failed to connect to %s: %v", e.Platform.DisplayName(), e.Err)
}

func (e *AdapterConnectionError) Unwrap() error { return e.Err }

// PartialExtractionFailure reports an optional sub-resource that could not be fetched.
// It is logged and never fails a job.
type PartialExtractionFailure struct {
	Resource string
	Err      error
}

func (e *PartialExtractionFailure) Error() string {
	return fmt.Sprintf("partial extraction of %s failed: %v", e.Resource, e.Err)
}

func (e *PartialExtractionFailure) Unwrap() error { return e.Err }

// JobExecutionError wraps an error raised during a named extraction phase.
type JobExecutionError struct {
	Phase string
	Err   error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Phase, e.Err)
}

func (e *JobExecutionError) Unwrap() error { return e.Err }
