// Package errors consolidates error definitions for the entire project.
//
// This package provides:
// - Boundary reason codes for the ingest and query APIs
// - Sentinel errors for all error conditions
// - Error category checking functions (validation, transient, integrity)
// - ErrorToReason and ReasonToError mapping
// - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Boundary reason codes - returned per record on the ingest API and per
// request on the query API.
// ============================================================================

const (
	ReasonOK                 = "OK"
	ReasonDuplicate          = "DUPLICATE"
	ReasonOutOfRange         = "OUT_OF_RANGE"
	ReasonMalformed          = "MALFORMED"
	ReasonStaleTimestamp     = "STALE_TIMESTAMP"
	ReasonStorageUnavailable = "STORAGE_UNAVAILABLE"
	ReasonInvalidRange       = "INVALID_RANGE"
	ReasonInternal           = "INTERNAL"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Validation errors - rejected to the caller, never retried by the core.
	ErrChannelOutOfRange = errors.New("channel out of range")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrStaleTimestamp    = errors.New("timestamp outside clock-skew window")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidRange      = errors.New("invalid time range")
	ErrInvalidConfig     = errors.New("invalid configuration")

	// Transient storage errors - safe to retry, all mutating operations are
	// idempotent or transactional.
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTimeout            = errors.New("operation timed out")
	ErrStoreClosed        = errors.New("store is closed")

	// Integrity errors - a segment failing its checksum is treated as
	// not-yet-durable, never partially trusted.
	ErrChecksumMismatch = errors.New("segment checksum mismatch")
	ErrSegmentCorrupt   = errors.New("segment corrupt")

	// Lookup errors.
	ErrSegmentNotFound = errors.New("segment not found")

	// State errors.
	ErrNotRunning     = errors.New("service not running")
	ErrAlreadyRunning = errors.New("service already running")
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

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrChannelOutOfRange) ||
		errors.Is(err, ErrMalformedRecord) ||
		errors.Is(err, ErrStaleTimestamp) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsTransient returns true if err is a transient storage error and the same
// operation may safely be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, ErrTimeout)
}

// IsIntegrity returns true if err indicates segment corruption.
func IsIntegrity(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrSegmentCorrupt)
}

// ============================================================================
// Error to reason code mapping
// ============================================================================

// ErrorToReason maps a sentinel error to its boundary reason code.
func ErrorToReason(err error) string {
	if err == nil {
		return ReasonOK
	}

	switch {
	case Is(err, ErrChannelOutOfRange):
		return ReasonOutOfRange
	case Is(err, ErrStaleTimestamp):
		return ReasonStaleTimestamp
	case Is(err, ErrMalformedRecord), Is(err, ErrMissingField):
		return ReasonMalformed
	case Is(err, ErrInvalidRange):
		return ReasonInvalidRange
	case IsTransient(err), Is(err, ErrStoreClosed):
		return ReasonStorageUnavailable
	default:
		return ReasonInternal
	}
}

// ReasonToError maps a boundary reason code to a sentinel error (for clients).
func ReasonToError(reason string) error {
	switch reason {
	case ReasonOK, ReasonDuplicate:
		return nil
	case ReasonOutOfRange:
		return ErrChannelOutOfRange
	case ReasonMalformed:
		return ErrMalformedRecord
	case ReasonStaleTimestamp:
		return ErrStaleTimestamp
	case ReasonInvalidRange:
		return ErrInvalidRange
	case ReasonStorageUnavailable:
		return ErrStorageUnavailable
	default:
		return fmt.Errorf("reason %s: %w", reason, errors.New("internal error"))
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

// ============================================================================
// Error constructors with context
// ============================================================================

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewMalformed creates a malformed record error with a reason.
func NewMalformed(reason string) error {
	return fmt.Errorf("%s: %w", reason, ErrMalformedRecord)
}

// NewValidation creates a configuration validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}
