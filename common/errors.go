package common

import (
	"errors"
	"fmt"
)

// Sentinel error kinds surfaced by the core. Components wrap these with
// fmt.Errorf("...: %w", ErrX) so errors.Is keeps working across package
// boundaries without a custom error framework.
var (
	// ErrNotFound means a form or session id is unknown to its store.
	ErrNotFound = errors.New("not found")

	// ErrValidationFailed means a normalizer or validator rejected an
	// answer. Callers treat this as a regular turn outcome, not a fault.
	ErrValidationFailed = errors.New("validation failed")

	// ErrExternalUnavailable means a dependency (object store, event bus)
	// could not be reached. The LLM capability never returns this to its
	// callers; it degrades to a fallback instead.
	ErrExternalUnavailable = errors.New("external dependency unavailable")

	// ErrConversionFailed means an external format conversion (docx/doc
	// to pdf) failed.
	ErrConversionFailed = errors.New("format conversion failed")

	// ErrDetectorFailed means the field-position detector raised inside
	// its own pipeline. Callers still persist the schema with empty
	// field positions.
	ErrDetectorFailed = errors.New("field detection failed")
)

// NotFound wraps err as ErrNotFound for a specific resource.
func NotFound(resource, id string) error {
	return fmt.Errorf("%s %q: %w", resource, id, ErrNotFound)
}

// ValidationFailed wraps a user-facing validator/normalizer message.
func ValidationFailed(message string) error {
	return fmt.Errorf("%s: %w", message, ErrValidationFailed)
}

// ExternalUnavailable wraps an upstream failure.
func ExternalUnavailable(what string, err error) error {
	return fmt.Errorf("%s unavailable: %w: %w", what, err, ErrExternalUnavailable)
}

// ConversionFailed wraps a format-conversion failure.
func ConversionFailed(key string, err error) error {
	return fmt.Errorf("convert %s: %w: %w", key, err, ErrConversionFailed)
}

// DetectorFailed wraps a detector-internal failure.
func DetectorFailed(err error) error {
	return fmt.Errorf("detect field positions: %w: %w", err, ErrDetectorFailed)
}
