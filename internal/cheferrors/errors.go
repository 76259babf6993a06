// Package cheferrors provides sentinel and custom error types for the application.
package cheferrors

import "fmt"

// ErrServiceUnavailable is the sentinel for embedding-service failures.
// Use when the embedding model is unreachable or returns malformed output.
var ErrServiceUnavailable = &ServiceUnavailableError{}

// ServiceUnavailableError is a sentinel error for external embedding-service failures.
type ServiceUnavailableError struct {
	Service string
	Message string
}

// NewServiceUnavailableError creates a ServiceUnavailableError with a custom message.
func NewServiceUnavailableError(service, message string) *ServiceUnavailableError {
	return &ServiceUnavailableError{
		Service: service,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ServiceUnavailableError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Service != "" {
		return e.Service + " unavailable"
	}

	return "service unavailable"
}

// Is implements the error interface for error comparison.
func (e *ServiceUnavailableError) Is(target error) bool {
	_, ok := target.(*ServiceUnavailableError)

	return ok
}

// ErrGeneration is the sentinel for generative-model failures.
// A failed generation aborts the chat turn and leaves conversation state untouched.
var ErrGeneration = &GenerationError{}

// GenerationError is a sentinel error for generative-service failures.
type GenerationError struct {
	Message string
}

// NewGenerationError creates a GenerationError with a custom message.
func NewGenerationError(message string) *GenerationError {
	return &GenerationError{Message: message}
}

// Error implements the error interface.
func (e *GenerationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	return "generation failed"
}

// Is implements the error interface for error comparison.
func (e *GenerationError) Is(target error) bool {
	_, ok := target.(*GenerationError)

	return ok
}

// ErrCorruption is the sentinel for a persisted collection that failed validation.
// Handled internally by a full rebuild; never crosses the chat boundary.
var ErrCorruption = &CorruptionError{}

// CorruptionError is a sentinel error for invalid persisted collection state.
type CorruptionError struct {
	Collection string
	Message    string
}

// NewCorruptionError creates a CorruptionError with a custom message.
func NewCorruptionError(collection, message string) *CorruptionError {
	return &CorruptionError{Collection: collection, Message: message}
}

// Error implements the error interface.
func (e *CorruptionError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Collection != "" {
		return "collection " + e.Collection + " is corrupt"
	}

	return "collection corrupt"
}

// Is implements the error interface for error comparison.
func (e *CorruptionError) Is(target error) bool {
	_, ok := target.(*CorruptionError)

	return ok
}

// ErrIngestion is the sentinel for malformed rows in the source dataset.
// A single bad row fails the whole rebuild; a partially built collection is worse than none.
var ErrIngestion = &IngestionError{}

// IngestionError is a sentinel error for source-dataset parse failures during rebuild.
type IngestionError struct {
	Row     int
	Message string
}

// NewIngestionError creates an IngestionError for the given source row.
func NewIngestionError(row int, message string) *IngestionError {
	return &IngestionError{Row: row, Message: message}
}

// Error implements the error interface.
func (e *IngestionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}

	return "ingestion failed"
}

// Is implements the error interface for error comparison.
func (e *IngestionError) Is(target error) bool {
	_, ok := target.(*IngestionError)

	return ok
}

// ErrValidation represents a validation error.
// Use when client input fails validation.
var ErrValidation = &ValidationError{}

// ValidationError is a sentinel error for validation failures.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError creates a new ValidationError with a custom message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Field != "" {
		return "validation failed for field: " + e.Field
	}

	return "validation error"
}

// Is implements the error interface for error comparison.
func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)

	return ok
}
