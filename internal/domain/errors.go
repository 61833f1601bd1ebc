package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Common domain errors that can occur during validation operations.
var (
	// ErrCredentialNotFound indicates that no API key was found in any
	// credential source.
	ErrCredentialNotFound = errors.New("no API key found")

	// ErrNoJSONObject indicates that a model reply contained no JSON object.
	ErrNoJSONObject = errors.New("no JSON object found in response")

	// ErrMalformedJSON indicates that a model reply contained text that looked
	// like a JSON object but could not be decoded.
	ErrMalformedJSON = errors.New("malformed JSON")

	// ErrInvalidShape indicates that a decoded reply lacks the verdict fields
	// or carries them with the wrong types.
	ErrInvalidShape = errors.New("invalid verdict shape")

	// ErrEmptyContent indicates that a successful reply carried no text.
	ErrEmptyContent = errors.New("empty response content")

	// ErrInvalidRecords indicates that a batch was not a JSON array of objects.
	ErrInvalidRecords = errors.New("records must be an array of objects")

	// ErrInvalidConfiguration indicates that configuration is invalid or incomplete.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// CredentialError is returned when a batch cannot start because no API key
// could be resolved. It is the only error that aborts a batch.
type CredentialError struct {
	// Source is the channel hint supplied by the caller, possibly empty.
	Source string

	// Tried lists the names of the strategies that were consulted, in order.
	Tried []string

	// Err is the underlying error, normally ErrCredentialNotFound.
	Err error
}

// Error implements the error interface for CredentialError.
func (e *CredentialError) Error() string {
	msg := fmt.Sprintf("credential error: %v", e.Err)
	if e.Source != "" {
		msg += fmt.Sprintf(", source=%s", e.Source)
	}
	if len(e.Tried) > 0 {
		msg += fmt.Sprintf(", tried=[%s]", strings.Join(e.Tried, ", "))
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CredentialError) Unwrap() error { return e.Err }

// NewCredentialError creates a CredentialError wrapping ErrCredentialNotFound.
func NewCredentialError(source string, tried []string) *CredentialError {
	return &CredentialError{
		Source: source,
		Tried:  tried,
		Err:    ErrCredentialNotFound,
	}
}

// ParseError describes why a model reply could not be turned into a verdict.
// It is never returned to callers of the orchestrator; it is recorded in the
// verdict's status instead.
type ParseError struct {
	// Err is one of the parse sentinels, possibly wrapping a decoder error.
	Err error

	// Detail carries the decoder or validator message, if any.
	Detail string
}

// Error implements the error interface for ParseError.
func (e *ParseError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Detail)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// NewParseError creates a ParseError for the given reason.
func NewParseError(reason error, detail string) *ParseError {
	return &ParseError{Err: reason, Detail: detail}
}

// RulesLoadError describes a failed rules document read. The rules loader
// logs it and substitutes a sentinel text; it never aborts a batch.
type RulesLoadError struct {
	// Path is the rules document location.
	Path string

	// Err is the underlying read error.
	Err error
}

// Error implements the error interface for RulesLoadError.
func (e *RulesLoadError) Error() string {
	return fmt.Sprintf("rules load error: path=%s, err=%v", e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *RulesLoadError) Unwrap() error { return e.Err }

// ValidationError represents an error that occurred during validation of
// configuration or input. It can contain multiple validation failures.
type ValidationError struct {
	// Entity is the name of the entity that failed validation.
	Entity string

	// Errors contains the list of validation error messages.
	Errors []string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation error for %s: %s", e.Entity, e.Errors[0])
	}
	return fmt.Sprintf("validation errors for %s: %v", e.Entity, e.Errors)
}

// Unwrap lets callers match ValidationError with ErrInvalidConfiguration.
func (e *ValidationError) Unwrap() error { return ErrInvalidConfiguration }

// AddError adds a new error message to the validation error.
func (e *ValidationError) AddError(msg string) { e.Errors = append(e.Errors, msg) }

// HasErrors returns true if there are any validation errors.
func (e *ValidationError) HasErrors() bool { return len(e.Errors) > 0 }

// NewValidationError creates a new ValidationError for the given entity.
func NewValidationError(entity string) *ValidationError {
	return &ValidationError{
		Entity: entity,
		Errors: make([]string, 0),
	}
}
