// Package llm sends chat-completion requests to hosted model providers.
// It hides provider SDKs behind the CoreLLM interface, composes
// cross-cutting behavior through middleware, and exposes a Client that
// satisfies ports.CompletionClient.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by the LLM client and providers.
var (
	// ErrEmptyAPIKey indicates that an API key was required but not provided.
	ErrEmptyAPIKey = errors.New("API key cannot be empty")
	// ErrEmptyResponse indicates that the provider's API returned an empty or nil response body.
	ErrEmptyResponse = errors.New("empty response from API")
	// ErrNoResponseChoice indicates that the provider's response contained no valid choices.
	ErrNoResponseChoice = errors.New("no response choices returned")
	// ErrUnknownProvider indicates that no factory is registered for a provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// ErrorType represents the category of an error returned by an LLM provider.
type ErrorType int

const (
	// ErrorTypeUnknown indicates an error of an undetermined category.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeAuthentication indicates an invalid or unauthorized API key.
	ErrorTypeAuthentication
	// ErrorTypeRateLimit indicates that a rate limit has been exceeded.
	ErrorTypeRateLimit
	// ErrorTypeBadRequest indicates a malformed request or invalid parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates that a requested resource (e.g., a model) could not be found.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a problem on the provider's end.
	ErrorTypeServerError
	// ErrorTypeContentPolicy indicates that the request was blocked by a content policy.
	ErrorTypeContentPolicy
	// ErrorTypeNetwork indicates a client-side network problem or cancellation.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates that the request timed out.
	ErrorTypeTimeout
	// ErrorTypeMalformedReply indicates a success status whose body held no
	// usable reply text.
	ErrorTypeMalformedReply
)

// ProviderError represents a structured error from an LLM provider.
// A ProviderError with a StatusCode came from an HTTP reply; one without a
// StatusCode never reached or never heard back from the provider.
type ProviderError struct {
	// Type classifies the error into a standard category.
	Type ErrorType
	// Provider identifies the name of the LLM provider that produced the error.
	Provider string
	// StatusCode holds the HTTP status code from the provider's response, if any.
	StatusCode int
	// Message contains the error message from the provider.
	Message string
	// Body holds the raw response body, when available. It is set for
	// non-success replies and for success replies that could not be decoded.
	Body string
	// WrappedError holds the original underlying error.
	WrappedError error
}

// Error returns a string representation of the ProviderError.
func (e *ProviderError) Error() string {
	base := fmt.Sprintf("%s error", e.Provider)
	if e.StatusCode > 0 {
		base += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}

	if typeStr := e.Type.String(); typeStr != "" {
		base += fmt.Sprintf(" [%s]", typeStr)
	}

	if e.Message != "" {
		base += ": " + e.Message
	}

	if e.WrappedError != nil {
		base += fmt.Sprintf(": %v", e.WrappedError)
	}

	return base
}

// Unwrap returns the underlying wrapped error.
func (e *ProviderError) Unwrap() error { return e.WrappedError }

// HasStatus reports whether the error carries an HTTP status from the provider.
func (e *ProviderError) HasStatus() bool { return e.StatusCode > 0 }

// String returns the metric and log label for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeAuthentication:
		return "authentication"
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeBadRequest:
		return "bad_request"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeServerError:
		return "server_error"
	case ErrorTypeContentPolicy:
		return "content_policy"
	case ErrorTypeNetwork:
		return "network"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeMalformedReply:
		return "malformed_reply"
	default:
		return ""
	}
}

// NewProviderError creates a new ProviderError.
func NewProviderError(provider string, errType ErrorType, statusCode int, message string, wrapped error) *ProviderError {
	return &ProviderError{
		Type:         errType,
		Provider:     provider,
		StatusCode:   statusCode,
		Message:      message,
		WrappedError: wrapped,
	}
}

// ErrorClassifier standardizes provider-specific errors into ProviderError instances.
type ErrorClassifier struct {
	// Provider is the name of the LLM provider for which this classifier works.
	Provider string
}

// ClassifyHTTPError creates a ProviderError from an HTTP status, the
// provider's message, and the raw response body.
func (ec *ErrorClassifier) ClassifyHTTPError(statusCode int, message, body string, err error) *ProviderError {
	var errType ErrorType
	switch {
	case statusCode == 401 || statusCode == 403:
		errType = ErrorTypeAuthentication
		if message == "" {
			message = fmt.Sprintf("%s authentication failed", ec.Provider)
		}
	case statusCode == 429:
		errType = ErrorTypeRateLimit
		if message == "" {
			message = fmt.Sprintf("%s rate limit exceeded", ec.Provider)
		}
	case statusCode == 404:
		errType = ErrorTypeNotFound
	case statusCode == 408 || statusCode == 504:
		errType = ErrorTypeTimeout
	case statusCode >= 400 && statusCode < 500:
		errType = ErrorTypeBadRequest
	case statusCode >= 500:
		errType = ErrorTypeServerError
	default:
		errType = ErrorTypeUnknown
	}

	pe := NewProviderError(ec.Provider, errType, statusCode, message, err)
	pe.Body = body
	return pe
}

// ClassifyMalformedReply turns err into a ProviderError carrying the
// captured success reply, so the caller can report the body as sent.
// Without a captured 2xx reply err is returned unchanged.
func (ec *ErrorClassifier) ClassifyMalformedReply(capture *replyCapture, err error) error {
	if capture == nil || !capture.succeeded() {
		return err
	}
	pe := NewProviderError(ec.Provider, ErrorTypeMalformedReply, capture.StatusCode, "reply could not be decoded", err)
	pe.Body = string(capture.Body)
	return pe
}

// ClassifyContextError creates a ProviderError from a context-related error,
// such as context.DeadlineExceeded or context.Canceled.
func (ec *ErrorClassifier) ClassifyContextError(err error) *ProviderError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewProviderError(ec.Provider, ErrorTypeTimeout, 0, "context deadline exceeded", err)
	case errors.Is(err, context.Canceled):
		return NewProviderError(ec.Provider, ErrorTypeNetwork, 0, "request canceled", err)
	default:
		return NewProviderError(ec.Provider, ErrorTypeUnknown, 0, "", err)
	}
}

// ClassifyTransportError classifies an error that produced no HTTP status.
func (ec *ErrorClassifier) ClassifyTransportError(err error) *ProviderError {
	if isContextError(err) {
		return ec.ClassifyContextError(err)
	}
	return NewProviderError(ec.Provider, ErrorTypeNetwork, 0, "request failed", err)
}

// isContextError checks if an error is a deadline or cancellation error.
func isContextError(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
