// Package domain provides the core types and error taxonomy for the analysis pipeline.
package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of a pipeline error.
type ErrorType string

const (
	// ErrorTypeValidation indicates a malformed or empty run request.
	// Surfaced before a run is created; the orchestrator never starts.
	ErrorTypeValidation ErrorType = "validation"

	// ErrorTypeUpstreamService indicates the reasoning service call failed
	// (transport error, timeout, non-2xx response).
	ErrorTypeUpstreamService ErrorType = "upstream_service"

	// ErrorTypeParse indicates the reasoning service responded but the payload
	// did not satisfy the stage's required shape.
	ErrorTypeParse ErrorType = "parse"

	// ErrorTypePersistence indicates a run ledger write failed.
	ErrorTypePersistence ErrorType = "persistence"

	// ErrorTypeNotFound indicates a requested run does not exist.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeAuthentication indicates an API key failure.
	ErrorTypeAuthentication ErrorType = "authentication"

	// ErrorTypeInternal is the catch-all for failures outside the pipeline
	// taxonomy, such as a non-streaming ResponseWriter.
	ErrorTypeInternal ErrorType = "internal"
)

// ErrorCode provides additional specificity beyond the error type.
type ErrorCode string

const (
	ErrorCodeEmptyTranscript   ErrorCode = "empty_transcript"
	ErrorCodeUnknownStage      ErrorCode = "unknown_stage"
	ErrorCodeRateLimitExceeded ErrorCode = "rate_limit_exceeded"
	ErrorCodeUpstreamTimeout   ErrorCode = "upstream_timeout"
	ErrorCodeMalformedOutput   ErrorCode = "malformed_output"
	ErrorCodeMissingField      ErrorCode = "missing_field"
	ErrorCodeInvalidAPIKey     ErrorCode = "invalid_api_key"
)

// PipelineError is the canonical error carried across pipeline boundaries.
// Stage-level failures reach the caller as stage_error/error events; request-level
// failures (validation, auth) are translated to HTTP responses before the stream
// opens.
type PipelineError struct {
	// Type is the category of error
	Type ErrorType `json:"type"`

	// Code is an optional specific error code
	Code ErrorCode `json:"code,omitempty"`

	// Message is the human-readable error message
	Message string `json:"message"`

	// Stage is the stage id the error is attributed to (if any)
	Stage string `json:"stage,omitempty"`

	// StatusCode is the HTTP status observed upstream or suggested downstream
	StatusCode int `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// HTTPStatusCode returns the appropriate HTTP status code for this error.
func (e *PipelineError) HTTPStatusCode() int {
	if e.StatusCode != 0 {
		return e.StatusCode
	}

	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeUpstreamService, ErrorTypeParse:
		return http.StatusBadGateway
	case ErrorTypePersistence:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RateLimited reports whether the error captures an upstream rate-limit response.
func (e *PipelineError) RateLimited() bool {
	return e.Code == ErrorCodeRateLimitExceeded || e.StatusCode == http.StatusTooManyRequests
}

// NewPipelineError creates a new pipeline error.
func NewPipelineError(errType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:    errType,
		Message: message,
	}
}

// WithCode adds an error code to the error.
func (e *PipelineError) WithCode(code ErrorCode) *PipelineError {
	e.Code = code
	return e
}

// WithStage attributes the error to a stage id.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// WithStatusCode sets a specific HTTP status code.
func (e *PipelineError) WithStatusCode(code int) *PipelineError {
	e.StatusCode = code
	return e
}

// Convenience constructors for common errors

// ErrValidation creates a validation error.
func ErrValidation(message string) *PipelineError {
	return NewPipelineError(ErrorTypeValidation, message)
}

// ErrUpstream creates an upstream service error.
func ErrUpstream(message string) *PipelineError {
	return NewPipelineError(ErrorTypeUpstreamService, message)
}

// ErrRateLimited creates an upstream rate-limit error.
func ErrRateLimited(message string) *PipelineError {
	return NewPipelineError(ErrorTypeUpstreamService, message).
		WithCode(ErrorCodeRateLimitExceeded).
		WithStatusCode(http.StatusTooManyRequests)
}

// ErrUpstreamTimeout creates an upstream timeout error.
func ErrUpstreamTimeout(message string) *PipelineError {
	return NewPipelineError(ErrorTypeUpstreamService, message).
		WithCode(ErrorCodeUpstreamTimeout).
		WithStatusCode(http.StatusGatewayTimeout)
}

// ErrParse creates a parse error.
func ErrParse(message string) *PipelineError {
	return NewPipelineError(ErrorTypeParse, message).
		WithCode(ErrorCodeMalformedOutput)
}

// ErrPersistence creates a persistence error.
func ErrPersistence(message string) *PipelineError {
	return NewPipelineError(ErrorTypePersistence, message)
}

// ErrNotFound creates a not found error.
func ErrNotFound(message string) *PipelineError {
	return NewPipelineError(ErrorTypeNotFound, message)
}

// ErrAuthentication creates an authentication error.
func ErrAuthentication(message string) *PipelineError {
	return NewPipelineError(ErrorTypeAuthentication, message).
		WithCode(ErrorCodeInvalidAPIKey)
}

// AsPipelineError unwraps err to a *PipelineError if one is in the chain.
func AsPipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
