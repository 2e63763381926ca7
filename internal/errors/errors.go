package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode identifies a class of pipeline failure.
type ErrorCode string

const (
	ErrDetection         ErrorCode = "DETECTION"             // non-fatal, treated as "no barcode"
	ErrNotFound          ErrorCode = "NOT_FOUND"             // non-fatal inside the pipeline
	ErrTransport         ErrorCode = "TRANSPORT"             // network/HTTP failure on an external call
	ErrModelResponse     ErrorCode = "MODEL_RESPONSE"        // inference returned no usable text
	ErrParseNoJSON       ErrorCode = "PARSE_NO_JSON"         // no JSON object in model text
	ErrParseSchema       ErrorCode = "PARSE_SCHEMA_MISMATCH" // JSON does not match the result shape
	ErrParseInvalidScore ErrorCode = "PARSE_INVALID_SCORE"   // nutri score outside A..E
	ErrInFlight          ErrorCode = "IN_FLIGHT"             // analysis already running for the key
	ErrCanceled          ErrorCode = "CANCELED"
	ErrInvalidRequest    ErrorCode = "INVALID_REQUEST"
	ErrPersistence       ErrorCode = "PERSISTENCE"
	ErrInternal          ErrorCode = "INTERNAL"
)

// PipelineError is the single typed failure surfaced to callers.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Retryable reports whether an automatic retry may help.
func (e *PipelineError) Retryable() bool {
	return e.Code == ErrTransport
}

// NewDetection wraps an internal decoder failure.
func NewDetection(err error) *PipelineError {
	return &PipelineError{
		Code:    ErrDetection,
		Message: "barcode detection failed",
		Err:     err,
	}
}

// NewNotFound creates an error for a missing product, scan or conversation.
func NewNotFound(kind, identifier string) *PipelineError {
	return &PipelineError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found: %s", kind, identifier),
		Details: map[string]any{"kind": kind, "identifier": identifier},
	}
}

// NewTransport creates an error for a failed call to an external service.
func NewTransport(service string, err error) *PipelineError {
	return &PipelineError{
		Code:    ErrTransport,
		Message: fmt.Sprintf("%s unreachable", service),
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// NewTransportStatus creates a transport error for a non-2xx HTTP response.
func NewTransportStatus(service string, status int, body string) *PipelineError {
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return &PipelineError{
		Code:    ErrTransport,
		Message: fmt.Sprintf("%s returned status %d", service, status),
		Details: map[string]any{"service": service, "status": status, "body": body},
	}
}

// NewModelResponse creates an error for an inference reply with no usable text.
func NewModelResponse(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrModelResponse,
		Message: msg,
	}
}

// NewParseNoJSON creates an error for model text without a JSON object.
func NewParseNoJSON() *PipelineError {
	return &PipelineError{
		Code:    ErrParseNoJSON,
		Message: "no JSON object found in model response",
	}
}

// NewParseSchema creates an error for JSON that does not match the result shape.
func NewParseSchema(msg string, err error) *PipelineError {
	return &PipelineError{
		Code:    ErrParseSchema,
		Message: msg,
		Err:     err,
	}
}

// NewParseInvalidScore creates an error for a nutri score outside A..E.
func NewParseInvalidScore(score string) *PipelineError {
	return &PipelineError{
		Code:    ErrParseInvalidScore,
		Message: fmt.Sprintf("invalid nutri score %q, want one of A, B, C, D, E", score),
		Details: map[string]any{"score": score},
	}
}

// NewInFlight creates an error for a rejected concurrent invocation.
func NewInFlight(key string) *PipelineError {
	return &PipelineError{
		Code:    ErrInFlight,
		Message: fmt.Sprintf("an operation is already in progress for %q", key),
		Details: map[string]any{"key": key},
	}
}

// NewCanceled creates an error for an invocation abandoned by its caller.
func NewCanceled(err error) *PipelineError {
	return &PipelineError{
		Code:    ErrCanceled,
		Message: "operation canceled",
		Err:     err,
	}
}

// NewInvalidRequest creates an error for bad caller input.
func NewInvalidRequest(msg string) *PipelineError {
	return &PipelineError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewPersistence wraps a storage failure.
func NewPersistence(err error) *PipelineError {
	return &PipelineError{
		Code:    ErrPersistence,
		Message: "failed to persist record",
		Err:     err,
	}
}

// NewInternal creates an error for unexpected internal failures.
func NewInternal(err error) *PipelineError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{
		Code:    ErrInternal,
		Message: msg,
		Err:     err,
	}
}

// Is checks if err, or anything it wraps, is a PipelineError with the given code.
func Is(err error, code ErrorCode) bool {
	if pErr, ok := As(err); ok {
		return pErr.Code == code
	}
	return false
}

// As returns the first PipelineError in err's chain.
func As(err error) (*PipelineError, bool) {
	var pErr *PipelineError
	if stderrors.As(err, &pErr) {
		return pErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if pErr, ok := As(err); ok {
		return pErr.Code
	}
	return ErrInternal
}
