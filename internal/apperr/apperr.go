// Package apperr defines the error taxonomy the orchestrator and HTTP
// layer share: a fixed set of error kinds, each with a standard HTTP
// status, mirroring original_source/src/models/errors.py's ErrorType enum
// and CodeInterpreterException hierarchy.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Type is one of the fixed error kinds the core can surface.
type Type string

const (
	TypeAuthentication      Type = "authentication"
	TypeAuthorization       Type = "authorization"
	TypeValidation          Type = "validation"
	TypeResourceNotFound    Type = "resource_not_found"
	TypeResourceConflict    Type = "resource_conflict"
	TypeResourceExhausted   Type = "resource_exhausted"
	TypeExecutionFailed     Type = "execution_failed"
	TypeTimeout             Type = "timeout"
	TypeRateLimited         Type = "rate_limited"
	TypeInternalServer      Type = "internal_server"
	TypeServiceUnavailable  Type = "service_unavailable"
	TypeExternalService     Type = "external_service"
)

// statusByType mirrors CodeInterpreterException's per-subclass status_code.
var statusByType = map[Type]int{
	TypeAuthentication:     http.StatusUnauthorized,
	TypeAuthorization:      http.StatusForbidden,
	TypeValidation:         http.StatusBadRequest,
	TypeResourceNotFound:   http.StatusNotFound,
	TypeResourceConflict:   http.StatusConflict,
	TypeResourceExhausted:  http.StatusServiceUnavailable,
	TypeExecutionFailed:    http.StatusOK, // user-code failures are a 200 per SPEC_FULL §7
	TypeTimeout:            http.StatusOK,
	TypeRateLimited:        http.StatusTooManyRequests,
	TypeInternalServer:     http.StatusInternalServerError,
	TypeServiceUnavailable: http.StatusServiceUnavailable,
	TypeExternalService:    http.StatusBadGateway,
}

// Detail is one field-level error, used for validation responses.
type Detail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error is the core's single error type. It wraps an underlying cause (if
// any) so errors.Is/errors.As keep working through the stack.
type Error struct {
	Type      Type
	Message   string
	Details   []Detail
	RequestID string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// StatusCode returns the HTTP status the api layer should respond with.
func (e *Error) StatusCode() int {
	if s, ok := statusByType[e.Type]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an *Error of the given type.
func New(t Type, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Wrap builds an *Error of the given type around an existing error.
func Wrap(t Type, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause}
}

// WithDetails attaches field-level details and returns the receiver for
// chaining at the call site.
func (e *Error) WithDetails(d ...Detail) *Error {
	e.Details = append(e.Details, d...)
	return e
}

// WithRequestID stamps the error with a request identifier for tracing.
func (e *Error) WithRequestID(id string) *Error {
	e.RequestID = id
	return e
}

// Sentinel errors for conditions internal packages signal with errors.Is,
// analogous to the teacher's driver.ErrSandboxNotFound-style sentinels.
var (
	ErrPoolExhausted      = errors.New("apperr: pool exhausted")
	ErrSandboxGone        = errors.New("apperr: sandbox no longer exists")
	ErrReplUnresponsive   = errors.New("apperr: repl process unresponsive")
	ErrReplNotReady       = errors.New("apperr: repl did not become ready in time")
	ErrSandboxRunnerMissing = errors.New("apperr: sandbox runner unavailable")
	ErrStateTooLarge      = errors.New("apperr: state exceeds maximum size")
	ErrUnknownStateVersion = errors.New("apperr: unknown state version byte")
)

// As is a convenience wrapper around errors.As for the common *Error case.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
