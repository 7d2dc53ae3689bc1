// Package errors defines the canonical error taxonomy shared by every tier
// of the gateway. Backend-specific failure shapes never cross an adapter
// boundary; they are mapped into a Kind here and carried unchanged up to the
// response transformer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure for routing, retry, and status mapping.
type Kind string

const (
	// KindValidation indicates the inbound request failed schema validation.
	KindValidation Kind = "validation"

	// KindNotFound indicates no route matches the request path.
	KindNotFound Kind = "not_found"

	// KindMethodNotAllowed indicates the route exists but not for this method.
	KindMethodNotAllowed Kind = "method_not_allowed"

	// KindInvalidRequest indicates a backend rejected the call as a client error.
	KindInvalidRequest Kind = "invalid_request"

	// KindUnavailable indicates a transport-level failure or an open circuit breaker.
	KindUnavailable Kind = "unavailable"

	// KindTimeout indicates a per-call or overall deadline was exceeded.
	KindTimeout Kind = "timeout"

	// KindBackend indicates a backend server error that survived retries.
	KindBackend Kind = "backend"

	// KindDependencyFailed indicates a call was short-circuited because a
	// call it depends on did not succeed.
	KindDependencyFailed Kind = "dependency_failed"

	// KindInternal indicates an unclassified fault inside the gateway.
	KindInternal Kind = "internal"
)

// Client-facing error codes. The Kind to code mapping is fixed and must not
// vary by route.
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeNotFound           = "NOT_FOUND"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeTimeout            = "TIMEOUT_ERROR"
	CodeBackend            = "BACKEND_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
)

// Code returns the client-facing error code for this kind.
func (k Kind) Code() string {
	switch k {
	case KindValidation, KindInvalidRequest:
		return CodeValidation
	case KindNotFound:
		return CodeNotFound
	case KindMethodNotAllowed:
		return CodeMethodNotAllowed
	case KindUnavailable:
		return CodeBackendUnavailable
	case KindTimeout:
		return CodeTimeout
	case KindBackend, KindDependencyFailed:
		return CodeBackend
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the client-facing status code for this kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindInvalidRequest:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindBackend, KindDependencyFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FieldError describes a single field-level validation failure.
type FieldError struct {
	// Field is the dotted path of the offending field.
	Field string `json:"field"`

	// Message describes the violated constraint.
	Message string `json:"message"`
}

// Error is the canonical gateway error. It carries a Kind for status mapping,
// optional route/call context, and the underlying cause.
type Error struct {
	// Kind is the taxonomy classification.
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Route is the route name, if known.
	Route string `json:"route,omitempty"`

	// Call is the call name within the route's plan, if applicable.
	Call string `json:"call,omitempty"`

	// Fields lists field-level validation failures, for KindValidation.
	Fields []FieldError `json:"fields,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// New creates a canonical error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a canonical error of the given kind wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Route != "" && e.Call != "":
		return fmt.Sprintf("[%s] %s (route=%s, call=%s)%s", e.Kind, e.Message, e.Route, e.Call, e.causeSuffix())
	case e.Route != "":
		return fmt.Sprintf("[%s] %s (route=%s)%s", e.Kind, e.Message, e.Route, e.causeSuffix())
	default:
		return fmt.Sprintf("[%s] %s%s", e.Kind, e.Message, e.causeSuffix())
	}
}

func (e *Error) causeSuffix() string {
	if e.Err != nil {
		return ": " + e.Err.Error()
	}
	return ""
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality for errors.Is: two canonical errors match
// when their kinds match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithRoute adds route context to an error.
func (e *Error) WithRoute(route string) *Error {
	e.Route = route
	return e
}

// WithCall adds call context to an error.
func (e *Error) WithCall(call string) *Error {
	e.Call = call
	return e
}

// WithFields attaches field-level validation failures.
func (e *Error) WithFields(fields []FieldError) *Error {
	e.Fields = fields
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the canonical kind of err. Errors outside the taxonomy are
// classified as KindInternal so no unshaped fault reaches a client.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// AsError returns the canonical error in err's chain, or wraps err as
// KindInternal when it carries none.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return Wrap(KindInternal, "internal error", err)
}

// IsKind reports whether err carries the given canonical kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether a failed backend call may be retried. Only
// backend-declared server errors are retryable; client errors, transport
// failures, and timeouts are not.
func IsRetryable(err error) bool {
	return KindOf(err) == KindBackend
}
