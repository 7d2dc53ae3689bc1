// Package adapter wraps backend endpoints behind a uniform invocation
// contract. Each adapter owns the resilience policy for its endpoint:
// per-call timeout, retry with exponential backoff, and a circuit breaker.
// Backend-specific payloads and failure shapes never leak past this package;
// they are mapped into canonical payloads and canonical errors.
package adapter

import (
	"context"
	"time"

	"github.com/relaygate/relaygate/pkg/errors"
)

// Request is the canonical input to one backend call.
type Request struct {
	// Route is the route name the call belongs to.
	Route string

	// Call is the call name within the route's plan.
	Call string

	// RequestID is the gateway-assigned request identifier.
	RequestID string

	// Payload holds the normalized request fields.
	Payload map[string]interface{}

	// Inputs holds the payloads of dependency calls, keyed by call name.
	Inputs map[string]map[string]interface{}

	// MaxRetries overrides the adapter's retry budget when non-nil.
	MaxRetries *int
}

// Outcome is the tagged result of one adapter invocation: either a canonical
// payload or a canonical error, never both.
type Outcome struct {
	// Call is the call name this outcome belongs to.
	Call string

	// Payload is the canonical response payload on success.
	Payload map[string]interface{}

	// Err is the canonical failure, nil on success.
	Err *errors.Error

	// Attempts is how many network attempts were made.
	Attempts int

	// Duration is the total invocation time including retries.
	Duration time.Duration
}

// Succeeded reports whether the invocation produced a payload.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Success constructs a successful outcome.
func Success(call string, payload map[string]interface{}) Outcome {
	return Outcome{Call: call, Payload: payload}
}

// Failure constructs a failed outcome.
func Failure(call string, err *errors.Error) Outcome {
	return Outcome{Call: call, Err: err}
}

// Adapter is the invocation contract for one backend endpoint.
type Adapter interface {
	// Name returns the backend name the adapter wraps.
	Name() string

	// Invoke issues one call to the backend. Failures are reported inside
	// the Outcome; Invoke itself never returns an error value so a caller
	// cannot bypass the canonical taxonomy.
	Invoke(ctx context.Context, req *Request) Outcome
}

// Translator maps a backend-specific response payload into the canonical
// payload shape. The default translator unwraps a top-level "data" envelope
// when present and otherwise passes the payload through.
type Translator func(map[string]interface{}) map[string]interface{}

// DefaultTranslator unwraps {"data": {...}} envelopes.
func DefaultTranslator(payload map[string]interface{}) map[string]interface{} {
	if inner, ok := payload["data"].(map[string]interface{}); ok && len(payload) == 1 {
		return inner
	}
	return payload
}
