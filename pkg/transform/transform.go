// Package transform maps aggregated orchestration results into the
// client-facing contract: a merged success payload, a partial payload, or
// the fixed error envelope. Nothing below this package decides what a
// client sees.
package transform

import (
	"fmt"
	"strings"
	"time"

	"github.com/relaygate/relaygate/pkg/errors"
	"github.com/relaygate/relaygate/pkg/orchestrator"
)

// Response is a fully shaped client response.
type Response struct {
	Status int
	Body   map[string]interface{}
}

// Transformer builds client responses. It owns the clock so envelope
// timestamps are injectable in tests.
type Transformer struct {
	now func() time.Time
}

// New creates a transformer using the wall clock.
func New() *Transformer {
	return &Transformer{now: time.Now}
}

// Respond maps an aggregated result to a client response. Complete results
// merge every payload under its namespace. Degraded results either carry
// the successful payloads with a partial marker, when the route allows
// partial responses, or become the error of the first failing call. Failed
// results always become the error of the first failing call in declaration
// order.
func (t *Transformer) Respond(plan *orchestrator.Plan, result *orchestrator.Result, allowPartial bool) Response {
	switch result.Status {
	case orchestrator.StatusComplete:
		return Response{Status: 200, Body: t.merge(plan, result, false)}

	case orchestrator.StatusDegraded:
		if allowPartial {
			return Response{Status: 200, Body: t.merge(plan, result, true)}
		}
		return t.failureResponse(result)

	default:
		return t.failureResponse(result)
	}
}

// Error maps any error to the fixed client envelope. Errors outside the
// canonical taxonomy become internal errors.
func (t *Transformer) Error(err error) Response {
	kind := errors.KindOf(err)
	return Response{
		Status: kind.HTTPStatus(),
		Body: map[string]interface{}{
			"error":     kind.Code(),
			"message":   clientMessage(err),
			"timestamp": t.now().UTC().Format(time.RFC3339),
		},
	}
}

// merge flattens successful payloads under their declared namespaces.
func (t *Transformer) merge(plan *orchestrator.Plan, result *orchestrator.Result, partial bool) map[string]interface{} {
	body := make(map[string]interface{}, len(result.Outcomes)+1)
	for _, out := range result.Outcomes {
		if !out.Succeeded() {
			continue
		}
		call, ok := plan.Call(out.Call)
		if !ok {
			continue
		}
		body[call.Namespace] = out.Payload
	}
	if partial {
		body["partial"] = true
	}
	return body
}

// failureResponse builds the envelope for the first failing call.
func (t *Transformer) failureResponse(result *orchestrator.Result) Response {
	if out, ok := result.FirstFailure(); ok {
		return t.Error(out.Err)
	}
	// A non-complete result with no failed outcome is a defect upstream.
	return t.Error(errors.New(errors.KindInternal, "aggregation produced no failure detail").
		WithRoute(result.Route))
}

// clientMessage renders the client-facing message. Field-level validation
// failures are folded into the message so the envelope shape stays fixed.
func clientMessage(err error) string {
	e := errors.AsError(err)
	if e == nil {
		return "internal error"
	}

	if len(e.Fields) > 0 {
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
		}
		return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, "; "))
	}

	if e.Call != "" {
		return fmt.Sprintf("%s (call %s)", e.Message, e.Call)
	}
	return e.Message
}
