// Package schema validates inbound request payloads against per-route CUE
// schemas. Schemas are compiled once when the route table is built; request
// validation is a pure check that either yields a normalized request or the
// full list of field-level violations.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/relaygate/relaygate/pkg/errors"
)

// NormalizedRequest is the validated, typed form of an inbound request.
// It is immutable after validation; downstream tiers read it but never
// write it.
type NormalizedRequest struct {
	// Route is the matched route name.
	Route string

	// Fields holds the validated request fields.
	Fields map[string]interface{}
}

// Registry holds the compiled request schemas, one per route.
type Registry struct {
	cuectx  *cue.Context
	mu      sync.RWMutex
	schemas map[string]cue.Value
}

// NewRegistry creates an empty schema registry.
func NewRegistry() *Registry {
	return &Registry{
		cuectx:  cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

// Register compiles the CUE source and stores it as the schema for the route.
// A schema that does not compile fails registration; the gateway treats this
// as a startup error.
func (r *Registry) Register(route, source string) error {
	val := r.cuectx.CompileString(source)
	if err := val.Err(); err != nil {
		return errors.Wrap(errors.KindValidation,
			fmt.Sprintf("invalid schema for route %s", route), err).
			WithRoute(route)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[route] = val
	return nil
}

// Routes returns the names of all registered routes, sorted.
func (r *Registry) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the payload against the route's schema. On success it
// returns the normalized request; on failure it returns a KindValidation
// error carrying every field-level violation, not just the first.
func (r *Registry) Validate(route string, payload map[string]interface{}) (*NormalizedRequest, error) {
	r.mu.RLock()
	schema, ok := r.schemas[route]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.KindInternal,
			fmt.Sprintf("no schema registered for route %s", route)).
			WithRoute(route)
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}

	data := schema.Context().Encode(payload)
	if err := data.Err(); err != nil {
		return nil, errors.Wrap(errors.KindValidation, "request payload is not encodable", err).
			WithRoute(route)
	}

	unified := schema.Unify(data)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, errors.New(errors.KindValidation, "request validation failed").
			WithRoute(route).
			WithFields(fieldErrors(err))
	}

	return &NormalizedRequest{Route: route, Fields: payload}, nil
}

// fieldErrors flattens a CUE validation error into field-level failures.
func fieldErrors(err error) []errors.FieldError {
	list := cueerrors.Errors(err)
	fields := make([]errors.FieldError, 0, len(list))
	seen := make(map[string]bool)

	for _, e := range list {
		format, args := e.Msg()
		fe := errors.FieldError{
			Field:   strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		}
		key := fe.Field + "|" + fe.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		fields = append(fields, fe)
	}

	return fields
}
