package gateway

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaygate/relaygate/pkg/errors"
	"github.com/relaygate/relaygate/pkg/telemetry"
)

// handleRequest is the single entry point for gateway traffic: route
// lookup, validation, orchestration, and response shaping.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	rt := s.runtime.Load()
	start := time.Now()

	requestID := r.Header.Get("X-Request-Id")
	if requestID == "" {
		requestID = uuid.New().String()
	}
	w.Header().Set("X-Request-Id", requestID)

	route, pathKnown, methodAllowed := rt.lookup(r.URL.Path, r.Method)
	if !pathKnown {
		s.fail(w, rt, "", start, errors.New(errors.KindNotFound,
			fmt.Sprintf("no route matches %s", r.URL.Path)))
		return
	}
	if !methodAllowed {
		w.Header().Set("Allow", allowedMethods(rt, r.URL.Path))
		s.fail(w, rt, "", start, errors.New(errors.KindMethodNotAllowed,
			fmt.Sprintf("method %s not allowed for %s", r.Method, r.URL.Path)))
		return
	}

	routeName := route.cfg.Name
	ctx := s.tel.WithContext(r.Context())
	ctx = telemetry.WithRequestContext(ctx, routeName, requestID)

	payload, err := decodeBody(r, rt.cfg.Server.MaxBodyBytes, w)
	if err != nil {
		telemetry.EndRequestContext(ctx, err)
		s.fail(w, rt, routeName, start, err)
		return
	}

	normalized, err := rt.registry.Validate(routeName, payload)
	if err != nil {
		if s.tel.Metrics != nil && errors.IsKind(err, errors.KindValidation) {
			s.tel.Metrics.RecordValidationFailure(routeName)
		}
		telemetry.EndRequestContext(ctx, err)
		s.fail(w, rt, routeName, start, err)
		return
	}

	execCtx, cancel := context.WithTimeout(ctx, rt.cfg.Server.OverallTimeout.Std())
	defer cancel()

	result := rt.orch.Execute(execCtx, route.plan, route.cfg.Policy, requestID, normalized.Fields)
	resp := s.transformer.Respond(route.plan, result, route.cfg.AllowPartial)

	if s.tel.Metrics != nil {
		s.tel.Metrics.RecordRequest(routeName, strconv.Itoa(resp.Status), time.Since(start))
	}
	if out, ok := result.FirstFailure(); ok && resp.Status >= 400 {
		s.recordError(out.Err)
		telemetry.EndRequestContext(ctx, out.Err)
	} else {
		telemetry.EndRequestContext(ctx, nil)
	}

	writeResponse(w, resp)
}

// fail shapes an error into the envelope and records it.
func (s *Server) fail(w http.ResponseWriter, rt *Runtime, routeName string, start time.Time, err error) {
	resp := s.transformer.Error(err)
	if s.tel.Metrics != nil {
		label := routeName
		if label == "" {
			label = "unmatched"
		}
		s.tel.Metrics.RecordRequest(label, strconv.Itoa(resp.Status), time.Since(start))
	}
	s.recordError(err)
	writeResponse(w, resp)
}

func (s *Server) recordError(err error) {
	if err == nil || s.tel.Metrics == nil {
		return
	}
	kind := errors.KindOf(err)
	s.tel.Metrics.RecordError(string(kind), kind.Code())
}

// decodeBody reads a bounded JSON body. An empty body is treated as an
// empty object so schemas with only optional fields still validate.
func decodeBody(r *http.Request, maxBytes int64, w http.ResponseWriter) (map[string]interface{}, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var payload map[string]interface{}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&payload); err != nil {
		if stderrors.Is(err, io.EOF) {
			return map[string]interface{}{}, nil
		}
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return nil, errors.Wrap(errors.KindValidation, "request body too large", err)
		}
		return nil, errors.Wrap(errors.KindValidation, "request body is not valid JSON", err)
	}
	return payload, nil
}

// allowedMethods lists the methods the path supports, for the Allow header.
func allowedMethods(rt *Runtime, path string) string {
	methods := make([]string, 0, len(rt.routes[path]))
	for method := range rt.routes[path] {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}

// panicError shapes a recovered panic. The panic value is logged, not
// surfaced to clients.
func panicError(rec interface{}) *errors.Error {
	return errors.New(errors.KindInternal, "internal error").
		WithDetail("panic", fmt.Sprintf("%v", rec))
}
