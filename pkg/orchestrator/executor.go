package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/relaygate/relaygate/pkg/adapter"
	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/errors"
	"github.com/relaygate/relaygate/pkg/telemetry"
)

// Status is the aggregate outcome of a route execution.
type Status string

const (
	// StatusComplete means every call succeeded.
	StatusComplete Status = "complete"

	// StatusDegraded means some calls succeeded under a best-effort policy.
	StatusDegraded Status = "degraded"

	// StatusFailed means the route's policy could not be satisfied.
	StatusFailed Status = "failed"
)

// Result is the assembled outcome of executing a route's plan. Outcomes are
// ordered by call declaration order regardless of completion order.
type Result struct {
	Route    string
	Status   Status
	Policy   config.Policy
	Outcomes []adapter.Outcome
	Duration time.Duration
}

// Outcome returns the outcome for a named call.
func (r *Result) Outcome(call string) (adapter.Outcome, bool) {
	for _, out := range r.Outcomes {
		if out.Call == call {
			return out, true
		}
	}
	return adapter.Outcome{}, false
}

// FirstFailure returns the first failed outcome in declaration order.
func (r *Result) FirstFailure() (adapter.Outcome, bool) {
	for _, out := range r.Outcomes {
		if !out.Succeeded() {
			return out, true
		}
	}
	return adapter.Outcome{}, false
}

// Orchestrator executes route plans against a set of backend adapters.
type Orchestrator struct {
	adapters    map[string]adapter.Adapter
	maxParallel int
	logger      *telemetry.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxParallel caps how many calls run concurrently within a level.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

// WithLogger sets the orchestrator logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l.NewComponentLogger("orchestrator") }
}

// New creates an orchestrator over the given adapters, keyed by backend name.
func New(adapters map[string]adapter.Adapter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapters:    adapters,
		maxParallel: 10,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute runs the plan level by level. Calls within a level run in
// parallel; a call whose dependency failed is not invoked and is recorded
// as a dependency failure. When the context deadline expires, calls not
// yet finished are recorded as timeouts. The returned outcomes follow the
// plan's declaration order.
func (o *Orchestrator) Execute(
	ctx context.Context,
	plan *Plan,
	policy config.Policy,
	requestID string,
	payload map[string]interface{},
) *Result {
	start := time.Now()

	var mu sync.Mutex
	outcomes := make(map[string]adapter.Outcome, len(plan.Calls))

	for _, level := range plan.Levels {
		if ctx.Err() != nil {
			break
		}

		g, levelCtx := errgroup.WithContext(ctx)
		g.SetLimit(o.maxParallel)

		for _, name := range level {
			call, _ := plan.Call(name)

			mu.Lock()
			failedDep := firstFailedDependency(call, outcomes)
			inputs := dependencyInputs(call, outcomes)
			mu.Unlock()

			if failedDep != "" {
				mu.Lock()
				outcomes[call.Name] = adapter.Failure(call.Name,
					errors.New(errors.KindDependencyFailed,
						fmt.Sprintf("dependency %q failed", failedDep)).
						WithRoute(plan.Route).
						WithCall(call.Name))
				mu.Unlock()
				continue
			}

			g.Go(func() error {
				out := o.invoke(levelCtx, plan.Route, call, requestID, payload, inputs)
				mu.Lock()
				outcomes[call.Name] = out
				mu.Unlock()
				return nil
			})
		}

		g.Wait()
	}

	// Calls never invoked because the deadline expired are timeouts.
	mu.Lock()
	for _, call := range plan.Calls {
		if _, done := outcomes[call.Name]; !done {
			outcomes[call.Name] = adapter.Failure(call.Name,
				errors.New(errors.KindTimeout, "call abandoned, overall deadline exceeded").
					WithRoute(plan.Route).
					WithCall(call.Name))
		}
	}
	mu.Unlock()

	ordered := make([]adapter.Outcome, 0, len(plan.Calls))
	for _, call := range plan.Calls {
		ordered = append(ordered, outcomes[call.Name])
	}

	return &Result{
		Route:    plan.Route,
		Status:   resolveStatus(ordered, policy),
		Policy:   policy,
		Outcomes: ordered,
		Duration: time.Since(start),
	}
}

// invoke runs one call through its adapter, applying the per-call timeout
// override when configured.
func (o *Orchestrator) invoke(
	ctx context.Context,
	route string,
	call CallDescriptor,
	requestID string,
	payload map[string]interface{},
	inputs map[string]map[string]interface{},
) adapter.Outcome {
	a, ok := o.adapters[call.Backend]
	if !ok {
		return adapter.Failure(call.Name,
			errors.New(errors.KindInternal,
				fmt.Sprintf("no adapter for backend %q", call.Backend)).
				WithRoute(route).
				WithCall(call.Name))
	}

	if call.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, call.Timeout)
		defer cancel()
	}

	req := &adapter.Request{
		Route:      route,
		Call:       call.Name,
		RequestID:  requestID,
		Payload:    payload,
		Inputs:     inputs,
		MaxRetries: call.MaxRetries,
	}

	var out adapter.Outcome
	telemetry.RecordCallOperation(ctx, call.Name, call.Backend, func(callCtx context.Context) error {
		out = a.Invoke(callCtx, req)
		if out.Err != nil {
			return out.Err
		}
		return nil
	})

	if o.logger != nil && !out.Succeeded() {
		o.logger.WithRoute(route).
			WithCall(call.Name).
			WithError(out.Err).
			Warn("backend call failed")
	}
	return out
}

// firstFailedDependency returns the name of the first declared dependency
// that did not succeed, or "" when all dependencies are satisfied.
func firstFailedDependency(call CallDescriptor, outcomes map[string]adapter.Outcome) string {
	for _, dep := range call.DependsOn {
		out, done := outcomes[dep]
		if !done || !out.Succeeded() {
			return dep
		}
	}
	return ""
}

// dependencyInputs collects the payloads of the call's dependencies.
func dependencyInputs(call CallDescriptor, outcomes map[string]adapter.Outcome) map[string]map[string]interface{} {
	if len(call.DependsOn) == 0 {
		return nil
	}
	inputs := make(map[string]map[string]interface{}, len(call.DependsOn))
	for _, dep := range call.DependsOn {
		if out, done := outcomes[dep]; done && out.Succeeded() {
			inputs[dep] = out.Payload
		}
	}
	return inputs
}

// resolveStatus derives the aggregate status from the outcomes and the
// route policy alone.
func resolveStatus(outcomes []adapter.Outcome, policy config.Policy) Status {
	succeeded := 0
	for _, out := range outcomes {
		if out.Succeeded() {
			succeeded++
		}
	}

	switch {
	case succeeded == len(outcomes):
		return StatusComplete
	case policy == config.PolicyBestEffort && succeeded > 0:
		return StatusDegraded
	default:
		return StatusFailed
	}
}
