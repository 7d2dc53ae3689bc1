// Package orchestrator fans a validated request out to backend calls,
// respecting declared dependencies, and assembles their outcomes in
// declaration order.
package orchestrator

import (
	"fmt"
	"time"

	"github.com/relaygate/relaygate/pkg/errors"
)

// CallDescriptor is one backend call a route performs.
type CallDescriptor struct {
	// Name identifies the call within its route.
	Name string

	// Backend names the adapter that serves this call.
	Backend string

	// Namespace is the key the call's payload is merged under.
	Namespace string

	// DependsOn lists calls whose payloads this call consumes.
	DependsOn []string

	// Timeout overrides the backend's per-call timeout when non-zero.
	Timeout time.Duration

	// MaxRetries overrides the backend's retry budget when non-nil.
	MaxRetries *int
}

// Plan is the execution order for a route's calls: levels of mutually
// independent calls, dependencies always in an earlier level. The Calls
// slice preserves declaration order for response assembly.
type Plan struct {
	Route  string
	Calls  []CallDescriptor
	Levels [][]string

	byName map[string]CallDescriptor
}

// Call returns the descriptor for a named call.
func (p *Plan) Call(name string) (CallDescriptor, bool) {
	d, ok := p.byName[name]
	return d, ok
}

// BuildPlan validates the dependency graph and assigns each call an
// execution level. Unknown or cyclic dependencies are configuration
// defects and reported as internal errors.
func BuildPlan(route string, calls []CallDescriptor) (*Plan, error) {
	if len(calls) == 0 {
		return nil, errors.New(errors.KindInternal, "route declares no calls").WithRoute(route)
	}

	byName := make(map[string]CallDescriptor, len(calls))
	for _, call := range calls {
		if _, exists := byName[call.Name]; exists {
			return nil, errors.New(errors.KindInternal,
				fmt.Sprintf("duplicate call name %q", call.Name)).WithRoute(route)
		}
		byName[call.Name] = call
	}

	for _, call := range calls {
		for _, dep := range call.DependsOn {
			if dep == call.Name {
				return nil, errors.New(errors.KindInternal,
					fmt.Sprintf("call %q depends on itself", call.Name)).WithRoute(route)
			}
			if _, exists := byName[dep]; !exists {
				return nil, errors.New(errors.KindInternal,
					fmt.Sprintf("call %q depends on unknown call %q", call.Name, dep)).WithRoute(route)
			}
		}
	}

	levels, err := assignLevels(route, calls)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Route:  route,
		Calls:  calls,
		Levels: levels,
		byName: byName,
	}, nil
}

// assignLevels performs Kahn-style level assignment: level 0 holds calls
// with no dependencies, level n+1 holds calls whose dependencies all sit
// at level n or below. Calls left unplaced form a cycle.
func assignLevels(route string, calls []CallDescriptor) ([][]string, error) {
	levelOf := make(map[string]int, len(calls))

	for len(levelOf) < len(calls) {
		progressed := false

		for _, call := range calls {
			if _, done := levelOf[call.Name]; done {
				continue
			}
			lvl := 0
			ready := true
			for _, dep := range call.DependsOn {
				depLevel, done := levelOf[dep]
				if !done {
					ready = false
					break
				}
				if depLevel+1 > lvl {
					lvl = depLevel + 1
				}
			}
			if ready {
				levelOf[call.Name] = lvl
				progressed = true
			}
		}

		if !progressed {
			var stuck []string
			for _, call := range calls {
				if _, done := levelOf[call.Name]; !done {
					stuck = append(stuck, call.Name)
				}
			}
			return nil, errors.New(errors.KindInternal,
				fmt.Sprintf("dependency cycle among calls %v", stuck)).WithRoute(route)
		}
	}

	depth := 0
	for _, lvl := range levelOf {
		if lvl+1 > depth {
			depth = lvl + 1
		}
	}

	// Declaration order is preserved within each level.
	levels := make([][]string, depth)
	for _, call := range calls {
		lvl := levelOf[call.Name]
		levels[lvl] = append(levels[lvl], call.Name)
	}
	return levels, nil
}
