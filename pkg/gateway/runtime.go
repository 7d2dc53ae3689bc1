package gateway

import (
	"fmt"

	"github.com/relaygate/relaygate/pkg/adapter"
	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/orchestrator"
	"github.com/relaygate/relaygate/pkg/schema"
	"github.com/relaygate/relaygate/pkg/telemetry"
)

// route is one resolved route: its configuration, its execution plan, and
// the schema registry entry keyed by its name.
type route struct {
	cfg  config.RouteConfig
	plan *orchestrator.Plan
}

// Runtime is an immutable materialization of one configuration: compiled
// schemas, backend adapters, execution plans, and the static route table.
// The server swaps the whole runtime atomically on reload, so a request
// always sees one consistent configuration.
type Runtime struct {
	cfg      *config.Config
	registry *schema.Registry
	adapters map[string]adapter.Adapter

	// routes maps path then method to the resolved route. Resolved once
	// here, never re-parsed per request.
	routes map[string]map[string]*route

	orch *orchestrator.Orchestrator
}

// NewRuntime resolves a validated configuration into a runtime. Schema
// compilation errors and dependency defects in call plans are reported
// here, before the runtime serves traffic.
func NewRuntime(cfg *config.Config, tel *telemetry.Telemetry) (*Runtime, error) {
	registry := schema.NewRegistry()
	adapters := make(map[string]adapter.Adapter, len(cfg.Backends))
	routes := make(map[string]map[string]*route, len(cfg.Routes))

	for name, backend := range cfg.Backends {
		opts := []adapter.Option{}
		if tel != nil {
			if tel.Logger != nil {
				opts = append(opts, adapter.WithLogger(tel.Logger))
			}
			if tel.Metrics != nil {
				opts = append(opts, adapter.WithMetrics(tel.Metrics))
			}
		}
		adapters[name] = adapter.NewHTTP(adapter.Config{
			Name:             name,
			BaseURL:          backend.BaseURL,
			Path:             backend.Path,
			Timeout:          backend.Timeout.Std(),
			MaxRetries:       backend.MaxRetries,
			BackoffBase:      backend.BackoffBase.Std(),
			BreakerThreshold: backend.BreakerThreshold,
			BreakerCooldown:  backend.BreakerCooldown.Std(),
		}, opts...)
	}

	for _, routeCfg := range cfg.Routes {
		if err := registry.Register(routeCfg.Name, routeCfg.Schema); err != nil {
			return nil, fmt.Errorf("route %q: %w", routeCfg.Name, err)
		}

		calls := make([]orchestrator.CallDescriptor, 0, len(routeCfg.Calls))
		for _, call := range routeCfg.Calls {
			var deps []string
			if call.DependsOn != "" {
				deps = []string{call.DependsOn}
			}
			calls = append(calls, orchestrator.CallDescriptor{
				Name:       call.Name,
				Backend:    call.Backend,
				Namespace:  call.Namespace,
				DependsOn:  deps,
				Timeout:    call.Timeout.Std(),
				MaxRetries: call.MaxRetries,
			})
		}
		plan, err := orchestrator.BuildPlan(routeCfg.Name, calls)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", routeCfg.Name, err)
		}

		byMethod, ok := routes[routeCfg.Path]
		if !ok {
			byMethod = make(map[string]*route)
			routes[routeCfg.Path] = byMethod
		}
		byMethod[routeCfg.Method] = &route{cfg: routeCfg, plan: plan}
	}

	orchOpts := []orchestrator.Option{}
	if tel != nil && tel.Logger != nil {
		orchOpts = append(orchOpts, orchestrator.WithLogger(tel.Logger))
	}

	return &Runtime{
		cfg:      cfg,
		registry: registry,
		adapters: adapters,
		routes:   routes,
		orch:     orchestrator.New(adapters, orchOpts...),
	}, nil
}

// lookup resolves a path and method against the static route table. The
// second return distinguishes an unknown path from a known path with an
// unsupported method.
func (rt *Runtime) lookup(path, method string) (*route, bool, bool) {
	byMethod, pathKnown := rt.routes[path]
	if !pathKnown {
		return nil, false, false
	}
	r, ok := byMethod[method]
	return r, true, ok
}

// Breakers reports the breaker state per backend, for the admin surface.
func (rt *Runtime) Breakers() map[string]string {
	states := make(map[string]string, len(rt.adapters))
	for name, a := range rt.adapters {
		if ha, ok := a.(*adapter.HTTPAdapter); ok {
			states[name] = ha.Breaker().State().String()
		}
	}
	return states
}
