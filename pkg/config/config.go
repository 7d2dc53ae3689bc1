// Package config loads and validates the gateway's static configuration: the
// listen addresses, the backend endpoint catalog, and the route table with
// its call plans and request schemas. A configuration that fails validation
// never reaches the serving path; the gateway refuses to start.
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/relaygate/relaygate/pkg/errors"
)

// Policy selects how call failures aggregate into the route's overall status.
type Policy string

const (
	// PolicyRequireAll fails the whole request if any call fails.
	PolicyRequireAll Policy = "require_all"

	// PolicyBestEffort records per-call failures and degrades instead of failing,
	// as long as at least one call succeeds.
	PolicyBestEffort Policy = "best_effort"
)

// Duration wraps time.Duration with YAML support for strings like "500ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root gateway configuration.
type Config struct {
	// Server configures the listen addresses and the overall request deadline.
	Server ServerConfig `yaml:"server" validate:"required"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Backends catalogs the backend endpoints reachable through adapters.
	Backends map[string]BackendConfig `yaml:"backends" validate:"required,min=1,dive"`

	// Routes is the static route table.
	Routes []RouteConfig `yaml:"routes" validate:"required,min=1,dive"`
}

// ServerConfig configures the HTTP entry points.
type ServerConfig struct {
	// Listen is the address of the public gateway listener.
	Listen string `yaml:"listen" validate:"required"`

	// AdminListen is the address of the admin listener (health, metrics, routes).
	AdminListen string `yaml:"admin_listen" validate:"required"`

	// OverallTimeout is the per-request deadline enforced by the orchestrator.
	// It must be no shorter than the longest critical path a route declares.
	OverallTimeout Duration `yaml:"overall_timeout" validate:"gt=0"`

	// MaxBodyBytes limits the size of inbound request bodies.
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`

	// ShutdownGrace bounds graceful shutdown of the listeners.
	ShutdownGrace Duration `yaml:"shutdown_grace" validate:"gt=0"`
}

// TelemetryConfig configures the ambient telemetry stack.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output"`

	// Caller adds file:line caller information to log entries.
	Caller bool `yaml:"caller"`

	// TimeFormat specifies the timestamp format.
	TimeFormat string `yaml:"time_format" validate:"omitempty,oneof=rfc3339 unix unixms unixmicro"`

	// Sampling enables log sampling for high-frequency logs.
	Sampling bool `yaml:"sampling"`

	// SamplingInitial is the number of messages logged per second before
	// sampling kicks in.
	SamplingInitial int `yaml:"sampling_initial" validate:"gte=0"`

	// SamplingThereafter logs every Nth message after the initial sample.
	SamplingThereafter int `yaml:"sampling_thereafter" validate:"gte=0"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	Enabled bool `yaml:"enabled"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	Enabled bool `yaml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP exporter endpoint.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure"`
}

// BackendConfig describes one backend endpoint and the resilience policy its
// adapter owns.
type BackendConfig struct {
	// BaseURL is the backend's base URL.
	BaseURL string `yaml:"base_url" validate:"required,url"`

	// Path is appended to BaseURL for every call.
	Path string `yaml:"path" validate:"omitempty,startswith=/"`

	// Timeout is the per-call timeout.
	Timeout Duration `yaml:"timeout" validate:"gt=0"`

	// MaxRetries is the number of retries after the first attempt, applied
	// only to backend-declared server errors.
	MaxRetries int `yaml:"max_retries" validate:"gte=0"`

	// BackoffBase seeds the exponential retry backoff (base * 2^attempt).
	BackoffBase Duration `yaml:"backoff_base" validate:"gte=0"`

	// BreakerThreshold is the consecutive-failure count that opens the breaker.
	BreakerThreshold int `yaml:"breaker_threshold" validate:"gte=1"`

	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown Duration `yaml:"breaker_cooldown" validate:"gt=0"`
}

// RouteConfig declares one externally reachable route and its call plan.
type RouteConfig struct {
	// Name is the unique route name.
	Name string `yaml:"name" validate:"required,max=64"`

	// Method is the HTTP method the route accepts.
	Method string `yaml:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`

	// Path is the exact request path the route matches.
	Path string `yaml:"path" validate:"required,startswith=/"`

	// Policy is the aggregation policy for the route's calls.
	Policy Policy `yaml:"policy" validate:"required,oneof=require_all best_effort"`

	// AllowPartial lets degraded responses reach clients with a partial marker.
	// Without it a degraded result maps to a client error.
	AllowPartial bool `yaml:"allow_partial"`

	// Schema is the CUE schema the inbound payload must satisfy.
	Schema string `yaml:"schema" validate:"required"`

	// Calls is the route's call plan, in declared order.
	Calls []CallConfig `yaml:"calls" validate:"required,min=1,dive"`
}

// CallConfig declares one backend call within a route's plan.
type CallConfig struct {
	// Name identifies the call within the route.
	Name string `yaml:"name" validate:"required"`

	// Backend references an entry in the backend catalog.
	Backend string `yaml:"backend" validate:"required"`

	// Namespace is the merge namespace the call's payload lands under in the
	// client response. Unique per route.
	Namespace string `yaml:"namespace" validate:"required"`

	// DependsOn names a prior call whose payload feeds this call's input.
	DependsOn string `yaml:"depends_on"`

	// Timeout overrides the backend's per-call timeout when set.
	Timeout Duration `yaml:"timeout" validate:"gte=0"`

	// MaxRetries overrides the backend's retry count when set.
	MaxRetries *int `yaml:"max_retries" validate:"omitempty,gte=0"`
}

// Load reads, parses, and validates a configuration file. All violations are
// aggregated into a single KindValidation error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindInternal, "failed to read config file", err)
	}
	return Parse(data)
}

// Parse parses and validates raw YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.KindValidation, "failed to parse config", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in unset values before validation.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8080"
	}
	if c.Server.AdminListen == "" {
		c.Server.AdminListen = ":9090"
	}
	if c.Server.OverallTimeout == 0 {
		c.Server.OverallTimeout = Duration(10 * time.Second)
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.Server.ShutdownGrace == 0 {
		c.Server.ShutdownGrace = Duration(15 * time.Second)
	}
	if c.Telemetry.Logging.Level == "" {
		c.Telemetry.Logging.Level = "info"
	}
	if c.Telemetry.Logging.Format == "" {
		c.Telemetry.Logging.Format = "console"
	}
	if c.Telemetry.Logging.Output == "" {
		c.Telemetry.Logging.Output = "stderr"
	}
	if c.Telemetry.Logging.TimeFormat == "" {
		c.Telemetry.Logging.TimeFormat = "rfc3339"
	}
	if c.Telemetry.Logging.SamplingInitial == 0 {
		c.Telemetry.Logging.SamplingInitial = 100
	}
	if c.Telemetry.Logging.SamplingThereafter == 0 {
		c.Telemetry.Logging.SamplingThereafter = 100
	}
	if c.Telemetry.Metrics.Namespace == "" {
		c.Telemetry.Metrics.Namespace = "relaygate"
	}
	if c.Telemetry.Tracing.Exporter == "" {
		c.Telemetry.Tracing.Exporter = "none"
	}

	for name, b := range c.Backends {
		if b.BackoffBase == 0 {
			b.BackoffBase = Duration(100 * time.Millisecond)
		}
		if b.BreakerThreshold == 0 {
			b.BreakerThreshold = 5
		}
		if b.BreakerCooldown == 0 {
			b.BreakerCooldown = Duration(30 * time.Second)
		}
		c.Backends[name] = b
	}
}

// Validate checks struct constraints and cross-entity invariants. Struct tag
// violations and invariant violations are aggregated so the operator sees
// every problem in one pass.
func (c *Config) Validate() error {
	var fields []errors.FieldError

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if stderrors.As(err, &verrs) {
			for _, fe := range verrs {
				fields = append(fields, errors.FieldError{
					Field:   fe.Namespace(),
					Message: fmt.Sprintf("failed %q constraint", fe.Tag()),
				})
			}
		} else {
			return errors.Wrap(errors.KindValidation, "config validation failed", err)
		}
	}

	fields = append(fields, c.checkRouteInvariants()...)

	if len(fields) > 0 {
		return errors.New(errors.KindValidation, "config validation failed").
			WithFields(fields)
	}
	return nil
}

// checkRouteInvariants enforces cross-entity invariants the struct tags
// cannot express: unique route identity, known backend references, unique
// call names and merge namespaces, and resolvable dependency references.
func (c *Config) checkRouteInvariants() []errors.FieldError {
	var fields []errors.FieldError

	routeNames := make(map[string]bool)
	routeKeys := make(map[string]bool)

	for _, route := range c.Routes {
		prefix := fmt.Sprintf("routes[%s]", route.Name)

		if routeNames[route.Name] {
			fields = append(fields, errors.FieldError{
				Field:   prefix + ".name",
				Message: "duplicate route name",
			})
		}
		routeNames[route.Name] = true

		key := route.Method + " " + route.Path
		if routeKeys[key] {
			fields = append(fields, errors.FieldError{
				Field:   prefix + ".path",
				Message: fmt.Sprintf("duplicate route for %s", key),
			})
		}
		routeKeys[key] = true

		callNames := make(map[string]bool)
		namespaces := make(map[string]bool)

		for _, call := range route.Calls {
			callPrefix := fmt.Sprintf("%s.calls[%s]", prefix, call.Name)

			if callNames[call.Name] {
				fields = append(fields, errors.FieldError{
					Field:   callPrefix + ".name",
					Message: "duplicate call name",
				})
			}
			callNames[call.Name] = true

			if namespaces[call.Namespace] {
				fields = append(fields, errors.FieldError{
					Field:   callPrefix + ".namespace",
					Message: "merge namespaces must not overlap",
				})
			}
			namespaces[call.Namespace] = true

			// "partial" marks degraded responses in the client envelope.
			if call.Namespace == "partial" {
				fields = append(fields, errors.FieldError{
					Field:   callPrefix + ".namespace",
					Message: `namespace "partial" is reserved`,
				})
			}

			if _, ok := c.Backends[call.Backend]; !ok {
				fields = append(fields, errors.FieldError{
					Field:   callPrefix + ".backend",
					Message: fmt.Sprintf("unknown backend %q", call.Backend),
				})
			}
		}

		// Dependency references are checked here; cycle detection happens
		// when the call plan is built.
		for _, call := range route.Calls {
			if call.DependsOn == "" {
				continue
			}
			if call.DependsOn == call.Name {
				fields = append(fields, errors.FieldError{
					Field:   fmt.Sprintf("%s.calls[%s].depends_on", prefix, call.Name),
					Message: "call cannot depend on itself",
				})
				continue
			}
			if !callNames[call.DependsOn] {
				fields = append(fields, errors.FieldError{
					Field:   fmt.Sprintf("%s.calls[%s].depends_on", prefix, call.Name),
					Message: fmt.Sprintf("unknown dependency %q", call.DependsOn),
				})
			}
		}

		// The overall deadline must leave room for the slowest dependency
		// chain, or every request on this route would time out by construction.
		if cp := c.criticalPath(route); cp > c.Server.OverallTimeout.Std() {
			fields = append(fields, errors.FieldError{
				Field: prefix + ".calls",
				Message: fmt.Sprintf("critical path %s exceeds server.overall_timeout %s",
					cp, c.Server.OverallTimeout.Std()),
			})
		}
	}

	return fields
}

// criticalPath returns the route's worst-case duration: the longest dependency
// chain, summing each call's effective timeout. A call's timeout override wins
// over its backend's timeout.
func (c *Config) criticalPath(route RouteConfig) time.Duration {
	byName := make(map[string]CallConfig, len(route.Calls))
	for _, call := range route.Calls {
		byName[call.Name] = call
	}

	var chain func(name string, seen map[string]bool) time.Duration
	chain = func(name string, seen map[string]bool) time.Duration {
		call, ok := byName[name]
		if !ok || seen[name] {
			return 0
		}
		seen[name] = true

		d := call.Timeout.Std()
		if d <= 0 {
			if b, ok := c.Backends[call.Backend]; ok {
				d = b.Timeout.Std()
			}
		}
		if call.DependsOn != "" {
			d += chain(call.DependsOn, seen)
		}
		return d
	}

	var worst time.Duration
	for _, call := range route.Calls {
		if d := chain(call.Name, make(map[string]bool)); d > worst {
			worst = d
		}
	}
	return worst
}

// Route returns the route with the given name, if present.
func (c *Config) Route(name string) (*RouteConfig, bool) {
	for i := range c.Routes {
		if c.Routes[i].Name == name {
			return &c.Routes[i], true
		}
	}
	return nil, false
}

var validate = validator.New()
