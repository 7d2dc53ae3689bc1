package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/telemetry"
)

func newServeCommand() *cobra.Command {
	var noReload bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		Long: `Run the gateway with the given configuration.

The public listener serves the configured routes; the admin listener serves
health, metrics, and the resolved route table. Unless --no-reload is set,
the configuration file is watched and reloaded on change. A reload that
fails validation is rejected and the previous configuration stays active.`,
		Example: `  # Run with the default config file
  relaygate serve

  # Run with an explicit config file, without hot reload
  relaygate serve --config ./relaygate.yaml --no-reload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			tel, err := telemetry.NewTelemetry(buildTelemetryConfig(cfg))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tel.Shutdown(shutdownCtx)
			}()

			opts := []gateway.ServerOption{}
			if !noReload {
				opts = append(opts, gateway.WithConfigPath(configPath))
			}

			srv, err := gateway.NewServer(cfg, tel, opts...)
			if err != nil {
				return fmt.Errorf("failed to build gateway: %w", err)
			}

			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().BoolVar(&noReload, "no-reload", false, "disable configuration hot reload")

	return cmd
}

// buildTelemetryConfig maps the gateway configuration onto the telemetry
// stack's configuration.
func buildTelemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.DefaultConfig()

	tc.Logging.Level = cfg.Telemetry.Logging.Level
	tc.Logging.Format = cfg.Telemetry.Logging.Format
	if cfg.Telemetry.Logging.Output != "" {
		tc.Logging.Output = cfg.Telemetry.Logging.Output
	}
	tc.Logging.EnableCaller = cfg.Telemetry.Logging.Caller
	if cfg.Telemetry.Logging.TimeFormat != "" {
		tc.Logging.TimeFormat = cfg.Telemetry.Logging.TimeFormat
	}
	tc.Logging.EnableSampling = cfg.Telemetry.Logging.Sampling
	if cfg.Telemetry.Logging.SamplingInitial > 0 {
		tc.Logging.SamplingInitial = cfg.Telemetry.Logging.SamplingInitial
	}
	if cfg.Telemetry.Logging.SamplingThereafter > 0 {
		tc.Logging.SamplingThereafter = cfg.Telemetry.Logging.SamplingThereafter
	}
	if verbose {
		tc.Logging.Level = "debug"
	}
	if jsonOutput {
		tc.Logging.Format = "json"
	}

	tc.Metrics.Enabled = cfg.Telemetry.Metrics.Enabled
	if cfg.Telemetry.Metrics.Namespace != "" {
		tc.Metrics.Namespace = cfg.Telemetry.Metrics.Namespace
	}

	tc.Tracing.Enabled = cfg.Telemetry.Tracing.Enabled
	if cfg.Telemetry.Tracing.Exporter != "" {
		tc.Tracing.Exporter = cfg.Telemetry.Tracing.Exporter
	}
	tc.Tracing.Endpoint = cfg.Telemetry.Tracing.Endpoint
	if cfg.Telemetry.Tracing.SamplingRate > 0 {
		tc.Tracing.SamplingRate = cfg.Telemetry.Tracing.SamplingRate
	}
	tc.Tracing.Insecure = cfg.Telemetry.Tracing.Insecure

	return tc
}
