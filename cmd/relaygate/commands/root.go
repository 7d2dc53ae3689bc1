package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "relaygate",
		Short: "RelayGate - Multi-backend request gateway",
		Long: `RelayGate is a request gateway that validates inbound requests against
typed schemas, fans them out to multiple backend services, and shapes the
aggregated results into a single client-facing contract.

Features:
  - Typed request schemas via CUE
  - Per-endpoint circuit breakers and retry policies
  - Dependency-aware parallel backend orchestration
  - RequireAll and BestEffort aggregation policies
  - Canonical error taxonomy with a fixed client envelope
  - Configuration hot reload`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "relaygate.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRoutesCommand())

	return rootCmd
}
