package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/gateway"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a gateway configuration file",
		Long: `Validate a gateway configuration file without serving traffic.

This command checks:
  - YAML syntax and field constraints
  - Route table invariants (unique names, paths, call names, namespaces)
  - Request schema compilation
  - Call dependency references and cycles`,
		Example: `  # Validate the default config file
  relaygate validate

  # Validate a specific file
  relaygate validate --config ./relaygate.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Info().Str("path", configPath).Msg("Validating configuration")

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			// Schema compilation and plan construction only happen when the
			// configuration is materialized, so build a runtime too.
			if _, err := gateway.NewRuntime(cfg, nil); err != nil {
				return err
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"valid":    true,
					"routes":   len(cfg.Routes),
					"backends": len(cfg.Backends),
				})
			}
			fmt.Printf("Configuration valid: %d routes, %d backends\n",
				len(cfg.Routes), len(cfg.Backends))
			return nil
		},
	}

	return cmd
}
