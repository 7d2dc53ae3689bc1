package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/pkg/config"
	"github.com/relaygate/relaygate/pkg/gateway"
)

func newRoutesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "Print the resolved route table",
		Long: `Print the route table a gateway built from this configuration would
serve: method, path, aggregation policy, and the backend calls each route
fans out to, in declaration order.`,
		Example: `  # Print routes from the default config file
  relaygate routes

  # Machine-readable output
  relaygate routes --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if _, err := gateway.NewRuntime(cfg, nil); err != nil {
				return err
			}

			routes := make([]config.RouteConfig, len(cfg.Routes))
			copy(routes, cfg.Routes)
			sort.Slice(routes, func(i, j int) bool { return routes[i].Name < routes[j].Name })

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(routes)
			}

			for _, r := range routes {
				calls := make([]string, 0, len(r.Calls))
				for _, c := range r.Calls {
					if c.DependsOn != "" {
						calls = append(calls, fmt.Sprintf("%s(after %s)", c.Name, c.DependsOn))
						continue
					}
					calls = append(calls, c.Name)
				}
				fmt.Printf("%-6s %-30s policy=%-11s calls=%s\n",
					r.Method, r.Path, r.Policy, strings.Join(calls, " "))
			}
			return nil
		},
	}

	return cmd
}
