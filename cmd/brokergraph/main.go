// Command brokergraph runs the broker GraphQL gateway and its tooling.
package main

import (
	"os"

	"github.com/spf13/cobra"

	config "github.com/hanpama/brokergraph/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// loadFunc reads the effective configuration for a command.
type loadFunc func(cmd *cobra.Command) (config.Config, error)

func newRootCmd() *cobra.Command {
	var configFile string
	root := &cobra.Command{
		Use:   "brokergraph",
		Short: "GraphQL gateway for the broker backend",
		Long: `brokergraph serves the broker GraphQL API behind bearer authentication.

Every setting can come from a config file (--config), a BROKER_* environment
variable or a flag, in increasing order of precedence. server.addr, for
example, is read from BROKER_SERVER_ADDR or --server.addr.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "YAML, TOML or JSON config file")
	config.AddFlags(root.PersistentFlags())

	load := func(cmd *cobra.Command) (config.Config, error) {
		v, err := config.New(cmd.Flags(), configFile)
		if err != nil {
			return config.Config{}, err
		}
		return config.Load(v)
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newIngestOnceCmd(load),
		newPrintSchemaCmd(),
		newCompileProtoCmd(),
	)
	return root
}
