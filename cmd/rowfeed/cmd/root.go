package cmd

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config/rowfeed"

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "rowfeed",
		Short:        "rowfeed hands out the rows of shared CSV files to the threads of a distributed load test",
		SilenceUsage: true,
	}

	cmd.AddCommand(
		runCmd(),
		configCmd(),
	)

	return cmd
}
