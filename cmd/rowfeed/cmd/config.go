package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/G-Research/rowfeed/internal/common/logging"
	"github.com/G-Research/rowfeed/internal/rowfeed"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration, with defaults applied, and check it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.ConfigureCliLogging()
			config, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			checkErr := rowfeed.CheckConfig(config)
			config.Redis.Password = redacted(config.Redis.Password)
			out, err := yaml.Marshal(config)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), string(out))
			return checkErr
		},
	}
	cmd.Flags().StringSlice("config", []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	return cmd
}

func redacted(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}
