package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/G-Research/rowfeed/internal/common"
	"github.com/G-Research/rowfeed/internal/rowfeed"
	"github.com/G-Research/rowfeed/internal/rowfeed/configuration"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured thread groups until they finish",
		RunE:  runCmdE,
	}

	cmd.Flags().StringSlice("config", []string{}, "Fully qualified path to application configuration file (for multiple config files repeat this arg or separate paths with commas)")
	cmd.Flags().String("scene", "", "Scene id of the run, overrides run.sceneId")
	cmd.Flags().String("pod", "", "Pod number, overrides run.podNumber and $POD_NUMBER")

	return cmd
}

func runCmdE(cmd *cobra.Command, _ []string) error {
	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if scene, _ := cmd.Flags().GetString("scene"); scene != "" {
		config.Run.SceneId = scene
	}
	if pod, _ := cmd.Flags().GetString("pod"); pod != "" {
		config.Run.PodNumber = pod
	}

	// Cancel the run on SIGINT and SIGTERM, which shuts everything down gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		log.Info("Stopping run")
	}()

	return rowfeed.New(config).StartUp(ctx)
}

func loadConfig(cmd *cobra.Command) (*configuration.RowFeedConfig, error) {
	userConfigs, err := cmd.Flags().GetStringSlice("config")
	if err != nil {
		return nil, err
	}
	var config configuration.RowFeedConfig
	common.LoadConfig(&config, defaultConfigPath, userConfigs)
	return &config, nil
}
