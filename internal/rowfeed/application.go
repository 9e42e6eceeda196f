package rowfeed

import (
	"context"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/rowfeed/internal/common"
	"github.com/G-Research/rowfeed/internal/common/health"
	"github.com/G-Research/rowfeed/internal/common/logging"
	"github.com/G-Research/rowfeed/internal/common/util"
	"github.com/G-Research/rowfeed/internal/rowfeed/configuration"
	"github.com/G-Research/rowfeed/internal/rowfeed/runner"
	"github.com/G-Research/rowfeed/internal/rowfeed/store"
)

type App struct {
	Config *configuration.RowFeedConfig
	// Receives the variables of every iteration. Defaults to logging them.
	Sampler runner.Sampler
	// Registry for metrics created per run. Defaults to the prometheus default registry.
	Registerer prometheus.Registerer
}

func New(config *configuration.RowFeedConfig) *App {
	return &App{
		Config:     config,
		Sampler:    runner.LogSampler,
		Registerer: prometheus.DefaultRegisterer,
	}
}

// CheckConfig fills in defaults and validates the configuration.
func CheckConfig(config *configuration.RowFeedConfig) error {
	config.ApplyDefaults()
	if err := common.ValidateConfig(config); err != nil {
		return err
	}
	if len(config.ThreadGroups) == 0 {
		log.Warn("No thread groups configured, nothing will be read")
	}
	return nil
}

// StartUp runs the configured load test until it completes or ctx is cancelled.
// It returns an error if the configuration is unusable or the coordination store cannot be reached.
func (a *App) StartUp(ctx context.Context) error {
	config := a.Config
	if err := CheckConfig(config); err != nil {
		return err
	}
	if err := logging.ConfigureApplicationLogging(config.LogLevel); err != nil {
		return errors.Wrap(err, "invalid log level")
	}

	connector := store.NewConnector(config.Redis, config.ConnectAttempts, config.ConnectRetryDelay)
	defer util.CloseResource("redis connection", connector)

	if config.MetricsPort != 0 {
		shutdownMetrics := common.ServeMetrics(config.MetricsPort, health.NewMultiChecker(connector))
		defer shutdownMetrics()
	}

	r, err := runner.New(*config, connector, a.Sampler, a.Registerer)
	if err != nil {
		return err
	}

	logger := log.WithField("scene", config.Run.SceneId).
		WithField("pod", config.Run.Pod()).
		WithField("instance", util.NewInstanceId())
	logger.Infof("Starting run with %d data sets and %d thread groups", len(config.DataSets), len(config.ThreadGroups))
	if err := r.Run(ctx); err != nil {
		logging.WithStacktrace(logger, err).Error("Run failed")
		return err
	}
	logger.Info("Run finished")
	return nil
}
