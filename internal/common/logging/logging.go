package logging

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/weaveworks/promrus"
)

const RFC3339Milli = "2006-01-02T15:04:05.000Z07:00"

var metricsHook sync.Once

// ConfigureCliLogging prints bare messages to stdout, for command line tools.
func ConfigureCliLogging() {
	log.SetFormatter(&CommandLineFormatter{})
	log.SetOutput(os.Stdout)
}

// ConfigureApplicationLogging sets a timestamped text format at the given level (e.g. "info", "debug")
// and counts log lines per level in the log_messages_total prometheus metric.
func ConfigureApplicationLogging(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: RFC3339Milli})
	log.SetOutput(os.Stdout)
	metricsHook.Do(func() {
		hook, err := promrus.NewPrometheusHook()
		if err != nil {
			log.WithError(err).Warn("Log line metrics unavailable")
			return
		}
		log.AddHook(hook)
	})
	if level == "" {
		return nil
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return errors.WithStack(err)
	}
	log.SetLevel(parsed)
	return nil
}
