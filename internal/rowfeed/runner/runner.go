// Package runner drives the thread groups of a run: it gives every thread its identity and its own
// variables, and calls each data set once per iteration.
package runner

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/common/logging"
	"github.com/G-Research/rowfeed/internal/common/task"
	"github.com/G-Research/rowfeed/internal/common/util"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
	"github.com/G-Research/rowfeed/internal/rowfeed/checkpoint"
	"github.com/G-Research/rowfeed/internal/rowfeed/configuration"
	"github.com/G-Research/rowfeed/internal/rowfeed/dataset"
	"github.com/G-Research/rowfeed/internal/rowfeed/metrics"
	"github.com/G-Research/rowfeed/internal/rowfeed/ranges"
	"github.com/G-Research/rowfeed/internal/rowfeed/registry"
)

// Iteration is what a Sampler is given: who is iterating and the variables the data sets filled in.
type Iteration struct {
	ThreadGroup string
	// Identity of the thread group instance and thread
	Identity alias.Identity
	Number   int
	Vars     map[string]string
}

type Sampler interface {
	Sample(ctx context.Context, iteration Iteration) error
}

type SamplerFunc func(ctx context.Context, iteration Iteration) error

func (f SamplerFunc) Sample(ctx context.Context, iteration Iteration) error {
	return f(ctx, iteration)
}

// LogSampler logs the variables of every iteration.
var LogSampler = SamplerFunc(func(_ context.Context, iteration Iteration) error {
	log.WithField("threadGroup", iteration.ThreadGroup).
		WithField("thread", iteration.Identity.Thread).
		Infof("Iteration %d: %v", iteration.Number, iteration.Vars)
	return nil
})

// Runner runs one load test. It can only be run once.
type Runner struct {
	config    configuration.RowFeedConfig
	registry  *registry.Registry
	scheduler *checkpoint.Scheduler
	dataSets  map[string]*dataset.DataSet
	// Data set names in configuration order
	order   []string
	sampler Sampler
}

// New builds the readers of every configured data set on top of stores.
// Background task latencies are registered with registerer.
func New(
	config configuration.RowFeedConfig,
	stores ranges.StoreProvider,
	sampler Sampler,
	registerer prometheus.Registerer,
) (*Runner, error) {
	reg := registry.NewRegistry()
	rangeResolver := ranges.NewResolver(stores, config.Run, config.Ranges)
	tasks := task.NewBackgroundTaskManager(metrics.MetricPrefix, registerer)
	scheduler := checkpoint.NewScheduler(stores, rangeResolver, reg, tasks, config.Run, config.Checkpoint)
	deps := dataset.Dependencies{
		Registry:     reg,
		Aliases:      alias.NewResolver(config.AliasCacheSize),
		Ranges:       rangeResolver,
		Checkpointer: scheduler,
		EOFValue:     config.EOFValue,
	}

	dataSets := make(map[string]*dataset.DataSet, len(config.DataSets))
	order := make([]string, 0, len(config.DataSets))
	for _, dataSetConfig := range config.DataSets {
		ds, err := dataset.New(dataSetConfig, deps)
		if err != nil {
			return nil, err
		}
		if _, exists := dataSets[ds.Name()]; exists {
			return nil, errors.WithStack(&feederrors.ErrInvalidArgument{
				Name:    "dataSets",
				Value:   ds.Name(),
				Message: "data set names must be unique",
			})
		}
		dataSets[ds.Name()] = ds
		order = append(order, ds.Name())
	}
	for _, group := range config.ThreadGroups {
		for _, name := range group.DataSets {
			if _, ok := dataSets[name]; !ok {
				return nil, errors.WithStack(&feederrors.ErrInvalidArgument{
					Name:    "threadGroups." + group.Name + ".dataSets",
					Value:   name,
					Message: "no data set has this name",
				})
			}
		}
	}

	if sampler == nil {
		sampler = LogSampler
	}
	return &Runner{
		config:    config,
		registry:  reg,
		scheduler: scheduler,
		dataSets:  dataSets,
		order:     order,
		sampler:   sampler,
	}, nil
}

// Run starts every thread of every thread group and waits for them to finish.
// Threads finish when they have run their iterations, when their data sets are exhausted, when a data set
// stops them, or when ctx is cancelled. A coordination store connection failure cancels every thread and
// is returned.
func (r *Runner) Run(ctx context.Context) error {
	defer r.teardown()

	g, ctx := errgroup.WithContext(ctx)
	for _, group := range r.config.ThreadGroups {
		group := group
		groupId := uuid.NewString()
		dataSets := r.dataSetsOf(group)
		log.WithField("threadGroup", group.Name).
			Infof("Starting %d threads over data sets %v", group.Threads, namesOf(dataSets))
		for i := 0; i < group.Threads; i++ {
			identity := alias.Identity{Group: groupId, Thread: uuid.NewString()}
			g.Go(func() error {
				return r.runThread(ctx, group, identity, dataSets)
			})
		}
	}
	return g.Wait()
}

func (r *Runner) runThread(
	ctx context.Context,
	group configuration.ThreadGroupConfig,
	identity alias.Identity,
	dataSets []*dataset.DataSet,
) error {
	active := metrics.ActiveThreads.WithLabelValues(group.Name)
	active.Inc()
	defer active.Dec()

	logger := log.WithField("threadGroup", group.Name).WithField("thread", identity.Thread)
	readers := make([]*dataset.ThreadReader, len(dataSets))
	for i, ds := range dataSets {
		readers[i] = ds.ForThread(identity)
	}
	vars := map[string]string{}

	for iteration := 1; group.Iterations == 0 || iteration <= group.Iterations; iteration++ {
		if ctx.Err() != nil {
			return nil
		}
		for _, reader := range readers {
			if err := reader.IterationStart(ctx, vars); err != nil {
				if feederrors.IsFatal(err) {
					logging.WithStacktrace(logger, err).Error("Coordination store unavailable, stopping the run")
					return err
				}
				if feederrors.IsThreadTerminal(err) {
					logger.WithError(err).Info("Stopping thread")
					return nil
				}
				return err
			}
		}

		err := r.sampler.Sample(ctx, Iteration{
			ThreadGroup: group.Name,
			Identity:    identity,
			Number:      iteration,
			Vars:        vars,
		})
		if err != nil {
			logger.WithError(err).Warnf("Iteration %d failed", iteration)
		}

		if group.Iterations == 0 && allExhausted(readers) {
			logger.Info("All data sets exhausted")
			return nil
		}
		if !pause(ctx, group.Pacing) {
			return nil
		}
	}
	return nil
}

func (r *Runner) dataSetsOf(group configuration.ThreadGroupConfig) []*dataset.DataSet {
	names := group.DataSets
	if len(names) == 0 {
		names = r.order
	}
	dataSets := make([]*dataset.DataSet, 0, len(names))
	for _, name := range names {
		dataSets = append(dataSets, r.dataSets[name])
	}
	return dataSets
}

func (r *Runner) teardown() {
	if timedOut := r.scheduler.Stop(r.config.ShutdownTimeout); timedOut {
		log.Warnf("Checkpoint publishing did not stop within %s", r.config.ShutdownTimeout)
	}
	util.CloseResource("file registry", r.registry)
}

func allExhausted(readers []*dataset.ThreadReader) bool {
	for _, reader := range readers {
		if !reader.Exhausted() {
			return false
		}
	}
	return true
}

// pause waits for d, returning false if ctx is cancelled first.
func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func namesOf(dataSets []*dataset.DataSet) []string {
	names := make([]string, len(dataSets))
	for i, ds := range dataSets {
		names[i] = ds.Name()
	}
	return names
}
