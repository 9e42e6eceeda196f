package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const MetricPrefix = "rowfeed_"

// Outcomes of a range resolution.
const (
	RangeScoped      = "scoped"
	RangeUnscoped    = "unscoped"
	RangeUnavailable = "unavailable"
)

var RowsDelivered = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "rows_delivered_total",
		Help: "Rows handed to reader threads",
	},
	[]string{"dataset"})

var EndOfFile = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "end_of_file_total",
		Help: "Iterations that found their cursor at the end of its file or range",
	},
	[]string{"dataset"})

var RangeResolutions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "range_resolutions_total",
		Help: "Byte range lookups against the coordination store, by outcome",
	},
	[]string{"outcome"})

var CheckpointPublishes = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "checkpoint_publishes_total",
		Help: "Read positions successfully published to the coordination store",
	},
	[]string{"file"})

var CheckpointPublishFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: MetricPrefix + "checkpoint_publish_failures_total",
		Help: "Read positions that could not be published to the coordination store",
	},
	[]string{"file"})

var CheckpointReadPosition = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "checkpoint_read_position_bytes",
		Help: "Last read position sampled for publication",
	},
	[]string{"file"})

var ActiveThreads = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: MetricPrefix + "active_threads",
		Help: "Reader threads currently iterating",
	},
	[]string{"thread_group"})
