package configuration

import (
	"os"
	"strings"
	"time"

	commonconfig "github.com/G-Research/rowfeed/internal/common/config"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
)

const (
	DefaultDescriptorField    = "__ENGINE_GLOBAL_VARIABLES__"
	DefaultStoreTimeout       = 3 * time.Second
	DefaultRangeMissTTL       = 30 * time.Second
	DefaultCheckpointInterval = 5 * time.Second
	DefaultEOFValue           = "<EOF>"
	DefaultConnectAttempts    = 3
	DefaultConnectRetryDelay  = 500 * time.Millisecond
	DefaultShutdownTimeout    = 5 * time.Second
	DefaultAliasCacheSize     = 1024
	DefaultPoolSize           = 10
	DefaultMinIdleConns       = 4

	// PodNumberEnvVar is consulted when run.podNumber is not configured.
	PodNumberEnvVar  = "POD_NUMBER"
	DefaultPodNumber = "1"
)

type RowFeedConfig struct {
	MetricsPort       uint16
	LogLevel          string
	Redis             commonconfig.RedisConfig
	ConnectAttempts   uint
	ConnectRetryDelay time.Duration `validate:"gte=0"`
	ShutdownTimeout   time.Duration `validate:"gt=0"`
	AliasCacheSize    uint32

	Run        RunConfig
	Ranges     RangeConfig
	Checkpoint CheckpointConfig

	// Value given to every variable of a data set once its file is exhausted
	EOFValue     string
	DataSets     []DataSetConfig     `validate:"dive"`
	ThreadGroups []ThreadGroupConfig `validate:"dive"`
}

// RunConfig identifies the run and the pod this process is.
type RunConfig struct {
	SceneId    string `validate:"required"`
	ReportId   string
	CustomerId string
	// Ordinal of this pod among the pods sharing the run's files
	PodNumber string
}

// Pod returns the configured pod number, falling back to $POD_NUMBER and then to "1".
func (c RunConfig) Pod() string {
	if strings.TrimSpace(c.PodNumber) != "" {
		return strings.TrimSpace(c.PodNumber)
	}
	if fromEnv := strings.TrimSpace(os.Getenv(PodNumberEnvVar)); fromEnv != "" {
		return fromEnv
	}
	return DefaultPodNumber
}

type RangeConfig struct {
	// Hash field of the run descriptor holding the per-file byte ranges
	DescriptorField string
	Timeout         time.Duration `validate:"gt=0"`
	// How long an absent or unreadable descriptor is remembered before asking the store again
	MissTTL time.Duration `validate:"gt=0"`
}

// Durations are checked after ApplyDefaults, so zero never reaches validation.
type CheckpointConfig struct {
	Interval time.Duration `validate:"gt=0"`
	Timeout  time.Duration `validate:"gt=0"`
}

// DataSetConfig describes one CSV data set. Field names follow the data set properties load test plans use.
type DataSetConfig struct {
	Name         string
	Filename     string `validate:"required"`
	FileEncoding string
	// Comma separated variable names. Empty means the first line of the file holds them.
	VariableNames string
	// Field delimiter. `\t` means tab, empty means comma.
	Delimiter  string
	QuotedData bool
	// Defaults to true when unset
	Recycle         *bool
	StopThread      bool
	ShareMode       alias.ShareMode
	IgnoreFirstLine bool
}

func (c DataSetConfig) ShouldRecycle() bool {
	return c.Recycle == nil || *c.Recycle
}

// DisplayName returns Name, or the file name when no name was configured.
func (c DataSetConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return alias.NewFileIdentity(c.Filename).Name
}

type ThreadGroupConfig struct {
	Name    string `validate:"required"`
	Threads int    `validate:"gt=0"`
	// Loops per thread. Zero loops until every data set used by the group is exhausted.
	Iterations int `validate:"gte=0"`
	// Names of the data sets the group reads. Empty means all of them.
	DataSets []string
	// Pause between iterations
	Pacing time.Duration `validate:"gte=0"`
}

// ApplyDefaults fills every unset tunable with its default.
func (c *RowFeedConfig) ApplyDefaults() {
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = DefaultPoolSize
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = DefaultMinIdleConns
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = DefaultStoreTimeout
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = DefaultStoreTimeout
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = DefaultStoreTimeout
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.ConnectRetryDelay == 0 {
		c.ConnectRetryDelay = DefaultConnectRetryDelay
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.AliasCacheSize == 0 {
		c.AliasCacheSize = DefaultAliasCacheSize
	}
	if c.Ranges.DescriptorField == "" {
		c.Ranges.DescriptorField = DefaultDescriptorField
	}
	if c.Ranges.Timeout == 0 {
		c.Ranges.Timeout = DefaultStoreTimeout
	}
	if c.Ranges.MissTTL == 0 {
		c.Ranges.MissTTL = DefaultRangeMissTTL
	}
	if c.Checkpoint.Interval == 0 {
		c.Checkpoint.Interval = DefaultCheckpointInterval
	}
	if c.Checkpoint.Timeout == 0 {
		c.Checkpoint.Timeout = DefaultStoreTimeout
	}
	if c.EOFValue == "" {
		c.EOFValue = DefaultEOFValue
	}
}
