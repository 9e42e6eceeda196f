package store

import (
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	commonconfig "github.com/G-Research/rowfeed/internal/common/config"
	"github.com/G-Research/rowfeed/internal/common/feederrors"
)

// Connector owns the single coordination store connection of the process.
// The connection is created on the first call to Store and shared by every caller after that.
// If it cannot be established, every caller gets the same *feederrors.ErrConnectionInit.
type Connector struct {
	config      commonconfig.RedisConfig
	attempts    uint
	retryDelay  time.Duration
	newClient   func(*redis.UniversalOptions) redis.UniversalClient
	once        sync.Once
	mutex       sync.Mutex
	client      redis.UniversalClient
	store       *RedisStore
	err         error
	initialised bool
}

// NewConnector returns a connector that pings redis up to attempts times before giving up.
func NewConnector(config commonconfig.RedisConfig, attempts uint, retryDelay time.Duration) *Connector {
	if attempts == 0 {
		attempts = 1
	}
	return &Connector{
		config:     config,
		attempts:   attempts,
		retryDelay: retryDelay,
		newClient:  redis.NewUniversalClient,
	}
}

// Store returns the shared store, connecting on first use.
func (c *Connector) Store() (Store, error) {
	c.once.Do(c.connect)
	if c.err != nil {
		return nil, c.err
	}
	return c.store, nil
}

func (c *Connector) connect() {
	logger := log.WithField("addrs", c.config.Addrs)
	if c.config.MasterName != "" {
		logger = logger.WithField("master", c.config.MasterName)
	}
	logger.Info("Connecting to redis")

	client := c.newClient(c.config.AsUniversalOptions())
	err := retry.Do(
		func() error {
			return client.Ping().Err()
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			logger.WithError(err).Warnf("Redis ping attempt %d failed", n+1)
		}),
	)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.initialised = true
	if err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Failed to close redis client after failed connection")
		}
		c.err = errors.WithStack(&feederrors.ErrConnectionInit{
			Addrs:      c.config.Addrs,
			MasterName: c.config.MasterName,
			Cause:      err,
		})
		logger.WithError(err).Error("Redis connection failed")
		return
	}
	c.client = client
	c.store = NewRedisStore(client)
	logger.Info("Redis connected")
}

// Check pings the connection if one has been established.
// Before first use there is nothing to check and Check succeeds.
func (c *Connector) Check() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.initialised {
		return nil
	}
	if c.err != nil {
		return c.err
	}
	if c.client == nil {
		return errors.New("redis connection closed")
	}
	if err := c.client.Ping().Err(); err != nil {
		return errors.Wrap(err, "redis health check failed")
	}
	return nil
}

// Close tears down the connection. The connector cannot be reused afterwards.
func (c *Connector) Close() error {
	c.once.Do(func() {
		c.mutex.Lock()
		defer c.mutex.Unlock()
		c.initialised = true
		c.err = errors.New("connector closed before first use")
	})
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return errors.WithStack(err)
}
