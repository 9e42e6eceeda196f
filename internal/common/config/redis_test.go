package config

import (
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
)

func TestAsUniversalOptions(t *testing.T) {
	rc := RedisConfig{
		Addrs:           []string{"sentinel-1:26379", "sentinel-2:26379"},
		MasterName:      "mymaster",
		Password:        "secret",
		PoolSize:        10,
		MinIdleConns:    4,
		MinRetryBackoff: time.Millisecond,
		MaxRetryBackoff: time.Second,
		ReadTimeout:     3 * time.Second,
	}

	opts := rc.AsUniversalOptions()

	assert.Equal(t, rc.Addrs, opts.Addrs)
	assert.Equal(t, "mymaster", opts.MasterName)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 10, opts.PoolSize)
	assert.Equal(t, 4, opts.MinIdleConns)
	assert.Equal(t, time.Millisecond, opts.MinRetryBackoff)
	assert.Equal(t, time.Second, opts.MaxRetryBackoff)
	assert.Equal(t, 3*time.Second, opts.ReadTimeout)
}

func TestRedisConfigValidation(t *testing.T) {
	tests := map[string]struct {
		config RedisConfig
		valid  bool
	}{
		"valid":        {RedisConfig{Addrs: []string{"localhost:6379"}, PoolSize: 1}, true},
		"no addresses": {RedisConfig{PoolSize: 1}, false},
		"no pool":      {RedisConfig{Addrs: []string{"localhost:6379"}}, false},
		"bad db":       {RedisConfig{Addrs: []string{"localhost:6379"}, PoolSize: 1, DB: 17}, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			err := validator.New().Struct(tc.config)
			if tc.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
				LogValidationErrors(err)
			}
		})
	}
}

func TestStripPrefix(t *testing.T) {
	assert.Equal(t, "Redis.Addrs", stripPrefix("RowFeedConfig.Redis.Addrs"))
	assert.Equal(t, "Addrs", stripPrefix("Addrs"))
}
