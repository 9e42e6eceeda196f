package store

import (
	"context"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
)

// Store is the part of the coordination store the row feed needs: hash field reads and writes.
// Both operations are idempotent and last-write-wins.
type Store interface {
	// GetField returns the value of field in the hash at key. ok is false if either does not exist.
	GetField(ctx context.Context, key string, field string) (value string, ok bool, err error)
	// SetField overwrites field in the hash at key.
	SetField(ctx context.Context, key string, field string, value string) error
}

type RedisStore struct {
	db redis.UniversalClient
}

func NewRedisStore(db redis.UniversalClient) *RedisStore {
	return &RedisStore{db: db}
}

func (s *RedisStore) GetField(ctx context.Context, key string, field string) (string, bool, error) {
	var value string
	err := withContext(ctx, func() error {
		result, err := s.db.HGet(key, field).Result()
		value = result
		return err
	})
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.WithStack(err)
	}
	return value, true, nil
}

func (s *RedisStore) SetField(ctx context.Context, key string, field string, value string) error {
	err := withContext(ctx, func() error {
		return s.db.HSet(key, field, value).Err()
	})
	return errors.WithStack(err)
}

// withContext runs a redis command and gives up waiting for it once ctx is done.
// The v6 client has no per-call context, so a command abandoned here still runs to completion
// (bounded by the client's read/write timeouts) on its own goroutine.
func withContext(ctx context.Context, command func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		done <- command()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
