package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/common/task"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
	"github.com/G-Research/rowfeed/internal/rowfeed/configuration"
	"github.com/G-Research/rowfeed/internal/rowfeed/ranges"
	"github.com/G-Research/rowfeed/internal/rowfeed/registry"
	"github.com/G-Research/rowfeed/internal/rowfeed/store"
)

var testRun = configuration.RunConfig{SceneId: "42", ReportId: "7", CustomerId: "3", PodNumber: "2"}

const (
	testKey       = "CSV_READ_POSITION_42"
	testField     = "data.csv_pod_num_2"
	descriptorKey = "PRESSURE:ENGINE:INSTANCE:42:7:3"
	tenByteRows   = 30
	assignedRange = `{"data.csv":{"start":100,"end":200}}`
)

type stubProvider struct {
	store store.Store
	err   error
}

func (p *stubProvider) Store() (store.Store, error) {
	return p.store, p.err
}

type fixture struct {
	mr        *miniredis.Miniredis
	registry  *registry.Registry
	ranges    *ranges.Resolver
	scheduler *Scheduler
	file      alias.FileIdentity
}

func withScheduler(t *testing.T, interval time.Duration, action func(f *fixture)) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), ReadTimeout: 200 * time.Millisecond, MaxRetries: 0})
	defer client.Close()
	provider := &stubProvider{store: store.NewRedisStore(client)}

	var content strings.Builder
	for i := 0; i < tenByteRows; i++ {
		content.WriteString(fmt.Sprintf("row-%05d\n", i))
	}
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content.String()), 0o644))

	reg := registry.NewRegistry()
	defer reg.Close()
	resolver := ranges.NewResolver(provider, testRun, configuration.RangeConfig{
		DescriptorField: configuration.DefaultDescriptorField,
		Timeout:         time.Second,
		MissTTL:         time.Minute,
	})
	tasks := task.NewBackgroundTaskManager("test_", prometheus.NewRegistry())
	scheduler := NewScheduler(provider, resolver, reg, tasks, testRun, configuration.CheckpointConfig{
		Interval: interval,
		Timeout:  time.Second,
	})
	defer scheduler.Stop(time.Second)

	action(&fixture{
		mr:        mr,
		registry:  reg,
		ranges:    resolver,
		scheduler: scheduler,
		file:      alias.NewFileIdentity(path),
	})
}

func (f *fixture) reserve(t *testing.T, a alias.Alias) {
	byteRange, ok, err := f.ranges.Resolve(context.Background(), f.file)
	require.NoError(t, err)
	req := registry.ReserveRequest{File: f.file}
	if ok {
		req.Range = &byteRange
	}
	_, err = f.registry.Reserve(a, req)
	require.NoError(t, err)
}

func (f *fixture) read(t *testing.T, a alias.Alias, rows int) {
	for i := 0; i < rows; i++ {
		_, err := f.registry.NextRow(a)
		require.NoError(t, err)
	}
}

func (f *fixture) published(t *testing.T) string {
	value := f.mr.HGet(testKey, testField)
	require.NotEmpty(t, value)
	return value
}

func TestKeyAndField(t *testing.T) {
	assert.Equal(t, testKey, Key(testRun))
	assert.Equal(t, testField, Field(alias.NewFileIdentity("/mnt/input/data.csv"), "2"))
}

func TestPublish_AssignedRange(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		f.mr.HSet(descriptorKey, configuration.DefaultDescriptorField, assignedRange)
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)
		f.read(t, a, 5)

		require.NoError(t, f.scheduler.publish(context.Background(), f.file))

		assert.JSONEq(t, `{"startPosition":100,"readPosition":150,"endPosition":200}`, f.published(t))
	})
}

func TestPublish_UnscopedUsesWholeFile(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)
		f.read(t, a, 2)

		require.NoError(t, f.scheduler.publish(context.Background(), f.file))

		assert.JSONEq(t, `{"startPosition":0,"readPosition":20,"endPosition":300}`, f.published(t))
	})
}

func TestPublish_NothingBeforeFirstReservation(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		require.NoError(t, f.scheduler.publish(context.Background(), f.file))
		assert.Equal(t, "", f.mr.HGet(testKey, testField))
	})
}

func TestPublish_IsIdempotent(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)
		f.read(t, a, 1)

		require.NoError(t, f.scheduler.publish(context.Background(), f.file))
		first := f.published(t)
		require.NoError(t, f.scheduler.publish(context.Background(), f.file))
		assert.Equal(t, first, f.published(t))
	})
}

func TestPublish_ReadPositionNeverDecreases(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)

		last := int64(-1)
		for i := 0; i < 5; i++ {
			f.read(t, a, i)
			require.NoError(t, f.scheduler.publish(context.Background(), f.file))
			var record Record
			require.NoError(t, json.Unmarshal([]byte(f.published(t)), &record))
			assert.GreaterOrEqual(t, record.ReadPosition, last)
			last = record.ReadPosition
		}
		assert.Equal(t, int64(100), last)
	})
}

func TestPublish_AssignedEndPastEndOfFile(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		f.mr.HSet(descriptorKey, configuration.DefaultDescriptorField, `{"data.csv":{"start":250,"end":400}}`)
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)
		f.read(t, a, 2)

		require.NoError(t, f.scheduler.publish(context.Background(), f.file))

		assert.JSONEq(t, `{"startPosition":250,"readPosition":270,"endPosition":400}`, f.published(t))
	})
}

func TestPublish_FurthestCursorOfSharedFile(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		slow := alias.Resolve(f.file, alias.Thread(), alias.Identity{Thread: "slow"})
		fast := alias.Resolve(f.file, alias.Thread(), alias.Identity{Thread: "fast"})
		f.reserve(t, slow)
		f.reserve(t, fast)
		f.read(t, slow, 1)
		f.read(t, fast, 3)

		require.NoError(t, f.scheduler.publish(context.Background(), f.file))

		assert.JSONEq(t, `{"startPosition":0,"readPosition":30,"endPosition":300}`, f.published(t))
	})
}

func TestPublish_StoreFailureIsStoreWrite(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)
		f.mr.Close()

		err := f.scheduler.publish(context.Background(), f.file)

		var writeErr *feederrors.ErrStoreWrite
		require.True(t, errors.As(err, &writeErr))
		assert.Equal(t, testKey, writeErr.Key)
		assert.Equal(t, testField, writeErr.Field)
		assert.False(t, feederrors.IsFatal(err))

		// The reader is unaffected.
		_, err = f.registry.NextRow(a)
		assert.NoError(t, err)
	})
}

func TestStart_ClaimsFileOnce(t *testing.T) {
	withScheduler(t, 10*time.Millisecond, func(f *fixture) {
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)
		f.read(t, a, 4)

		assert.True(t, f.scheduler.Start(f.file))
		assert.False(t, f.scheduler.Start(f.file))
		assert.False(t, f.scheduler.Start(alias.NewFileIdentity("elsewhere/data.csv")))

		assert.Eventually(t, func() bool {
			return f.mr.HGet(testKey, testField) != ""
		}, time.Second, 10*time.Millisecond)
		assert.JSONEq(t, `{"startPosition":0,"readPosition":40,"endPosition":300}`, f.published(t))

		f.read(t, a, 1)
		assert.Eventually(t, func() bool {
			return strings.Contains(f.mr.HGet(testKey, testField), `"readPosition":50`)
		}, time.Second, 10*time.Millisecond)
	})
}

func TestStart_NonPositiveInterval(t *testing.T) {
	withScheduler(t, -5*time.Second, func(f *fixture) {
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)

		assert.False(t, f.scheduler.Start(f.file))
		assert.Equal(t, "", f.mr.HGet(testKey, testField))
	})
}

func TestStart_AfterStop(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		assert.False(t, f.scheduler.Stop(time.Second))
		assert.False(t, f.scheduler.Start(f.file))
	})
}

func TestStop_PublishesFinalPosition(t *testing.T) {
	withScheduler(t, time.Hour, func(f *fixture) {
		a := alias.Alias(f.file.Path)
		f.reserve(t, a)
		require.True(t, f.scheduler.Start(f.file))
		assert.Eventually(t, func() bool {
			return f.mr.HGet(testKey, testField) != ""
		}, time.Second, 10*time.Millisecond)

		f.read(t, a, 7)
		assert.False(t, f.scheduler.Stop(time.Second))

		assert.JSONEq(t, `{"startPosition":0,"readPosition":70,"endPosition":300}`, f.published(t))
	})
}
