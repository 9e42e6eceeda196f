// Package checkpoint periodically publishes how far this pod has read through each shared file.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/G-Research/rowfeed/internal/common/feederrors"
	"github.com/G-Research/rowfeed/internal/common/logging"
	"github.com/G-Research/rowfeed/internal/common/task"
	"github.com/G-Research/rowfeed/internal/rowfeed/alias"
	"github.com/G-Research/rowfeed/internal/rowfeed/configuration"
	"github.com/G-Research/rowfeed/internal/rowfeed/metrics"
	"github.com/G-Research/rowfeed/internal/rowfeed/ranges"
	"github.com/G-Research/rowfeed/internal/rowfeed/registry"
)

const (
	// KeyFormat is filled with the scene id.
	KeyFormat = "CSV_READ_POSITION_%s"
	// FieldFormat is filled with the file base name and the pod number.
	FieldFormat = "%s_pod_num_%s"
)

// Record is the read progress of one file, as published to the coordination store.
type Record struct {
	StartPosition int64 `json:"startPosition"`
	ReadPosition  int64 `json:"readPosition"`
	EndPosition   int64 `json:"endPosition"`
}

type RangeSource interface {
	Resolve(ctx context.Context, file alias.FileIdentity) (ranges.ByteRange, bool, error)
}

type CursorSource interface {
	Cursors(fileName string) []registry.CursorState
}

// Scheduler publishes a Record per file every interval. Publishing is best effort: failures are logged
// and the next tick simply tries again.
type Scheduler struct {
	stores   ranges.StoreProvider
	ranges   RangeSource
	cursors  CursorSource
	tasks    *task.BackgroundTaskManager
	key      string
	pod      string
	interval time.Duration
	timeout  time.Duration
	// File base name to the FileIdentity publishing for it
	claimed sync.Map
}

func NewScheduler(
	stores ranges.StoreProvider,
	rangeSource RangeSource,
	cursors CursorSource,
	tasks *task.BackgroundTaskManager,
	run configuration.RunConfig,
	config configuration.CheckpointConfig,
) *Scheduler {
	return &Scheduler{
		stores:   stores,
		ranges:   rangeSource,
		cursors:  cursors,
		tasks:    tasks,
		key:      Key(run),
		pod:      run.Pod(),
		interval: config.Interval,
		timeout:  config.Timeout,
	}
}

// Key is the hash the records of a run are published to.
func Key(run configuration.RunConfig) string {
	return fmt.Sprintf(KeyFormat, run.SceneId)
}

// Field is the hash field the record of file is published to.
func Field(file alias.FileIdentity, pod string) string {
	return fmt.Sprintf(FieldFormat, file.Name, pod)
}

// Start begins publishing the progress of file. Only the first call for a file does anything;
// it returns false for every later call, and for every call when the interval is not positive.
func (s *Scheduler) Start(file alias.FileIdentity) bool {
	if s.interval <= 0 {
		log.WithField("file", file.Name).Errorf("Not publishing read position: interval %s is not positive", s.interval)
		return false
	}
	if _, loaded := s.claimed.LoadOrStore(file.Name, file); loaded {
		return false
	}
	log.WithField("file", file.Name).Infof("Publishing read position every %s", s.interval)
	return s.tasks.Register(func() { s.tick(file) }, s.interval, "checkpoint_"+file.Name)
}

// Stop stops every publishing task and then publishes each file one last time.
// Returns true if the tasks did not finish within timeout, in which case nothing more is published.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	if timedOut := s.tasks.StopAll(timeout); timedOut {
		return true
	}
	s.claimed.Range(func(key, value interface{}) bool {
		s.tick(value.(alias.FileIdentity))
		return true
	})
	return false
}

func (s *Scheduler) tick(file alias.FileIdentity) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.publish(ctx, file); err != nil {
		logging.WithStacktrace(log.WithField("file", file.Name), err).Warn("Failed to publish read position")
	}
}

// publish samples the cursors of file and writes the furthest one. Nothing is written while file has no cursor.
func (s *Scheduler) publish(ctx context.Context, file alias.FileIdentity) error {
	cursor, ok := furthest(s.cursors.Cursors(file.Name))
	if !ok {
		return nil
	}
	s.checkRange(ctx, file, cursor)

	record := Record{
		StartPosition: cursor.Assigned.Start,
		ReadPosition:  cursor.Offset,
		EndPosition:   cursor.Assigned.End,
	}
	metrics.CheckpointReadPosition.WithLabelValues(file.Name).Set(float64(record.ReadPosition))

	value, err := json.Marshal(record)
	if err != nil {
		return errors.WithStack(err)
	}
	field := Field(file, s.pod)
	st, err := s.stores.Store()
	if err == nil {
		err = st.SetField(ctx, s.key, field, string(value))
	}
	if err != nil {
		metrics.CheckpointPublishFailures.WithLabelValues(file.Name).Inc()
		return errors.WithStack(&feederrors.ErrStoreWrite{Key: s.key, Field: field, Cause: err})
	}
	metrics.CheckpointPublishes.WithLabelValues(file.Name).Inc()
	log.WithField("file", file.Name).
		WithField("key", s.key).
		WithField("field", field).
		Debugf("Published read position %s", value)
	return nil
}

// checkRange re-resolves the range of file. The range the cursor was opened with always wins.
func (s *Scheduler) checkRange(ctx context.Context, file alias.FileIdentity, cursor registry.CursorState) {
	byteRange, ok, err := s.ranges.Resolve(ctx, file)
	if err != nil {
		log.WithField("file", file.Name).WithError(err).Debug("Could not re-resolve byte range")
		return
	}
	if ok && cursor.Scoped && byteRange != cursor.Assigned {
		log.WithField("file", file.Name).
			Warnf("Assigned byte range is now %s but the file was opened with %s", byteRange, cursor.Assigned)
	}
}

func furthest(cursors []registry.CursorState) (registry.CursorState, bool) {
	if len(cursors) == 0 {
		return registry.CursorState{}, false
	}
	best := cursors[0]
	for _, c := range cursors[1:] {
		if c.Offset > best.Offset {
			best = c
		}
	}
	return best, true
}
