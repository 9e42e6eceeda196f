package task

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestRegister_RunsImmediatelyAndPeriodically(t *testing.T) {
	m := NewBackgroundTaskManager("test_", prometheus.NewRegistry())
	var calls int32

	m.Register(func() { atomic.AddInt32(&calls, 1) }, 10*time.Millisecond, "counter")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, time.Second, 5*time.Millisecond)
	assert.False(t, m.StopAll(time.Second))
}

func TestStopAll_StopsTasks(t *testing.T) {
	m := NewBackgroundTaskManager("test_", prometheus.NewRegistry())
	var calls int32
	m.Register(func() { atomic.AddInt32(&calls, 1) }, 5*time.Millisecond, "a")
	m.Register(func() { atomic.AddInt32(&calls, 1) }, 5*time.Millisecond, "b")

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 2 }, time.Second, time.Millisecond)
	assert.False(t, m.StopAll(time.Second))

	stoppedAt := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stoppedAt, atomic.LoadInt32(&calls))
}

func TestRegister_AfterStopIsRejected(t *testing.T) {
	m := NewBackgroundTaskManager("test_", prometheus.NewRegistry())
	assert.False(t, m.StopAll(time.Second))
	assert.False(t, m.Register(func() {}, time.Millisecond, "late"))
	// A second StopAll is a no-op.
	assert.False(t, m.StopAll(time.Second))
}

func TestNewBackgroundTaskManager_SharedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := NewBackgroundTaskManager("test_", registry)
	second := NewBackgroundTaskManager("test_", registry)
	assert.Same(t, first.latency, second.latency)
}
