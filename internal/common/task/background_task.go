package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type task struct {
	function    func()
	interval    time.Duration
	name        string
	stopChannel chan bool
}

// BackgroundTaskManager runs functions on a fixed interval until StopAll is called.
// Register and StopAll may be called from any goroutine.
type BackgroundTaskManager struct {
	tasks   []*task
	latency *prometheus.HistogramVec
	wg      *sync.WaitGroup
	mutex   sync.Mutex
	stopped bool
}

// NewBackgroundTaskManager creates a manager whose task latencies are exported as
// <metricsPrefix>background_task_latency_seconds{task="..."} on the given registerer.
func NewBackgroundTaskManager(metricsPrefix string, registerer prometheus.Registerer) *BackgroundTaskManager {
	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricsPrefix + "background_task_latency_seconds",
			Help:    "Background loop latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
		[]string{"task"})
	if registerer != nil {
		if err := registerer.Register(latency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				latency = are.ExistingCollector.(*prometheus.HistogramVec)
			}
		}
	}
	return &BackgroundTaskManager{
		tasks:   []*task{},
		latency: latency,
		wg:      &sync.WaitGroup{},
	}
}

// Register starts backgroundTask immediately and then every interval.
// Returns false if the manager has already been stopped.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.stopped {
		return false
	}
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		name:        name,
		stopChannel: make(chan bool, 1),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
	return true
}

// StopAll stops every registered task and waits up to timeout for them to finish.
// Returns true if the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	taskDurationHistogram := m.latency.WithLabelValues(task.name)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		start := time.Now()
		task.function()
		taskDurationHistogram.Observe(time.Since(start).Seconds())

		ticker := time.NewTicker(task.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
			case <-task.stopChannel:
				return
			}
			innerStart := time.Now()
			task.function()
			taskDurationHistogram.Observe(time.Since(innerStart).Seconds())
		}
	}()
}

func (m *BackgroundTaskManager) waitForShutdownCompletion(timeout time.Duration) bool {
	c := make(chan struct{})
	go func() {
		defer close(c)
		m.wg.Wait()
	}()
	select {
	case <-c:
		return false // completed normally
	case <-time.After(timeout):
		return true // timed out
	}
}

func (m *BackgroundTaskManager) stopTasks() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.stopped {
		return
	}
	m.stopped = true
	for _, task := range m.tasks {
		task.stopChannel <- true
	}
}
