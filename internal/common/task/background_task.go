package task

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

var taskDurationHistogram = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "indexab_background_task_latency_seconds",
		Help:    "Background task latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	},
	[]string{"task"},
)

type task struct {
	function    func()
	interval    time.Duration
	name        string
	stopChannel chan struct{}
}

// BackgroundTaskManager is not threadsafe, it should only be accessed from a single thread.
type BackgroundTaskManager struct {
	tasks []*task
	clock clock.WithTicker
	wg    *sync.WaitGroup
}

func NewBackgroundTaskManager(clock clock.WithTicker) *BackgroundTaskManager {
	return &BackgroundTaskManager{
		tasks: []*task{},
		clock: clock,
		wg:    &sync.WaitGroup{},
	}
}

// Register starts running backgroundTask once every interval, until StopAll is called.
// Unlike a bare loop, the first run happens after one interval has elapsed.
func (m *BackgroundTaskManager) Register(backgroundTask func(), interval time.Duration, name string) {
	task := &task{
		function:    backgroundTask,
		interval:    interval,
		name:        name,
		stopChannel: make(chan struct{}),
	}
	m.startBackgroundTask(task)
	m.tasks = append(m.tasks, task)
}

// StopAll stops every registered task and waits up to timeout for running invocations to finish.
// Returns true if the wait timed out.
func (m *BackgroundTaskManager) StopAll(timeout time.Duration) bool {
	m.stopTasks()
	return m.waitForShutdownCompletion(timeout)
}

func (m *BackgroundTaskManager) startBackgroundTask(task *task) {
	ticker := m.clock.NewTicker(task.interval)
	observer := taskDurationHistogram.WithLabelValues(task.name)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
			case <-task.stopChannel:
				log.Debugf("Stopped background task %s", task.name)
				return
			}
			start := m.clock.Now()
			task.function()
			observer.Observe(m.clock.Since(start).Seconds())
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
	for _, task := range m.tasks {
		close(task.stopChannel)
	}
	m.tasks = nil
}
