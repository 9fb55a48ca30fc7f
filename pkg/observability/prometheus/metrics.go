package prometheus

import (
	"fmt"

	"github.com/fluxorio/threadpool/pkg/core/concurrency"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "threadpool"}, DefaultRegistry)
)

// Metrics turns pool lifecycle events into Prometheus series.
// It implements concurrency.Observer; one instance can watch many pools.
type Metrics struct {
	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	TasksQueuedTotal *prometheus.CounterVec
	RejectionsTotal  *prometheus.CounterVec
	WorkersStarted   *prometheus.CounterVec
	WorkersStopped   *prometheus.CounterVec
	PoolTransitions  *prometheus.CounterVec
}

var _ concurrency.Observer = (*Metrics)(nil)

// NewMetrics creates the pool metrics on registerer (DefaultRegisterer if nil)
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_tasks_total",
				Help: "Total number of executed tasks by outcome",
			},
			[]string{"pool", "outcome"}, // outcome: completed, failed
		),
		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "threadpool_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"pool"},
		),
		TasksQueuedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_tasks_queued_total",
				Help: "Total number of tasks placed on the queue",
			},
			[]string{"pool"},
		),
		RejectionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_rejections_total",
				Help: "Saturation handling by action",
			},
			[]string{"pool", "action"}, // action: rejected, resubmitted, dropped
		),
		WorkersStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_workers_started_total",
				Help: "Total number of workers started",
			},
			[]string{"pool"},
		),
		WorkersStopped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_workers_stopped_total",
				Help: "Total number of workers stopped by reason",
			},
			[]string{"pool", "reason"}, // reason: idle_timeout, shutdown
		),
		PoolTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "threadpool_state_transitions_total",
				Help: "Pool lifecycle transitions",
			},
			[]string{"pool", "state"},
		),
	}
}

// Observe implements concurrency.Observer
func (m *Metrics) Observe(e concurrency.Event) {
	switch e.Kind {
	case concurrency.EventTaskCompleted:
		m.TasksTotal.WithLabelValues(e.Pool, "completed").Inc()
		m.TaskDuration.WithLabelValues(e.Pool).Observe(e.Duration.Seconds())
	case concurrency.EventTaskFailed:
		m.TasksTotal.WithLabelValues(e.Pool, "failed").Inc()
		m.TaskDuration.WithLabelValues(e.Pool).Observe(e.Duration.Seconds())
	case concurrency.EventTaskQueued:
		m.TasksQueuedTotal.WithLabelValues(e.Pool).Inc()
	case concurrency.EventTaskRejected:
		m.RejectionsTotal.WithLabelValues(e.Pool, "rejected").Inc()
	case concurrency.EventTaskResubmitted:
		m.RejectionsTotal.WithLabelValues(e.Pool, "resubmitted").Inc()
	case concurrency.EventTaskDropped:
		m.RejectionsTotal.WithLabelValues(e.Pool, "dropped").Inc()
	case concurrency.EventWorkerStarted:
		m.WorkersStarted.WithLabelValues(e.Pool).Inc()
	case concurrency.EventWorkerStopped:
		// worker_stopped carries the exit reason in Error
		m.WorkersStopped.WithLabelValues(e.Pool, e.Error).Inc()
	case concurrency.EventPoolShutdown:
		m.PoolTransitions.WithLabelValues(e.Pool, concurrency.StateShuttingDown.String()).Inc()
	case concurrency.EventPoolTerminated:
		m.PoolTransitions.WithLabelValues(e.Pool, concurrency.StateTerminated.String()).Inc()
	}
}

// RegisterPoolStats exposes a pool's Stats as gauges read at scrape time
func RegisterPoolStats(registerer prometheus.Registerer, pool *concurrency.ThreadPoolExecutor) error {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	labels := prometheus.Labels{"pool": pool.Name()}

	gauges := []struct {
		name, help string
		value      func(concurrency.ExecutorStats) float64
	}{
		{"threadpool_pool_size", "Current number of workers", func(s concurrency.ExecutorStats) float64 { return float64(s.PoolSize) }},
		{"threadpool_largest_pool_size", "Largest number of workers seen", func(s concurrency.ExecutorStats) float64 { return float64(s.LargestPoolSize) }},
		{"threadpool_core_pool_size", "Configured core size", func(s concurrency.ExecutorStats) float64 { return float64(s.CorePoolSize) }},
		{"threadpool_max_pool_size", "Configured max size", func(s concurrency.ExecutorStats) float64 { return float64(s.MaxPoolSize) }},
		{"threadpool_active_workers", "Workers currently running a task", func(s concurrency.ExecutorStats) float64 { return float64(s.ActiveWorkers) }},
		{"threadpool_queued_tasks", "Tasks waiting in the queue", func(s concurrency.ExecutorStats) float64 { return float64(s.QueuedTasks) }},
		{"threadpool_queue_utilization", "Queue utilization percentage (0-100)", func(s concurrency.ExecutorStats) float64 { return s.QueueUtilization }},
	}

	for _, g := range gauges {
		value := g.value
		collector := prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help, ConstLabels: labels},
			func() float64 { return value(pool.Stats()) },
		)
		if err := registerer.Register(collector); err != nil {
			return fmt.Errorf("register %s for pool %s: %w", g.name, pool.Name(), err)
		}
	}
	return nil
}
