package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SchedulerMetrics tracks job execution for the billing worker.
type SchedulerMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	jobTimeouts    *prometheus.CounterVec
	jobRetries     *prometheus.CounterVec
	jobExhausted   *prometheus.CounterVec
	batchProcessed *prometheus.CounterVec
}

var (
	schedulerOnce    sync.Once
	schedulerMetrics *SchedulerMetrics
)

func Scheduler() *SchedulerMetrics {
	schedulerOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer)
	})
	return schedulerMetrics
}

func newSchedulerMetrics(registerer prometheus.Registerer) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &SchedulerMetrics{
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_scheduler_job_runs_total",
			Help: "Number of scheduler job executions.",
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "wireline_scheduler_job_duration_seconds",
			Help:    "Scheduler job execution time.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_scheduler_job_errors_total",
			Help: "Number of scheduler job executions that returned an error.",
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_scheduler_job_timeouts_total",
			Help: "Number of scheduler job executions that hit their deadline.",
		}, []string{"job"}),
		jobRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_scheduler_job_retries_total",
			Help: "Number of scheduled job retries after a failure.",
		}, []string{"job"}),
		jobExhausted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_scheduler_job_exhausted_total",
			Help: "Number of jobs that failed terminally after exhausting retries.",
		}, []string{"job"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wireline_scheduler_batch_processed_total",
			Help: "Items processed by scheduler sweeps.",
		}, []string{"job"}),
	}

	for _, c := range []prometheus.Collector{
		m.jobRuns, m.jobDuration, m.jobErrors, m.jobTimeouts,
		m.jobRetries, m.jobExhausted, m.batchProcessed,
	} {
		if err := registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
	return m
}

func (m *SchedulerMetrics) IncJobRun(job string) {
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) ObserveJobDuration(job string, d time.Duration) {
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *SchedulerMetrics) IncJobError(job string) {
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobTimeout(job string) {
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobRetry(job string) {
	m.jobRetries.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) IncJobExhausted(job string) {
	m.jobExhausted.WithLabelValues(job).Inc()
}

func (m *SchedulerMetrics) AddBatchProcessed(job string, n int) {
	if n <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job).Add(float64(n))
}
