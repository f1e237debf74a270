package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RunResultSuccess = "success"
	RunResultFailure = "failure"
)

// CronMetrics records sweep cycles, individual job runs and the watchdog's actions.
type CronMetrics struct {
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	skipped  prometheus.Counter
	watchdog *prometheus.CounterVec
}

// NewCronMetrics registers the cron metrics on reg. A nil registerer yields a
// no-op recorder.
func NewCronMetrics(reg prometheus.Registerer) *CronMetrics {
	if reg == nil {
		return &CronMetrics{}
	}
	m := &CronMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Cron job executions by result.",
		}, []string{"job", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cron_job_duration_seconds",
			Help:    "Duration of cron job executions.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cron_cycles_skipped_total",
			Help: "Cycles skipped because another instance held the lock.",
		}),
		watchdog: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "watchdog_jobs_total",
			Help: "Stale jobs handled by the watchdog, by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.runs, m.duration, m.skipped, m.watchdog)
	return m
}

// ObserveRun records one execution of job; a non-nil err counts as a failure.
func (m *CronMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil || m.runs == nil {
		return
	}
	result := RunResultSuccess
	if err != nil {
		result = RunResultFailure
	}
	job = normalizeLabel(job)
	m.runs.WithLabelValues(job, result).Inc()
	m.duration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *CronMetrics) CycleSkipped() {
	if m == nil || m.skipped == nil {
		return
	}
	m.skipped.Inc()
}

// AddWatchdog counts n stale jobs handled with action.
func (m *CronMetrics) AddWatchdog(action string, n int) {
	if m == nil || m.watchdog == nil || n <= 0 {
		return
	}
	m.watchdog.WithLabelValues(normalizeLabel(action)).Add(float64(n))
}
