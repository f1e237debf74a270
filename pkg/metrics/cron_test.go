package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestCronMetricsRecordRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)

	m.ObserveRun("job-watchdog", 250*time.Millisecond, nil)
	m.ObserveRun("job-watchdog", time.Second, errors.New("boom"))
	m.ObserveRun("", time.Millisecond, nil)
	m.CycleSkipped()

	if got := testutil.ToFloat64(m.runs.WithLabelValues("job-watchdog", RunResultSuccess)); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("job-watchdog", RunResultFailure)); got != 1 {
		t.Fatalf("expected 1 failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("unknown", RunResultSuccess)); got != 1 {
		t.Fatalf("expected empty job name to be labelled unknown, got %v", got)
	}
	if got := testutil.ToFloat64(m.skipped); got != 1 {
		t.Fatalf("expected 1 skipped cycle, got %v", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if sum := histogramSum(mfs, "cron_job_duration_seconds", "job-watchdog"); sum < 1.25 {
		t.Fatalf("expected duration sum >= 1.25s, got %v", sum)
	}
}

func TestCronMetricsWatchdogSkipsZero(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronMetrics(reg)

	m.AddWatchdog("timed_out", 3)
	m.AddWatchdog("redispatched", 0)

	expected := `
# HELP watchdog_jobs_total Stale jobs handled by the watchdog, by action.
# TYPE watchdog_jobs_total counter
watchdog_jobs_total{action="timed_out"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "watchdog_jobs_total"); err != nil {
		t.Fatal(err)
	}
}

func TestCronMetricsNilRegistererIsNoop(t *testing.T) {
	m := NewCronMetrics(nil)
	m.ObserveRun("job", time.Second, nil)
	m.CycleSkipped()
	m.AddWatchdog("abandoned", 1)

	var nilMetrics *CronMetrics
	nilMetrics.ObserveRun("job", time.Second, nil)
}

func histogramSum(mfs []*dto.MetricFamily, name, job string) float64 {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0
	}
	for _, metric := range mf.GetMetric() {
		for _, label := range metric.GetLabel() {
			if label.GetName() == "job" && label.GetValue() == job {
				return metric.GetHistogram().GetSampleSum()
			}
		}
	}
	return 0
}
