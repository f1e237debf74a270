package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

type fakeStaleLister struct {
	byStatus map[enums.JobStatus][]models.Job
	cutoffs  map[enums.JobStatus]time.Time
	err      error
}

func (f *fakeStaleLister) ListStale(_ context.Context, status enums.JobStatus, before time.Time, _ int) ([]models.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.cutoffs == nil {
		f.cutoffs = map[enums.JobStatus]time.Time{}
	}
	f.cutoffs[status] = before
	return f.byStatus[status], nil
}

type fakeSettler struct {
	failed       map[uuid.UUID]string
	redispatched map[uuid.UUID]int
	failErr      map[uuid.UUID]error
}

func newFakeSettler() *fakeSettler {
	return &fakeSettler{
		failed:       map[uuid.UUID]string{},
		redispatched: map[uuid.UUID]int{},
		failErr:      map[uuid.UUID]error{},
	}
}

func (f *fakeSettler) ReportOutcome(_ context.Context, jobID uuid.UUID, outcome orchestrator.Outcome) (*models.Job, error) {
	if err := f.failErr[jobID]; err != nil {
		return nil, err
	}
	f.failed[jobID] = outcome.ErrorCode
	return &models.Job{ID: jobID, Status: enums.JobStatusFailed}, nil
}

func (f *fakeSettler) Redispatch(_ context.Context, jobID uuid.UUID, retryCount int) (bool, error) {
	f.redispatched[jobID] = retryCount
	return true, nil
}

type fakeWatchdogMetrics struct {
	counts map[string]int
}

func (f *fakeWatchdogMetrics) AddWatchdog(action string, n int) {
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[action] += n
}

func newWatchdog(t *testing.T, lister staleJobLister, settler jobSettler, m watchdogMetrics) *jobWatchdogJob {
	t.Helper()
	job, err := NewJobWatchdogJob(JobWatchdogJobParams{
		Logger:          logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Jobs:            lister,
		Orchestrator:    settler,
		Metrics:         m,
		Timeout:         120 * time.Second,
		DispatchTimeout: 30 * time.Second,
		MaxRetries:      3,
	})
	require.NoError(t, err)
	return job.(*jobWatchdogJob)
}

func TestJobWatchdogTimesOutAndRedispatches(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	processing := models.Job{ID: uuid.New(), Status: enums.JobStatusProcessing}
	fresh := models.Job{ID: uuid.New(), Status: enums.JobStatusPending, RetryCount: 1}
	exhausted := models.Job{ID: uuid.New(), Status: enums.JobStatusPending, RetryCount: 3}

	lister := &fakeStaleLister{byStatus: map[enums.JobStatus][]models.Job{
		enums.JobStatusProcessing: {processing},
		enums.JobStatusPending:    {fresh, exhausted},
	}}
	settler := newFakeSettler()
	m := &fakeWatchdogMetrics{}
	job := newWatchdog(t, lister, settler, m)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, now.Add(-120*time.Second), lister.cutoffs[enums.JobStatusProcessing])
	assert.Equal(t, now.Add(-30*time.Second), lister.cutoffs[enums.JobStatusPending])

	assert.Equal(t, ErrorCodeTimeout, settler.failed[processing.ID])
	assert.Equal(t, ErrorCodeNoWorker, settler.failed[exhausted.ID])
	assert.Equal(t, 1, settler.redispatched[fresh.ID])
	assert.NotContains(t, settler.redispatched, exhausted.ID)

	assert.Equal(t, 1, m.counts["timed_out"])
	assert.Equal(t, 1, m.counts["redispatched"])
	assert.Equal(t, 1, m.counts["abandoned"])
}

func TestJobWatchdogSkipsJobsSettledByWorker(t *testing.T) {
	raced := models.Job{ID: uuid.New(), Status: enums.JobStatusProcessing}
	lister := &fakeStaleLister{byStatus: map[enums.JobStatus][]models.Job{
		enums.JobStatusProcessing: {raced},
	}}
	settler := newFakeSettler()
	settler.failErr[raced.ID] = pkgerrors.New(pkgerrors.CodeStateConflict, "job already ready")
	m := &fakeWatchdogMetrics{}

	require.NoError(t, newWatchdog(t, lister, settler, m).Run(context.Background()))
	assert.Zero(t, m.counts["timed_out"])
}

func TestJobWatchdogAggregatesErrors(t *testing.T) {
	a := models.Job{ID: uuid.New(), Status: enums.JobStatusProcessing}
	b := models.Job{ID: uuid.New(), Status: enums.JobStatusProcessing}
	lister := &fakeStaleLister{byStatus: map[enums.JobStatus][]models.Job{
		enums.JobStatusProcessing: {a, b},
	}}
	settler := newFakeSettler()
	settler.failErr[a.ID] = pkgerrors.New(pkgerrors.CodeDependency, "db down")

	err := newWatchdog(t, lister, settler, nil).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), a.ID.String())
	assert.Equal(t, ErrorCodeTimeout, settler.failed[b.ID])
}

func TestJobWatchdogListError(t *testing.T) {
	lister := &fakeStaleLister{err: errors.New("connection reset")}
	err := newWatchdog(t, lister, newFakeSettler(), nil).Run(context.Background())
	require.Error(t, err)
}

func TestNewJobWatchdogJobValidates(t *testing.T) {
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	_, err := NewJobWatchdogJob(JobWatchdogJobParams{Logger: logg, Jobs: &fakeStaleLister{}, Orchestrator: newFakeSettler()})
	require.Error(t, err)
	_, err = NewJobWatchdogJob(JobWatchdogJobParams{Logger: logg, Orchestrator: newFakeSettler(), Timeout: time.Second, DispatchTimeout: time.Second})
	require.Error(t, err)
}
