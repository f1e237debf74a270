package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

const (
	ErrorCodeTimeout  = "ERROR_TIMEOUT"
	ErrorCodeNoWorker = "ERROR_NO_WORKER"

	defaultWatchdogBatch = 200
)

type staleJobLister interface {
	ListStale(ctx context.Context, status enums.JobStatus, before time.Time, limit int) ([]models.Job, error)
}

type jobSettler interface {
	ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome orchestrator.Outcome) (*models.Job, error)
	Redispatch(ctx context.Context, jobID uuid.UUID, retryCount int) (bool, error)
}

type watchdogMetrics interface {
	AddWatchdog(action string, n int)
}

type JobWatchdogJobParams struct {
	Logger          *logger.Logger
	Jobs            staleJobLister
	Orchestrator    jobSettler
	Metrics         watchdogMetrics
	Timeout         time.Duration
	DispatchTimeout time.Duration
	MaxRetries      int
	BatchSize       int
}

// NewJobWatchdogJob fails jobs a worker never finished and re-dispatches jobs
// no worker picked up.
func NewJobWatchdogJob(params JobWatchdogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("jobs repository required")
	}
	if params.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator required")
	}
	if params.Timeout <= 0 || params.DispatchTimeout <= 0 {
		return nil, fmt.Errorf("watchdog timeouts must be positive")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultWatchdogBatch
	}
	return &jobWatchdogJob{
		logg:            params.Logger,
		jobs:            params.Jobs,
		orch:            params.Orchestrator,
		metrics:         params.Metrics,
		timeout:         params.Timeout,
		dispatchTimeout: params.DispatchTimeout,
		maxRetries:      params.MaxRetries,
		batch:           batch,
		now:             time.Now,
	}, nil
}

type jobWatchdogJob struct {
	logg            *logger.Logger
	jobs            staleJobLister
	orch            jobSettler
	metrics         watchdogMetrics
	timeout         time.Duration
	dispatchTimeout time.Duration
	maxRetries      int
	batch           int
	now             func() time.Time
}

func (j *jobWatchdogJob) Name() string { return "job-watchdog" }

func (j *jobWatchdogJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	timedOut, errTimeout := j.expireProcessing(ctx, now.Add(-j.timeout))
	redispatched, abandoned, errPending := j.sweepPending(ctx, now.Add(-j.dispatchTimeout))

	j.record("timed_out", timedOut)
	j.record("redispatched", redispatched)
	j.record("abandoned", abandoned)

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"timed_out":    timedOut,
		"redispatched": redispatched,
		"abandoned":    abandoned,
	}), "job watchdog sweep complete")

	return multierr.Combine(errTimeout, errPending)
}

func (j *jobWatchdogJob) expireProcessing(ctx context.Context, cutoff time.Time) (int, error) {
	stale, err := j.jobs.ListStale(ctx, enums.JobStatusProcessing, cutoff, j.batch)
	if err != nil {
		return 0, fmt.Errorf("list processing jobs: %w", err)
	}
	var errs error
	count := 0
	for _, job := range stale {
		ok, err := j.fail(ctx, job.ID, ErrorCodeTimeout, "worker did not report within the job timeout")
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if ok {
			count++
		}
	}
	return count, errs
}

func (j *jobWatchdogJob) sweepPending(ctx context.Context, cutoff time.Time) (int, int, error) {
	stale, err := j.jobs.ListStale(ctx, enums.JobStatusPending, cutoff, j.batch)
	if err != nil {
		return 0, 0, fmt.Errorf("list pending jobs: %w", err)
	}
	var errs error
	redispatched, abandoned := 0, 0
	for _, job := range stale {
		if job.RetryCount >= j.maxRetries {
			ok, err := j.fail(ctx, job.ID, ErrorCodeNoWorker, "no worker picked up the job")
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			if ok {
				abandoned++
			}
			continue
		}
		bumped, err := j.orch.Redispatch(ctx, job.ID, job.RetryCount)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("redispatch job %s: %w", job.ID, err))
			continue
		}
		if bumped {
			redispatched++
		}
	}
	return redispatched, abandoned, errs
}

// fail reports false when a worker settled the job first.
func (j *jobWatchdogJob) fail(ctx context.Context, jobID uuid.UUID, code, description string) (bool, error) {
	_, err := j.orch.ReportOutcome(ctx, jobID, orchestrator.Outcome{
		Kind:             enums.OutcomeFailed,
		ErrorCode:        code,
		ErrorDescription: description,
	})
	if err == nil {
		return true, nil
	}
	if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		j.logg.Debug(j.logg.WithJobID(ctx, jobID.String()), "job settled before watchdog")
		return false, nil
	}
	return false, fmt.Errorf("fail job %s: %w", jobID, err)
}

func (j *jobWatchdogJob) record(action string, n int) {
	if j.metrics == nil {
		return
	}
	j.metrics.AddWatchdog(action, n)
}
