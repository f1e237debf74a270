package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

const (
	defaultPublishedRetention = 30 * 24 * time.Hour
	defaultDLQRetention       = 90 * 24 * time.Hour
	defaultPruneBatch         = 500
)

// pruneFunc deletes at most limit rows older than cutoff and reports how many went.
type pruneFunc func(ctx context.Context, cutoff time.Time, limit int) (int64, error)

type OutboxPruner interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type DLQPruner interface {
	PurgeBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger *logger.Logger
	Outbox OutboxPruner
	// DLQ is optional; without it dead-lettered rows are kept forever.
	DLQ              DLQPruner
	RetentionDays    int
	DLQRetentionDays int
	BatchSize        int
}

type retentionTarget struct {
	name   string
	keep   time.Duration
	delete pruneFunc
}

type outboxRetentionJob struct {
	logg    *logger.Logger
	targets []retentionTarget
	batch   int
	now     func() time.Time
}

// NewOutboxRetentionJob prunes relayed outbox rows and, when a DLQ pruner is
// given, dead-lettered events past their own window. Rows still awaiting
// publication are never touched.
func NewOutboxRetentionJob(p OutboxRetentionJobParams) (Job, error) {
	switch {
	case p.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case p.Outbox == nil:
		return nil, fmt.Errorf("outbox pruner required")
	}
	job := &outboxRetentionJob{
		logg:  p.Logger,
		batch: p.BatchSize,
		now:   time.Now,
		targets: []retentionTarget{{
			name:   "published",
			keep:   days(p.RetentionDays, defaultPublishedRetention),
			delete: p.Outbox.DeletePublishedBefore,
		}},
	}
	if job.batch <= 0 {
		job.batch = defaultPruneBatch
	}
	if p.DLQ != nil {
		job.targets = append(job.targets, retentionTarget{
			name:   "dead_lettered",
			keep:   days(p.DLQRetentionDays, defaultDLQRetention),
			delete: p.DLQ.PurgeBefore,
		})
	}
	return job, nil
}

func days(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * 24 * time.Hour
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	for _, target := range j.targets {
		cutoff := now.Add(-target.keep)
		removed, err := j.drain(ctx, target.delete, cutoff)
		if err != nil {
			return fmt.Errorf("prune %s outbox rows (%d removed): %w", target.name, removed, err)
		}
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"target":       target.name,
			"cutoff":       cutoff,
			"rows_deleted": removed,
		}), "outbox retention pass complete")
	}
	return nil
}

// drain repeats bounded deletes until a short batch signals the backlog is gone.
func (j *outboxRetentionJob) drain(ctx context.Context, del pruneFunc, cutoff time.Time) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := del(ctx, cutoff, j.batch)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(j.batch) {
			return total, nil
		}
	}
}
