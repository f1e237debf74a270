package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

var retentionNow = time.Date(2026, 3, 31, 8, 0, 0, 0, time.UTC)

// scriptedPruner returns the queued counts in order and records each cutoff.
type scriptedPruner struct {
	counts  []int64
	err     error
	cutoffs []time.Time
	limits  []int
}

func (p *scriptedPruner) next(cutoff time.Time, limit int) (int64, error) {
	p.cutoffs = append(p.cutoffs, cutoff)
	p.limits = append(p.limits, limit)
	if p.err != nil {
		return 0, p.err
	}
	if len(p.counts) == 0 {
		return 0, nil
	}
	n := p.counts[0]
	p.counts = p.counts[1:]
	return n, nil
}

func (p *scriptedPruner) DeletePublishedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	return p.next(cutoff, limit)
}

func (p *scriptedPruner) PurgeBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	return p.next(cutoff, limit)
}

func buildRetentionJob(t *testing.T, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	job, err := NewOutboxRetentionJob(params)
	require.NoError(t, err)
	typed, ok := job.(*outboxRetentionJob)
	require.True(t, ok)
	typed.now = func() time.Time { return retentionNow }
	return typed
}

func TestOutboxRetentionDefaults(t *testing.T) {
	published := &scriptedPruner{}
	job := buildRetentionJob(t, OutboxRetentionJobParams{Outbox: published})

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, published.cutoffs, 1)
	assert.Equal(t, time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC), published.cutoffs[0])
	assert.Equal(t, []int{defaultPruneBatch}, published.limits)
	assert.Len(t, job.targets, 1, "no dlq target without a pruner")
}

func TestOutboxRetentionLoopsUntilShortBatch(t *testing.T) {
	published := &scriptedPruner{counts: []int64{10, 10, 3}}
	job := buildRetentionJob(t, OutboxRetentionJobParams{Outbox: published, BatchSize: 10})

	require.NoError(t, job.Run(context.Background()))
	assert.Len(t, published.cutoffs, 3)
}

func TestOutboxRetentionPrunesDLQOnItsOwnWindow(t *testing.T) {
	published := &scriptedPruner{}
	dead := &scriptedPruner{counts: []int64{2}}
	job := buildRetentionJob(t, OutboxRetentionJobParams{
		Outbox:           published,
		DLQ:              dead,
		RetentionDays:    7,
		DLQRetentionDays: 14,
	})

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, published.cutoffs, 1)
	require.Len(t, dead.cutoffs, 1)
	assert.Equal(t, retentionNow.AddDate(0, 0, -7), published.cutoffs[0])
	assert.Equal(t, retentionNow.AddDate(0, 0, -14), dead.cutoffs[0])
}

func TestOutboxRetentionStopsOnFailure(t *testing.T) {
	published := &scriptedPruner{err: errors.New("boom")}
	dead := &scriptedPruner{}
	job := buildRetentionJob(t, OutboxRetentionJobParams{Outbox: published, DLQ: dead})

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "published")
	assert.Empty(t, dead.cutoffs)
}

func TestOutboxRetentionHonoursCancellation(t *testing.T) {
	published := &scriptedPruner{counts: []int64{500, 500}}
	job := buildRetentionJob(t, OutboxRetentionJobParams{Outbox: published})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := job.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, published.cutoffs)
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Outbox: &scriptedPruner{}})
	assert.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	assert.Error(t, err)
}
