package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/metrics"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/registry"
)

func TestDrainRetriesTransientFailureAndPublishesRest(t *testing.T) {
	first, second := jobCreatedRow(t, 0), jobCreatedRow(t, 0)
	h := newHarness(t, []models.OutboxEvent{first, second}, "sp-jobs")
	h.pub.errs = []error{errors.New("transient"), nil}

	handled, err := h.svc.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []uuid.UUID{first.ID}, h.repo.failed)
	assert.Equal(t, []uuid.UUID{second.ID}, h.repo.published)
	assert.Empty(t, h.dlq.entries)
}

func TestRelaySendsRawEnvelopeWithRoutingAttributes(t *testing.T) {
	row := jobCreatedRow(t, 0)
	row.EventType = enums.EventJobSettled
	row.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h := newHarness(t, []models.OutboxEvent{row}, "sp-job-lifecycle")

	_, err := h.svc.drain(context.Background())
	require.NoError(t, err)
	require.Len(t, h.pub.sent, 1)

	sent := h.pub.sent[0]
	assert.Equal(t, "sp-job-lifecycle", sent.topic)
	assert.JSONEq(t, string(row.Payload), string(sent.data))
	assert.Equal(t, map[string]string{
		"event_id":       row.ID.String(),
		"event_type":     "job_settled",
		"aggregate_type": "job",
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     "2026-03-01T09:00:00Z",
	}, sent.attributes)
}

func TestRelayDeadLetters(t *testing.T) {
	tests := []struct {
		name       string
		attempts   int
		topic      string
		resolveErr error
		publishErr error
		reason     enums.OutboxDLQErrorReason
		published  bool
	}{
		{
			name:       "undecodable payload",
			resolveErr: registry.NewNonRetryableError(errors.New("invalid payload")),
			reason:     enums.OutboxDLQReasonNonRetryable,
		},
		{
			name:   "no topic configured",
			reason: enums.OutboxDLQReasonUnroutable,
		},
		{
			name:       "transport rejects message",
			topic:      "sp-jobs",
			publishErr: registry.NewNonRetryableError(errors.New("message too large")),
			reason:     enums.OutboxDLQReasonNonRetryable,
			published:  true,
		},
		{
			name:       "last attempt fails",
			attempts:   4,
			topic:      "sp-jobs",
			publishErr: errors.New("deadline exceeded"),
			reason:     enums.OutboxDLQReasonMaxAttempts,
			published:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := jobCreatedRow(t, tt.attempts)
			h := newHarness(t, []models.OutboxEvent{row}, tt.topic)
			h.reg.err = tt.resolveErr
			if tt.publishErr != nil {
				h.pub.errs = []error{tt.publishErr}
			}

			_, err := h.svc.drain(context.Background())
			require.NoError(t, err)

			require.Len(t, h.dlq.entries, 1)
			entry := h.dlq.entries[0]
			assert.Equal(t, row.ID, entry.EventID)
			assert.Equal(t, tt.reason, entry.ErrorReason)
			assert.Equal(t, tt.attempts, entry.AttemptCount)
			assert.JSONEq(t, string(row.Payload), string(entry.Payload))
			require.NotNil(t, entry.ErrorMessage)
			assert.Equal(t, []uuid.UUID{row.ID}, h.repo.terminal)
			assert.Empty(t, h.repo.published)
			assert.Equal(t, tt.published, len(h.pub.sent) == 1)
		})
	}
}

func TestDrainAbortsOnBookkeepingFailure(t *testing.T) {
	h := newHarness(t, []models.OutboxEvent{jobCreatedRow(t, 0)}, "sp-jobs")
	h.repo.markErr = errors.New("connection reset")

	handled, err := h.svc.drain(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mark published")
	assert.Zero(t, handled)
}

func TestDrainRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newHarness(t, []models.OutboxEvent{jobCreatedRow(t, 0), jobCreatedRow(t, 0)}, "")
	h.svc.metrics = metrics.NewDispatchMetrics(reg)

	_, err := h.svc.drain(context.Background())
	require.NoError(t, err)

	expected := `
# HELP outbox_events_dead_lettered_total Outbox events moved to the dead letter table.
# TYPE outbox_events_dead_lettered_total counter
outbox_events_dead_lettered_total{reason="unroutable"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "outbox_events_dead_lettered_total"))
}

func TestRunFailsFastWhenTransportIsDown(t *testing.T) {
	h := newHarness(t, nil, "sp-jobs")
	h.pub.pingErr = errors.New("no route to host")

	err := h.svc.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dispatch transport ping failed")
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil, "sp-jobs")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.svc.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type harness struct {
	svc  *Service
	repo *fakeRepo
	pub  *fakePublisher
	reg  *fakeRegistry
	dlq  *fakeDLQRepo
}

func newHarness(t *testing.T, rows []models.OutboxEvent, topic string) *harness {
	t.Helper()
	h := &harness{
		repo: &fakeRepo{events: rows},
		pub:  &fakePublisher{},
		reg:  &fakeRegistry{topic: topic},
		dlq:  &fakeDLQRepo{},
	}
	svc, err := NewService(ServiceParams{
		Config: &config.Config{Outbox: config.OutboxConfig{
			BatchSize:      10,
			PollIntervalMS: 10,
			MaxAttempts:    5,
		}},
		Logger:        logger.New(logger.Options{ServiceName: "outbox-publisher-test", Output: io.Discard}),
		DB:            fakeDB{},
		Publisher:     h.pub,
		Repository:    h.repo,
		Registry:      h.reg,
		DLQRepository: h.dlq,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func jobCreatedRow(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"type":"HCaptchaTask"}`),
	})
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventJobCreated,
		AggregateType: enums.AggregateJob,
		AggregateID:   uuid.New(),
		Payload:       payload,
		AttemptCount:  attempts,
	}
}

type fakeRepo struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
	markErr   error
}

func (f *fakeRepo) FetchUnpublishedForPublish(_ *gorm.DB, _, _ int) ([]models.OutboxEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	f.published = append(f.published, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(*gorm.DB) error) error { return fn(nil) }

type sentMessage struct {
	topic      string
	data       []byte
	attributes map[string]string
}

type fakePublisher struct {
	pingErr error
	errs    []error
	sent    []sentMessage
}

func (f *fakePublisher) Ping(context.Context) error { return f.pingErr }

func (f *fakePublisher) Publish(_ context.Context, topic string, data []byte, attributes map[string]string) error {
	f.sent = append(f.sent, sentMessage{topic: topic, data: data, attributes: attributes})
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type fakeRegistry struct {
	topic string
	err   error
}

func (f *fakeRegistry) Resolve(event models.OutboxEvent) (*registry.ResolvedEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &registry.ResolvedEvent{
		Descriptor: registry.EventDescriptor{
			EventType:     event.EventType,
			AggregateType: event.AggregateType,
			Topic:         f.topic,
		},
		Envelope: outbox.PayloadEnvelope{EventID: event.ID.String(), OccurredAt: time.Now()},
	}, nil
}

type fakeDLQRepo struct {
	entries []models.OutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
