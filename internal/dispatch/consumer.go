// Package dispatch moves job messages between the billing core and the
// external solver pool. Outbound dispatch goes through a Publisher; inbound
// worker reports arrive as Messages and are fed to an OutcomeConsumer.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/solverpay-backend/internal/orchestrator"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/solverpay-backend/pkg/errors"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
	"github.com/angelmondragon/solverpay-backend/pkg/money"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/payloads"
)

const outcomeConsumerName = "job-outcomes"

// Message is a transport-neutral inbound message.
type Message struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

// Handler processes one message and reports whether it should be redelivered.
type Handler interface {
	Handle(ctx context.Context, msg Message) (retry bool)
}

type outcomeReporter interface {
	ReportOutcome(ctx context.Context, jobID uuid.UUID, outcome orchestrator.Outcome) (*models.Job, error)
}

type payloadDecoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (interface{}, error)
}

type onceProcessor interface {
	Process(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error)
}

// OutcomeConsumer applies worker outcome reports to the orchestrator at most
// once per event id.
type OutcomeConsumer struct {
	reporter outcomeReporter
	decoders payloadDecoder
	once     onceProcessor
	logg     *logger.Logger
}

func NewOutcomeConsumer(reporter outcomeReporter, decoders payloadDecoder, once onceProcessor, logg *logger.Logger) (*OutcomeConsumer, error) {
	if reporter == nil {
		return nil, errors.New("outcome reporter is required")
	}
	if decoders == nil {
		return nil, errors.New("decoder registry is required")
	}
	if once == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &OutcomeConsumer{reporter: reporter, decoders: decoders, once: once, logg: logg}, nil
}

// Handle never retries malformed messages or reports the state machine
// rejects. Only dependency failures ask for redelivery.
func (c *OutcomeConsumer) Handle(ctx context.Context, msg Message) bool {
	fields := map[string]any{"message_id": msg.ID}
	logCtx := c.logg.WithFields(ctx, fields)

	eventType := strings.TrimSpace(msg.Attributes["event_type"])
	if eventType != string(enums.EventJobOutcomeReported) {
		c.logg.Warn(c.logg.WithField(logCtx, "event_type", eventType), "ignoring message with unexpected event type")
		return false
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid outcome envelope")
		return false
	}
	rawID := strings.TrimSpace(envelope.EventID)
	if rawID == "" {
		rawID = strings.TrimSpace(msg.Attributes["event_id"])
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil || eventID == uuid.Nil {
		c.logg.Warn(c.logg.WithField(logCtx, "event_id", rawID), "invalid event id")
		return false
	}
	version := envelope.Version
	if version == 0 {
		version = 1
	}

	decoded, err := c.decoders.Decode(enums.EventJobOutcomeReported, version, envelope.Data)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "undecodable outcome payload")
		return false
	}
	event, ok := decoded.(*payloads.JobOutcomeReportedEvent)
	if !ok || event.JobID == uuid.Nil {
		c.logg.Warn(logCtx, "outcome payload missing job id")
		return false
	}
	outcome, err := toOutcome(event)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "invalid outcome payload")
		return false
	}

	fields["event_id"] = eventID.String()
	fields["outcome"] = event.Outcome
	logCtx = c.logg.WithJobID(c.logg.WithFields(ctx, fields), event.JobID.String())

	duplicate, err := c.once.Process(logCtx, outcomeConsumerName, eventID, func(ctx context.Context) error {
		_, err := c.reporter.ReportOutcome(ctx, event.JobID, outcome)
		if err == nil || !retryable(err) {
			if err != nil {
				c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "outcome rejected")
			}
			return nil
		}
		return err
	})
	if err != nil {
		c.logg.Error(logCtx, "outcome processing failed", err)
		return true
	}
	if duplicate {
		c.logg.Info(logCtx, "outcome already processed")
		return false
	}
	c.logg.Info(logCtx, "outcome applied")
	return false
}

func toOutcome(event *payloads.JobOutcomeReportedEvent) (orchestrator.Outcome, error) {
	outcome := orchestrator.Outcome{
		Kind:             event.Outcome,
		Result:           event.Result,
		ErrorCode:        event.ErrorCode,
		ErrorDescription: event.ErrorDescription,
	}
	if event.Cost != nil {
		cost, err := money.Parse(*event.Cost)
		if err != nil {
			return outcome, fmt.Errorf("cost: %w", err)
		}
		outcome.Cost = &cost
	}
	return outcome, nil
}

// retryable reports errors a redelivery could fix. Typed errors carry their
// own verdict; anything untyped is assumed transient.
func retryable(err error) bool {
	pkgErr := pkgerrors.As(err)
	if pkgErr == nil {
		return true
	}
	return pkgerrors.MetadataFor(pkgErr.Code()).Retryable
}
