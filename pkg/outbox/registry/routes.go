package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/db/models"
	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/payloads"
)

// Topics names the destinations events are published to. They are Pub/Sub topic
// ids or NATS subjects depending on the dispatch transport.
type Topics struct {
	Jobs      string
	Lifecycle string
}

// TopicsFor picks destination names for the configured transport.
func TopicsFor(cfg *config.Config) Topics {
	if cfg.Dispatch.UsesNATS() {
		return Topics{Jobs: cfg.Dispatch.NATSJobsSubject, Lifecycle: cfg.Dispatch.NATSLifecycleSubj}
	}
	return Topics{Jobs: cfg.PubSub.JobsTopic, Lifecycle: cfg.PubSub.LifecycleTopic}
}

// EventDescriptor says where an outbound event goes and which aggregate owns it.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string
}

type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry knows every event the relay may publish. Inbound-only events
// such as worker outcomes are deliberately absent.
type EventRegistry struct {
	routes   map[enums.OutboxEventType]EventDescriptor
	decoders *DecoderRegistry
}

func NewEventRegistry(topics Topics) (*EventRegistry, error) {
	switch {
	case topics.Jobs == "":
		return nil, errors.New("jobs topic is required")
	case topics.Lifecycle == "":
		return nil, errors.New("lifecycle topic is required")
	}

	routes := []struct {
		desc   EventDescriptor
		decode DecoderFunc
	}{
		{EventDescriptor{enums.EventJobCreated, enums.AggregateJob, topics.Jobs}, JSONDecoder[payloads.JobCreatedEvent]()},
		{EventDescriptor{enums.EventJobSettled, enums.AggregateJob, topics.Lifecycle}, JSONDecoder[payloads.JobSettledEvent]()},
		{EventDescriptor{enums.EventJobRefunded, enums.AggregateJob, topics.Lifecycle}, JSONDecoder[payloads.JobRefundedEvent]()},
		{EventDescriptor{enums.EventBalanceCredited, enums.AggregateAccount, topics.Lifecycle}, JSONDecoder[payloads.BalanceCreditedEvent]()},
	}

	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]EventDescriptor, len(routes))}
	schemas := make([]Schema, 0, len(routes))
	for _, r := range routes {
		reg.routes[r.desc.EventType] = r.desc
		schemas = append(schemas, Schema{Event: r.desc.EventType, Version: 1, Decode: r.decode})
	}
	reg.decoders = NewDecoderRegistry(schemas...)
	return reg, nil
}

// Resolve checks the row against its route and decodes the typed payload.
// Every failure is non-retryable: the row will not improve on its own.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case desc.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	case event.AggregateID == uuid.Nil:
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if data := bytes.TrimSpace(envelope.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, err
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
