package registry

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/solverpay-backend/pkg/enums"
	"github.com/angelmondragon/solverpay-backend/pkg/outbox/payloads"
)

// DecoderFunc turns the data section of an inbound envelope into a typed payload.
type DecoderFunc func(data json.RawMessage) (any, error)

type schemaKey struct {
	event   enums.OutboxEventType
	version int
}

// DecoderRegistry maps (event type, envelope version) to a decoder. It is
// fixed at construction and safe for concurrent use.
type DecoderRegistry struct {
	decoders map[schemaKey]DecoderFunc
}

// Schema registers one versioned decoder with NewDecoderRegistry.
type Schema struct {
	Event   enums.OutboxEventType
	Version int
	Decode  DecoderFunc
}

func NewDecoderRegistry(schemas ...Schema) *DecoderRegistry {
	r := &DecoderRegistry{decoders: make(map[schemaKey]DecoderFunc, len(schemas))}
	for _, s := range schemas {
		r.decoders[schemaKey{s.Event, s.Version}] = s.Decode
	}
	return r
}

// NewOutcomeDecoderRegistry knows every version of the worker outcome message.
func NewOutcomeDecoderRegistry() *DecoderRegistry {
	return NewDecoderRegistry(Schema{
		Event:   enums.EventJobOutcomeReported,
		Version: 1,
		Decode:  JSONDecoder[payloads.JobOutcomeReportedEvent](),
	})
}

var payloadValidator = validator.New()

// JSONDecoder decodes into a fresh *T and runs its validate tags.
func JSONDecoder[T any]() DecoderFunc {
	return func(data json.RawMessage) (any, error) {
		out := new(T)
		if err := json.Unmarshal(data, out); err != nil {
			return nil, err
		}
		if err := payloadValidator.Struct(out); err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Decode fails with NonRetryableError for unknown schemas and bad payloads;
// redelivering either would never succeed.
func (r *DecoderRegistry) Decode(event enums.OutboxEventType, version int, data json.RawMessage) (any, error) {
	decode, ok := r.decoders[schemaKey{event, version}]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("no decoder for %s v%d", event, version))
	}
	out, err := decode(data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s v%d: %w", event, version, err))
	}
	return out, nil
}
