package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/solverpay-backend/pkg/outbox/registry"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// PubSubSource feeds a subscription into a Handler, nacking when it asks for
// redelivery.
type PubSubSource struct {
	subscription receiver
	handler      Handler
}

func NewPubSubSource(subscription *gcppubsub.Subscriber, handler Handler) (*PubSubSource, error) {
	if subscription == nil {
		return nil, errors.New("outcomes subscription is required")
	}
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	return &PubSubSource{subscription: subscription, handler: handler}, nil
}

// Run blocks until ctx is cancelled or the subscription fails.
func (s *PubSubSource) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if s.handler.Handle(innerCtx, Message{ID: msg.ID, Data: msg.Data, Attributes: msg.Attributes}) {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type topicClient interface {
	Ping(ctx context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

// PubSubPublisher publishes outbox messages to Pub/Sub topics, keeping one
// batching publisher per topic.
type PubSubPublisher struct {
	client topicClient

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

func NewPubSubPublisher(client topicClient) (*PubSubPublisher, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	return &PubSubPublisher{client: client, publishers: map[string]*gcppubsub.Publisher{}}, nil
}

func (p *PubSubPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *PubSubPublisher) Publish(ctx context.Context, topic string, data []byte, attributes map[string]string) error {
	pub := p.publisher(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}
	_, err := pub.Publish(ctx, &gcppubsub.Message{Data: data, Attributes: attributes}).Get(ctx)
	return err
}

// Stop flushes and stops every publisher created so far.
func (p *PubSubPublisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for topic, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, topic)
	}
}

func (p *PubSubPublisher) publisher(topic string) *gcppubsub.Publisher {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.publishers[topic]; ok {
		return pub
	}
	pub := p.client.Publisher(topic)
	if pub != nil {
		p.publishers[topic] = pub
	}
	return pub
}
