package dispatch

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/angelmondragon/solverpay-backend/pkg/bus"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

type natsConn interface {
	Ping(ctx context.Context) error
	Publish(ctx context.Context, subject string, data []byte, attributes map[string]string) error
	QueueSubscribe(parent context.Context, subject, queue string, handler func(ctx context.Context, msg bus.Message)) (*nats.Subscription, error)
}

// NATSPublisher publishes outbox messages to NATS subjects.
type NATSPublisher struct {
	conn natsConn
}

func NewNATSPublisher(conn natsConn) (*NATSPublisher, error) {
	if conn == nil {
		return nil, errors.New("nats client is required")
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Ping(ctx context.Context) error {
	return p.conn.Ping(ctx)
}

func (p *NATSPublisher) Publish(ctx context.Context, subject string, data []byte, attributes map[string]string) error {
	return p.conn.Publish(ctx, subject, data, attributes)
}

// NATSSource feeds a queue subscription into a Handler. Core NATS has no
// redelivery, so a retry verdict is only logged; the watchdog eventually
// settles jobs whose outcome was lost.
type NATSSource struct {
	conn    natsConn
	subject string
	queue   string
	handler Handler
	logg    *logger.Logger
}

func NewNATSSource(conn natsConn, subject, queue string, handler Handler, logg *logger.Logger) (*NATSSource, error) {
	switch {
	case conn == nil:
		return nil, errors.New("nats client is required")
	case subject == "":
		return nil, errors.New("outcomes subject is required")
	case handler == nil:
		return nil, errors.New("handler is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &NATSSource{conn: conn, subject: subject, queue: queue, handler: handler, logg: logg}, nil
}

// Run subscribes and blocks until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context) error {
	sub, err := s.conn.QueueSubscribe(ctx, s.subject, s.queue, func(msgCtx context.Context, msg bus.Message) {
		if s.handler.Handle(msgCtx, Message{ID: msg.Attributes["event_id"], Data: msg.Data, Attributes: msg.Attributes}) {
			s.logg.Warn(s.logg.WithField(msgCtx, "subject", msg.Subject), "outcome dropped; nats delivery is not retried")
		}
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		s.logg.Error(context.Background(), "failed to unsubscribe outcomes", err)
	}
	return ctx.Err()
}
