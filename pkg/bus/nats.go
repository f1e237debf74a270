// Package bus carries dispatch and outcome messages over NATS when the
// deployment does not use Pub/Sub.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
)

const handlerTimeout = 30 * time.Second

type Client struct{ nc *nats.Conn }

// Message is a received NATS message with its headers flattened.
type Message struct {
	Subject    string
	Data       []byte
	Attributes map[string]string
}

func Connect(url, name string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &Client{nc: nc}, nil
}

func (c *Client) Close() {
	if c != nil && c.nc != nil {
		_ = c.nc.Drain()
	}
}

// Ping round-trips to the server.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.nc == nil {
		return errors.New("nats client not initialized")
	}
	return c.nc.FlushWithContext(ctx)
}

// Publish sends data with the given attributes as NATS headers.
func (c *Client) Publish(ctx context.Context, subject string, data []byte, attributes map[string]string) error {
	if c == nil || c.nc == nil {
		return errors.New("nats client not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	for k, v := range attributes {
		msg.Header.Set(k, v)
	}
	return c.nc.PublishMsg(msg)
}

func (c *Client) PublishJSON(ctx context.Context, subject string, v any, attributes map[string]string) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Publish(ctx, subject, b, attributes)
}

// QueueSubscribe delivers each message to exactly one member of queue. The
// handler context is cancelled when parent is done or after handlerTimeout.
func (c *Client) QueueSubscribe(parent context.Context, subject, queue string, handler func(ctx context.Context, msg Message)) (*nats.Subscription, error) {
	if c == nil || c.nc == nil {
		return nil, errors.New("nats client not initialized")
	}
	return c.nc.QueueSubscribe(subject, queue, func(raw *nats.Msg) {
		ctx, cancel := context.WithTimeout(parent, handlerTimeout)
		defer cancel()
		handler(ctx, toMessage(raw))
	})
}

func toMessage(raw *nats.Msg) Message {
	attrs := make(map[string]string, len(raw.Header))
	for k := range raw.Header {
		attrs[k] = raw.Header.Get(k)
	}
	return Message{Subject: raw.Subject, Data: raw.Data, Attributes: attrs}
}
