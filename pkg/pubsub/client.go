// Package pubsub wraps the Cloud Pub/Sub v2 client with the topics and
// subscription the job dispatch path needs.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/solverpay-backend/pkg/config"
	"github.com/angelmondragon/solverpay-backend/pkg/logger"
)

const (
	kindTopic        = "topics"
	kindSubscription = "subscriptions"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("pubsub topic name is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client    *gcppubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient connects and verifies that every configured topic and the
// outcomes subscription exist. Resources are never created here.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	inner, err := gcppubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: inner, projectID: projectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = inner.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "project_id", projectID), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks all configured resources concurrently.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	topics := trimmed(c.cfg.JobsTopic, c.cfg.LifecycleTopic)
	if len(topics) == 0 {
		return errNoTopics
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range topics {
		g.Go(func() error {
			_, err := c.client.TopicAdminClient.GetTopic(gctx, &pubsubpb.GetTopicRequest{
				Topic: ResourceName(c.projectID, kindTopic, name),
			})
			return describe(err, "topic", name)
		})
	}
	for _, name := range trimmed(c.cfg.OutcomesSubscription) {
		g.Go(func() error {
			_, err := c.client.SubscriptionAdminClient.GetSubscription(gctx, &pubsubpb.GetSubscriptionRequest{
				Subscription: ResourceName(c.projectID, kindSubscription, name),
			})
			return describe(err, "subscription", name)
		})
	}
	return g.Wait()
}

func describe(err error, kind, name string) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Publisher returns a handle for a topic id or full resource name.
func (c *Client) Publisher(name string) *gcppubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := ResourceName(c.projectID, kindTopic, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

// Subscription returns a handle for a subscription id or full resource name.
func (c *Client) Subscription(name string) *gcppubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := ResourceName(c.projectID, kindSubscription, name)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

// OutcomesSubscription is where execution workers report job outcomes.
func (c *Client) OutcomesSubscription() *gcppubsub.Subscriber {
	return c.Subscription(c.cfg.OutcomesSubscription)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// ResourceName expands a short id to projects/<project>/<kind>/<id>. Full
// names pass through; an empty id or project yields "".
func ResourceName(projectID, kind, name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	if strings.HasPrefix(name, "projects/") && strings.Contains(name, "/"+kind+"/") {
		return name
	}
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return ""
	}
	return "projects/" + projectID + "/" + kind + "/" + name
}

func trimmed(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
