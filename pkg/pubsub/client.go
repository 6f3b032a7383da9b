// Package pubsub carries stage tasks and embedding jobs between the api,
// cron and worker processes over Cloud Pub/Sub v2.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/gcp"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

var errNotInitialized = errors.New("pubsub client not initialized")

// route pairs a topic with the subscription the worker drains it from.
type route struct {
	name         string
	topic        string
	subscription string
}

type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and checks that both routes exist and that each
// subscription is attached to its topic.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	ps, err := pubsub.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	c := &Client{client: ps, project: project, cfg: cfg, publishers: map[string]*pubsub.Publisher{}}
	if err := c.verify(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"pipeline_topic":  cfg.PipelineTopic,
			"embedding_topic": cfg.EmbeddingTopic,
		}), "pubsub routes verified")
	}
	return c, nil
}

func (c *Client) routes() ([]route, error) {
	routes := []route{
		{name: "pipeline", topic: c.cfg.PipelineTopic, subscription: c.cfg.PipelineSubscription},
		{name: "embedding", topic: c.cfg.EmbeddingTopic, subscription: c.cfg.EmbeddingSubscription},
	}
	for i, r := range routes {
		routes[i].topic = gcp.ResourceName(c.project, "topics", r.topic)
		routes[i].subscription = gcp.ResourceName(c.project, "subscriptions", r.subscription)
		if routes[i].topic == "" || routes[i].subscription == "" {
			return nil, fmt.Errorf("%s topic and subscription are required", r.name)
		}
	}
	return routes, nil
}

func (c *Client) verify(ctx context.Context) error {
	routes, err := c.routes()
	if err != nil {
		return err
	}
	for _, r := range routes {
		if _, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: r.topic}); err != nil {
			return lookupError("topic", r.topic, err)
		}
		sub, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: r.subscription})
		if err != nil {
			return lookupError("subscription", r.subscription, err)
		}
		if sub.GetTopic() != r.topic {
			return fmt.Errorf("%s subscription %s is attached to %s, expected %s", r.name, r.subscription, sub.GetTopic(), r.topic)
		}
	}
	return nil
}

func lookupError(kind, name string, err error) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %s does not exist", kind, name)
	}
	return fmt.Errorf("get %s %s: %w", kind, name, err)
}

// subscriber applies the worker flow control. Stage tasks can run for hours,
// so MaxExtension must outlive the slowest stage.
func (c *Client) subscriber(id string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	name := gcp.ResourceName(c.project, "subscriptions", id)
	if name == "" {
		return nil
	}
	sub := c.client.Subscriber(name)
	if c.cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstandingMessages
	}
	if c.cfg.MaxExtension > 0 {
		sub.ReceiveSettings.MaxExtension = c.cfg.MaxExtension
	}
	return sub
}

func (c *Client) PipelineSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.subscriber(c.cfg.PipelineSubscription)
}

func (c *Client) EmbeddingSubscription() *pubsub.Subscriber {
	if c == nil {
		return nil
	}
	return c.subscriber(c.cfg.EmbeddingSubscription)
}

// publisher returns one shared handle per topic so Close can flush it.
func (c *Client) publisher(id string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	name := gcp.ResourceName(c.project, "topics", id)
	if name == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[name]; ok {
		return pub
	}
	pub := c.client.Publisher(name)
	c.publishers[name] = pub
	return pub
}

func (c *Client) PipelinePublisher() *pubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.publisher(c.cfg.PipelineTopic)
}

func (c *Client) EmbeddingPublisher() *pubsub.Publisher {
	if c == nil {
		return nil
	}
	return c.publisher(c.cfg.EmbeddingTopic)
}

// PublishJSON encodes payload and blocks until the server acknowledges it.
func PublishJSON(ctx context.Context, pub *pubsub.Publisher, payload any, attrs map[string]string) (string, error) {
	if pub == nil {
		return "", errors.New("pubsub publisher not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode message: %w", err)
	}
	id, err := pub.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs}).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Ping re-runs the route verification.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	return c.verify(ctx)
}

// Close flushes and stops every publisher before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, pub := range c.publishers {
		pub.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}
