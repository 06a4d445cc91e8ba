// Package pubsub wraps the Pub/Sub v2 client used to publish payment events
// and to consume them for analytics.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/angelmondragon/paycore/pkg/config"
	"github.com/angelmondragon/paycore/pkg/gcp"
	"github.com/angelmondragon/paycore/pkg/logger"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Role decides which resource Ping verifies.
type Role int

const (
	// RolePublisher checks the payments topic.
	RolePublisher Role = iota
	// RoleConsumer checks the analytics subscription.
	RoleConsumer
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoSubscription    = errors.New("pubsub subscription name is required")
	errNoTopic           = errors.New("pubsub payments topic is required")
	errNotInitialized    = errors.New("pubsub client not initialized")
)

type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig
	role    Role

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// NewClient connects and verifies the resource the role depends on exists.
func NewClient(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.PaymentsTopic) == "" {
		return nil, errNoTopic
	}

	ps, err := pubsub.NewClient(ctx, project, gcp.ClientOptions(gcpCfg)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     ps,
		project:    project,
		cfg:        cfg,
		role:       role,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "project", project), "pubsub client initialized")
	}
	return c, nil
}

// Ping checks the topic for publishers and the subscription for consumers.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errNotInitialized
	}
	if c.role == RoleConsumer {
		return c.checkSubscription(ctx, c.cfg.AnalyticsSubscription)
	}
	return c.checkTopic(ctx, c.cfg.PaymentsTopic)
}

func (c *Client) checkTopic(ctx context.Context, name string) error {
	full := gcp.ResourceName(c.project, "topics", name)
	if full == "" {
		return errNoTopic
	}
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: full})
	return describeLookup("topic", name, err)
}

func (c *Client) checkSubscription(ctx context.Context, name string) error {
	full := gcp.ResourceName(c.project, "subscriptions", name)
	if full == "" {
		return errNoSubscription
	}
	_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: full})
	return describeLookup("subscription", name, err)
}

// describeLookup turns an admin Get error into a boot error. The v2 admin
// clients report gRPC status codes.
func describeLookup(kind, name string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%s %q does not exist", kind, name)
	default:
		return fmt.Errorf("checking %s %q: %w", kind, name, err)
	}
}

// Subscription returns a Subscriber with the configured flow control.
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := gcp.ResourceName(c.project, "subscriptions", name)
	if full == "" {
		return nil
	}
	sub := c.client.Subscriber(full)
	if c.cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = c.cfg.MaxOutstandingMessages
	}
	if c.cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = c.cfg.NumGoroutines
	}
	return sub
}

// AnalyticsSubscription returns the subscriber feeding the BigQuery sink.
func (c *Client) AnalyticsSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.AnalyticsSubscription)
}

// Publisher returns the shared publisher for a topic. Publishers batch in
// the background, so one is kept per topic and stopped by Close.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := gcp.ResourceName(c.project, "topics", name)
	if full == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	c.publishers[full] = p
	return p
}

// Close flushes and stops cached publishers, then closes the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for full, p := range c.publishers {
		p.Stop()
		delete(c.publishers, full)
	}
	c.mu.Unlock()
	return c.client.Close()
}
