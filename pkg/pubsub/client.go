// Package pubsub owns the Google Cloud Pub/Sub connection used to publish
// ledger events.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/unimart-backend/pkg/config"
	"github.com/angelmondragon/unimart-backend/pkg/logger"
)

// Client publishes to topics inside one GCP project.
type Client struct {
	gcp     *gcppubsub.Client
	project string
	topics  []string
}

// NewClient connects and refuses to start unless every configured topic
// already exists; topics are provisioned outside the service.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcp.ProjectID)
	if project == "" {
		return nil, errors.New("gcp project id is required")
	}
	topics := configuredTopics(cfg)
	if len(topics) == 0 {
		return nil, errors.New("pubsub ledger topic is required")
	}

	gc, err := gcppubsub.NewClient(ctx, project, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	c := &Client{gcp: gc, project: project, topics: topics}
	for _, topic := range topics {
		if err := c.checkTopic(ctx, topic); err != nil {
			_ = gc.Close()
			return nil, err
		}
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topics", topics), "pubsub connected")
	}
	return c, nil
}

// configuredTopics is the ledger topic followed by a distinct payout topic.
func configuredTopics(cfg config.PubSubConfig) []string {
	ledger := strings.TrimSpace(cfg.LedgerTopic)
	if ledger == "" {
		return nil
	}
	topics := []string{ledger}
	if payout := strings.TrimSpace(cfg.PayoutTopic); payout != "" && payout != ledger {
		topics = append(topics, payout)
	}
	return topics
}

// clientOptions prefers inline credentials, then a key file, then ADC.
func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	if js := strings.TrimSpace(gcp.CredentialsJSON); js != "" {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(js))}
	}
	if path := strings.TrimSpace(gcp.ApplicationCredentials); path != "" {
		return []option.ClientOption{option.WithCredentialsFile(path)}
	}
	return nil
}

func (c *Client) checkTopic(ctx context.Context, topic string) error {
	name := c.resourceName(topic)
	if name == "" {
		return fmt.Errorf("topic %q cannot be resolved", topic)
	}
	_, err := c.gcp.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("topic %s does not exist", name)
	default:
		return fmt.Errorf("get topic %s: %w", name, err)
	}
}

// Publisher returns nil when topic cannot be resolved.
func (c *Client) Publisher(topic string) *gcppubsub.Publisher {
	if c == nil || c.gcp == nil {
		return nil
	}
	name := c.resourceName(topic)
	if name == "" {
		return nil
	}
	return c.gcp.Publisher(name)
}

// Ping confirms the ledger topic is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.gcp == nil {
		return errors.New("pubsub client is not connected")
	}
	return c.checkTopic(ctx, c.topics[0])
}

func (c *Client) Close() error {
	if c == nil || c.gcp == nil {
		return nil
	}
	return c.gcp.Close()
}

// resourceName accepts a bare topic id or a full projects/.../topics/... name.
func (c *Client) resourceName(topic string) string {
	topic = strings.TrimSpace(topic)
	switch {
	case topic == "":
		return ""
	case strings.HasPrefix(topic, "projects/") && strings.Contains(topic, "/topics/"):
		return topic
	case c == nil || c.project == "":
		return ""
	}
	return "projects/" + c.project + "/topics/" + topic
}
