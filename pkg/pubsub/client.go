package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"github.com/samber/lo"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/ispbox-backend/pkg/config"
	"github.com/angelmondragon/ispbox-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errNoTopics          = errors.New("at least one pubsub topic is required")
)

// Client owns the Pub/Sub connection for the billing event topics. Publisher
// handles are cached per topic and stopped on Close so buffered messages flush.
type Client struct {
	client    *pubsub.Client
	projectID string
	topics    []string
	settings  config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

type Params struct {
	GCP    config.GCPConfig
	Config config.PubSubConfig
	// Topics defaults to the configured billing and network topics.
	Topics []string
	Logger *logger.Logger
}

// NewClient connects to Pub/Sub and verifies every topic exists. With
// CreateTopics set, missing topics are created instead (emulator and dev).
func NewClient(ctx context.Context, p Params) (*Client, error) {
	if strings.TrimSpace(p.GCP.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	topics := p.Topics
	if len(topics) == 0 {
		topics = topicNames(p.Config)
	}
	topics = normalizeTopics(topics)
	if len(topics) == 0 {
		return nil, errNoTopics
	}

	psClient, err := pubsub.NewClient(ctx, p.GCP.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:     psClient,
		projectID:  p.GCP.ProjectID,
		topics:     topics,
		settings:   p.Config,
		publishers: map[string]*pubsub.Publisher{},
	}

	for _, name := range topics {
		if err := c.ensureTopic(ctx, name, p.Config.CreateTopics); err != nil {
			_ = psClient.Close()
			return nil, err
		}
	}

	if p.Logger != nil {
		p.Logger.Info(p.Logger.WithField(ctx, "topics", topics), "pubsub client initialized")
	}
	return c, nil
}

func topicNames(cfg config.PubSubConfig) []string {
	return normalizeTopics([]string{cfg.BillingTopic, cfg.NetworkTopic})
}

func normalizeTopics(names []string) []string {
	trimmed := lo.Map(names, func(n string, _ int) string { return strings.TrimSpace(n) })
	return lo.Uniq(lo.Compact(trimmed))
}

func (c *Client) ensureTopic(ctx context.Context, name string, create bool) error {
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return fmt.Errorf("topic %q not configured", name)
	}

	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: fullName})
	switch {
	case err == nil:
		return nil
	case status.Code(err) != codes.NotFound:
		return fmt.Errorf("checking topic %q: %w", name, err)
	case !create:
		return fmt.Errorf("topic %q does not exist", name)
	}

	_, err = c.client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: fullName})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("creating topic %q: %w", name, err)
	}
	return nil
}

// Publisher returns the cached publisher for a topic id or resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.topicResourceName(name)
	if fullName == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if pub, ok := c.publishers[fullName]; ok {
		return pub
	}
	pub := c.client.Publisher(fullName)
	applyPublishSettings(&pub.PublishSettings, c.settings)
	c.publishers[fullName] = pub
	return pub
}

func applyPublishSettings(s *pubsub.PublishSettings, cfg config.PubSubConfig) {
	if cfg.PublishDelay > 0 {
		s.DelayThreshold = cfg.PublishDelay
	}
	if cfg.PublishCountThreshold > 0 {
		s.CountThreshold = cfg.PublishCountThreshold
	}
	if cfg.PublishTimeout > 0 {
		s.Timeout = cfg.PublishTimeout
	}
}

// Ping checks the first topic is reachable. Publisher health probes call this
// often, so it does not walk every topic.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: c.topicResourceName(c.topics[0])})
	if err != nil {
		return fmt.Errorf("pinging pubsub: %w", err)
	}
	return nil
}

const pingTimeout = 3 * time.Second

// Close flushes cached publishers and releases the client.
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

func (c *Client) topicResourceName(name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/topics/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return "projects/" + p + "/topics/" + n
}
