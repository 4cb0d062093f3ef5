// Package redis publishes incident transitions to a Redis pub/sub channel.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bissquit/status-dashboard/internal/notifications"
	goredis "github.com/redis/go-redis/v9"
)

// Config contains publisher settings.
type Config struct {
	URL     string
	Channel string
}

// Publisher sends JSON messages with PUBLISH.
type Publisher struct {
	client  goredis.UniversalClient
	channel string
}

// NewPublisher connects to Redis and verifies the connection.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	opt, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewPublisherWithClient(client, cfg.Channel), nil
}

// NewPublisherWithClient wraps an existing client.
func NewPublisherWithClient(client goredis.UniversalClient, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// Name implements notifications.Publisher.
func (p *Publisher) Name() string { return "redis" }

// Publish implements notifications.Publisher.
func (p *Publisher) Publish(ctx context.Context, msg notifications.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Publisher) Close() error {
	return p.client.Close()
}
