package events

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on Redis pub/sub channels named after the topic.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink connects to url (redis://host:port/db) and verifies the
// connection with PING.
func NewRedisSink(url string) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisSink{client: client}, nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

// Name returns "redis".
func (s *RedisSink) Name() string { return BackendRedis }

// Write publishes payload on the topic channel. The key is carried inside
// the payload, pub/sub has no message key.
func (s *RedisSink) Write(ctx context.Context, topic, _ string, payload []byte) error {
	return s.client.Publish(ctx, topic, payload).Err()
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
