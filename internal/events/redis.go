package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures the Redis Streams event backend.
type RedisConfig struct {
	Addr         string
	Username     string
	Password     string
	Stream       string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisPublisher appends status events to a Redis stream via XADD. The
// caller is responsible for ensuring the Redis instance is reachable.
func NewRedisPublisher(cfg RedisConfig) (Publisher, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr is required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "camcast:sessions"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return &redisPublisher{client: client, stream: stream}, nil
}

type redisPublisher struct {
	client *redis.Client
	stream string
}

func (p *redisPublisher) Publish(ctx context.Context, event StatusEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = p.client.Do(ctx, "XADD", p.stream, "*", "payload", string(payload)).Result()
	return err
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}
