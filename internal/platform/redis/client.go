// Package redis connects the optional Redis backend shared by the
// availability cache and the rate limiter.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"

	"boxoffice/internal/platform/config"
)

// ErrDisabled is returned by New when no Redis URL is configured.
var ErrDisabled = errors.New("redis disabled")

const defaultConnectBudget = 5 * time.Second

// Client is a connected go-redis client.
type Client struct {
	*redis.Client
}

// New parses cfg.URL, applies pool settings and pings until the server
// answers or the dial budget runs out. Redis is often still starting when the
// API boots, so the first ping is retried with exponential backoff.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, ErrDisabled
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.MinIdleConns = cfg.MinIdleConns
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	client := redis.NewClient(opts)
	if err := ping(ctx, client, cfg.DialTimeout); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Client{Client: client}, nil
}

func ping(ctx context.Context, client *redis.Client, budget time.Duration) error {
	if budget <= 0 {
		budget = defaultConnectBudget
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = budget

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return client.Ping(ctx).Err()
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("redis ping failed after %d attempts: %w", attempts, err)
	}
	return nil
}

// Health is a readiness check for the /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
