// Package redis backs the quote cache, the order-path rate limiter, and the
// single-instance lock with go-redis/v9. Every key the package writes lives
// under the "cryptum:" prefix so one Redis database can be shared with other
// tooling.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// keyPrefix namespaces every key this package touches.
const keyPrefix = "cryptum:"

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps the driver connection shared by the cache, limiter, and lock
// manager. The engine runs without Redis entirely when the operator disables
// it, so constructing a Client is the only place connectivity is mandatory.
type Client struct {
	rdb *redis.Client
}

// New connects and verifies the connection with a ping. TLS is opt-in for
// managed Redis offerings that require it.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: "cryptum",
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for the cache, limiter, and lock
// implementations in this package.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
