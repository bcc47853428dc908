// Package cache provides the Redis-backed cache clients.
//
// Redis is never reachable through the reverse proxy: the proxy only
// terminates HTTP, so the cache address is identical in proxied and
// direct deployments and authentication is Redis's own password.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the operations the agent uses.
type Client struct {
	addr string
	rdb  *redis.Client
}

// NewClient creates a client for the Redis server at addr ("host:port"),
// authenticated with password when non-empty.
func NewClient(addr, password string) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	return &Client{addr: addr, rdb: rdb}
}

// Addr returns the resolved server address.
func (c *Client) Addr() string {
	return c.addr
}

// Ping checks liveness; the gateway's connectivity probe.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get returns the value for key, or redis.Nil when absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// Set stores value under key with the given TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes keys.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	return c.rdb.Del(ctx, keys...).Err()
}

// ServerInfo returns the parsed "INFO server" section.
func (c *Client) ServerInfo(ctx context.Context) (map[string]string, error) {
	raw, err := c.rdb.Info(ctx, "server").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch server info: %w", err)
	}
	return ParseInfo(raw), nil
}

// Close releases the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsAuthError reports whether err is the server rejecting the password.
// Redis signals this in-band with WRONGPASS (auth enabled, bad password)
// or NOAUTH (auth enabled, none supplied).
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.HasPrefix(msg, "WRONGPASS") || strings.HasPrefix(msg, "NOAUTH")
}

// ParseInfo parses the INFO command's "key:value" line format, skipping
// comments and blank lines.
func ParseInfo(raw string) map[string]string {
	info := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		info[key] = value
	}
	return info
}
