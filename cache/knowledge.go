package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultKnowledgeTTL is applied when a KnowledgeCache is built without
// an explicit TTL.
const DefaultKnowledgeTTL = time.Hour

// ErrMiss is returned by KnowledgeCache.Get when the key is absent or
// expired.
var ErrMiss = errors.New("cache miss")

// KnowledgeCache caches retrieval results and other JSON-encodable
// values under a namespaced key scheme:
//
//	{prefix}:{key}
type KnowledgeCache struct {
	client *Client
	prefix string
	ttl    time.Duration
}

// NewKnowledgeCache creates a namespaced cache over client. ttl <= 0
// selects DefaultKnowledgeTTL.
func NewKnowledgeCache(client *Client, prefix string, ttl time.Duration) *KnowledgeCache {
	if prefix == "" {
		prefix = "knowledge"
	}
	if ttl <= 0 {
		ttl = DefaultKnowledgeTTL
	}
	return &KnowledgeCache{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the namespaced Redis key for key.
func (k *KnowledgeCache) Key(key string) string {
	return k.prefix + ":" + key
}

// Get unmarshals the cached value for key into out. Returns ErrMiss when
// absent.
func (k *KnowledgeCache) Get(ctx context.Context, key string, out any) error {
	raw, err := k.client.Get(ctx, k.Key(key))
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("failed to decode cached value: %w", err)
	}
	return nil
}

// Set stores value under key with the cache's TTL.
func (k *KnowledgeCache) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value: %w", err)
	}
	return k.client.Set(ctx, k.Key(key), string(raw), k.ttl)
}

// Invalidate removes the cached value for key.
func (k *KnowledgeCache) Invalidate(ctx context.Context, key string) error {
	return k.client.Delete(ctx, k.Key(key))
}
