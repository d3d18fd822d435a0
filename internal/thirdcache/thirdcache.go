// Package thirdcache implements a namespace-keyed, idempotent short-term
// cache for opaque external-payload bytes, used by harvester adapters to
// memoise deterministic external GETs between runs. Backed by Redis.
package thirdcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the adapter-facing contract: get(ns, key) -> bytes?,
// set(ns, key, bytes). TTL is configured per namespace; eviction past
// that point is opaque to the core.
type Cache struct {
	client *redis.Client
	ttls   map[string]time.Duration
	defTTL time.Duration
}

// Config is one namespace's TTL entry. An entry with an empty Namespace sets
// the TTL of the empty namespace only; namespaces with no entry use the
// cache's default TTL.
type Config struct {
	Namespace string
	TTL       time.Duration
}

// New builds a Cache over an already-connected redis.Client. defaultTTL
// applies to any namespace not present in namespaceTTLs.
func New(client *redis.Client, defaultTTL time.Duration, namespaceTTLs []Config) *Cache {
	ttls := make(map[string]time.Duration, len(namespaceTTLs))
	for _, c := range namespaceTTLs {
		ttls[c.Namespace] = c.TTL
	}
	return &Cache{client: client, ttls: ttls, defTTL: defaultTTL}
}

func (c *Cache) key(namespace, key string) string {
	return namespace + ":" + key
}

func (c *Cache) ttlFor(namespace string) time.Duration {
	if ttl, ok := c.ttls[namespace]; ok {
		return ttl
	}
	return c.defTTL
}

// Get returns the cached bytes for (namespace, key), or (nil, false) on a
// cache miss (including TTL expiry, which Redis enforces server-side).
func (c *Cache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, c.key(namespace, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("thirdcache get %s/%s: %w", namespace, key, err)
	}
	return v, true, nil
}

// Set stores value under (namespace, key) with the namespace's configured
// TTL (or the cache default when unset). Set is idempotent: setting the
// same (namespace, key, value) twice is a no-op from the caller's
// perspective.
func (c *Cache) Set(ctx context.Context, namespace, key string, value []byte) error {
	if err := c.client.Set(ctx, c.key(namespace, key), value, c.ttlFor(namespace)).Err(); err != nil {
		return fmt.Errorf("thirdcache set %s/%s: %w", namespace, key, err)
	}
	return nil
}
