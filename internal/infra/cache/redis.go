// Package cache keeps computed embeddings in Redis so repeated texts skip the
// provider.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultKeyPrefix namespaces every cache key.
const DefaultKeyPrefix = "obra:emb"

// Option configures a VectorCache.
type Option func(*VectorCache)

// WithKeyPrefix replaces DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(c *VectorCache) { c.prefix = prefix }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *VectorCache) { c.log = l.With().Str("component", "cache.vectors").Logger() }
}

// VectorCache stores embedding vectors as JSON under a key derived from the model
// and a SHA-256 of the text. Errors are logged and treated as misses.
type VectorCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewVectorCache wraps client. A ttl of 0 keeps entries forever.
func NewVectorCache(client redis.UniversalClient, ttl time.Duration, opts ...Option) *VectorCache {
	c := &VectorCache{client: client, ttl: ttl, prefix: DefaultKeyPrefix, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect opens a client to addr and pings it.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping %s: %w", addr, err)
	}
	return client, nil
}

// Key returns the cache key for model and text.
func (c *VectorCache) Key(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return c.prefix + ":" + model + ":" + hex.EncodeToString(sum[:])
}

// Get returns the cached vector, if any.
func (c *VectorCache) Get(ctx context.Context, model, text string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.Key(model, text)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.log.Warn().Err(err).Str("model", model).Msg("vector cache read failed")
		return nil, false
	}

	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil {
		c.log.Warn().Err(err).Str("model", model).Msg("vector cache entry is corrupt")
		return nil, false
	}
	return vec, true
}

// Set stores vector.
func (c *VectorCache) Set(ctx context.Context, model, text string, vector []float32) {
	raw, err := json.Marshal(vector)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.Key(model, text), raw, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("model", model).Msg("vector cache write failed")
	}
}
