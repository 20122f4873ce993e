package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/obra/internal/domain/knowledge"
)

var _ knowledge.VectorCache = (*VectorCache)(nil)

func newTestCache(t *testing.T, ttl time.Duration) (*VectorCache, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewVectorCache(client, ttl), mini
}

func TestVectorCache_SetGet(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t, time.Hour)
	ctx := context.Background()

	_, ok := c.Get(ctx, "nomic-embed-text", "portland cement")
	assert.False(t, ok)

	c.Set(ctx, "nomic-embed-text", "portland cement", []float32{0.25, -0.5, 1})
	got, ok := c.Get(ctx, "nomic-embed-text", "portland cement")
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, -0.5, 1}, got)

	_, ok = c.Get(ctx, "other-model", "portland cement")
	assert.False(t, ok, "keys are per model")
}

func TestVectorCache_TTL(t *testing.T) {
	t.Parallel()

	c, mini := newTestCache(t, time.Minute)
	ctx := context.Background()
	c.Set(ctx, "m", "rebar", []float32{1})

	assert.Equal(t, time.Minute, mini.TTL(c.Key("m", "rebar")))
	mini.FastForward(2 * time.Minute)
	_, ok := c.Get(ctx, "m", "rebar")
	assert.False(t, ok)
}

func TestVectorCache_CorruptEntryIsMiss(t *testing.T) {
	t.Parallel()

	c, mini := newTestCache(t, 0)
	require.NoError(t, mini.Set(c.Key("m", "sand"), "not json"))

	_, ok := c.Get(context.Background(), "m", "sand")
	assert.False(t, ok)
}

func TestVectorCache_ServerDownIsMiss(t *testing.T) {
	t.Parallel()

	c, mini := newTestCache(t, 0)
	mini.Close()

	ctx := context.Background()
	c.Set(ctx, "m", "gravel", []float32{1})
	_, ok := c.Get(ctx, "m", "gravel")
	assert.False(t, ok)
}

func TestVectorCache_KeyPrefix(t *testing.T) {
	t.Parallel()

	mini := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewVectorCache(client, 0, WithKeyPrefix("test"))

	assert.Regexp(t, `^test:m:[0-9a-f]{64}$`, c.Key("m", "lime"))
}

func TestConnect(t *testing.T) {
	t.Parallel()

	mini := miniredis.RunT(t)
	client, err := Connect(context.Background(), mini.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mini.Close()
	_, err = Connect(context.Background(), mini.Addr())
	assert.Error(t, err)
}
