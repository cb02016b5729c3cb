package ratelimit

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/telemetry/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) *redis.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTokenBucketDeniesAfterBurst(t *testing.T) {
	bucket := NewTokenBucket(newClient(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := bucket.Allow(ctx, "k", 0.001, 3)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "request %d", i)
	}
	res, err := bucket.Allow(ctx, "k", 0.001, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Positive(t, res.RetryAfter)
}

func TestTokenBucketValidatesArguments(t *testing.T) {
	bucket := NewTokenBucket(newClient(t))
	_, err := bucket.Allow(context.Background(), "", 1, 1)
	assert.Error(t, err)
	_, err = bucket.Allow(context.Background(), "k", 0, 1)
	assert.Error(t, err)

	var nilBucket *TokenBucket
	_, err = nilBucket.Allow(context.Background(), "k", 1, 1)
	assert.Error(t, err)
}

func TestIngestLimiterDisabled(t *testing.T) {
	limiter, err := NewIngestLimiter(Params{Config: config.Config{}})
	require.NoError(t, err)
	assert.Nil(t, limiter)

	decision, err := limiter.Allow(context.Background(), "p1", "cpu")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestIngestLimiterRequiresRedis(t *testing.T) {
	_, err := NewIngestLimiter(Params{Config: config.Config{RateLimit: config.RateLimitConfig{Enabled: true}}})
	assert.Error(t, err)
}

func TestIngestLimiterProjectBucket(t *testing.T) {
	limiter, err := NewIngestLimiter(Params{
		Config: config.Config{RateLimit: config.RateLimitConfig{
			Enabled:             true,
			IngestProjectRate:   0.001,
			IngestProjectBurst:  1,
			IngestEndpointRate:  100,
			IngestEndpointBurst: 100,
		}},
		Redis: newClient(t),
	})
	require.NoError(t, err)

	decision, err := limiter.Allow(context.Background(), "p1", "cpu")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = limiter.Allow(context.Background(), "p1", "cpu")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonProject, decision.Reason)

	decision, err = limiter.Allow(context.Background(), "p2", "cpu")
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}
