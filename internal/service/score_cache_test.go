package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"credchain-risk/internal/models"
	"credchain-risk/pkg/redis"
)

func newCachedResult(userID string) *models.CreditScoreResult {
	return &models.CreditScoreResult{
		UserID:     userID,
		Score:      65,
		Scale:      models.ScaleModel,
		Confidence: 0.95,
		Factors:    map[string]float64{models.FactorPaymentHistory: 100},
		ComputedAt: testNow,
	}
}

func TestScoreCacheRedisLayer(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewRedisClient(mr.Addr())
	defer client.Close()
	ctx := context.Background()

	writer := NewScoreCache(client, time.Minute, zap.NewNop())
	defer writer.Close()
	require.NoError(t, writer.Set(ctx, newCachedResult("u1")))
	assert.True(t, mr.Exists("credit:model:u1"))

	// a second instance only shares redis
	reader := NewScoreCache(client, time.Minute, zap.NewNop())
	defer reader.Close()
	got, err := reader.Get(ctx, "u1", models.ScaleModel)
	require.NoError(t, err)
	assert.Equal(t, 65, got.Score)
	assert.Equal(t, 100.0, got.Factors[models.FactorPaymentHistory])

	_, err = reader.Get(ctx, "u1", models.ScalePresentation)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, writer.Invalidate(ctx, "u1"))
	assert.False(t, mr.Exists("credit:model:u1"))
	_, err = writer.Get(ctx, "u1", models.ScaleModel)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestScoreCacheMemoryOnly(t *testing.T) {
	ctx := context.Background()
	cache := NewScoreCache(nil, time.Minute, zap.NewNop())
	defer cache.Close()

	_, err := cache.Get(ctx, "u1", models.ScaleModel)
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, newCachedResult("u1")))
	got, err := cache.Get(ctx, "u1", models.ScaleModel)
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, 1, cache.GetStats()["memory_cache_size"])
}

func TestScoreCacheSkipsDegraded(t *testing.T) {
	ctx := context.Background()
	cache := NewScoreCache(nil, time.Minute, zap.NewNop())
	defer cache.Close()

	degraded := newCachedResult("u2")
	degraded.Degraded = true
	require.NoError(t, cache.Set(ctx, degraded))

	_, err := cache.Get(ctx, "u2", models.ScaleModel)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	mc := NewMemoryCache(time.Millisecond)
	defer mc.Stop()

	mc.Set("k", newCachedResult("u1"))
	time.Sleep(5 * time.Millisecond)

	assert.Nil(t, mc.Get("k"))
}
