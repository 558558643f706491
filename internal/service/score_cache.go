// internal/service/score_cache.go
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"credchain-risk/internal/models"
	"credchain-risk/pkg/redis"
)

// ErrCacheMiss is returned by ScoreCache.Get when no fresh entry exists.
var ErrCacheMiss = errors.New("cache miss")

// ScoreCache caches credit results in memory and, when configured, in Redis.
// Only fully computed results are cached; degraded ones are recomputed.
type ScoreCache struct {
	redis    *redis.Client
	logger   *zap.Logger
	memCache *MemoryCache
	ttl      time.Duration
}

// MemoryCache provides in-memory caching for ultra-fast lookups
type MemoryCache struct {
	mu     sync.RWMutex
	data   map[string]*CacheEntry
	maxAge time.Duration
	done   chan struct{}
	once   sync.Once
}

type CacheEntry struct {
	Result   *models.CreditScoreResult
	CachedAt time.Time
}

// NewScoreCache creates a cache. redisClient may be nil for memory only.
func NewScoreCache(redisClient *redis.Client, ttl time.Duration, logger *zap.Logger) *ScoreCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ScoreCache{
		redis:    redisClient,
		logger:   logger,
		memCache: NewMemoryCache(ttl),
		ttl:      ttl,
	}
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(maxAge time.Duration) *MemoryCache {
	cache := &MemoryCache{
		data:   make(map[string]*CacheEntry),
		maxAge: maxAge,
		done:   make(chan struct{}),
	}

	// Start cleanup goroutine
	go cache.cleanup()

	return cache
}

// Get retrieves a result from cache (checks memory first, then Redis)
func (sc *ScoreCache) Get(ctx context.Context, userID string, scale models.ScoreScale) (*models.CreditScoreResult, error) {
	key := sc.cacheKey(userID, scale)

	if result := sc.memCache.Get(key); result != nil {
		sc.logger.Debug("cache hit (memory)", zap.String("user_id", userID))
		return result, nil
	}

	if sc.redis == nil {
		return nil, ErrCacheMiss
	}

	data, err := sc.redis.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, redis.ErrNotFound) {
			sc.logger.Warn("redis cache read failed", zap.Error(err), zap.String("key", key))
		}
		return nil, ErrCacheMiss
	}

	var result models.CreditScoreResult
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		sc.logger.Warn("discarding undecodable cache entry", zap.Error(err), zap.String("key", key))
		return nil, ErrCacheMiss
	}

	sc.logger.Debug("cache hit (redis)", zap.String("user_id", userID))
	sc.memCache.Set(key, &result)
	return &result, nil
}

// Set stores a result in both memory and Redis cache
func (sc *ScoreCache) Set(ctx context.Context, result *models.CreditScoreResult) error {
	if result == nil || result.Degraded {
		return nil
	}
	key := sc.cacheKey(result.UserID, result.Scale)

	sc.memCache.Set(key, result)

	if sc.redis == nil {
		return nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal credit result: %w", err)
	}

	if err := sc.redis.Set(ctx, key, data, sc.ttl); err != nil {
		sc.logger.Error("failed to cache credit result in redis",
			zap.Error(err),
			zap.String("key", key))
		return err
	}
	return nil
}

// Invalidate removes every cached scale of a user
func (sc *ScoreCache) Invalidate(ctx context.Context, userID string) error {
	for _, scale := range []models.ScoreScale{models.ScalePresentation, models.ScaleModel} {
		key := sc.cacheKey(userID, scale)
		sc.memCache.Delete(key)
		if sc.redis != nil {
			if err := sc.redis.Delete(ctx, key); err != nil {
				return fmt.Errorf("failed to invalidate %s: %w", key, err)
			}
		}
	}
	sc.logger.Info("credit score cache invalidated", zap.String("user_id", userID))
	return nil
}

// GetStats returns cache statistics
func (sc *ScoreCache) GetStats() map[string]interface{} {
	sc.memCache.mu.RLock()
	defer sc.memCache.mu.RUnlock()

	return map[string]interface{}{
		"memory_cache_size": len(sc.memCache.data),
		"ttl":               sc.ttl.String(),
		"redis_enabled":     sc.redis != nil,
	}
}

// Close stops the cleanup goroutine
func (sc *ScoreCache) Close() {
	sc.memCache.Stop()
}

func (sc *ScoreCache) cacheKey(userID string, scale models.ScoreScale) string {
	return fmt.Sprintf("credit:%s:%s", scale, strings.TrimSpace(userID))
}

// MemoryCache methods

func (mc *MemoryCache) Get(key string) *models.CreditScoreResult {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	entry, exists := mc.data[key]
	if !exists {
		return nil
	}

	if time.Since(entry.CachedAt) > mc.maxAge {
		return nil
	}

	return entry.Result
}

func (mc *MemoryCache) Set(key string, result *models.CreditScoreResult) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.data[key] = &CacheEntry{
		Result:   result,
		CachedAt: time.Now(),
	}
}

func (mc *MemoryCache) Delete(key string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.data, key)
}

func (mc *MemoryCache) Stop() {
	mc.once.Do(func() { close(mc.done) })
}

// cleanup periodically removes expired entries
func (mc *MemoryCache) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-mc.done:
			return
		case <-ticker.C:
		}

		mc.mu.Lock()
		now := time.Now()
		for key, entry := range mc.data {
			if now.Sub(entry.CachedAt) > mc.maxAge {
				delete(mc.data, key)
			}
		}
		mc.mu.Unlock()
	}
}
