package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/BassamT/bazar-com/internal/catalog"
	"github.com/redis/go-redis/v9"
)

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: 15 * time.Minute,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r RedisCache) Get(ctx context.Context, itemID int64) (*catalog.ItemInfo, error) {
	key := cacheKey(itemID)

	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var info catalog.ItemInfo
	if e2 := json.Unmarshal(data, &info); e2 != nil {
		return nil, fmt.Errorf("unmarshal item info failed: %w", e2)
	}

	return &info, nil
}

func (r RedisCache) Set(ctx context.Context, itemID int64, info *catalog.ItemInfo) error {
	key := cacheKey(itemID)
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal item info failed: %w", err)
	}

	// jitter spreads expirations so a restock burst cannot stampede the catalog
	jitter := time.Duration(rand.Intn(5)) * time.Minute
	ttl := r.baseTTL + jitter
	if ret := r.client.Set(ctx, key, data, ttl); ret.Err() != nil {
		return fmt.Errorf("redis set failed: %w", ret.Err())
	}
	return nil
}

func (r RedisCache) Delete(ctx context.Context, itemID int64) error {
	if err := r.client.Del(ctx, cacheKey(itemID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(itemID int64) string {
	return fmt.Sprintf("item:%d", itemID)
}
