package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GetCacheData returns (nil, nil) on a cache miss.
func GetCacheData[T any](ctx context.Context, rdb redis.Cmdable, cacheKey string) (*T, error) {
	raw, err := rdb.Get(ctx, cacheKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", cacheKey, err)
	}

	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		// a value we cannot read is as good as absent; drop it
		_ = rdb.Del(ctx, cacheKey).Err()
		return nil, fmt.Errorf("cache decode %s: %w", cacheKey, err)
	}
	return &data, nil
}

func SetCacheData[T any](ctx context.Context, rdb redis.Cmdable, cacheKey string, data *T, expire time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", cacheKey, err)
	}
	return rdb.Set(ctx, cacheKey, raw, expire).Err()
}
