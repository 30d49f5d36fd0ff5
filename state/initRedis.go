package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/config"
)

// InitRedis connects the shared reply cache and job queue. An empty address
// means the engine runs without Redis and a nil client is returned.
func InitRedis(conf config.RedisSection) (*redis.Client, error) {
	if conf.Addr == "" {
		log.Info().Msg("redis address not set, running without shared cache and job queue")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         conf.Addr,
		Password:     conf.Password,
		DB:           conf.DB,
		PoolSize:     20,
		MaxIdleConns: 5,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		log.Error().Err(err).Str("addr", conf.Addr).Msg("failed to connect to Redis")
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", conf.Addr).Msg("Redis connection established successfully")
	return rdb, nil
}
