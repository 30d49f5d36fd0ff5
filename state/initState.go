package state

import (
	"context"
	"crypto/rsa"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/config"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/bridge/memory"
)

type JwtSecret struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

type AppState struct {
	Ctx    context.Context
	Cancel context.CancelFunc
	Conf   *config.AppConfig
	// Redis is nil when no address is configured.
	Redis  *redis.Client
	Bridge bridge.Client
	// Memory is the in-process homeserver behind Bridge in memory mode.
	Memory    *memory.Server
	JwtSecret *JwtSecret
	Registry  *prometheus.Registry
}

func InitAppState(ctx context.Context, cancel context.CancelFunc, conf *config.AppConfig) (*AppState, error) {
	jwtSecret, err := InitSecret(conf.Auth.PublicKey, conf.Auth.PrivateKey)
	if err != nil {
		return nil, err
	}

	rdb, err := InitRedis(conf.Redis)
	if err != nil {
		return nil, err
	}

	client, server, err := InitBridge(ctx, conf, jwtSecret)
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &AppState{
		Ctx:       ctx,
		Cancel:    cancel,
		Conf:      conf,
		Redis:     rdb,
		Bridge:    client,
		Memory:    server,
		JwtSecret: jwtSecret,
		Registry:  registry,
	}, nil
}

func (a *AppState) Close() {
	if a.Bridge != nil {
		log.Info().Msg("Closing bridge client...")
		if err := a.Bridge.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close bridge client")
		}
	}

	if a.Redis != nil {
		log.Info().Msg("Closing Redis client...")
		if err := a.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close Redis client")
		}
	}
}
