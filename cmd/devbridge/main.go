package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/config"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/bridge/memory"
	"github.com/xenn00/room-sync/internal/entity"
	"github.com/xenn00/room-sync/internal/routers"
	"github.com/xenn00/room-sync/internal/websocket"
	"github.com/xenn00/room-sync/state"
	"maunium.net/go/mautrix/id"
)

// devbridge serves an in-memory homeserver over the websocket bridge
// protocol, so several engines can share rooms during development.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	conf := config.Conf

	secret, err := state.InitSecret(conf.Auth.PublicKey, conf.Auth.PrivateKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load keys")
	}

	server := memory.NewServer(memory.WithThresholds(conf.Thresholds()))
	lobby := server.CreateRoom(id.UserID(conf.Bridge.UserID), memory.RoomSpec{
		Name:       "lobby",
		Kind:       entity.RoomKindGroup,
		Visibility: entity.VisibilityPublic,
	})
	log.Info().Str("roomID", string(lobby)).Msg("lobby created")

	wsHub := websocket.NewHub(func(userID id.UserID) bridge.Client {
		return server.Connect(userID)
	})
	defer wsHub.Close()

	wsHandler := websocket.NewWebSocketHandler(wsHub, websocket.JWTWebSocketAuth(secret.Public))
	wsHandler.MaxConnections = 10000
	wsHandler.RateLimit.ConnectionsPerIP = 20
	log.Info().Msg("Websocket handler initialized")

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	httpServer := &http.Server{
		Addr:        conf.App.Port,
		Handler:     routers.NewBridgeRouter(wsHub, wsHandler, secret.Public, secret.Private, registry),
		ReadTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Msgf("Starting bridge on ws://localhost%s/bridge", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ListenAndServe failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutdown initiated...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
