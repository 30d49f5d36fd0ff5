package state

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xenn00/room-sync/config"
	"github.com/xenn00/room-sync/internal/bridge"
	"github.com/xenn00/room-sync/internal/bridge/memory"
	"github.com/xenn00/room-sync/internal/bridge/wsbridge"
	"github.com/xenn00/room-sync/internal/entity"
	"github.com/xenn00/room-sync/internal/utils"
	"maunium.net/go/mautrix/id"
)

const bridgeTokenTTL = 24 * time.Hour

// InitBridge connects the configured bridge. In memory mode it also returns
// the homeserver, seeded with a public lobby the user has joined.
func InitBridge(ctx context.Context, conf *config.AppConfig, secret *JwtSecret) (bridge.Client, *memory.Server, error) {
	userID := id.UserID(conf.Bridge.UserID)
	if _, _, err := userID.Parse(); err != nil {
		return nil, nil, fmt.Errorf("bridge user id %q: %w", userID, err)
	}

	switch conf.Bridge.Mode {
	case "memory":
		server := memory.NewServer(memory.WithThresholds(conf.Thresholds()))
		server.CreateRoom(userID, memory.RoomSpec{
			Name:       "lobby",
			Kind:       entity.RoomKindGroup,
			Visibility: entity.VisibilityPublic,
		})
		log.Info().Str("userID", string(userID)).Msg("memory bridge ready")
		return server.Connect(userID), server, nil

	case "websocket":
		token := conf.Bridge.Token
		if token == "" {
			if secret == nil || secret.Private == nil {
				return nil, nil, fmt.Errorf("bridge token is not set and no private key is available to issue one")
			}
			issued, err := utils.IssueToken(string(userID), userID.Localpart(), bridgeTokenTTL, secret.Private)
			if err != nil {
				return nil, nil, fmt.Errorf("issue bridge token: %w", err)
			}
			token = issued
		}

		client, err := wsbridge.Dial(ctx, wsbridge.Options{
			URL:            conf.Bridge.URL,
			Token:          token,
			DialTimeout:    conf.Bridge.DialTimeout,
			RequestTimeout: conf.Bridge.RequestTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("dial bridge: %w", err)
		}
		if client.UserID() != userID {
			log.Warn().Str("configured", string(userID)).Str("bridge", string(client.UserID())).Msg("bridge session belongs to another user")
		}
		log.Info().Str("url", conf.Bridge.URL).Str("userID", string(client.UserID())).Msg("websocket bridge connected")
		return client, nil, nil

	default:
		return nil, nil, fmt.Errorf("unknown bridge mode %q", conf.Bridge.Mode)
	}
}
