package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/room-sync/config"
	"github.com/xenn00/room-sync/internal/entity"
)

func TestInitBridge_MemorySeedsLobby(t *testing.T) {
	conf := config.Default()
	conf.Bridge.UserID = "@me:local"

	client, server, err := InitBridge(context.Background(), conf, nil)
	require.NoError(t, err)
	require.NotNil(t, server)
	defer client.Close()

	sub, err := client.SubscribeRooms(context.Background())
	require.NoError(t, err)
	defer sub.Close()

	select {
	case room := <-sub.C():
		assert.Equal(t, "lobby", room.Name)
		assert.Equal(t, entity.VisibilityPublic, room.Visibility)
		assert.Equal(t, conf.Sync.AdminLevel, room.PowerLevel, "the creator administers the lobby")
	case <-time.After(time.Second):
		t.Fatal("no room snapshot delivered")
	}
}

func TestInitBridge_Errors(t *testing.T) {
	conf := config.Default()
	conf.Bridge.UserID = "not-a-user"
	_, _, err := InitBridge(context.Background(), conf, nil)
	assert.Error(t, err)

	conf = config.Default()
	conf.Bridge.Mode = "websocket"
	conf.Bridge.URL = "ws://127.0.0.1:1/bridge"
	_, _, err = InitBridge(context.Background(), conf, &JwtSecret{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key")

	conf = config.Default()
	conf.Bridge.Mode = "carrier-pigeon"
	_, _, err = InitBridge(context.Background(), conf, nil)
	assert.Error(t, err)
}
