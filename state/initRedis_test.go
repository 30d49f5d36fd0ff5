package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xenn00/room-sync/config"
)

func TestInitRedis_Success(t *testing.T) {
	mockRedis := miniredis.RunT(t)

	client, err := InitRedis(config.RedisSection{Addr: mockRedis.Addr()})
	require.NoError(t, err)
	require.NotNil(t, client)
	defer client.Close()

	assert.NoError(t, client.Ping(context.Background()).Err())
}

func TestInitRedis_EmptyAddressDisablesRedis(t *testing.T) {
	client, err := InitRedis(config.RedisSection{})
	assert.NoError(t, err)
	assert.Nil(t, client)
}

func TestInitRedis_WithPassword(t *testing.T) {
	mockRedis := miniredis.RunT(t)
	mockRedis.RequireAuth("testpassword")

	client, err := InitRedis(config.RedisSection{Addr: mockRedis.Addr(), Password: "testpassword"})
	require.NoError(t, err)
	require.NotNil(t, client)
	client.Close()
}

func TestInitRedis_WithWrongPassword(t *testing.T) {
	mockRedis := miniredis.RunT(t)
	mockRedis.RequireAuth("correctPassword")

	client, err := InitRedis(config.RedisSection{Addr: mockRedis.Addr(), Password: "wrongpassword"})
	assert.Error(t, err)
	assert.Nil(t, client)
	assert.Contains(t, err.Error(), "failed to connect to Redis")
}

func TestInitRedis_Unreachable(t *testing.T) {
	client, err := InitRedis(config.RedisSection{Addr: "127.0.0.1:16379"})
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestInitRedis_SelectsDB(t *testing.T) {
	mockRedis := miniredis.RunT(t)

	client, err := InitRedis(config.RedisSection{Addr: mockRedis.Addr(), DB: 5})
	require.NoError(t, err)
	defer client.Close()

	ctx := context.Background()
	require.NoError(t, client.Set(ctx, "testkey", "testvalue", time.Minute).Err())

	mockRedis.Select(5)
	got, err := mockRedis.Get("testkey")
	require.NoError(t, err)
	assert.Equal(t, "testvalue", got)
}
