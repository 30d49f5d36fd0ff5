package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "memory", cfg.Bridge.Mode)
	assert.Equal(t, 5*time.Minute, cfg.Sync.FrameGap)
	assert.Equal(t, time.Hour, cfg.Sync.CollectionGap)
	assert.Equal(t, 50, cfg.Thresholds().Moderator)
	assert.Equal(t, 100, cfg.Thresholds().Admin)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	tempDir := t.TempDir()
	yaml := `
app:
  name: test-sync
  port: ":9999"
bridge:
  mode: websocket
  url: ws://localhost:9000/bridge
  user_id: "@alice:local"
sync:
  frame_gap: 2m
`
	err := os.WriteFile(filepath.Join(tempDir, "application.yaml"), []byte(yaml), 0644)
	require.NoError(t, err, "Failed to write test config")

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(originalDir)
	require.NoError(t, os.Chdir(tempDir))

	t.Setenv("ROOMSYNC_SYNC_MODERATOR_LEVEL", "40")

	require.NoError(t, LoadConfig())
	require.NotNil(t, Conf)

	assert.Equal(t, "test-sync", Conf.App.Name)
	assert.Equal(t, "websocket", Conf.Bridge.Mode)
	assert.Equal(t, "@alice:local", Conf.Bridge.UserID)
	assert.Equal(t, 2*time.Minute, Conf.GroupingOptions().FrameGap)
	assert.Equal(t, 40, Conf.Sync.ModeratorLevel, "env should override file and defaults")
}

func TestLoadConfig_RejectsInvalid(t *testing.T) {
	tempDir := t.TempDir()
	yaml := `
bridge:
  mode: websocket
`
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "application.yaml"), []byte(yaml), 0644))

	originalDir, err := os.Getwd()
	require.NoError(t, err)
	defer os.Chdir(originalDir)
	require.NoError(t, os.Chdir(tempDir))

	err = LoadConfig()
	assert.Error(t, err, "websocket mode without a url must be rejected")
	assert.Contains(t, err.Error(), "invalid config")
}
