package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUserConfig_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	userConfig, err := loadUserConfig(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)

	assert.True(t, userConfig.SyncEnabled)
	assert.Equal(t, 60, userConfig.SyncIntervalMinutes)
	assert.True(t, userConfig.SyncLibrary)
	assert.True(t, userConfig.SyncPayloadFiles)
	assert.True(t, userConfig.SyncReadingProgress)
}

func TestLoadUserConfig_PartialFileKeepsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(path, []byte(`{"sync_library":false}`), 0600)
	require.NoError(t, err)

	userConfig, err := loadUserConfig(path)
	require.NoError(t, err)

	assert.False(t, userConfig.SyncLibrary)
	// Unspecified fields keep their defaults.
	assert.True(t, userConfig.SyncEnabled)
	assert.Equal(t, 60, userConfig.SyncIntervalMinutes)
}

func TestLoadUserConfig_MalformedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(path, []byte(`{not json`), 0600)
	require.NoError(t, err)

	_, err = loadUserConfig(path)
	require.Error(t, err)
}

func TestServiceUpdateUserConfig_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := &Config{
		UserConfig:         loadDefaultUserConfig(),
		UserConfigFilePath: path,
	}
	svc := NewService(cfg)

	userConfig, err := svc.RetrieveUserConfig()
	require.NoError(t, err)

	userConfig.SyncEnabled = false
	userConfig.SyncIntervalMinutes = 15
	err = svc.UpdateUserConfig(userConfig, UpdateUserConfigOptions{UpdateFile: true})
	require.NoError(t, err)

	reloaded, err := loadUserConfig(path)
	require.NoError(t, err)
	assert.False(t, reloaded.SyncEnabled)
	assert.Equal(t, 15, reloaded.SyncIntervalMinutes)
}

func TestServiceUpdateUserConfig_NoFileUpdateIsNoop(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := &Config{
		UserConfig:         loadDefaultUserConfig(),
		UserConfigFilePath: path,
	}
	svc := NewService(cfg)

	err := svc.UpdateUserConfig(cfg.UserConfig, UpdateUserConfigOptions{})
	require.NoError(t, err)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
