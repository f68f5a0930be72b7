package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.ServerHost)
	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, int64(1_000_000), cfg.MaxMessagesPerTopic)
	assert.Equal(t, 86400, cfg.PersistentTierRetention)
	assert.Equal(t, "HS256", cfg.JWTAlgorithm)
	assert.Equal(t, 60, cfg.JWTExpirationMinutes)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, int64(1<<20), cfg.MaxMessageSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("PULSAR_SERVER_PORT", "9090")
	t.Setenv("PULSAR_STORAGE_BACKEND", "store")
	t.Setenv("PULSAR_STORE_HOST", "valkey.internal")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, BackendStore, cfg.StorageBackend)
	assert.Equal(t, "valkey.internal:6379", cfg.StoreAddr())
	// Coordinator follows the storage backend when unset.
	assert.Equal(t, CoordinatorStore, cfg.CoordinatorBackend)
	assert.True(t, cfg.NeedsStore())
}

func TestCoordinatorDefaultsToNoneOnMemory(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, CoordinatorNone, cfg.CoordinatorBackend)
	assert.False(t, cfg.NeedsStore())
}

func TestValidateRejectsUnknownBackends(t *testing.T) {
	t.Setenv("PULSAR_STORAGE_BACKEND", "postgres")
	_, err := Load()
	assert.Error(t, err)
}

func TestValidateRejectsUnknownAlgorithm(t *testing.T) {
	t.Setenv("PULSAR_JWT_ALGORITHM", "RS256")
	_, err := Load()
	assert.Error(t, err)
}

func TestListenAddr(t *testing.T) {
	cfg := Config{ServerHost: "127.0.0.1", ServerPort: 8080}
	assert.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
}
