package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"LOG_LEVEL", "DEVICE_ID", "PEER_URL", "STORAGE_BACKEND", "STORAGE_PATH", "PROFILE_DIR"} {
		t.Setenv(key, "")
	}

	cfg := Load()
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "wearsync-dev", cfg.DeviceID)
	assert.Equal(t, "sqlite", cfg.StorageBackend)
	assert.Equal(t, "wearsync.db", cfg.StoragePath)
	assert.Empty(t, cfg.PeerURL, "no peer means loopback mode")
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DEVICE_ID", "watch-42")
	t.Setenv("PEER_URL", "http://bridge.local:8080")
	t.Setenv("STORAGE_BACKEND", "redis")
	t.Setenv("REDIS_ADDR", "bridge.local:6379")

	cfg := Load()
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "watch-42", cfg.DeviceID)
	assert.Equal(t, "http://bridge.local:8080", cfg.PeerURL)
	assert.Equal(t, "redis", cfg.StorageBackend)
	assert.Equal(t, "bridge.local:6379", cfg.RedisAddr)
}

func TestLoadProfileFromYAML(t *testing.T) {
	dir := t.TempDir()
	payload := []byte(`name: trail
sync_interval_ms: 120000
backoff_base_ms: 1000
heart_rate_staleness_ms: 45000
sensor_rate_limit: 5.5
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_trail.yaml"), payload, 0o644))

	p, err := LoadProfile(dir, "TRAIL") // lookup is case-insensitive
	require.NoError(t, err)

	assert.Equal(t, "trail", p.Name)
	assert.Equal(t, 2*time.Minute, p.SyncInterval())
	assert.Equal(t, time.Second, p.BackoffBase())
	assert.Equal(t, 45*time.Second, p.HeartRateStaleness())
	assert.Equal(t, 5.5, p.SensorRateLimit)

	// Fields absent from the file keep their defaults.
	assert.Equal(t, 30*time.Second, p.BackoffMax())
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, 20, p.SensorRateBurst)
}

func TestLoadProfileMissingFile(t *testing.T) {
	_, err := LoadProfile(t.TempDir(), "ghost")
	require.Error(t, err)
}

func TestLoadProfileMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "profile_bad.yaml"), []byte("{{nope"), 0o644))

	_, err := LoadProfile(dir, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse profile")
}

func TestLoadProfileOrDefaultFallsBack(t *testing.T) {
	p := LoadProfileOrDefault(t.TempDir(), "missing")
	assert.Equal(t, "watch", p.Name)
	assert.Equal(t, time.Minute, p.SyncInterval())
}
