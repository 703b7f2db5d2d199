package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoad_PartialFileIsNormalized(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "timezone: America/New_York\n" +
		"cache:\n" +
		"  window_ttl: 2m\n" +
		"business_hours:\n" +
		"  saturday: {open: \"10:00\", close: \"14:00\"}\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, 2*time.Minute, cfg.Cache.WindowTTL)
	assert.Equal(t, time.Hour, cfg.Cache.AllTTL)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "10:00", cfg.HoursFor(time.Saturday).Open)
	assert.Empty(t, cfg.HoursFor(time.Monday).Open)
}

func TestLoad_SecretsFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("BIZCAL_ICLOUD_USERNAME", "studio@example.com")
	t.Setenv("BIZCAL_ICLOUD_PASSWORD", "app-specific")
	t.Setenv("BIZCAL_REDIS_ADDR", "redis:6379")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "studio@example.com", cfg.ICloud.Username)
	assert.Equal(t, "app-specific", cfg.ICloud.Password)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)

	// Secrets are never persisted.
	require.NoError(t, Save(path, cfg))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "app-specific")
}

func TestHoursBounds(t *testing.T) {
	open, closeAt, ok, err := Hours{Open: "09:00", Close: "17:30"}.Bounds()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 9*time.Hour, open)
	assert.Equal(t, 17*time.Hour+30*time.Minute, closeAt)

	_, _, ok, err = Hours{}.Bounds()
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, _, err = Hours{Open: "17:00", Close: "09:00"}.Bounds()
	assert.Error(t, err)
}
