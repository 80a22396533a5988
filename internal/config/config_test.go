package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	t.Setenv("RECONCILER_CONFIG", "")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.Equal(t, "8080", cfg.HTTP.Port)
	assert.Equal(t, "pgx", cfg.Database.Driver)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.NotSentPeriod)
	assert.Equal(t, time.Minute, cfg.Cron.ScheduleDelay)
	assert.Equal(t, 5*time.Minute, cfg.Cron.HangTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Cron.Retention)
	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 10, cfg.RateLimit.Capacity)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("RECONCILER_CONFIG", "")
	t.Setenv("RECONCILER_DATABASE_DRIVER", "sqlite3")
	t.Setenv("RECONCILER_DATABASE_DSN", "file:reconciler.db")
	t.Setenv("RECONCILER_SPACE_ID", "405")
	t.Setenv("RECONCILER_CRON_SCHEDULE_DELAY", "30s")
	t.Setenv("RECONCILER_LOG_JSON", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "file:reconciler.db", cfg.Database.DSN)
	assert.Equal(t, int64(405), cfg.Space.ID)
	assert.Equal(t, 30*time.Second, cfg.Cron.ScheduleDelay)
	assert.True(t, cfg.Log.JSON)
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reconciler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateway:
  base_url: https://gateway.example
  user_id: "512"
jobs:
  not_sent_period: 15m
`), 0o600))
	t.Setenv("RECONCILER_CONFIG", path)
	t.Setenv("RECONCILER_GATEWAY_USER_ID", "513")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example", cfg.Gateway.BaseURL)
	assert.Equal(t, "513", cfg.Gateway.UserID, "environment wins over the file")
	assert.Equal(t, 15*time.Minute, cfg.Jobs.NotSentPeriod)
}

func TestMissingConfigFile(t *testing.T) {
	t.Setenv("RECONCILER_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("database.driver", "mysql")
	_, err := LoadWithViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mysql")

	v = viper.New()
	SetDefaults(v)
	v.Set("ratelimit.capacity", 0)
	_, err = LoadWithViper(v)
	require.Error(t, err)
}
