package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DATABASE_URL", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "console", cfg.Frontend)
	assert.Equal(t, 20*time.Millisecond, cfg.Typing.MinDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.Typing.MaxDelay)
	assert.Equal(t, time.Second, cfg.Typing.ThinkingDelay)
	assert.Equal(t, "memory", cfg.Stats.Driver)
	assert.Equal(t, 40, cfg.Telegram.EditEvery)
	assert.Equal(t, 30*time.Minute, cfg.Telegram.IdleTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.Address())
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
frontend: http
typing:
  min_delay: 5ms
  max_delay: 10ms
  thinking_delay: 250ms
  seed: 42
http:
  port: 9090
stats:
  driver: sqlite
  path: /tmp/stats.db
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http", cfg.Frontend)
	assert.Equal(t, 5*time.Millisecond, cfg.Typing.MinDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.Typing.ThinkingDelay)
	assert.Equal(t, uint64(42), cfg.Typing.Seed)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, "sqlite", cfg.Stats.Driver)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "frontend: console\n")
	t.Setenv("INSTABOT_FRONTEND", "telegram")
	t.Setenv("TELEGRAM_TOKEN", "secret")
	t.Setenv("DATABASE_URL", "postgres://bot:pw@db.internal:6543/stats?sslmode=require")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "telegram", cfg.Frontend)
	assert.Equal(t, "secret", cfg.Telegram.Token)
	assert.Equal(t, "postgres", cfg.Stats.Driver)
	assert.Equal(t, DatabaseConfig{
		Host: "db.internal", Port: 6543, User: "bot", Password: "pw", DBName: "stats", SSLMode: "require",
	}, cfg.Stats.Database)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"delays inverted":  "typing:\n  min_delay: 60ms\n  max_delay: 10ms\n",
		"unknown frontend": "frontend: fax\n",
		"unknown driver":   "stats:\n  driver: mongo\n",
		"telegram token":   "frontend: telegram\n",
		"idle timeout":     "telegram:\n  idle_timeout: -1m\n",
	}
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("DATABASE_URL", "")
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestParseDatabaseURL(t *testing.T) {
	db, err := parseDatabaseURL("postgres://u@localhost/app")
	require.NoError(t, err)
	assert.Equal(t, 5432, db.Port)
	assert.Equal(t, "disable", db.SSLMode)
	assert.Equal(t, "app", db.DBName)

	_, err = parseDatabaseURL("mysql://u@localhost/app")
	assert.Error(t, err)
}
