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
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	t.Setenv("TEST_PRESENCE_SECRET", "s3cret")
	path := writeConfig(t, `
auth:
  jwt_secret: ${TEST_PRESENCE_SECRET}
storage:
  backend: memory
presence:
  sweeper_enabled: false
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
	assert.Equal(t, LockLocal, cfg.Storage.Lock)
	assert.Equal(t, 75*time.Second, GetDuration(cfg.Presence.TimeoutMs))
	assert.Equal(t, time.Minute, GetDuration(cfg.Presence.SweepIntervalMs))
	assert.Equal(t, 10, cfg.Presence.StaleDeltaGuardMultiplier)
	assert.Equal(t, 3, cfg.Presence.MaxConflictRetries)
	assert.Equal(t, "UTC", cfg.Presence.ReportTimezone)
	assert.False(t, cfg.Presence.IsSweeperEnabled())
	assert.Equal(t, ":8080", cfg.HTTP.Address)
	assert.Equal(t, "presence-sessions", cfg.Archive.Index)
}

func TestLoadFromFile_MissingFile(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	base := func() *Config {
		cfg := &Config{Auth: AuthConfig{JWTSecret: "k"}}
		applyDefaults(cfg)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "cassandra" }, "storage.backend"},
		{"postgres needs host", func(c *Config) { c.Storage.Backend = BackendPostgres }, "database.postgres.host"},
		{"redis backend needs address", func(c *Config) { c.Storage.Backend = BackendRedis }, "database.redis.address"},
		{"redis lock over memory", func(c *Config) {
			c.Storage.Lock = LockRedis
			c.Database.Redis.Address = "localhost:6379"
		}, "cannot guard"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret"},
		{"bad timezone", func(c *Config) { c.Presence.ReportTimezone = "Mars/Olympus" }, "report_timezone"},
		{"archive without elasticsearch", func(c *Config) { c.Archive.Enabled = true }, "elasticsearch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "presence", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=presence sslmode=disable", p.GetDSN())
}
