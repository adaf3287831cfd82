// internal/common/config/config.go
package config

import "fmt"

// Storage backends and lock modes recognized by the service.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"

	LockLocal = "local"
	LockRedis = "redis"
)

// Config is the main application configuration struct.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Presence PresenceConfig `mapstructure:"presence"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type HTTPConfig struct {
	Address           string `mapstructure:"address"`
	ReadTimeoutMs     int    `mapstructure:"read_timeout_ms"`
	WriteTimeoutMs    int    `mapstructure:"write_timeout_ms"`
	ShutdownTimeoutMs int    `mapstructure:"shutdown_timeout_ms"`
}

// AuthConfig holds the bearer-token settings used to resolve the caller's user id.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// StorageConfig selects the repository backend and the per-user lock implementation.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Lock    string `mapstructure:"lock"`
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	URL       string   `mapstructure:"url"` // Single URL for backwards compatibility
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PresenceConfig tunes the heartbeat state machine and the sweeper.
type PresenceConfig struct {
	TimeoutMs                 int    `mapstructure:"timeout_ms"`
	SweepIntervalMs           int    `mapstructure:"sweep_interval_ms"`
	StaleDeltaGuardMultiplier int    `mapstructure:"stale_delta_guard_multiplier"`
	MaxClockSkewMs            int    `mapstructure:"max_clock_skew_ms"`
	MaxConflictRetries        int    `mapstructure:"max_conflict_retries"`
	SweepBatchSize            int    `mapstructure:"sweep_batch_size"`
	SweepConcurrency          int    `mapstructure:"sweep_concurrency"`
	SweeperEnabled            *bool  `mapstructure:"sweeper_enabled"`
	LockTTLMs                 int    `mapstructure:"lock_ttl_ms"`
	LockRetryMs               int    `mapstructure:"lock_retry_ms"`
	ReportTimezone            string `mapstructure:"report_timezone"`
}

// IsSweeperEnabled defaults to true when the option is absent.
func (p PresenceConfig) IsSweeperEnabled() bool {
	return p.SweeperEnabled == nil || *p.SweeperEnabled
}

// ArchiveConfig controls mirroring of closed sessions into Elasticsearch.
type ArchiveConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Index     string `mapstructure:"index"`
	TimeoutMs int    `mapstructure:"timeout_ms"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}
