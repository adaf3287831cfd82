// internal/presence/engine/config.go
package engine

import (
	"fmt"
	"time"
)

type Config struct {
	// Timeout is the silence after which an active user counts as gone.
	Timeout time.Duration
	// StaleDeltaGuardMultiplier bounds a single accumulator increment to
	// less than StaleDeltaGuardMultiplier x Timeout.
	StaleDeltaGuardMultiplier int
	// MaxClockSkew is how far in the future a client timestamp may be
	// before it is replaced by the server clock. An accepted future timestamp
	// becomes lastHeartbeatAt, so on-time heartbeats after it read as stale
	// until the clock catches up. Zero clamps every future timestamp.
	MaxClockSkew time.Duration
	// MaxConflictRetries is the number of extra attempts after a lost version check.
	MaxConflictRetries int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:                   75 * time.Second,
		StaleDeltaGuardMultiplier: 10,
		MaxClockSkew:              0,
		MaxConflictRetries:        3,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.StaleDeltaGuardMultiplier < 1 {
		return fmt.Errorf("stale delta guard multiplier must be at least 1, got %d", c.StaleDeltaGuardMultiplier)
	}
	if c.MaxClockSkew < 0 {
		return fmt.Errorf("max clock skew must not be negative")
	}
	if c.MaxConflictRetries < 0 {
		return fmt.Errorf("max conflict retries must not be negative")
	}
	return nil
}

// StaleDeltaGuard is the exclusive upper bound on one accumulator increment.
func (c *Config) StaleDeltaGuard() time.Duration {
	return time.Duration(c.StaleDeltaGuardMultiplier) * c.Timeout
}
