package query

import (
	"fmt"
	"time"
)

type Config struct {
	// Timeout must match the engine's timeout; rows silent for longer read as offline.
	Timeout time.Duration
	// Location decides where a calendar day starts in online-time reports.
	Location     *time.Location
	DefaultLimit int
	MaxLimit     int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:      75 * time.Second,
		Location:     time.UTC,
		DefaultLimit: 20,
		MaxLimit:     100,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.DefaultLimit < 1 || c.MaxLimit < c.DefaultLimit {
		return fmt.Errorf("invalid page limits: default %d, max %d", c.DefaultLimit, c.MaxLimit)
	}
	return nil
}
