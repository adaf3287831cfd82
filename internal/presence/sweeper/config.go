// internal/presence/sweeper/config.go
package sweeper

import (
	"fmt"
	"time"
)

type Config struct {
	// Timeout must match the engine's timeout.
	Timeout     time.Duration
	Interval    time.Duration
	BatchSize   int
	Concurrency int
}

func LoadConfig() *Config {
	return &Config{
		Timeout:     75 * time.Second,
		Interval:    60 * time.Second,
		BatchSize:   500,
		Concurrency: 8,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Interval)
	}
	if c.BatchSize < 1 || c.Concurrency < 1 {
		return fmt.Errorf("batch size and concurrency must be at least 1")
	}
	return nil
}
