// internal/workers/ledger/ingest-transactions/config.go
package ingesttransactions

import (
	"fmt"
	"time"
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`
	// MaxPeriodDays bounds explicit from/to ranges.
	MaxPeriodDays int `mapstructure:"max_period_days"`
}

func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 1,
		Timeout:       2 * time.Minute,
		MaxPeriodDays: 366,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	if c.MaxPeriodDays <= 0 {
		return fmt.Errorf("max_period_days must be positive")
	}
	return nil
}
