package scheduler

import (
	"time"

	"github.com/kirimaja/kirimaja/internal/config"
)

// Config controls the reconciliation run loop.
type Config struct {
	Enabled        bool
	RunInterval    time.Duration
	JobTimeout     time.Duration
	StaleThreshold time.Duration
	LockTTL        time.Duration
}

func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		RunInterval:    time.Minute,
		JobTimeout:     10 * time.Minute,
		StaleThreshold: 30 * time.Minute,
		LockTTL:        15 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = defaults.StaleThreshold
	}
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	return c
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Enabled:     cfg.SchedulerEnabled,
		RunInterval: cfg.SchedulerInterval,
	}.withDefaults()
}
