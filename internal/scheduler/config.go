package scheduler

import (
	"time"
)

// Config controls scheduler intervals, batch sizes, and retry policy.
type Config struct {
	RunInterval     time.Duration
	WorkerCount     int
	BatchSize       int
	JobTimeout      time.Duration
	MaxAttempts     int
	RetryBackoff    time.Duration
	EnforceDelay    time.Duration
	ReactivateDelay time.Duration
	LeaderLockTTL   time.Duration
	EnabledJobs     []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:     time.Minute,
		WorkerCount:     4,
		BatchSize:       50,
		JobTimeout:      5 * time.Minute,
		MaxAttempts:     3,
		RetryBackoff:    30 * time.Second,
		EnforceDelay:    24 * time.Hour,
		ReactivateDelay: 60 * time.Second,
		LeaderLockTTL:   5 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = defaults.WorkerCount
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.EnforceDelay <= 0 {
		c.EnforceDelay = defaults.EnforceDelay
	}
	if c.ReactivateDelay <= 0 {
		c.ReactivateDelay = defaults.ReactivateDelay
	}
	if c.LeaderLockTTL <= 0 {
		c.LeaderLockTTL = defaults.LeaderLockTTL
	}
	return c
}
